// Package notify delivers one message to many users, best effort.
//
// Broadcast attempts every recipient exactly once. A failed delivery is
// logged and recorded in the Result; it never stops the other deliveries and
// never turns into an error for the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sakif/breakroom/internal/model"
)

// Sender delivers a single text message to a single user.
type Sender interface {
	Send(ctx context.Context, userID model.UserID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, userID model.UserID, text string) error

func (f SenderFunc) Send(ctx context.Context, userID model.UserID, text string) error {
	return f(ctx, userID, text)
}

// Config tunes delivery. Zero values fall back to the defaults.
type Config struct {
	// Concurrency is the number of deliveries in flight.
	Concurrency int
	// Rate caps deliveries per second across all broadcasts. Telegram allows
	// roughly 30 messages per second per bot.
	Rate float64
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		Rate:        25,
		SendTimeout: 10 * time.Second,
	}
}

// Delivery is the outcome for one recipient. Err is nil on success.
type Delivery struct {
	UserID model.UserID
	Err    error
}

// Result describes one broadcast.
type Result struct {
	ID         string
	Deliveries []Delivery
}

// Attempted is the number of recipients a delivery was attempted for.
func (r *Result) Attempted() int {
	return len(r.Deliveries)
}

// Delivered is the number of successful deliveries.
func (r *Result) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Failures returns the failed deliveries.
func (r *Result) Failures() []Delivery {
	var failed []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

type Fanout struct {
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewFanout(sender Sender, cfg Config, logger *slog.Logger) *Fanout {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	burst := int(cfg.Rate)
	if burst < 1 {
		burst = 1
	}

	return &Fanout{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		logger:  logger,
	}
}

// Broadcast sends text to every recipient. It returns once every recipient
// has been attempted. Deliveries keep the order of recipients.
func (f *Fanout) Broadcast(ctx context.Context, recipients []model.UserID, text string) *Result {
	res := &Result{
		ID:         xid.New().String(),
		Deliveries: make([]Delivery, len(recipients)),
	}

	// errgroup only bounds concurrency here: workers always return nil, so
	// one failure never cancels the rest.
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)

	for i, uid := range recipients {
		g.Go(func() error {
			err := f.deliver(ctx, uid, text)
			// each worker owns its slot
			res.Deliveries[i] = Delivery{UserID: uid, Err: err}

			if err != nil {
				f.logger.Warn("delivery failed",
					slog.String("broadcast", res.ID),
					slog.Int64("userID", int64(uid)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Info("broadcast finished",
		slog.String("broadcast", res.ID),
		slog.Int("attempted", res.Attempted()),
		slog.Int("delivered", res.Delivered()),
	)
	return res
}

func (f *Fanout) deliver(ctx context.Context, uid model.UserID, text string) (err error) {
	// A panicking sender is one failed delivery, not a crashed broadcast.
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)
	defer cancel()
	return f.sender.Send(sendCtx, uid, text)
}
