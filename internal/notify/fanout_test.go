package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/breakroom/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender remembers every attempt and fails for selected users.
type recordingSender struct {
	mu       sync.Mutex
	attempts map[model.UserID]string
	failFor  map[model.UserID]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		attempts: make(map[model.UserID]string),
		failFor:  make(map[model.UserID]error),
	}
}

func (s *recordingSender) Send(ctx context.Context, userID model.UserID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[userID] = text
	return s.failFor[userID]
}

func fastConfig() Config {
	return Config{Concurrency: 4, Rate: 10_000, SendTimeout: time.Second}
}

func TestBroadcastAttemptsEveryone(t *testing.T) {
	sender := newRecordingSender()
	f := NewFanout(sender, fastConfig(), discardLogger())

	res := f.Broadcast(context.Background(), []model.UserID{1, 2, 3}, "Alice is calling everyone for a break!")

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 3, res.Attempted())
	assert.Equal(t, 3, res.Delivered())
	assert.Empty(t, res.Failures())
	assert.Len(t, sender.attempts, 3)
	for _, text := range sender.attempts {
		assert.Contains(t, text, "Alice")
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	sender := newRecordingSender()
	blocked := errors.New("Forbidden: bot was blocked by the user")
	sender.failFor[2] = blocked

	f := NewFanout(sender, fastConfig(), discardLogger())
	res := f.Broadcast(context.Background(), []model.UserID{1, 2, 3}, "hi")

	assert.Equal(t, 3, res.Attempted())
	assert.Equal(t, 2, res.Delivered())
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, model.UserID(2), res.Failures()[0].UserID)
	assert.ErrorIs(t, res.Failures()[0].Err, blocked)

	// order follows the recipient list
	assert.Equal(t, []model.UserID{1, 2, 3}, []model.UserID{
		res.Deliveries[0].UserID, res.Deliveries[1].UserID, res.Deliveries[2].UserID,
	})
}

func TestBroadcastRecoversPanickingSender(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, userID model.UserID, text string) error {
		if userID == 1 {
			panic("boom")
		}
		return nil
	})

	f := NewFanout(sender, fastConfig(), discardLogger())
	res := f.Broadcast(context.Background(), []model.UserID{1, 2}, "hi")

	assert.Equal(t, 1, res.Delivered())
	var pe *PanicError
	require.ErrorAs(t, res.Deliveries[0].Err, &pe)
	assert.Equal(t, "boom", pe.Value)
}

func TestBroadcastEmpty(t *testing.T) {
	f := NewFanout(newRecordingSender(), fastConfig(), discardLogger())
	res := f.Broadcast(context.Background(), nil, "hi")
	assert.Zero(t, res.Attempted())
}

func TestBroadcastBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	sender := SenderFunc(func(ctx context.Context, userID model.UserID, text string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	cfg := fastConfig()
	cfg.Concurrency = 2
	f := NewFanout(sender, cfg, discardLogger())

	recipients := make([]model.UserID, 10)
	for i := range recipients {
		recipients[i] = model.UserID(i + 1)
	}
	res := f.Broadcast(context.Background(), recipients, "hi")

	assert.Equal(t, 10, res.Delivered())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBroadcastSendTimeout(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, userID model.UserID, text string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cfg := fastConfig()
	cfg.SendTimeout = 10 * time.Millisecond
	f := NewFanout(sender, cfg, discardLogger())

	res := f.Broadcast(context.Background(), []model.UserID{1}, "hi")
	require.Len(t, res.Failures(), 1)
	assert.ErrorIs(t, res.Failures()[0].Err, context.DeadlineExceeded)
}

func TestNewFanoutDefaults(t *testing.T) {
	f := NewFanout(newRecordingSender(), Config{}, discardLogger())
	assert.Equal(t, DefaultConfig(), f.cfg)
}
