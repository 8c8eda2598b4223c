package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/invite"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/service"
)

// LobbyHandler exposes the lobby operations as a JSON API, keyed by the
// platform user id in the path. Identities are trusted as given, so deploy
// it behind something that authenticates callers.
type LobbyHandler struct {
	svc         *service.LobbyService
	botUsername string
	logger      *slog.Logger
}

func NewLobbyHandler(svc *service.LobbyService, botUsername string, logger *slog.Logger) *LobbyHandler {
	return &LobbyHandler{svc: svc, botUsername: botUsername, logger: logger}
}

// Routes mounts the handlers under a router, e.g. r.Route("/api", h.Routes).
func (h *LobbyHandler) Routes(r chi.Router) {
	r.Get("/users/{userID}", h.HandleStatus)
	r.Post("/users/{userID}/lobby", h.HandleCreate)
	r.Delete("/users/{userID}/lobby", h.HandleLeave)
	r.Post("/users/{userID}/join", h.HandleJoin)
	r.Get("/users/{userID}/invite", h.HandleInvite)
	r.Post("/users/{userID}/signal", h.HandleSignal)
}

type lobbyResponse struct {
	ID         int64     `json:"id"`
	InviteCode string    `json:"inviteCode"`
	InviteLink string    `json:"inviteLink,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type cooldownResponse struct {
	Active           bool       `json:"active"`
	Until            *time.Time `json:"until,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds"`
}

type statusResponse struct {
	UserID   int64            `json:"userId"`
	Lobby    *lobbyResponse   `json:"lobby"`
	Cooldown cooldownResponse `json:"cooldown"`
}

type signalResponse struct {
	LobbyID     int64     `json:"lobbyId"`
	Until       time.Time `json:"until"`
	BroadcastID string    `json:"broadcastId"`
	Attempted   int       `json:"attempted"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
}

type joinRequest struct {
	Code string `json:"code"`
}

type signalRequest struct {
	DisplayName string `json:"displayName"`
}

func (h *LobbyHandler) toLobbyResponse(l *model.Lobby) *lobbyResponse {
	resp := &lobbyResponse{
		ID:         int64(l.ID),
		InviteCode: l.InviteCode,
		CreatedAt:  l.CreatedAt,
	}
	if h.botUsername != "" {
		resp.InviteLink = invite.Link(h.botUsername, l.InviteCode)
	}
	return resp
}

// HandleStatus returns the user's lobby and cooldown state.
//
// HTTP: GET /api/users/{userID}
func (h *LobbyHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	st, err := h.svc.Status(r.Context(), uid)
	if err != nil {
		h.fail(w, "status", uid, err)
		return
	}

	resp := statusResponse{UserID: int64(uid)}
	if st.InLobby() {
		resp.Lobby = h.toLobbyResponse(st.Lobby)
	}
	if st.Cooldown.Active {
		until := st.Cooldown.Until
		resp.Cooldown = cooldownResponse{
			Active:           true,
			Until:            &until,
			RemainingSeconds: int(math.Ceil(st.Cooldown.Remaining.Seconds())),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCreate creates a lobby and moves the user into it.
//
// HTTP: POST /api/users/{userID}/lobby
func (h *LobbyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lobby, err := h.svc.CreateLobby(r.Context(), uid)
	if err != nil {
		h.fail(w, "create lobby", uid, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toLobbyResponse(lobby))
}

// HandleLeave detaches the user from their lobby.
//
// HTTP: DELETE /api/users/{userID}/lobby
func (h *LobbyHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.LeaveLobby(r.Context(), uid); err != nil {
		h.fail(w, "leave lobby", uid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleJoin joins the lobby with the given invite code.
//
// HTTP: POST /api/users/{userID}/join
// REQUEST BODY: {"code": "k3Jd8_aQx1c"}
func (h *LobbyHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid join JSON", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if req.Code == "" {
		writeError(w, apperror.ValidationFailed("code", "code is required"))
		return
	}

	lobby, err := h.svc.JoinByCode(r.Context(), uid, req.Code)
	if err != nil {
		h.fail(w, "join lobby", uid, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toLobbyResponse(lobby))
}

// HandleInvite returns the user's invite code and link.
//
// HTTP: GET /api/users/{userID}/invite
func (h *LobbyHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lobby, err := h.svc.GetInvite(r.Context(), uid)
	if err != nil {
		h.fail(w, "get invite", uid, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toLobbyResponse(lobby))
}

// HandleSignal notifies every member of the user's lobby. The body is
// optional.
//
// HTTP: POST /api/users/{userID}/signal
// REQUEST BODY: {"displayName": "Alice"}
func (h *LobbyHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	uid, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid signal JSON", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	res, err := h.svc.Signal(r.Context(), uid, req.DisplayName)
	if err != nil {
		h.fail(w, "signal", uid, err)
		return
	}

	writeJSON(w, http.StatusOK, signalResponse{
		LobbyID:     int64(res.LobbyID),
		Until:       res.Until,
		BroadcastID: res.Broadcast.ID,
		Attempted:   res.Attempted(),
		Delivered:   res.Broadcast.Delivered(),
		Failed:      len(res.Broadcast.Failures()),
	})
}

// fail writes err and logs it when it is not an expected domain outcome.
func (h *LobbyHandler) fail(w http.ResponseWriter, op string, uid model.UserID, err error) {
	if status, _ := errorStatus(err); status >= http.StatusInternalServerError {
		h.logger.Error("api request failed",
			slog.String("op", op),
			slog.Int64("userID", int64(uid)),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

func userIDParam(r *http.Request) (model.UserID, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("userID", "userID must be a positive integer")
	}
	return model.UserID(id), nil
}
