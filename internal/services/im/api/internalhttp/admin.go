package internalhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/session"
)

type createSessionRequest struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Policy   string            `json:"policy"`
	Metadata map[string]string `json:"metadata"`
	Members  []string          `json:"members"`
}

type sessionView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Policy    string            `json:"policy"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Members   []string          `json:"members"`
	Online    []string          `json:"online"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type broadcastRequest struct {
	SenderUserID    string            `json:"senderUserId"`
	Body            string            `json:"body"`
	Extra           map[string]string `json:"extra"`
	ExcludedUserIDs []string          `json:"excludedUserIds"`
}

type outcomeView struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DeviceType   string `json:"deviceType"`
	Local        bool   `json:"local"`
	Error        string `json:"error,omitempty"`
}

type broadcastResponse struct {
	MessageID string        `json:"messageId"`
	Outcomes  []outcomeView `json:"outcomes"`
}

func (h *handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sessionType := session.TypeGroup
	if req.Type != "" {
		parsed, err := session.ParseType(req.Type)
		if err != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid session type", err))
			return
		}
		sessionType = parsed
	}
	policy := session.PolicyMultiDevice
	if req.Policy != "" {
		parsed, err := session.ParsePolicy(req.Policy)
		if err != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid connection policy", err))
			return
		}
		policy = parsed
	}
	s, err := h.registry.CreateSession(r.Context(), session.NewSession{
		ID:       req.ID,
		Name:     req.Name,
		Type:     sessionType,
		Policy:   policy,
		Metadata: req.Metadata,
		Members:  req.Members,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.view(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.view(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DestroySession(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleTransition(apply func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := apply(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.handleGetSession(w, r)
	}
}

func (h *handler) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var metadata map[string]string
	if err := decodeJSON(w, r, &metadata); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.registry.UpdateMetadata(r.Context(), r.PathValue("id"), metadata); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.AddMember(r.Context(), r.PathValue("id"), r.PathValue("userID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBroadcast pushes an operator message to every member and waits for
// the per-connection outcomes.
func (h *handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Body == "" {
		h.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "message body is required"))
		return
	}
	s, err := h.registry.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !s.Status().AcceptsConnections() {
		h.writeError(w, r, apperrors.New(apperrors.CodeSessionInactive, "session does not accept messages"))
		return
	}
	sender := req.SenderUserID
	if sender == "" {
		sender = "system"
	}
	msg := payload.ChatMessage{
		MessageID:    uuid.NewString(),
		SessionID:    s.ID(),
		SenderUserID: sender,
		Body:         req.Body,
		SentAt:       h.now().UTC(),
		Extra:        req.Extra,
	}
	delivery, err := h.broadcaster.Broadcast(r.Context(), s, msg, req.ExcludedUserIDs...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := delivery.Wait(r.Context()); err != nil {
		h.writeError(w, r, apperrors.Wrap(apperrors.CodeRouteDeliveryFailed, "broadcast did not finish", err))
		return
	}
	resp := broadcastResponse{MessageID: msg.MessageID, Outcomes: []outcomeView{}}
	for _, outcome := range delivery.Outcomes() {
		view := outcomeView{
			ConnectionID: outcome.ConnectionID,
			UserID:       outcome.UserID,
			DeviceType:   string(outcome.DeviceType),
			Local:        outcome.Local,
		}
		if outcome.Err != nil {
			view.Error = outcome.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) view(ctx context.Context, s *session.Session) (sessionView, error) {
	record := s.Record()
	members, err := s.UserIDs(ctx)
	if err != nil {
		return sessionView{}, err
	}
	online := []string{}
	for _, userID := range members {
		ok, err := s.IsUserOnline(ctx, userID)
		if err != nil {
			return sessionView{}, err
		}
		if ok {
			online = append(online, userID)
		}
	}
	if members == nil {
		members = []string{}
	}
	return sessionView{
		ID:        record.ID,
		Name:      record.Name,
		Type:      string(record.Type),
		Policy:    record.Policy.Label(),
		Status:    string(record.Status),
		Metadata:  record.Metadata,
		Members:   members,
		Online:    online,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}, nil
}
