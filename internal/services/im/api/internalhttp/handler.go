// Package internalhttp serves the node-to-node route endpoint and the
// internal session admin API.
package internalhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/services/im/broadcast"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/route"
	"github.com/louisbranch/imrelay/internal/services/im/session"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 * 1024

// Broadcaster fans payloads out to a session.
type Broadcaster interface {
	Broadcast(ctx context.Context, target broadcast.Target, p payload.Payload, excludedUserIDs ...string) (*broadcast.Delivery, error)
}

// Config wires the internal handler.
type Config struct {
	Registry    *session.Registry
	Broadcaster Broadcaster
	// Prefix is mounted before every route, e.g. "/internal".
	Prefix string
	Logger *zap.Logger
	Now    func() time.Time
	// AllowPublic disables the private-network guard. Tests only.
	AllowPublic bool
}

type handler struct {
	registry    *session.Registry
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler builds the internal mux.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	h := &handler{
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		logger:      logging.OrNop(cfg.Logger).Named("internalhttp"),
		now:         cfg.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}
	prefix := route.NormalizePrefix(cfg.Prefix)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	for _, kind := range payload.Kinds() {
		mux.HandleFunc("POST "+prefix+kind.RoutePath(), h.handleRoute(kind))
	}
	sessions := prefix + "/im/sessions"
	mux.HandleFunc("POST "+sessions, h.handleCreateSession)
	mux.HandleFunc("GET "+sessions+"/{id}", h.handleGetSession)
	mux.HandleFunc("DELETE "+sessions+"/{id}", h.handleDestroySession)
	mux.HandleFunc("POST "+sessions+"/{id}/activate", h.handleTransition(h.registry.ActivateSession))
	mux.HandleFunc("POST "+sessions+"/{id}/suspend", h.handleTransition(h.registry.SuspendSession))
	mux.HandleFunc("PUT "+sessions+"/{id}/metadata", h.handleUpdateMetadata)
	mux.HandleFunc("PUT "+sessions+"/{id}/members/{userID}", h.handleAddMember)
	mux.HandleFunc("POST "+sessions+"/{id}/broadcast", h.handleBroadcast)

	if cfg.AllowPublic {
		return mux, nil
	}
	return privateOnly(mux, h.logger), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, message, _ := apperrors.Public(err)
	body := route.ErrorBody{Code: code, Message: message}
	status := body.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("internal request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug("internal request rejected", zap.String("path", r.URL.Path), zap.String("code", string(body.Code)), zap.Error(err))
	}
	writeJSON(w, status, body)
}
