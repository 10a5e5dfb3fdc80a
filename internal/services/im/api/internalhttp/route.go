package internalhttp

import (
	"net/http"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/route"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type routeResponse struct {
	Delivered int `json:"delivered"`
}

// handleRoute delivers a forwarded payload to connections held by this node.
// It never forwards again: a target that resolves to another node fails.
func (h *handler) handleRoute(kind payload.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		var env route.Envelope
		if err := decodeJSON(w, r, &env); err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := env.Validate(); err != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid route envelope", err))
			return
		}
		p, err := env.DecodePayload(kind)
		if err != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid route payload", err))
			return
		}

		s, err := h.registry.GetSession(ctx, env.SessionID)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeNotFound {
				err = apperrors.Wrap(apperrors.CodeRouteTargetNotFound, "route session not found", err)
			}
			h.writeError(w, r, err)
			return
		}
		logger := h.logger.With(
			zap.String("kind", string(kind)),
			zap.String("session_id", env.SessionID),
			zap.String("user_id", env.ReceiveUserID),
		)

		if kick, ok := p.(payload.Kick); ok {
			connID := kick.ConnectionID
			if connID == "" {
				connID = env.ConnectionID()
			}
			if !s.EvictLocal(connID) {
				h.writeError(w, r, apperrors.New(apperrors.CodeRouteTargetNotFound, "kick target is not connected here"))
				return
			}
			logger.Info("connection kicked", zap.String("connection_id", connID), zap.String("reason", kick.Reason))
			writeJSON(w, http.StatusOK, routeResponse{Delivered: 1})
			return
		}

		conns, err := s.UserConnections(ctx, env.ReceiveUserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		matched := matchTarget(conns, env)
		if len(matched) == 0 {
			h.writeError(w, r, apperrors.New(apperrors.CodeRouteTargetNotFound, "no connection matches the route target"))
			return
		}
		var local []connection.Connection
		for _, conn := range matched {
			if conn.IsLocal() {
				local = append(local, conn)
			}
		}
		if len(local) == 0 {
			logger.Warn("route target is not local", zap.Int("matched", len(matched)))
			h.writeError(w, r, apperrors.New(apperrors.CodeRouteNotLocal, "route target is held by another node"))
			return
		}

		var failed error
		for _, conn := range local {
			if err := conn.Send(ctx, p).Wait(ctx); err != nil {
				logger.Warn("route delivery failed", zap.String("connection_id", conn.ID()), zap.Error(err))
				failed = err
			}
		}
		if failed != nil {
			h.writeError(w, r, apperrors.Wrap(apperrors.CodeRouteDeliveryFailed, "local delivery failed", failed))
			return
		}
		writeJSON(w, http.StatusOK, routeResponse{Delivered: len(local)})
	}
}

func matchTarget(conns []connection.Connection, env route.Envelope) []connection.Connection {
	connID := env.ConnectionID()
	var device connection.DeviceType
	if env.ReceiveClientDeviceType != "" {
		device = connection.ParseDeviceType(env.ReceiveClientDeviceType)
	}
	var matched []connection.Connection
	for _, conn := range conns {
		if connID != "" && conn.ID() != connID {
			continue
		}
		if device != "" && conn.DeviceType() != device {
			continue
		}
		matched = append(matched, conn)
	}
	return matched
}
