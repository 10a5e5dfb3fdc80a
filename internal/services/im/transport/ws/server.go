// Package ws is the WebSocket transport clients connect through.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/requestctx"
	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Handler receives socket lifecycle callbacks. OnConnect runs before the
// first read; returning an error sends it to the client and closes the socket.
type Handler interface {
	OnConnect(ctx context.Context, client *Client) error
	OnDisconnect(ctx context.Context, client *Client)
	OnData(ctx context.Context, client *Client, frame Frame)
}

// Authenticator resolves the caller of a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (requestctx.Identity, error)
}

// Server upgrades /ws requests and runs the per-socket read loop.
type Server struct {
	handler Handler
	auth    Authenticator
	logger  *zap.Logger
	newID   func() string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// WithIDGenerator overrides connection id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Server) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewServer returns a Server dispatching to handler.
func NewServer(handler Handler, auth Authenticator, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("websocket handler is required")
	}
	if auth == nil {
		return nil, errors.New("websocket authenticator is required")
	}
	s := &Server{handler: handler, auth: auth, logger: zap.NewNop(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("ws")
	return s, nil
}

// ServeHTTP authenticates the handshake and upgrades it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	identity, err := s.auth.Authenticate(r)
	if err != nil || strings.TrimSpace(identity.UserID) == "" {
		s.logger.Info("websocket unauthorized", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(requestctx.WithIdentity(r.Context(), identity))

	websocket.Handler(func(conn *websocket.Conn) {
		s.serve(conn, sessionID, identity)
	}).ServeHTTP(w, r)
}

func (s *Server) serve(conn *websocket.Conn, sessionID string, identity requestctx.Identity) {
	conn.MaxPayloadBytes = maxFramePayloadBytes
	ctx := conn.Request().Context()
	client := newClient(s.newID(), sessionID, identity, conn)
	defer func() { _ = client.Close() }()

	logger := s.logger.With(
		zap.String("connection_id", client.ID()),
		zap.String("session_id", sessionID),
		zap.String("user_id", identity.UserID),
	)
	if err := s.handler.OnConnect(ctx, client); err != nil {
		logger.Info("connection refused", zap.Error(err))
		code, message, ok := apperrors.Public(err)
		if !ok {
			message = "connection refused"
		}
		s.reply(ctx, client, "", code, message)
		return
	}
	defer s.handler.OnDisconnect(context.WithoutCancel(ctx), client)
	logger.Debug("connection opened")

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				decodeErrors++
				s.reply(ctx, client, "", apperrors.CodeInvalidArgument, "payload too large")
				if decodeErrors >= maxDecodeErrorsPerConn {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && client.IsChannelOpen() {
				logger.Debug("connection read failed", zap.Error(err))
			}
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			logger.Warn("connection rate limited")
			s.reply(ctx, client, "", apperrors.CodeInvalidArgument, "rate limit exceeded")
			return
		}

		frame, ok := decodeFrame(data)
		if !ok {
			decodeErrors++
			s.reply(ctx, client, "", apperrors.CodeInvalidArgument, "invalid frame")
			if decodeErrors >= maxDecodeErrorsPerConn {
				logger.Info("closing after repeated decode errors")
				return
			}
			continue
		}
		decodeErrors = 0
		s.handler.OnData(ctx, client, frame)
	}
}

// decodeFrame peeks the type before decoding the full frame.
func decodeFrame(data []byte) (Frame, bool) {
	if !gjson.ValidBytes(data) {
		return Frame{}, false
	}
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String || strings.TrimSpace(typ.String()) == "" {
		return Frame{}, false
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, false
	}
	return frame, true
}

func (s *Server) reply(ctx context.Context, client *Client, requestID string, code apperrors.Code, message string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.LocalDelivery)
	defer cancel()
	if err := client.SendError(writeCtx, requestID, code, message); err != nil {
		s.logger.Debug("write error frame failed", zap.String("connection_id", client.ID()), zap.Error(err))
	}
}
