// Package gateway binds WebSocket lifecycle callbacks to sessions: it admits
// sockets as local connections, releases them on disconnect and turns client
// frames into broadcasts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	"github.com/louisbranch/imrelay/internal/services/im/broadcast"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/session"
	"github.com/louisbranch/imrelay/internal/services/im/transport/ws"
	"go.uber.org/zap"
)

// Client frame types.
const (
	FrameSend   = "im.message.send"
	FrameRevoke = "im.message.revoke"
	// EventAck confirms an accepted client frame.
	EventAck = "im.ack"
)

const (
	maxMessageBodyRunes     = 2000
	maxClientMessageIDRunes = 128
)

// Broadcaster fans payloads out to a session.
type Broadcaster interface {
	Broadcast(ctx context.Context, target broadcast.Target, p payload.Payload, excludedUserIDs ...string) (*broadcast.Delivery, error)
}

// Config wires a Gateway.
type Config struct {
	Registry    *session.Registry
	Broadcaster Broadcaster
	// GRPCAddress is the advertised health address stored on descriptors.
	GRPCAddress string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Gateway implements ws.Handler.
type Gateway struct {
	registry    *session.Registry
	broadcaster Broadcaster
	grpcAddress string
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

var _ ws.Handler = (*Gateway)(nil)

// New validates cfg and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster is required")
	}
	g := &Gateway{
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		grpcAddress: strings.TrimSpace(cfg.GRPCAddress),
		logger:      logging.OrNop(cfg.Logger).Named("gateway"),
		now:         cfg.Now,
		newID:       uuid.NewString,
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

type sendRequest struct {
	ClientMessageID string            `json:"clientMessageId"`
	Body            string            `json:"body"`
	Extra           map[string]string `json:"extra,omitempty"`
}

type revokeRequest struct {
	MessageID string `json:"messageId"`
}

type ack struct {
	MessageID       string `json:"messageId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// OnConnect admits the socket into its session as a local connection.
func (g *Gateway) OnConnect(ctx context.Context, client *ws.Client) error {
	s, err := g.registry.GetSession(ctx, client.SessionID())
	if err != nil {
		return err
	}
	identity := client.Identity()
	desc := connection.Descriptor{
		ID:         client.ID(),
		UserID:     identity.UserID,
		SessionID:  s.ID(),
		DeviceType: connection.ParseDeviceType(identity.DeviceType),
		Metadata: map[string]string{
			connection.MetaNodeAddress: g.registry.NodeAddress(),
			connection.MetaLocale:      identity.Locale,
			connection.MetaConnectedAt: g.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if g.grpcAddress != "" {
		desc.Metadata[connection.MetaNodeGRPCAddress] = g.grpcAddress
	}
	admitted, err := s.JoinUser(ctx, identity.UserID, connection.NewLocal(desc, client))
	if err != nil {
		return err
	}
	if !admitted {
		return errors.New("connection rejected by session policy")
	}
	return nil
}

// OnDisconnect releases the socket's connection. Evicted connections are
// already gone and are ignored.
func (g *Gateway) OnDisconnect(ctx context.Context, client *ws.Client) {
	s, err := g.registry.GetSession(ctx, client.SessionID())
	if err == nil {
		err = s.LeaveConnection(ctx, client.ID())
	}
	if err != nil {
		g.logger.Warn("release connection failed",
			zap.String("session_id", client.SessionID()),
			zap.String("connection_id", client.ID()),
			zap.Error(err))
	}
}

// OnData handles one client frame.
func (g *Gateway) OnData(ctx context.Context, client *ws.Client, frame ws.Frame) {
	var err error
	switch frame.Type {
	case FrameSend:
		err = g.handleSend(ctx, client, frame)
	case FrameRevoke:
		err = g.handleRevoke(ctx, client, frame)
	default:
		err = apperrors.New(apperrors.CodeInvalidArgument, "unsupported frame type")
	}
	if err != nil {
		g.replyError(ctx, client, frame.RequestID, err)
	}
}

func (g *Gateway) handleSend(ctx context.Context, client *ws.Client, frame ws.Frame) error {
	var req sendRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid send payload", err)
	}
	body := strings.TrimSpace(req.Body)
	switch {
	case body == "":
		return apperrors.New(apperrors.CodeInvalidArgument, "body is required")
	case utf8.RuneCountInString(body) > maxMessageBodyRunes:
		return apperrors.New(apperrors.CodeInvalidArgument, "body must be at most 2000 characters")
	case utf8.RuneCountInString(req.ClientMessageID) > maxClientMessageIDRunes:
		return apperrors.New(apperrors.CodeInvalidArgument, "clientMessageId must be at most 128 characters")
	}
	s, err := g.activeSession(ctx, client)
	if err != nil {
		return err
	}
	sender := client.Identity().UserID
	msg := payload.ChatMessage{
		MessageID:       g.newID(),
		ClientMessageID: strings.TrimSpace(req.ClientMessageID),
		SessionID:       s.ID(),
		SenderUserID:    sender,
		Body:            body,
		SentAt:          g.now().UTC(),
		Extra:           req.Extra,
	}
	if _, err := g.broadcaster.Broadcast(ctx, s, msg, sender); err != nil {
		return err
	}
	return g.ack(ctx, client, frame.RequestID, ack{MessageID: msg.MessageID, ClientMessageID: msg.ClientMessageID})
}

func (g *Gateway) handleRevoke(ctx context.Context, client *ws.Client, frame ws.Frame) error {
	var req revokeRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid revoke payload", err)
	}
	messageID := strings.TrimSpace(req.MessageID)
	if messageID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "messageId is required")
	}
	s, err := g.activeSession(ctx, client)
	if err != nil {
		return err
	}
	cmd := payload.RevokeCommand{
		MessageID:      messageID,
		SessionID:      s.ID(),
		OperatorUserID: client.Identity().UserID,
		RevokedAt:      g.now().UTC(),
	}
	if _, err := g.broadcaster.Broadcast(ctx, s, cmd); err != nil {
		return err
	}
	return g.ack(ctx, client, frame.RequestID, ack{MessageID: messageID})
}

// StatusChanged tells the members of s about a status transition. It is
// registered as a session.StatusListener. A deletion is waited on, bounded,
// because the members are disconnected right after it returns.
func (g *Gateway) StatusChanged(ctx context.Context, s *session.Session, from session.Status) {
	event := payload.SessionStatusChanged{
		SessionID: s.ID(),
		From:      string(from),
		To:        string(s.Status()),
		ChangedAt: g.now().UTC(),
	}
	delivery, err := g.broadcaster.Broadcast(ctx, s, event)
	if err != nil {
		g.logger.Warn("status broadcast failed", zap.String("session_id", s.ID()), zap.Error(err))
		return
	}
	if s.Status() != session.StatusDeleted || delivery == nil {
		return
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.RouteRead)
	defer cancel()
	if err := delivery.Wait(waitCtx); err != nil {
		g.logger.Info("deletion notice not confirmed", zap.String("session_id", s.ID()), zap.Error(err))
	}
}

func (g *Gateway) activeSession(ctx context.Context, client *ws.Client) (*session.Session, error) {
	s, err := g.registry.GetSession(ctx, client.SessionID())
	if err != nil {
		return nil, err
	}
	if !s.Status().AcceptsConnections() {
		return nil, apperrors.New(apperrors.CodeSessionInactive, "session does not accept messages")
	}
	return s, nil
}

func (g *Gateway) ack(ctx context.Context, client *ws.Client, requestID string, body ack) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeouts.LocalDelivery)
	defer cancel()
	if err := client.SendReply(writeCtx, requestID, EventAck, data); err != nil {
		g.logger.Debug("ack write failed", zap.String("connection_id", client.ID()), zap.String("request_id", requestID), zap.Error(err))
	}
	return nil
}

func (g *Gateway) replyError(ctx context.Context, client *ws.Client, requestID string, err error) {
	code, message, ok := apperrors.Public(err)
	if !ok {
		g.logger.Error("frame handling failed",
			zap.String("session_id", client.SessionID()),
			zap.String("connection_id", client.ID()),
			zap.Error(err))
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeouts.LocalDelivery)
	defer cancel()
	_ = client.SendError(writeCtx, requestID, code, message)
}
