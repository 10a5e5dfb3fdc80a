// Package broadcast fans a payload out to every connection of a session.
package broadcast

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/otel"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 64

// Target resolves the connections a broadcast reaches.
type Target interface {
	ID() string
	Connections(ctx context.Context) ([]connection.Connection, error)
}

// Outcome is the result of one per-connection send.
type Outcome struct {
	ConnectionID string
	UserID       string
	DeviceType   connection.DeviceType
	Local        bool
	Err          error
}

// Delivery tracks a broadcast whose sends run in the background.
type Delivery struct {
	*connection.Completion

	mu       sync.Mutex
	outcomes []Outcome
}

// Outcomes returns per-connection results once every send was attempted.
// It returns nil while sends are still in flight.
func (d *Delivery) Outcomes() []Outcome {
	select {
	case <-d.Done():
	default:
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.outcomes)
}

func (d *Delivery) record(outcome Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcome)
}

// Dispatcher issues concurrent sends for session broadcasts.
type Dispatcher struct {
	logger      *zap.Logger
	concurrency int
	tracer      trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

// WithConcurrency bounds in-flight sends per broadcast.
func WithConcurrency(limit int) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.concurrency = limit
		}
	}
}

// New returns a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      zap.NewNop(),
		concurrency: defaultConcurrency,
		tracer:      otel.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("broadcast")
	return d
}

// Broadcast sends p to every connection of target except those of the
// excluded users. Resolution errors are returned; send failures are
// recorded per connection and never fail the delivery. Sends outlive ctx's
// cancellation.
func (d *Dispatcher) Broadcast(ctx context.Context, target Target, p payload.Payload, excludedUserIDs ...string) (*Delivery, error) {
	if target == nil || p == nil {
		return nil, fmt.Errorf("broadcast target and payload are required")
	}
	ctx, span := d.tracer.Start(ctx, "im.broadcast", trace.WithAttributes(
		attribute.String("im.session_id", target.ID()),
		attribute.String("im.payload.kind", string(p.Kind())),
	))

	conns, err := target.Connections(ctx)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("resolve broadcast connections: %w", err)
	}

	excluded := make(map[string]struct{}, len(excludedUserIDs))
	for _, userID := range excludedUserIDs {
		excluded[userID] = struct{}{}
	}
	recipients := slices.DeleteFunc(conns, func(conn connection.Connection) bool {
		_, skip := excluded[conn.UserID()]
		return skip
	})
	span.SetAttributes(attribute.Int("im.broadcast.recipients", len(recipients)))

	delivery := &Delivery{Completion: connection.NewCompletion()}
	sendCtx := context.WithoutCancel(ctx)
	logger := d.logger.With(zap.String("session_id", target.ID()), zap.String("kind", string(p.Kind())))

	go func() {
		defer span.End()
		var group errgroup.Group
		group.SetLimit(d.concurrency)
		for _, conn := range recipients {
			group.Go(func() error {
				err := conn.Send(sendCtx, p).Wait(sendCtx)
				delivery.record(Outcome{
					ConnectionID: conn.ID(),
					UserID:       conn.UserID(),
					DeviceType:   conn.DeviceType(),
					Local:        conn.IsLocal(),
					Err:          err,
				})
				if err != nil {
					logger.Warn("broadcast send failed",
						zap.String("connection_id", conn.ID()),
						zap.String("user_id", conn.UserID()),
						zap.Bool("local", conn.IsLocal()),
						zap.Error(err))
				}
				return nil
			})
		}
		_ = group.Wait()
		delivery.Complete(nil)
	}()
	return delivery, nil
}
