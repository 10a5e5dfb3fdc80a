package route

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/otel"
	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrorBody is the JSON error response written by route and admin handlers.
type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// Client forwards envelopes to the node that owns the target connection.
// Calls are made once; failures are returned to the caller and never retried.
type Client struct {
	httpClient *http.Client
	prefix     string
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default timeout-bounded HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a route client posting under prefix on each node.
func NewClient(prefix string, opts ...Option) *Client {
	c := &Client{
		httpClient: newHTTPClient(),
		prefix:     NormalizePrefix(prefix),
		tracer:     otel.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: timeouts.RouteConnect}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: timeouts.RouteRead,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       timeouts.RouteIdle,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeouts.RouteConnect + timeouts.RouteRead,
	}
}

// NormalizePrefix returns prefix with one leading slash and no trailing slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

// Forward posts env to nodeAddress. A non-2xx response becomes a domain
// error carrying the remote code.
func (c *Client) Forward(ctx context.Context, nodeAddress string, env Envelope) error {
	nodeAddress = strings.TrimSpace(nodeAddress)
	if nodeAddress == "" {
		return apperrors.New(apperrors.CodeRouteTargetNotFound, "descriptor has no node address")
	}
	kind := env.Kind()
	if !kind.Valid() {
		return fmt.Errorf("route envelope has no payload kind")
	}
	url := "http://" + nodeAddress + c.prefix + kind.RoutePath()

	ctx, span := c.tracer.Start(ctx, "im.route.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("im.route.kind", string(kind)),
			attribute.String("im.route.node", nodeAddress),
			attribute.String("im.session_id", env.SessionID),
		),
	)
	defer span.End()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode route envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otelapi.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "route call failed")
		return apperrors.Wrap(apperrors.CodeRouteDeliveryFailed, "route call to "+nodeAddress, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	routeErr := decodeError(resp)
	span.SetStatus(codes.Error, routeErr.Error())
	return routeErr
}

func decodeError(resp *http.Response) *apperrors.Error {
	var body ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return apperrors.New(apperrors.CodeRouteDeliveryFailed, fmt.Sprintf("route call returned %d", resp.StatusCode))
	}
	return apperrors.New(body.Code, body.Message)
}
