package grpc

import (
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ProbeStage names the step of a peer probe that failed.
type ProbeStage string

const (
	ProbeStageDial  ProbeStage = "dial"
	ProbeStageCheck ProbeStage = "check"
)

// ProbeError reports which peer failed a probe and at which step.
type ProbeError struct {
	Addr  string
	Stage ProbeStage
	Err   error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return "health probe failed"
	}
	return fmt.Sprintf("health probe %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// peerDialOptions dials node peers in plaintext; they share a private network.
func peerDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

func nodeServerOptions() []gogrpc.ServerOption {
	return []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}
