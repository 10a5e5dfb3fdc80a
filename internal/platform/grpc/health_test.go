package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestProbeServing(t *testing.T) {
	addr, server := startHealthServer(t)
	server.SetServing(true)

	if err := Probe(context.Background(), addr, time.Second); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeNotServing(t *testing.T) {
	addr, server := startHealthServer(t)
	server.SetServing(false)

	err := Probe(context.Background(), addr, time.Second)
	if !errors.Is(err, ErrNotServing) {
		t.Fatalf("probe error = %v, want ErrNotServing", err)
	}
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) || probeErr.Stage != ProbeStageCheck || probeErr.Addr != addr {
		t.Fatalf("probe error = %v, want check stage for %s", err, addr)
	}
}

func TestProbeUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	if err := Probe(context.Background(), addr, 300*time.Millisecond); err == nil {
		t.Fatal("expected probe error for closed port")
	}
}

func TestProbeAfterStop(t *testing.T) {
	addr, server := startHealthServer(t)
	server.SetServing(true)
	server.Stop()

	if err := Probe(context.Background(), addr, 300*time.Millisecond); err == nil {
		t.Fatal("expected probe error after stop")
	}
}

func startHealthServer(t *testing.T) (string, *HealthServer) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewHealthServer()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Server.Serve(listener)
	}()

	t.Cleanup(func() {
		server.Stop()
		_ = listener.Close()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
		}
	})

	return listener.Addr().String(), server
}
