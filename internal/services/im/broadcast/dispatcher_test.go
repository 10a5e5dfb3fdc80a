package broadcast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/imrelay/internal/services/im/broadcast"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/presence"
	"github.com/louisbranch/imrelay/internal/services/im/session"
	"github.com/louisbranch/imrelay/internal/testkit/imfakes"
)

type staticTarget struct {
	conns []connection.Connection
	err   error
}

func (s staticTarget) ID() string { return "s-1" }

func (s staticTarget) Connections(context.Context) ([]connection.Connection, error) {
	return s.conns, s.err
}

func wait(t *testing.T, delivery *broadcast.Delivery) []broadcast.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := delivery.Wait(ctx); err != nil {
		t.Fatalf("wait delivery: %v", err)
	}
	return delivery.Outcomes()
}

func TestBroadcastExcludesUserAcrossDevicesAndNodes(t *testing.T) {
	t.Parallel()

	directory := imfakes.NewDirectory()
	directory.Seed("s-1", session.PolicyMultiDevice, session.StatusActive, "alice", "bob")
	store := presence.NewMemoryStore()
	forwarder := &imfakes.Forwarder{}

	registries := map[string]*session.Registry{}
	for _, node := range []string{"node-1:8096", "node-2:8096"} {
		registry, err := session.NewRegistry(session.Config{Directory: directory, Store: store, Forwarder: forwarder, NodeAddress: node})
		if err != nil {
			t.Fatalf("new registry: %v", err)
		}
		registries[node] = registry
	}
	join := func(node, connID, userID string, device connection.DeviceType) *imfakes.Channel {
		conn, channel := imfakes.LocalConn(connID, userID, "s-1", device, node)
		s, err := registries[node].GetSession(context.Background(), "s-1")
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if _, err := s.JoinUser(context.Background(), userID, conn); err != nil {
			t.Fatalf("join %s: %v", connID, err)
		}
		return channel
	}

	aliceWeb := join("node-1:8096", "alice-web", "alice", connection.DeviceWeb)
	aliceMobile := join("node-1:8096", "alice-mobile", "alice", connection.DeviceMobile)
	join("node-2:8096", "alice-pad", "alice", connection.DevicePad)
	join("node-2:8096", "bob-web", "bob", connection.DeviceWeb)

	s, err := registries["node-1:8096"].GetSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	delivery, err := broadcast.New().Broadcast(context.Background(), s, payload.ChatMessage{MessageID: "m-1", Body: "hi"}, "alice")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	outcomes := wait(t, delivery)

	if len(outcomes) != 1 || outcomes[0].UserID != "bob" || outcomes[0].Local {
		t.Fatalf("outcomes = %+v, want one remote send to bob", outcomes)
	}
	calls := forwarder.Calls()
	if len(calls) != 1 {
		t.Fatalf("route calls = %d, want 1", len(calls))
	}
	if calls[0].Envelope.ReceiveUserID != "bob" || calls[0].NodeAddress != "node-2:8096" {
		t.Fatalf("route call = %+v, want bob on node-2", calls[0])
	}
	if len(aliceWeb.Events()) != 0 || len(aliceMobile.Events()) != 0 {
		t.Fatal("excluded user's local devices received the broadcast")
	}
}

func TestBroadcastIsolatesSendFailures(t *testing.T) {
	t.Parallel()

	okConn, okChannel := imfakes.LocalConn("ok", "u-1", "s-1", connection.DeviceWeb, "node-1:8096")
	badConn, badChannel := imfakes.LocalConn("bad", "u-2", "s-1", connection.DeviceWeb, "node-1:8096")
	badChannel.SendErr = errors.New("socket reset")
	closedConn, _ := imfakes.LocalConn("closed", "u-3", "s-1", connection.DeviceWeb, "node-1:8096")
	_ = closedConn.Close()
	remote := connection.NewRemote(connection.Descriptor{
		ID: "remote", UserID: "u-4", SessionID: "s-1",
		Metadata: map[string]string{connection.MetaNodeAddress: "node-2:8096"},
	}, &imfakes.Forwarder{Err: errors.New("node unreachable")})

	target := staticTarget{conns: []connection.Connection{okConn, badConn, closedConn, remote}}
	delivery, err := broadcast.New(broadcast.WithConcurrency(2)).Broadcast(context.Background(), target, payload.RevokeCommand{MessageID: "m-1"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	outcomes := wait(t, delivery)

	if len(outcomes) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(outcomes))
	}
	failed := map[string]bool{}
	for _, outcome := range outcomes {
		failed[outcome.ConnectionID] = outcome.Err != nil
	}
	want := map[string]bool{"ok": false, "bad": true, "closed": true, "remote": true}
	for id, wantFailed := range want {
		if failed[id] != wantFailed {
			t.Fatalf("outcome %s failed = %v, want %v", id, failed[id], wantFailed)
		}
	}
	if len(okChannel.Events()) != 1 {
		t.Fatal("expected healthy connection to receive the payload")
	}
}

func TestBroadcastSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	conn, channel := imfakes.LocalConn("c-1", "u-1", "s-1", connection.DeviceWeb, "node-1:8096")
	ctx, cancel := context.WithCancel(context.Background())
	delivery, err := broadcast.New().Broadcast(ctx, staticTarget{conns: []connection.Connection{conn}}, payload.ChatMessage{MessageID: "m-1"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	cancel()

	outcomes := wait(t, delivery)
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("outcomes = %+v, want one success", outcomes)
	}
	if len(channel.Events()) != 1 {
		t.Fatal("expected send to complete after caller cancellation")
	}
}

func TestBroadcastResolutionErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	_, err := broadcast.New().Broadcast(context.Background(), staticTarget{err: boom}, payload.ChatMessage{})
	if !errors.Is(err, boom) {
		t.Fatalf("broadcast error = %v, want store failure", err)
	}
}

func TestBroadcastWithNoRecipientsCompletes(t *testing.T) {
	t.Parallel()

	delivery, err := broadcast.New().Broadcast(context.Background(), staticTarget{}, payload.SessionStatusChanged{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if outcomes := wait(t, delivery); len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", outcomes)
	}
}
