package session

import (
	"slices"
	"testing"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

func desc(id, sessionID string, device connection.DeviceType) connection.Descriptor {
	return connection.Descriptor{ID: id, UserID: "u-1", SessionID: sessionID, DeviceType: device}
}

func ids(descriptors []connection.Descriptor) []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.ID)
	}
	return out
}

func TestAdmitMultiDeviceReplacesSameDevice(t *testing.T) {
	current := []connection.Descriptor{
		desc("web-1", "s-1", connection.DeviceWeb),
		desc("mobile-1", "s-1", connection.DeviceMobile),
		desc("web-other", "s-2", connection.DeviceWeb),
	}
	got := Admit(PolicyMultiDevice, current, desc("web-2", "s-1", connection.DeviceWeb))

	if !got.Admitted {
		t.Fatal("expected admission")
	}
	if want := []string{"mobile-1", "web-other", "web-2"}; !slices.Equal(ids(got.Next), want) {
		t.Fatalf("next = %v, want %v", ids(got.Next), want)
	}
	if want := []string{"web-1"}; !slices.Equal(ids(got.Evicted), want) {
		t.Fatalf("evicted = %v, want %v", ids(got.Evicted), want)
	}
}

func TestAdmitMultiDeviceKeepsDistinctDevices(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicyMultiDevice, current, desc("pad-1", "s-1", connection.DevicePad))
	if !got.Admitted || len(got.Next) != 2 || len(got.Evicted) != 0 {
		t.Fatalf("admission = %+v, want both devices kept", got)
	}
}

func TestAdmitKickNewEvictsExisting(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicySingleDeviceKickNew, current, desc("web-2", "s-1", connection.DeviceWeb))
	if !got.Admitted {
		t.Fatal("expected newest connection admitted")
	}
	if want := []string{"web-2"}; !slices.Equal(ids(got.Next), want) {
		t.Fatalf("next = %v, want %v", ids(got.Next), want)
	}
	if want := []string{"web-1"}; !slices.Equal(ids(got.Evicted), want) {
		t.Fatalf("evicted = %v, want %v", ids(got.Evicted), want)
	}
}

func TestAdmitKickOldRejectsIncoming(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicySingleDeviceKickOld, current, desc("web-2", "s-1", connection.DeviceWeb))
	if got.Admitted {
		t.Fatal("expected incoming connection rejected")
	}
	if want := []string{"web-1"}; !slices.Equal(ids(got.Next), want) {
		t.Fatalf("next = %v, want %v", ids(got.Next), want)
	}
	if len(got.Evicted) != 0 {
		t.Fatalf("evicted = %v, want none", ids(got.Evicted))
	}
}

func TestAdmitKickOldAdmitsFreeSlot(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicySingleDeviceKickOld, current, desc("mobile-1", "s-1", connection.DeviceMobile))
	if !got.Admitted || len(got.Next) != 2 {
		t.Fatalf("admission = %+v, want free slot admitted", got)
	}
}

func TestAdmitUnspecifiedAppends(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicyUnspecified, current, desc("web-2", "s-1", connection.DeviceWeb))
	if want := []string{"web-1", "web-2"}; !got.Admitted || !slices.Equal(ids(got.Next), want) {
		t.Fatalf("next = %v, want %v", ids(got.Next), want)
	}
}

func TestAdmitDoesNotMutateInput(t *testing.T) {
	current := []connection.Descriptor{
		desc("web-1", "s-1", connection.DeviceWeb),
		desc("mobile-1", "s-1", connection.DeviceMobile),
	}
	_ = Admit(PolicySingleDeviceKickNew, current, desc("web-2", "s-1", connection.DeviceWeb))
	if want := []string{"web-1", "mobile-1"}; !slices.Equal(ids(current), want) {
		t.Fatalf("input = %v, want %v", ids(current), want)
	}
}

func TestAdmitIsIdempotentForSameID(t *testing.T) {
	current := []connection.Descriptor{desc("web-1", "s-1", connection.DeviceWeb)}
	got := Admit(PolicySingleDeviceKickOld, current, desc("web-1", "s-1", connection.DeviceWeb))
	if !got.Admitted || len(got.Next) != 1 {
		t.Fatalf("admission = %+v, want re-admitted without duplicate", got)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusCreated, StatusActive},
		{StatusActive, StatusSuspended},
		{StatusSuspended, StatusActive},
		{StatusCreated, StatusDeleted},
		{StatusActive, StatusDeleted},
		{StatusSuspended, StatusDeleted},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("CanTransition(%s, %s) = false, want true", pair[0], pair[1])
		}
	}
	denied := [][2]Status{
		{StatusDeleted, StatusActive},
		{StatusDeleted, StatusDeleted},
		{StatusCreated, StatusSuspended},
		{StatusActive, StatusCreated},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("CanTransition(%s, %s) = true, want false", pair[0], pair[1])
		}
	}
}

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy("single_device_kick_new")
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	if policy != PolicySingleDeviceKickNew {
		t.Fatalf("policy = %q, want %q", policy, PolicySingleDeviceKickNew)
	}
	if _, err := ParsePolicy("everyone"); err == nil {
		t.Fatal("expected unknown policy error")
	}
	for _, label := range []string{"", "unspecified", " UNSPECIFIED "} {
		policy, err := ParsePolicy(label)
		if err != nil || policy != PolicyUnspecified {
			t.Fatalf("ParsePolicy(%q) = %q, %v; want unspecified", label, policy, err)
		}
	}
	if got := PolicyUnspecified.Label(); got != "UNSPECIFIED" {
		t.Fatalf("label = %q, want UNSPECIFIED", got)
	}
	if got := PolicyMultiDevice.Label(); got != "MULTI_DEVICE" {
		t.Fatalf("label = %q, want MULTI_DEVICE", got)
	}
}
