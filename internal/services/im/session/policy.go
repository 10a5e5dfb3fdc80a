package session

import (
	"fmt"
	"strings"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

// Policy governs how connections of one user and device type coexist in a session.
type Policy string

const (
	// PolicyUnspecified appends every connection.
	PolicyUnspecified Policy = ""
	// PolicyMultiDevice keeps one connection per device type, replacing
	// stale same-device descriptors on reconnect.
	PolicyMultiDevice Policy = "MULTI_DEVICE"
	// PolicySingleDeviceKickNew evicts existing same-device connections
	// and admits the incoming one.
	PolicySingleDeviceKickNew Policy = "SINGLE_DEVICE_KICK_NEW"
	// PolicySingleDeviceKickOld keeps the existing same-device connection
	// and rejects the incoming one.
	PolicySingleDeviceKickOld Policy = "SINGLE_DEVICE_KICK_OLD"
)

// unspecifiedLabel names PolicyUnspecified where an empty value would be
// read as "use the default".
const unspecifiedLabel = "UNSPECIFIED"

// ParsePolicy parses a policy label. Both "" and "UNSPECIFIED" are
// PolicyUnspecified.
func ParsePolicy(value string) (Policy, error) {
	policy := Policy(strings.ToUpper(strings.TrimSpace(value)))
	if policy == unspecifiedLabel {
		return PolicyUnspecified, nil
	}
	switch policy {
	case PolicyUnspecified, PolicyMultiDevice, PolicySingleDeviceKickNew, PolicySingleDeviceKickOld:
		return policy, nil
	}
	return "", fmt.Errorf("unknown connection policy %q", value)
}

// Label is the policy name, with PolicyUnspecified spelled out.
func (p Policy) Label() string {
	if p == PolicyUnspecified {
		return unspecifiedLabel
	}
	return string(p)
}

// Admission is the outcome of applying a policy to a user's descriptor list.
type Admission struct {
	// Next is the list to persist.
	Next []connection.Descriptor
	// Evicted are descriptors removed to make room for the incoming one.
	Evicted []connection.Descriptor
	// Admitted is false when the incoming connection must be rejected.
	Admitted bool
}

// Admit applies policy to current for incoming. Only descriptors in the
// same (session, device type) slot as incoming are affected. Admit does not
// mutate current.
func Admit(policy Policy, current []connection.Descriptor, incoming connection.Descriptor) Admission {
	var (
		kept    = make([]connection.Descriptor, 0, len(current)+1)
		evicted []connection.Descriptor
	)
	for _, d := range current {
		if d.ID == incoming.ID {
			continue
		}
		if d.SameSlot(incoming) && policy != PolicyUnspecified {
			evicted = append(evicted, d)
			continue
		}
		kept = append(kept, d)
	}

	if policy == PolicySingleDeviceKickOld && len(evicted) > 0 {
		return Admission{Next: connection.CloneAll(current), Admitted: false}
	}
	return Admission{
		Next:     append(kept, incoming.Clone()),
		Evicted:  evicted,
		Admitted: true,
	}
}
