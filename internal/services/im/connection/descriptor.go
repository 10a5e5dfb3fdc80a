// Package connection models client links as Local sockets on this node or
// Remote proxies that forward to the owning node.
package connection

import (
	"maps"
	"strings"
)

// DeviceType classifies the client platform of a connection.
type DeviceType string

const (
	DeviceWeb     DeviceType = "WEB"
	DeviceMobile  DeviceType = "MOBILE"
	DeviceDesktop DeviceType = "DESKTOP"
	DevicePad     DeviceType = "PAD"
	DeviceUnknown DeviceType = "UNKNOWN"
)

// ParseDeviceType maps a label to a device type; unknown labels become DeviceUnknown.
func ParseDeviceType(value string) DeviceType {
	switch DeviceType(strings.ToUpper(strings.TrimSpace(value))) {
	case DeviceWeb:
		return DeviceWeb
	case DeviceMobile:
		return DeviceMobile
	case DeviceDesktop:
		return DeviceDesktop
	case DevicePad:
		return DevicePad
	default:
		return DeviceUnknown
	}
}

// Metadata keys captured at connect time.
const (
	MetaNodeAddress     = "nodeAddress"
	MetaNodeGRPCAddress = "nodeGrpcAddress"
	MetaLocale          = "locale"
	MetaConnectedAt     = "connectedAt"
)

// Descriptor is the transport-free projection of a connection kept in the
// shared store.
type Descriptor struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	SessionID  string            `json:"sessionId"`
	DeviceType DeviceType        `json:"deviceType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NodeAddress is the internal HTTP address of the node holding the socket.
func (d Descriptor) NodeAddress() string {
	return d.Metadata[MetaNodeAddress]
}

// NodeGRPCAddress is the health address of the node holding the socket.
func (d Descriptor) NodeGRPCAddress() string {
	return d.Metadata[MetaNodeGRPCAddress]
}

// SameSlot reports whether other occupies the same (session, device type) slot.
func (d Descriptor) SameSlot(other Descriptor) bool {
	return d.SessionID == other.SessionID && d.DeviceType == other.DeviceType
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}

// CloneAll deep-copies a descriptor list.
func CloneAll(descriptors []Descriptor) []Descriptor {
	if descriptors == nil {
		return nil
	}
	out := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Clone()
	}
	return out
}
