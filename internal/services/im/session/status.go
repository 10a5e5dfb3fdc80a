// Package session applies connection policies and resolves who is connected
// to a conversation across nodes.
package session

import (
	"fmt"
	"strings"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDeleted   Status = "DELETED"
)

// ParseStatus parses a status label.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case StatusCreated, StatusActive, StatusSuspended, StatusDeleted:
		return status, nil
	}
	return "", fmt.Errorf("unknown session status %q", value)
}

// AcceptsConnections reports whether new connections may join.
func (s Status) AcceptsConnections() bool {
	return s == StatusCreated || s == StatusActive
}

// CanTransition reports whether from may move to to.
//
//	CREATED -> ACTIVE <-> SUSPENDED
//	any non-terminal -> DELETED
func CanTransition(from, to Status) bool {
	if from == StatusDeleted {
		return false
	}
	switch to {
	case StatusActive:
		return from == StatusCreated || from == StatusSuspended
	case StatusSuspended:
		return from == StatusActive
	case StatusDeleted:
		return true
	default:
		return false
	}
}

// Type is the conversation shape.
type Type string

const (
	TypeDirect Type = "DIRECT"
	TypeGroup  Type = "GROUP"
)

// ParseType parses a session type label, defaulting to GROUP.
func ParseType(value string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(value))) {
	case TypeDirect:
		return TypeDirect, nil
	case TypeGroup, "":
		return TypeGroup, nil
	}
	return "", fmt.Errorf("unknown session type %q", value)
}
