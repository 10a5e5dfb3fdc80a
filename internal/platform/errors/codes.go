// Package errors provides structured domain errors with transport mappings.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request validation
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Session directory and lifecycle
	CodeNotFound                Code = "NOT_FOUND"
	CodeSessionInactive         Code = "SESSION_INACTIVE"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"

	// Admission
	CodeNotSessionMember Code = "NOT_SESSION_MEMBER"

	// Cross-node routing
	CodeRouteNotLocal       Code = "ROUTE_NOT_LOCAL"
	CodeRouteTargetNotFound Code = "ROUTE_TARGET_NOT_FOUND"
	CodeRouteDeliveryFailed Code = "ROUTE_DELIVERY_FAILED"
)

// HTTPStatus maps domain codes to HTTP status codes for the internal API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotSessionMember:
		return http.StatusForbidden
	case CodeNotFound, CodeRouteTargetNotFound:
		return http.StatusNotFound
	case CodeSessionInactive, CodeInvalidStatusTransition:
		return http.StatusConflict
	case CodeRouteNotLocal:
		return http.StatusMisdirectedRequest
	case CodeRouteDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may retry the same request unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeRouteDeliveryFailed, CodeUnknown:
		return true
	default:
		return false
	}
}
