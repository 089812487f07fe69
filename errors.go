// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds. Every *IneError unwraps to exactly one of these, so callers
// can classify failures with errors.Is.
var (
	// ErrConnectivity indicates a socket or dial failure. The next operation reconnects.
	ErrConnectivity = errors.New("connectivity error")

	// ErrAuth indicates the appliance rejected the credentials
	ErrAuth = errors.New("authentication failed")

	// ErrSessionExpired indicates the session could not be renewed within MaxSessionRenewals
	ErrSessionExpired = errors.New("session expired")

	// ErrDecode indicates a malformed reply
	ErrDecode = errors.New("malformed reply")

	// ErrNotFound indicates a referenced emulation, port or VI does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a known server race that persisted after retrying
	ErrConflict = errors.New("conflict")

	// ErrPortHasChild indicates a port cannot be deleted before its child port
	ErrPortHasChild = errors.New("port has a child port")

	// ErrValidation indicates invalid input rejected before any command was sent
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyRunning indicates an emulation with the same name is running
	ErrAlreadyRunning = errors.New("emulation already running")

	// ErrRejected indicates the appliance answered with an error reply
	ErrRejected = errors.New("command rejected")

	// ErrBuild indicates a topology build stopped part way through
	ErrBuild = errors.New("build failed")

	// ErrClosed indicates the client was closed
	ErrClosed = errors.New("client closed")
)

// IneError represents a structured appliance error with operation context
type IneError struct {
	// Operation name that failed
	Operation string

	// Kind is one of the Err* sentinels
	Kind error

	// Human-readable error message
	Message string

	// InternalMsg contains detailed error information for internal logging
	InternalMsg string

	// Reply is the raw appliance reply, if there was one
	Reply string

	// Number of retry attempts made
	Retries int

	// EmulationID is set by build failures to the partially built emulation
	EmulationID int
}

// Error implements the error interface
func (e *IneError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("ine: %s failed: %s (retries: %d)", e.Operation, e.Message, e.Retries)
	}
	return fmt.Sprintf("ine: %s failed: %s", e.Operation, e.Message)
}

// DetailedError returns the full error message including internal details
//
// This should only be used in server-side logs; InternalMsg can contain
// addresses and raw appliance replies.
func (e *IneError) DetailedError() string {
	if e.InternalMsg == "" {
		return e.Error()
	}
	if e.Retries > 0 {
		return fmt.Sprintf("ine: %s failed: %s (internal: %s, retries: %d)",
			e.Operation, e.Message, e.InternalMsg, e.Retries)
	}
	return fmt.Sprintf("ine: %s failed: %s (internal: %s)",
		e.Operation, e.Message, e.InternalMsg)
}

// Unwrap returns the error kind
func (e *IneError) Unwrap() error {
	return e.Kind
}

// Code returns the status hint for the error kind
func (e *IneError) Code() codes.Code {
	return codeForKind(e.Kind)
}

// GRPCStatus lets status.FromError and status.Code classify the error
func (e *IneError) GRPCStatus() *status.Status {
	return status.New(e.Code(), e.Error())
}

// kindCodes maps error kinds to status hints
var kindCodes = []struct {
	kind error
	code codes.Code
}{
	{ErrConnectivity, codes.Unavailable},
	{ErrAuth, codes.Unauthenticated},
	{ErrSessionExpired, codes.Unauthenticated},
	{ErrDecode, codes.Internal},
	{ErrNotFound, codes.NotFound},
	{ErrConflict, codes.FailedPrecondition},
	{ErrPortHasChild, codes.FailedPrecondition},
	{ErrValidation, codes.InvalidArgument},
	{ErrAlreadyRunning, codes.AlreadyExists},
	{ErrRejected, codes.Aborted},
	{ErrBuild, codes.Aborted},
	{ErrClosed, codes.Canceled},
}

func codeForKind(kind error) codes.Code {
	for _, kc := range kindCodes {
		if errors.Is(kind, kc.kind) {
			return kc.code
		}
	}
	return codes.Unknown
}

// newError creates an IneError of the given kind
func newError(op string, kind error, msg string) *IneError {
	return &IneError{Operation: op, Kind: kind, Message: msg}
}

// rejected wraps an unexpected appliance error reply
func rejected(op string, reply Reply) *IneError {
	msg := reply.ErrorMessage()
	if msg == "" {
		msg = "unexpected reply"
	}
	return &IneError{
		Operation:   op,
		Kind:        ErrRejected,
		Message:     msg,
		InternalMsg: reply.Raw,
		Reply:       reply.Raw,
	}
}

// Failure is the {message, statusHint} pair handed to an outward-facing layer
type Failure struct {
	Message string
	Code    codes.Code
}

// FailureFromError converts any error returned by the client into a Failure.
//
// Context errors map to Canceled/DeadlineExceeded; errors that are not
// produced by this package map to Unknown.
func FailureFromError(err error) Failure {
	if err == nil {
		return Failure{Code: codes.OK}
	}
	var ie *IneError
	if errors.As(err, &ie) {
		return Failure{Message: ie.Error(), Code: ie.Code()}
	}
	st := status.FromContextError(err)
	return Failure{Message: err.Error(), Code: st.Code()}
}

// HTTPStatus translates the status hint into an HTTP status code
func (f Failure) HTTPStatus() int {
	switch f.Code {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument, codes.AlreadyExists:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unavailable:
		return http.StatusBadGateway
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Aborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// JSON renders the failure as {"message": ..., "status": ...}
func (f Failure) JSON() string {
	return jsonDoc{}.
		set("message", f.Message).
		set("status", f.HTTPStatus()).
		set("code", f.Code.String()).
		res()
}
