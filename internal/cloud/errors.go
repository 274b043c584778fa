// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"

	"github.com/jeranaias/ragent/internal/budget"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

var (
	// ErrNotConfigured indicates the model API URL or key is missing.
	ErrNotConfigured = errors.New("model API not configured")

	// ErrAuthFailed indicates the API key was rejected (401/403).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrMalformedRequest indicates the service rejected the request body.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("model service error")

	// ErrUnexpectedStatus covers any other non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrNetwork indicates the request never got a response.
	ErrNetwork = errors.New("network failure")

	// ErrDecode indicates a 2xx response that could not be parsed.
	ErrDecode = errors.New("invalid response")
)

// TransportKind classifies a TransportError.
type TransportKind string

const (
	KindNetwork    TransportKind = "network"
	KindAuth       TransportKind = "auth"
	KindMalformed  TransportKind = "malformed"
	KindServer     TransportKind = "server"
	KindUnexpected TransportKind = "unexpected"
	KindDecode     TransportKind = "decode"
)

func (k TransportKind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuthFailed
	case KindMalformed:
		return ErrMalformedRequest
	case KindServer:
		return ErrServer
	case KindDecode:
		return ErrDecode
	case KindNetwork:
		return ErrNetwork
	default:
		return ErrUnexpectedStatus
	}
}

// TransportError is any failure of a model call other than a budget
// refusal. It is never retried.
type TransportError struct {
	Kind    TransportKind
	Status  int // 0 when no response was received
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind.sentinel(), e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind.sentinel(), msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *TransportError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// BudgetExceededError is returned when the ledger refuses the call.
type BudgetExceededError struct {
	Status   int
	Reason   string // the service's short error, e.g. "Monthly limit exceeded"
	Message  string // the human-readable explanation
	Snapshot *budget.Snapshot
}

func (e *BudgetExceededError) Error() string {
	msg := e.Reason
	if e.Message != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Message
	}
	if msg == "" {
		msg = "monthly budget exceeded"
	}
	if e.Snapshot != nil {
		return fmt.Sprintf("%s [used %s]", msg, e.Snapshot.String())
	}
	return msg
}

// IsBudgetExceeded reports whether err is a budget refusal.
func IsBudgetExceeded(err error) bool {
	var b *BudgetExceededError
	return errors.As(err, &b)
}
