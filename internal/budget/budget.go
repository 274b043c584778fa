// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the monthly spending cap reported by the inference
// service.
//
// The remote ledger is the only authority on whether a call is allowed. The
// Gate here keeps the most recent snapshot for display and latches a hard
// stop for the rest of the current user turn once the ledger has refused a
// call (or reported 100% usage). The latch is released by BeginTurn.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the ledger state returned with an inference response.
type Snapshot struct {
	CredentialID   string    `json:"credential_id,omitempty"`
	CurrentUsage   float64   `json:"current_usage"`
	MonthlyLimit   float64   `json:"monthly_limit"`
	Remaining      float64   `json:"remaining"`
	PercentageUsed float64   `json:"percentage_used"`
	ObservedAt     time.Time `json:"observed_at,omitempty"`
}

// Normalize fills derived fields the service omitted.
func (s Snapshot) Normalize() Snapshot {
	if s.Remaining == 0 && s.MonthlyLimit > 0 && s.CurrentUsage < s.MonthlyLimit {
		s.Remaining = s.MonthlyLimit - s.CurrentUsage
	}
	if s.PercentageUsed == 0 && s.MonthlyLimit > 0 {
		s.PercentageUsed = s.CurrentUsage / s.MonthlyLimit * 100
	}
	return s
}

// Exhausted reports whether the snapshot is at or past the limit.
func (s Snapshot) Exhausted() bool {
	if s.MonthlyLimit <= 0 {
		return false
	}
	return s.Normalize().PercentageUsed >= 100
}

// String renders "Used: $x / $y ($z remaining, p%)".
func (s Snapshot) String() string {
	s = s.Normalize()
	return fmt.Sprintf("$%.2f / $%.2f ($%.2f remaining, %.1f%%)",
		s.CurrentUsage, s.MonthlyLimit, s.Remaining, s.PercentageUsed)
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity is the display band for a usage percentage.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityHardStop
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityHardStop:
		return "hard_stop"
	default:
		return "none"
	}
}

// Thresholds are the percentage boundaries for each severity band.
type Thresholds struct {
	Info     float64 `toml:"info" validate:"gte=0,lte=100"`
	Warning  float64 `toml:"warning" validate:"gtefield=Info,lte=100"`
	HardStop float64 `toml:"hard_stop" validate:"gtefield=Warning"`
}

// DefaultThresholds returns 75/90/100.
func DefaultThresholds() Thresholds {
	return Thresholds{Info: 75, Warning: 90, HardStop: 100}
}

// Classify maps a percentage onto a band.
func (t Thresholds) Classify(percentageUsed float64) Severity {
	switch {
	case percentageUsed >= t.HardStop:
		return SeverityHardStop
	case percentageUsed >= t.Warning:
		return SeverityWarning
	case percentageUsed >= t.Info:
		return SeverityInfo
	default:
		return SeverityNone
	}
}

// =============================================================================
// GATE
// =============================================================================

// Decision is the result of Authorize.
type Decision struct {
	Allowed  bool
	Snapshot *Snapshot
	Reason   string
}

// Gate holds the latest snapshot and the per-turn hard-stop latch.
type Gate struct {
	mu         sync.Mutex
	thresholds Thresholds
	last       *Snapshot
	tripped    bool
	tripReason string
}

// NewGate creates a gate with the given thresholds.
func NewGate(thresholds Thresholds) *Gate {
	return &Gate{thresholds: thresholds}
}

// BeginTurn re-arms the gate for a new user-initiated turn. The ledger may
// have been raised or rolled over since the last refusal.
func (g *Gate) BeginTurn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripped = false
	g.tripReason = ""
}

// Authorize is consulted before every model call. It only refuses when a
// hard stop has already been observed during the current turn; otherwise
// the call is forwarded and the ledger decides.
func (g *Gate) Authorize(credentialID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	var snap *Snapshot
	if g.last != nil {
		cp := *g.last
		if cp.CredentialID == "" {
			cp.CredentialID = credentialID
		}
		snap = &cp
	}

	if g.tripped {
		return Decision{Allowed: false, Snapshot: snap, Reason: g.tripReason}
	}
	return Decision{Allowed: true, Snapshot: snap}
}

// Observe records a snapshot from a successful response and returns its
// band. A snapshot in the hard-stop band trips the latch.
func (g *Gate) Observe(s Snapshot) Severity {
	g.mu.Lock()
	defer g.mu.Unlock()

	s = s.Normalize()
	if s.ObservedAt.IsZero() {
		s.ObservedAt = time.Now()
	}
	g.last = &s

	sev := g.thresholds.Classify(s.PercentageUsed)
	if sev == SeverityHardStop && s.MonthlyLimit > 0 {
		g.tripped = true
		g.tripReason = "monthly limit reached"
	}
	return sev
}

// Trip records a refusal from the ledger.
func (g *Gate) Trip(s *Snapshot, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s != nil {
		cp := s.Normalize()
		if cp.ObservedAt.IsZero() {
			cp.ObservedAt = time.Now()
		}
		g.last = &cp
	}
	if reason == "" {
		reason = "monthly limit exceeded"
	}
	g.tripped = true
	g.tripReason = reason
}

// Tripped reports whether the latch is set.
func (g *Gate) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// Last returns a copy of the most recent snapshot, or nil.
func (g *Gate) Last() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return nil
	}
	cp := *g.last
	return &cp
}

// Severity classifies a snapshot using the gate's thresholds.
func (g *Gate) Severity(s Snapshot) Severity {
	return g.thresholds.Classify(s.Normalize().PercentageUsed)
}
