// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import "sync"

// History is the append-only turn log for one session. Entries are never
// edited; Reset is the only way to remove them.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{turns: make([]Turn, 0)}
}

// Append adds turns to the end of the history.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range turns {
		h.turns = append(h.turns, t.clone())
	}
}

// Turns returns a copy of the ordered history.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = t.clone()
	}
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the final turn, if any.
func (h *History) Last() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1].clone(), true
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make([]Turn, 0)
}

// Restore replaces the history with turns loaded from a saved session.
func (h *History) Restore(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make([]Turn, 0, len(turns))
	for _, t := range turns {
		h.turns = append(h.turns, t.clone())
	}
}
