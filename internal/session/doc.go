// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session records what an agent session did and what it cost.
//
// # Key Types
//
//   - Recorder: in-memory iteration log plus cost and request totals
//   - Record: the persisted shape of a session
//   - Store: JSON session files plus a sqlite index of saved sessions
//
// # Usage
//
//	rec := session.NewRecorder(cost.NewCalculator(cost.DefaultRates()))
//	rec.RecordModelCall(1, usage, 0.0044, "end_turn", elapsed)
//
//	store, _ := session.OpenStore(dir)
//	defer store.Close()
//	path, _ := store.Save(rec.Snapshot(history.Turns()))
//
// Totals survive a conversation reset; only a new Recorder starts from zero.
package session
