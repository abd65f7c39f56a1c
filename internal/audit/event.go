// Copyright 2026 The Toolgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit records one safe-by-default event per enforced tool call.
//
// Events never carry raw argument or result values unless verbosity is
// explicitly raised, and even then values pass through redaction first.
// The JSONL sink adds a cryptographic hash chain so tampering with stored
// events is detectable.
package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action recorded on every event.
const ActionToolCall = "tool_call"

// Outcomes recorded in the Decision field.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
	OutcomeError = "error"
)

// Event is a single audited tool call. Write-once; emitted exactly once
// per ToolCall at the pipeline's terminal state.
type Event struct {
	// ID is a ULID — time-ordered, lexicographically sortable.
	ID string `json:"id"`

	// Timestamp is when the event was emitted (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Action is always "tool_call".
	Action string `json:"action"`

	// Tool is the tool that was requested.
	Tool string `json:"tool_name"`

	// Decision is "allow", "deny", or "error" (execution failure).
	Decision string `json:"decision"`

	// Reason is the human-readable explanation from the terminating layer.
	Reason string `json:"reason"`

	// PolicyID identifies the governing policy document.
	PolicyID string `json:"policy_id"`

	// Actor is the call's initiator, if known.
	Actor string `json:"actor,omitempty"`

	// RequestID is the call's correlation identifier, if any.
	RequestID string `json:"request_id,omitempty"`

	// Layer is the pipeline stage that terminated the call.
	Layer string `json:"layer,omitempty"`

	// LatencyMS is the end-to-end pipeline duration.
	LatencyMS int64 `json:"latency_ms"`

	// ArgumentsSummary describes the argument shape without values.
	ArgumentsSummary ArgumentsSummary `json:"arguments_summary"`

	// Arguments holds redacted argument values. Only populated when
	// include_argument_values verbosity is enabled.
	Arguments map[string]any `json:"arguments,omitempty"`

	// Result holds the redacted tool result. Only populated when
	// include_result verbosity is enabled and the call executed.
	Result any `json:"result,omitempty"`

	// Flags carries layer annotations, e.g. "detected:sql_injection"
	// when the attack detector runs in flag mode.
	Flags []string `json:"flags,omitempty"`

	// PrevHash is the hash of the preceding event in the chain.
	// Empty for the first event; only set by chaining sinks.
	PrevHash string `json:"prev_hash,omitempty"`

	// Hash is the SHA-256 hash of this event excluding the hash field.
	Hash string `json:"hash,omitempty"`
}

// ArgumentsSummary is the safe default record of a call's arguments:
// the sorted key list and the key count, never the values.
type ArgumentsSummary struct {
	Keys     []string `json:"keys"`
	KeyCount int      `json:"key_count"`
}

// NewEventID returns a new ULID event identifier.
func NewEventID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err == nil {
		return id.String()
	}

	slog.Error("audit: generate event id", "error", err)
	return ulid.Make().String()
}

// ComputeHash calculates the SHA-256 hash for this event.
//
// The hash covers every field except Hash itself and incorporates
// PrevHash, forming the chain:
//
//	hash(event_N) = SHA-256(prev_hash + json(event_N without hash))
func (e *Event) ComputeHash() error {
	e.Hash = ""

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event for hashing: %w", err)
	}

	payload := append([]byte(e.PrevHash), data...)
	h := sha256.Sum256(payload)
	e.Hash = "sha256:" + hex.EncodeToString(h[:])
	return nil
}

// VerifyHash checks whether the event's hash is correct.
func (e *Event) VerifyHash() (bool, error) {
	expected := e.Hash

	if err := e.ComputeHash(); err != nil {
		e.Hash = expected
		return false, err
	}
	computed := e.Hash
	e.Hash = expected

	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
}
