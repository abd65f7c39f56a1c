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

// Package engine implements Toolgate's policy decision engine.
//
// The engine evaluates tool calls against an immutable policy document.
// Evaluation follows a deny-wins model: deny rules are checked first, in
// document order, and a matching deny rule blocks the call regardless of
// any allow rule. Allow rules are then tried in document order; a rule
// whose constraints fail falls through to later rules for the same tool
// before the document default applies.
//
// Evaluation is pure and idempotent: the same call against the same
// document always produces the same decision.
package engine

import (
	"time"
)

// Layer identifies the pipeline stage that produced a decision.
type Layer string

const (
	LayerRateLimit Layer = "rate_limit"
	LayerValidate  Layer = "validate"
	LayerAuthorize Layer = "authorize"
	LayerDetect    Layer = "detect_attacks"
	LayerExecute   Layer = "execute"
	LayerRedact    Layer = "redact"
)

// ToolCall represents a single tool invocation request by an agent.
// It is immutable once constructed; the caller builds one per invocation
// with identity already resolved (the engine performs no authentication).
type ToolCall struct {
	// Tool is the tool being invoked (e.g., "get_user", "run_query").
	Tool string

	// Args contains the named tool arguments.
	Args map[string]any

	// Actor identifies the initiator (e.g., an email or agent id).
	Actor string

	// Roles are the actor's resolved role names, possibly empty.
	Roles []string

	// RequestID is an optional correlation identifier.
	RequestID string

	// Session identifies the actor's session, used by session-scoped
	// rate limiting.
	Session string

	// Timestamp is when the call was initiated.
	Timestamp time.Time
}

// Decision is the outcome of one pipeline layer for a tool call.
// Decisions are terminal: once a layer denies, no later layer runs.
type Decision struct {
	// Allowed is the verdict.
	Allowed bool

	// Reason is a human-readable explanation. For denials, this tells
	// the agent why the call was blocked.
	Reason string

	// PolicyID identifies the policy document that produced the decision.
	PolicyID string

	// Remediation is an optional hint for fixing a denied call.
	Remediation string

	// Layer is the pipeline stage that produced this decision.
	Layer Layer

	// EvalDuration is how long policy evaluation took. Only set by the
	// authorize layer; tracked for performance monitoring.
	EvalDuration time.Duration
}

// Denied returns true if the call was blocked.
func (d Decision) Denied() bool {
	return !d.Allowed
}
