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

package audit

import (
	"log/slog"
	"sort"
	"time"

	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/redact"
)

// EmitterConfig enumerates exactly what may leave the boundary in an
// audit event. It is injected, never ambient: the safe default (no raw
// values) applies unless a caller explicitly raises verbosity.
type EmitterConfig struct {
	// IncludeArgumentValues adds redacted argument values to events.
	IncludeArgumentValues bool

	// IncludeResult adds the redacted tool result to events.
	IncludeResult bool

	// DenyKeys is the redaction key set applied to any included values.
	// Empty means redact.DefaultDenyKeys.
	DenyKeys []string
}

// Emitter turns layer outcomes into audit events and hands them to a
// sink. A sink failure is logged, never propagated: the tool call's own
// outcome must not depend on audit transport health.
type Emitter struct {
	sink   Sink
	cfg    EmitterConfig
	logger *slog.Logger
}

// NewEmitter creates an emitter over the given sink.
func NewEmitter(sink Sink, cfg EmitterConfig, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NewSlogSink(logger)
	}
	return &Emitter{sink: sink, cfg: cfg, logger: logger}
}

// Emit builds and writes the single audit event for a finished call.
// outcome is OutcomeAllow, OutcomeDeny, or OutcomeError; result is the
// (already redacted) tool result for allowed calls.
func (e *Emitter) Emit(call engine.ToolCall, dec engine.Decision, outcome string, result any, flags []string, latency time.Duration) {
	event := Event{
		ID:               NewEventID(),
		Timestamp:        time.Now().UTC(),
		Action:           ActionToolCall,
		Tool:             call.Tool,
		Decision:         outcome,
		Reason:           dec.Reason,
		PolicyID:         dec.PolicyID,
		Actor:            call.Actor,
		RequestID:        call.RequestID,
		Layer:            string(dec.Layer),
		LatencyMS:        latency.Milliseconds(),
		ArgumentsSummary: summarizeArguments(call.Args),
		Flags:            flags,
	}

	redactCfg := redact.Config{DenyKeys: e.cfg.DenyKeys, PIIEmails: true}

	if e.cfg.IncludeArgumentValues && len(call.Args) > 0 {
		if redacted, ok := redact.Value(call.Args, redactCfg).(map[string]any); ok {
			event.Arguments = redacted
		}
	}
	if e.cfg.IncludeResult && outcome == OutcomeAllow && result != nil {
		event.Result = redact.Value(result, redactCfg)
	}

	if err := e.sink.Write(event); err != nil {
		e.logger.Error("audit: write event failed",
			"event_id", event.ID,
			"tool", event.Tool,
			"error", err,
		)
	}
}

func summarizeArguments(args map[string]any) ArgumentsSummary {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return ArgumentsSummary{Keys: keys, KeyCount: len(keys)}
}
