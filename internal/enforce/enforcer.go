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

package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peg/toolgate/internal/audit"
	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/policy"
)

// DeniedError is returned by Enforce when a pipeline layer denies the
// call. The tool callable was never invoked.
type DeniedError struct {
	Reason      string
	PolicyID    string
	Layer       engine.Layer
	Remediation string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("enforce: call denied at %s: %s", e.Layer, e.Reason)
}

// ExecutionError wraps a tool callable's own failure. The call was
// authorized; the tool itself failed.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("enforce: tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithLimiter replaces the default token bucket limiter.
func WithLimiter(l engine.Limiter) Option {
	return func(e *Enforcer) {
		if l != nil {
			e.limiter = l
		}
	}
}

// WithSink sets the audit sink. Defaults to structured log output.
func WithSink(s audit.Sink) Option {
	return func(e *Enforcer) {
		e.sink = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches a metrics set. Nil metrics are a no-op.
func WithMetrics(m *Metrics) Option {
	return func(e *Enforcer) {
		e.metrics = m
	}
}

// Enforcer mediates tool calls against a policy document. One Enforcer
// serves concurrent callers; the active document can be swapped at
// runtime via Reload without interrupting in-flight calls.
type Enforcer struct {
	engine  *engine.Engine
	limiter engine.Limiter
	sink    audit.Sink
	emitter *audit.Emitter
	metrics *Metrics
	logger  *slog.Logger
}

// New creates an Enforcer over a compiled policy document.
func New(doc *policy.Document, opts ...Option) (*Enforcer, error) {
	e := &Enforcer{
		limiter: engine.NewTokenBucketLimiter(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	eng, err := engine.New(doc, e.logger)
	if err != nil {
		return nil, err
	}
	e.engine = eng

	emitterCfg := audit.EmitterConfig{}
	if cfg := doc.Audit; cfg != nil {
		emitterCfg.IncludeArgumentValues = cfg.IncludeArgumentValues
		emitterCfg.IncludeResult = cfg.IncludeResult
	}
	if rc := doc.Redact; rc != nil {
		emitterCfg.DenyKeys = rc.DenyKeys
	}
	e.emitter = audit.NewEmitter(e.sink, emitterCfg, e.logger)

	return e, nil
}

// Reload swaps the active policy document. In-flight calls finish under
// the document they started with.
func (e *Enforcer) Reload(doc *policy.Document) error {
	return e.engine.Reload(doc)
}

// Document returns the active policy document.
func (e *Enforcer) Document() *policy.Document {
	return e.engine.Document()
}

// Preflight evaluates a call through the decision layers without
// executing anything and without emitting an audit event. Useful for
// dry runs and the CLI check command.
func (e *Enforcer) Preflight(call engine.ToolCall) engine.Decision {
	doc := e.engine.Document()

	if dec := engine.ValidateCall(doc, call); dec.Denied() {
		return dec
	}
	dec := e.engine.Evaluate(call)
	if dec.Denied() {
		return dec
	}
	if d, _, denied := scanForAttacks(doc, call); denied {
		return d
	}
	return dec
}

// Enforce runs one tool call through the full pipeline.
//
// On denial the callable is never invoked and the returned error is a
// *DeniedError. On execution failure the returned error is an
// *ExecutionError wrapping the callable's error. Exactly one audit
// event is emitted per call regardless of outcome.
func (e *Enforcer) Enforce(ctx context.Context, call engine.ToolCall, fn ToolFunc) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("enforce: nil tool callable for %q", call.Tool)
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now().UTC()
	}

	doc := e.engine.Document()

	start := time.Now()
	out := e.runPipeline(ctx, doc, call, fn)
	latency := time.Since(start)

	audited := doc.Audit.IsEnabled()

	switch {
	case out.execErr != nil:
		e.metrics.observeExecFailure()
		e.metrics.observeDecision(audit.OutcomeError, string(out.decision.Layer), latency.Seconds())

		dec := out.decision
		dec.Reason = out.execErr.Error()
		if audited {
			e.emitter.Emit(call, dec, audit.OutcomeError, nil, out.flags, latency)
		}

		e.logger.Warn("enforce: tool execution failed",
			"tool", call.Tool,
			"actor", call.Actor,
			"error", out.execErr,
		)
		return nil, &ExecutionError{Tool: call.Tool, Err: out.execErr}

	case out.decision.Denied():
		e.metrics.observeDecision(audit.OutcomeDeny, string(out.decision.Layer), latency.Seconds())
		if audited {
			e.emitter.Emit(call, out.decision, audit.OutcomeDeny, nil, out.flags, latency)
		}

		e.logger.Info("enforce: call denied",
			"tool", call.Tool,
			"actor", call.Actor,
			"layer", out.decision.Layer,
			"reason", out.decision.Reason,
		)
		return nil, &DeniedError{
			Reason:      out.decision.Reason,
			PolicyID:    out.decision.PolicyID,
			Layer:       out.decision.Layer,
			Remediation: out.decision.Remediation,
		}

	default:
		e.metrics.observeDecision(audit.OutcomeAllow, string(out.decision.Layer), latency.Seconds())
		if audited {
			e.emitter.Emit(call, out.decision, audit.OutcomeAllow, out.result, out.flags, latency)
		}
		return out.result, nil
	}
}

// Close flushes and closes the audit sink, if one was attached.
func (e *Enforcer) Close() error {
	if e.sink == nil {
		return nil
	}
	return e.sink.Close()
}
