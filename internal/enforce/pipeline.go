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

// Package enforce runs tool calls through the layered decision pipeline.
//
// The pipeline is a fixed state machine:
//
//	RATE_LIMIT → VALIDATE → AUTHORIZE → DETECT → EXECUTE → REDACT
//
// Any layer's deny short-circuits to a terminal denial; the tool callable
// is invoked only in EXECUTE, so no side effect can occur before
// authorization succeeds. No lock is held while the callable runs.
package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/peg/toolgate/internal/detect"
	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/policy"
	"github.com/peg/toolgate/internal/redact"
)

// ToolFunc is the opaque tool callable collaborator. The pipeline never
// inspects its behavior; a returned error is an execution failure,
// distinct from a policy denial.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

type pipelineState int

const (
	stateRateLimit pipelineState = iota
	stateValidate
	stateAuthorize
	stateDetect
	stateExecute
	stateRedact
	stateDone
)

// outcome is the pipeline's terminal result for one call.
type outcome struct {
	decision engine.Decision
	result   any
	flags    []string
	execErr  error
	executed bool
}

func (e *Enforcer) runPipeline(ctx context.Context, doc *policy.Document, call engine.ToolCall, fn ToolFunc) outcome {
	var out outcome
	state := stateRateLimit

	for state != stateDone {
		switch state {
		case stateRateLimit:
			if dec, denied := e.checkRateLimit(doc, call); denied {
				out.decision = dec
				return out
			}
			state = stateValidate

		case stateValidate:
			if dec := engine.ValidateCall(doc, call); dec.Denied() {
				out.decision = dec
				return out
			}
			state = stateAuthorize

		case stateAuthorize:
			dec := e.engine.Evaluate(call)
			if dec.Denied() {
				out.decision = dec
				return out
			}
			out.decision = dec
			state = stateDetect

		case stateDetect:
			dec, flag, denied := scanForAttacks(doc, call)
			if denied {
				out.decision = dec
				return out
			}
			if flag != "" {
				out.flags = append(out.flags, flag)
			}
			state = stateExecute

		case stateExecute:
			result, err := fn(ctx, call.Args)
			out.executed = true
			if err != nil {
				out.execErr = err
				out.decision.Layer = engine.LayerExecute
				return out
			}
			out.result = result
			state = stateRedact

		case stateRedact:
			if cfg := doc.Redact; cfg != nil && cfg.Enabled {
				out.result = redact.Value(out.result, redact.Config{
					DenyKeys:     cfg.DenyKeys,
					PIIEmails:    cfg.EffectivePIIEmails(),
					PIIPhones:    cfg.PIIPhones,
					MaxStringLen: cfg.EffectiveMaxStringLen(),
				})
			}
			state = stateDone
		}
	}

	return out
}

func (e *Enforcer) checkRateLimit(doc *policy.Document, call engine.ToolCall) (engine.Decision, bool) {
	cfg := doc.RateLimit
	if cfg == nil || !cfg.Enabled || cfg.LimitPerMinute <= 0 {
		return engine.Decision{}, false
	}

	key := engine.ScopeKey(*cfg, call)
	ok, retryAfter := e.limiter.Allow(key, cfg.LimitPerMinute, cfg.EffectiveBurst())
	if ok {
		return engine.Decision{}, false
	}

	e.metrics.observeRateLimited(key)
	return engine.Decision{
		Allowed:     false,
		Reason:      "rate limit exceeded",
		PolicyID:    doc.PolicyID,
		Remediation: fmt.Sprintf("retry after %s", retryAfter.Round(time.Millisecond)),
		Layer:       engine.LayerRateLimit,
	}, true
}

// scanForAttacks runs the detector over calls that are already otherwise
// permitted. In flag mode a hit never drops the signal: the returned flag
// is carried into the audit event.
func scanForAttacks(doc *policy.Document, call engine.ToolCall) (engine.Decision, string, bool) {
	cfg := doc.DetectAttacks
	if cfg == nil || !cfg.Enabled {
		return engine.Decision{}, "", false
	}

	finding, hit := detect.Scan(call.Args, cfg.EffectiveFields())
	if !hit {
		return engine.Decision{}, "", false
	}

	if cfg.EffectiveOnDetect() == policy.OnDetectFlag {
		return engine.Decision{}, "detected:" + string(finding.Category), false
	}

	return engine.Decision{
		Allowed:     false,
		Reason:      fmt.Sprintf("potential %s pattern detected in argument %q", finding.Category, finding.Field),
		PolicyID:    doc.PolicyID,
		Remediation: "remove suspicious patterns from arguments",
		Layer:       engine.LayerDetect,
	}, "", true
}
