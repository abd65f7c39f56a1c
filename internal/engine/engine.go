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

package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peg/toolgate/internal/policy"
)

// Engine evaluates tool calls against a loaded policy document.
//
// Engine is safe for concurrent use: evaluation reads an immutable
// document snapshot, and Reload swaps the pointer under a short lock.
type Engine struct {
	mu     sync.RWMutex
	doc    *policy.Document
	logger *slog.Logger
}

// New creates an engine over a compiled policy document. The document is
// compiled if it has not been already, so hand-built documents work too.
func New(doc *policy.Document, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if doc == nil {
		return nil, fmt.Errorf("engine: nil policy document")
	}
	if err := doc.Compile(); err != nil {
		return nil, err
	}

	e := &Engine{doc: doc, logger: logger}
	logger.Info("engine: policy loaded",
		"policy_id", doc.PolicyID,
		"version", doc.Version,
		"default", doc.EffectiveDefault(),
		"allow_rules", len(doc.AllowRules),
		"deny_rules", len(doc.DenyRules),
	)
	return e, nil
}

// Document returns the active policy document snapshot.
func (e *Engine) Document() *policy.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Reload replaces the active document. Used by the policy file watcher;
// the previous document stays active if doc fails to compile.
func (e *Engine) Reload(doc *policy.Document) error {
	if doc == nil {
		return fmt.Errorf("engine: reload with nil document")
	}
	if err := doc.Compile(); err != nil {
		return fmt.Errorf("engine: reload rejected: %w", err)
	}

	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()

	e.logger.Info("engine: policy reloaded",
		"policy_id", doc.PolicyID,
		"version", doc.Version,
	)
	return nil
}

// Evaluate runs a tool call through the deny and allow rules and returns
// the authorization decision.
//
// This is the hot path; it allocates nothing on the allow path beyond the
// decision itself.
func (e *Engine) Evaluate(call ToolCall) Decision {
	start := time.Now()
	doc := e.Document()

	dec := evaluate(doc, call)
	dec.EvalDuration = time.Since(start)
	return dec
}

func evaluate(doc *policy.Document, call ToolCall) Decision {
	// Deny rules always win. First match in document order fires.
	for _, rule := range doc.DenyRules {
		if rule.Tool != call.Tool {
			continue
		}
		if !conditionMatches(rule.Condition, call.Args) {
			continue
		}
		return Decision{
			Allowed:  false,
			Reason:   rule.EffectiveReason(),
			PolicyID: doc.PolicyID,
			Layer:    LayerAuthorize,
		}
	}

	// Allow rules in document order. A rule whose constraints fail falls
	// through to later rules for the same tool; the last failure is kept
	// so a denial can report why the closest rule rejected the call.
	var (
		constraintErr error
		roleMiss      bool
	)
	for _, rule := range doc.AllowRules {
		if rule.Tool != call.Tool {
			continue
		}
		if len(rule.Roles) > 0 && !rolesIntersect(rule.Roles, call.Roles) {
			roleMiss = true
			continue
		}
		if err := checkConstraints(doc, rule, call.Args); err != nil {
			constraintErr = err
			continue
		}
		return Decision{
			Allowed:  true,
			Reason:   "matched allow rule",
			PolicyID: doc.PolicyID,
			Layer:    LayerAuthorize,
		}
	}

	if doc.EffectiveDefault() == policy.DefaultAllow {
		return Decision{
			Allowed:  true,
			Reason:   "no matching rule; default allow",
			PolicyID: doc.PolicyID,
			Layer:    LayerAuthorize,
		}
	}

	switch {
	case constraintErr != nil:
		return Decision{
			Allowed:     false,
			Reason:      constraintErr.Error(),
			PolicyID:    doc.PolicyID,
			Remediation: "fix tool arguments to satisfy policy constraints",
			Layer:       LayerAuthorize,
		}
	case roleMiss:
		return Decision{
			Allowed:     false,
			Reason:      fmt.Sprintf("actor roles not permitted for tool %q", call.Tool),
			PolicyID:    doc.PolicyID,
			Remediation: "request a role listed in the tool's allow rule",
			Layer:       LayerAuthorize,
		}
	default:
		return Decision{
			Allowed:     false,
			Reason:      "no matching allow rule; default deny",
			PolicyID:    doc.PolicyID,
			Remediation: "request access via a policy update",
			Layer:       LayerAuthorize,
		}
	}
}

// conditionMatches reports whether every condition entry equals the
// corresponding argument value. A nil condition matches unconditionally.
func conditionMatches(condition map[string]any, args map[string]any) bool {
	for key, want := range condition {
		got, ok := args[key]
		if !ok || !literalEqual(got, want) {
			return false
		}
	}
	return true
}

// checkConstraints runs the constraint matcher over every declared
// constraint, in sorted argument-name order so the reported failure is
// deterministic.
func checkConstraints(doc *policy.Document, rule policy.AllowRule, args map[string]any) error {
	for _, name := range sortedKeys(rule.Constraints) {
		value, present := args[name]
		if err := MatchConstraint(doc, name, value, present, rule.Constraints[name]); err != nil {
			return err
		}
	}
	return nil
}

func rolesIntersect(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
