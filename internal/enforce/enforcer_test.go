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
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peg/toolgate/internal/audit"
	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink records audit events for assertions.
type memorySink struct {
	events []audit.Event
}

func (s *memorySink) Write(event audit.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Flush() error { return nil }
func (s *memorySink) Close() error { return nil }

// denyAllLimiter rejects every call with a fixed retry hint.
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string, int, int) (bool, time.Duration) {
	return false, 2 * time.Second
}

// countingTool is a stub callable tracking invocations.
type countingTool struct {
	calls  atomic.Int64
	result any
	err    error
}

func (c *countingTool) fn(ctx context.Context, args map[string]any) (any, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func supportPolicy() *policy.Document {
	return &policy.Document{
		PolicyID: "support-tools",
		Version:  "1",
		Default:  policy.DefaultDeny,
		AllowRules: []policy.AllowRule{{
			Tool:  "get_user",
			Roles: []string{"support"},
			Constraints: map[string]policy.Constraint{
				"user_id": {Type: policy.TypeString, Required: true, Pattern: "EMP[0-9]{6}"},
			},
		}},
	}
}

func supportCall(userID string) engine.ToolCall {
	return engine.ToolCall{
		Tool:  "get_user",
		Roles: []string{"support"},
		Actor: "alice",
		Args:  map[string]any{"user_id": userID},
	}
}

func newTestEnforcer(t *testing.T, doc *policy.Document, opts ...Option) (*Enforcer, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	e, err := New(doc, append([]Option{WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	return e, sink
}

func TestEnforceAllowedCallExecutesTool(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())
	tool := &countingTool{result: map[string]any{"name": "Alice"}}

	result, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Alice"}, result)
	assert.Equal(t, int64(1), tool.calls.Load())

	require.Len(t, sink.events, 1, "exactly one audit event per call")
	event := sink.events[0]
	assert.Equal(t, audit.OutcomeAllow, event.Decision)
	assert.Equal(t, "get_user", event.Tool)
	assert.Equal(t, "alice", event.Actor)
	assert.Equal(t, []string{"user_id"}, event.ArgumentsSummary.Keys)
}

func TestEnforceDeniedCallNeverInvokesTool(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())
	tool := &countingTool{}

	result, err := e.Enforce(context.Background(), supportCall("INVALID"), tool.fn)
	assert.Nil(t, result)
	assert.Equal(t, int64(0), tool.calls.Load(), "no side effect before authorization")

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.LayerAuthorize, denied.Layer)
	assert.Equal(t, "support-tools", denied.PolicyID)
	assert.Contains(t, denied.Reason, "pattern")

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.OutcomeDeny, sink.events[0].Decision)
	assert.Equal(t, string(engine.LayerAuthorize), sink.events[0].Layer)
}

func TestEnforceDenyRulePrecedence(t *testing.T) {
	doc := supportPolicy()
	doc.DenyRules = []policy.DenyRule{{Tool: "get_user", Reason: "tool disabled"}}
	e, _ := newTestEnforcer(t, doc)
	tool := &countingTool{}

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "tool disabled", denied.Reason)
	assert.Equal(t, int64(0), tool.calls.Load())
}

func TestEnforceRateLimitDenies(t *testing.T) {
	doc := supportPolicy()
	doc.RateLimit = &policy.RateLimitConfig{Enabled: true, LimitPerMinute: 60}
	e, sink := newTestEnforcer(t, doc, WithLimiter(denyAllLimiter{}))
	tool := &countingTool{}

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.LayerRateLimit, denied.Layer)
	assert.Contains(t, denied.Reason, "rate limit")
	assert.Contains(t, denied.Remediation, "retry after")
	assert.Equal(t, int64(0), tool.calls.Load())

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.OutcomeDeny, sink.events[0].Decision)
}

func TestEnforceValidateRejectsUnknownArgs(t *testing.T) {
	doc := supportPolicy()
	doc.Validate = &policy.ValidateConfig{RejectUnknownArgs: true}
	e, _ := newTestEnforcer(t, doc)
	tool := &countingTool{}

	call := supportCall("EMP123456")
	call.Args["surprise"] = true
	_, err := e.Enforce(context.Background(), call, tool.fn)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.LayerValidate, denied.Layer)
	assert.Contains(t, denied.Reason, `unknown argument "surprise"`)
	assert.Equal(t, int64(0), tool.calls.Load())
}

func TestEnforceDetectDenies(t *testing.T) {
	doc := &policy.Document{
		PolicyID:      "p",
		Default:       policy.DefaultAllow,
		DetectAttacks: &policy.DetectConfig{Enabled: true},
	}
	e, sink := newTestEnforcer(t, doc)
	tool := &countingTool{}

	call := engine.ToolCall{
		Tool: "run_query",
		Args: map[string]any{"query": "1 UNION SELECT password FROM users"},
	}
	_, err := e.Enforce(context.Background(), call, tool.fn)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.LayerDetect, denied.Layer)
	assert.Contains(t, denied.Reason, "sql_injection")
	assert.Equal(t, int64(0), tool.calls.Load())

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.OutcomeDeny, sink.events[0].Decision)
}

func TestEnforceDetectFlagAllowsAndAnnotates(t *testing.T) {
	doc := &policy.Document{
		PolicyID:      "p",
		Default:       policy.DefaultAllow,
		DetectAttacks: &policy.DetectConfig{Enabled: true, OnDetect: policy.OnDetectFlag},
	}
	e, sink := newTestEnforcer(t, doc)
	tool := &countingTool{result: "rows"}

	call := engine.ToolCall{
		Tool: "run_query",
		Args: map[string]any{"query": "select * from users"},
	}
	result, err := e.Enforce(context.Background(), call, tool.fn)
	require.NoError(t, err)
	assert.Equal(t, "rows", result)
	assert.Equal(t, int64(1), tool.calls.Load())

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.OutcomeAllow, sink.events[0].Decision)
	assert.Equal(t, []string{"detected:sql_injection"}, sink.events[0].Flags)
}

func TestEnforceExecutionFailureIsDistinct(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())
	toolErr := fmt.Errorf("backend unavailable")
	tool := &countingTool{err: toolErr}

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "get_user", execErr.Tool)
	assert.ErrorIs(t, err, toolErr)

	var denied *DeniedError
	assert.False(t, errors.As(err, &denied), "execution failure is not a denial")

	require.Len(t, sink.events, 1, "failed execution is still audited")
	event := sink.events[0]
	assert.Equal(t, audit.OutcomeError, event.Decision)
	assert.Equal(t, string(engine.LayerExecute), event.Layer)
	assert.Contains(t, event.Reason, "backend unavailable")
}

func TestEnforceRedactsResult(t *testing.T) {
	doc := supportPolicy()
	doc.Redact = &policy.RedactConfig{Enabled: true}
	e, _ := newTestEnforcer(t, doc)

	tool := &countingTool{result: map[string]any{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "hunter2",
	}}

	result, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.NoError(t, err)

	got, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, "[REDACTED_EMAIL]", got["email"])
	assert.Equal(t, "[REDACTED]", got["password"])
}

func TestEnforceRedactDisabledPassesResultThrough(t *testing.T) {
	e, _ := newTestEnforcer(t, supportPolicy())
	tool := &countingTool{result: map[string]any{"password": "visible"}}

	result, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"password": "visible"}, result)
}

func TestEnforceAuditDisabledEmitsNothing(t *testing.T) {
	off := false
	doc := supportPolicy()
	doc.Audit = &policy.AuditConfig{Enabled: &off}
	e, sink := newTestEnforcer(t, doc)
	tool := &countingTool{result: "ok"}

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.NoError(t, err)
	assert.Empty(t, sink.events)
}

func TestEnforceOneEventPerCall(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())
	tool := &countingTool{result: "ok"}

	calls := []engine.ToolCall{
		supportCall("EMP123456"),
		supportCall("INVALID"),
		{Tool: "unlisted", Actor: "alice"},
	}
	for _, call := range calls {
		e.Enforce(context.Background(), call, tool.fn)
	}

	assert.Len(t, sink.events, len(calls))
}

func TestEnforceNilToolFunc(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), nil)
	require.Error(t, err)
	assert.Empty(t, sink.events, "rejected before the pipeline starts")
}

func TestPreflightDoesNotExecuteOrAudit(t *testing.T) {
	e, sink := newTestEnforcer(t, supportPolicy())

	dec := e.Preflight(supportCall("EMP123456"))
	assert.True(t, dec.Allowed)

	dec = e.Preflight(supportCall("INVALID"))
	assert.True(t, dec.Denied())
	assert.Contains(t, dec.Reason, "pattern")

	assert.Empty(t, sink.events)
}

func TestReloadSwapsPolicy(t *testing.T) {
	e, _ := newTestEnforcer(t, supportPolicy())

	next := &policy.Document{PolicyID: "open", Default: policy.DefaultAllow}
	require.NoError(t, e.Reload(next))

	tool := &countingTool{result: "ok"}
	result, err := e.Enforce(context.Background(), engine.ToolCall{Tool: "anything"}, tool.fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "open", e.Document().PolicyID)
}

func TestMetricsRecordingDoesNotInterfere(t *testing.T) {
	e, _ := newTestEnforcer(t, supportPolicy(), WithMetrics(NewMetrics()))
	tool := &countingTool{result: "ok"}

	_, err := e.Enforce(context.Background(), supportCall("EMP123456"), tool.fn)
	require.NoError(t, err)

	_, err = e.Enforce(context.Background(), supportCall("INVALID"), tool.fn)
	require.Error(t, err)
}

func TestNewRejectsInvalidDocument(t *testing.T) {
	_, err := New(&policy.Document{})
	require.Error(t, err)
}
