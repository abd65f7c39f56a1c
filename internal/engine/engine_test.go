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
	"testing"

	"github.com/peg/toolgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, doc *policy.Document) *Engine {
	t.Helper()
	e, err := New(doc, nil)
	require.NoError(t, err)
	return e
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

func TestEvaluateAllowsMatchingCall(t *testing.T) {
	e := newEngine(t, supportPolicy())

	dec := e.Evaluate(ToolCall{
		Tool:  "get_user",
		Roles: []string{"support"},
		Args:  map[string]any{"user_id": "EMP123456"},
	})

	assert.True(t, dec.Allowed)
	assert.Equal(t, "support-tools", dec.PolicyID)
	assert.Equal(t, LayerAuthorize, dec.Layer)
	assert.Greater(t, dec.EvalDuration.Nanoseconds(), int64(0))
}

func TestEvaluateDefaultDenyUnlistedTool(t *testing.T) {
	e := newEngine(t, supportPolicy())

	dec := e.Evaluate(ToolCall{Tool: "delete_user", Roles: []string{"support"}})

	require.True(t, dec.Denied())
	assert.Contains(t, dec.Reason, "default deny")
}

func TestEvaluateDenyRulePrecedence(t *testing.T) {
	doc := supportPolicy()
	doc.DenyRules = []policy.DenyRule{{Tool: "get_user", Reason: "tool disabled"}}
	e := newEngine(t, doc)

	// The call matches the allow rule perfectly, but deny wins.
	dec := e.Evaluate(ToolCall{
		Tool:  "get_user",
		Roles: []string{"support"},
		Args:  map[string]any{"user_id": "EMP123456"},
	})

	require.True(t, dec.Denied())
	assert.Equal(t, "tool disabled", dec.Reason)
}

func TestEvaluateDenyRuleCondition(t *testing.T) {
	doc := &policy.Document{
		PolicyID: "p",
		Default:  policy.DefaultAllow,
		DenyRules: []policy.DenyRule{{
			Tool:      "run_query",
			Condition: map[string]any{"database": "production"},
			Reason:    "production queries are blocked",
		}},
	}
	e := newEngine(t, doc)

	dec := e.Evaluate(ToolCall{Tool: "run_query", Args: map[string]any{"database": "production"}})
	require.True(t, dec.Denied())
	assert.Equal(t, "production queries are blocked", dec.Reason)

	dec = e.Evaluate(ToolCall{Tool: "run_query", Args: map[string]any{"database": "staging"}})
	assert.True(t, dec.Allowed)

	// Condition argument absent: the rule does not fire.
	dec = e.Evaluate(ToolCall{Tool: "run_query"})
	assert.True(t, dec.Allowed)
}

func TestEvaluateDenyConditionNumericEquality(t *testing.T) {
	doc := &policy.Document{
		PolicyID: "p",
		Default:  policy.DefaultAllow,
		DenyRules: []policy.DenyRule{{
			Tool:      "set_level",
			Condition: map[string]any{"level": 10},
			Reason:    "level 10 is reserved",
		}},
	}
	e := newEngine(t, doc)

	// JSON decoding yields float64; the condition still matches.
	dec := e.Evaluate(ToolCall{Tool: "set_level", Args: map[string]any{"level": float64(10)}})
	assert.True(t, dec.Denied())
}

func TestEvaluateConstraintFailureReportsPattern(t *testing.T) {
	e := newEngine(t, supportPolicy())

	dec := e.Evaluate(ToolCall{
		Tool:  "get_user",
		Roles: []string{"support"},
		Args:  map[string]any{"user_id": "INVALID"},
	})

	require.True(t, dec.Denied())
	assert.Contains(t, dec.Reason, "pattern")
	assert.NotEmpty(t, dec.Remediation)
}

func TestEvaluateRoleMiss(t *testing.T) {
	e := newEngine(t, supportPolicy())

	dec := e.Evaluate(ToolCall{
		Tool:  "get_user",
		Roles: []string{"intern"},
		Args:  map[string]any{"user_id": "EMP123456"},
	})

	require.True(t, dec.Denied())
	assert.Contains(t, dec.Reason, "roles not permitted")
}

func TestEvaluateFallsThroughToLaterAllowRule(t *testing.T) {
	doc := &policy.Document{
		PolicyID: "p",
		Default:  policy.DefaultDeny,
		AllowRules: []policy.AllowRule{
			{
				Tool: "read_file",
				Constraints: map[string]policy.Constraint{
					"path": {Type: policy.TypeString, Required: true, Pattern: "/data/.*"},
				},
			},
			{
				Tool: "read_file",
				Constraints: map[string]policy.Constraint{
					"path": {Type: policy.TypeString, Required: true, Pattern: "/tmp/.*"},
				},
			},
		},
	}
	e := newEngine(t, doc)

	// Fails the first rule's pattern but passes the second.
	dec := e.Evaluate(ToolCall{Tool: "read_file", Args: map[string]any{"path": "/tmp/scratch"}})
	assert.True(t, dec.Allowed)
}

func TestEvaluateIdempotent(t *testing.T) {
	e := newEngine(t, supportPolicy())
	call := ToolCall{
		Tool:  "get_user",
		Roles: []string{"support"},
		Args:  map[string]any{"user_id": "BAD"},
	}

	first := e.Evaluate(call)
	second := e.Evaluate(call)

	// Identical apart from measured duration.
	first.EvalDuration = 0
	second.EvalDuration = 0
	assert.Equal(t, first, second)
}

func TestEvaluateDefaultAllow(t *testing.T) {
	doc := &policy.Document{PolicyID: "p", Default: policy.DefaultAllow}
	e := newEngine(t, doc)

	dec := e.Evaluate(ToolCall{Tool: "anything"})
	assert.True(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "default allow")
}

func TestEvaluateEmptyRolesRuleMatchesAnyCaller(t *testing.T) {
	doc := &policy.Document{
		PolicyID:   "p",
		Default:    policy.DefaultDeny,
		AllowRules: []policy.AllowRule{{Tool: "ping"}},
	}
	e := newEngine(t, doc)

	assert.True(t, e.Evaluate(ToolCall{Tool: "ping"}).Allowed)
	assert.True(t, e.Evaluate(ToolCall{Tool: "ping", Roles: []string{"anyone"}}).Allowed)
}

func TestNewRejectsNilAndInvalidDocuments(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	_, err = New(&policy.Document{}, nil)
	require.Error(t, err)
}

func TestReloadSwapsDocument(t *testing.T) {
	e := newEngine(t, supportPolicy())

	require.Error(t, e.Reload(nil))
	require.Error(t, e.Reload(&policy.Document{}), "invalid document is rejected")
	assert.Equal(t, "support-tools", e.Document().PolicyID, "previous document stays active")

	next := &policy.Document{PolicyID: "v2", Default: policy.DefaultAllow}
	require.NoError(t, e.Reload(next))
	assert.Equal(t, "v2", e.Document().PolicyID)
	assert.True(t, e.Evaluate(ToolCall{Tool: "anything"}).Allowed)
}
