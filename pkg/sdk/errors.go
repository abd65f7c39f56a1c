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

// Package sdk provides the public API for integrating Toolgate into
// agent runtimes.
//
// The SDK wraps tool functions with policy enforcement. When a wrapped
// function is called, Toolgate runs it through the layered pipeline and
// either executes it or returns an error.
//
// Basic usage:
//
//	gate, err := sdk.New("toolgate.yaml")
//	safeQuery := gate.Wrap("db.query", unsafeQuery)
//	ctx := sdk.WithActor(context.Background(), "agent-7")
//	result, err := safeQuery(ctx, map[string]any{"query": "SELECT 1"})
//	// If denied: errors.As(err, new(*sdk.ErrDenied)) is true
package sdk

import (
	"errors"
	"fmt"

	"github.com/peg/toolgate/internal/enforce"
)

// ErrDenied is returned when a tool call is blocked by policy. The
// wrapped tool function was never invoked.
type ErrDenied struct {
	// Tool is the tool that was blocked (e.g., "db.query").
	Tool string

	// PolicyID identifies the policy document that denied the call.
	PolicyID string

	// Layer is the pipeline stage that denied the call.
	Layer string

	// Reason is a human-readable explanation for the denial.
	Reason string

	// Remediation suggests how to make the call pass, when known.
	Remediation string
}

// Error implements the error interface.
func (e *ErrDenied) Error() string {
	if e.PolicyID != "" {
		return fmt.Sprintf("toolgate: denied %q by policy %q: %s", e.Tool, e.PolicyID, e.Reason)
	}
	return fmt.Sprintf("toolgate: denied %q: %s", e.Tool, e.Reason)
}

// IsDenied reports whether err represents a policy denial, and if so
// returns the denial details.
func IsDenied(err error) (*ErrDenied, bool) {
	var denied *ErrDenied
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}

// translateError converts internal pipeline errors to the public types.
func translateError(tool string, err error) error {
	if err == nil {
		return nil
	}

	var denied *enforce.DeniedError
	if errors.As(err, &denied) {
		return &ErrDenied{
			Tool:        tool,
			PolicyID:    denied.PolicyID,
			Layer:       string(denied.Layer),
			Reason:      denied.Reason,
			Remediation: denied.Remediation,
		}
	}

	var execErr *enforce.ExecutionError
	if errors.As(err, &execErr) {
		// Surface the tool's own error directly.
		return execErr.Err
	}

	return err
}
