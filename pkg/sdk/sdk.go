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

package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peg/toolgate/internal/audit"
	"github.com/peg/toolgate/internal/enforce"
	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/policy"
)

// contextKey is an unexported type for context keys, preventing collisions
// with keys from other packages.
type contextKey string

const (
	// ActorKey is the context key for the caller identity.
	ActorKey contextKey = "toolgate-actor"

	// RolesKey is the context key for the caller's roles ([]string).
	RolesKey contextKey = "toolgate-roles"

	// SessionKey is the context key for the session identifier.
	SessionKey contextKey = "toolgate-session"

	// RequestIDKey is the context key for the correlation identifier.
	RequestIDKey contextKey = "toolgate-request-id"
)

// WithActor returns a context carrying the caller identity.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithRoles returns a context carrying the caller's roles.
func WithRoles(ctx context.Context, roles ...string) context.Context {
	return context.WithValue(ctx, RolesKey, roles)
}

// WithSession returns a context carrying the session identifier.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithRequestID returns a context carrying the correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// ToolFunc is a runtime tool function wrapped by Toolgate policy checks.
type ToolFunc = enforce.ToolFunc

// Option configures an SDK.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	sink     audit.Sink
	auditDir string
	metrics  *enforce.Metrics
	watch    bool
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditDir writes audit events to a hash-chained JSONL trail in dir
// instead of the default structured log sink.
func WithAuditDir(dir string) Option {
	return func(o *options) {
		o.auditDir = dir
	}
}

// WithSink sets an explicit audit sink, overriding WithAuditDir.
func WithSink(sink audit.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithMetrics attaches a metrics set to the pipeline.
func WithMetrics(m *enforce.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithWatch reloads the policy file automatically when it changes on disk.
func WithWatch() Option {
	return func(o *options) {
		o.watch = true
	}
}

// SDK wraps the enforcement pipeline for agent runtime integrations.
type SDK struct {
	enforcer *enforce.Enforcer
	store    *policy.FileStore
	watcher  *policy.Watcher
	logger   *slog.Logger
}

// New creates an SDK from a policy configuration file path.
func New(configPath string, opts ...Option) (*SDK, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	store := policy.NewFileStore(configPath)
	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("sdk: load policy: %w", err)
	}

	sink := o.sink
	if sink == nil && o.auditDir != "" {
		sink, err = audit.NewJSONLSink(o.auditDir, audit.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("sdk: create audit sink: %w", err)
		}
	}

	enforcer, err := enforce.New(doc,
		enforce.WithLogger(o.logger),
		enforce.WithSink(sink),
		enforce.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("sdk: create enforcer: %w", err)
	}

	s := &SDK{enforcer: enforcer, store: store, logger: o.logger}

	if o.watch {
		watcher, err := policy.NewWatcher(store, func(doc *policy.Document) {
			if err := enforcer.Reload(doc); err != nil {
				o.logger.Warn("sdk: policy reload rejected", "error", err)
			}
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("sdk: watch policy: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Wrap returns a policy-enforced wrapper for a tool function. Caller
// identity is taken from the context (see WithActor and friends).
func (s *SDK) Wrap(toolName string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		result, err := s.enforcer.Enforce(ctx, buildToolCall(ctx, toolName, args), fn)
		return result, translateError(toolName, err)
	}
}

// Call enforces and executes a single tool call without pre-wrapping.
func (s *SDK) Call(ctx context.Context, toolName string, args map[string]any, fn ToolFunc) (any, error) {
	result, err := s.enforcer.Enforce(ctx, buildToolCall(ctx, toolName, args), fn)
	return result, translateError(toolName, err)
}

// Preflight checks whether a tool call would be allowed without
// executing anything and without writing an audit event. Agents can use
// this to plan around policy restrictions before attempting a call.
func (s *SDK) Preflight(ctx context.Context, toolName string, args map[string]any) PreflightResult {
	dec := s.enforcer.Preflight(buildToolCall(ctx, toolName, args))
	return PreflightResult{
		Allowed:     dec.Allowed,
		Reason:      dec.Reason,
		PolicyID:    dec.PolicyID,
		Layer:       string(dec.Layer),
		Remediation: dec.Remediation,
		EvalTime:    dec.EvalDuration,
	}
}

// Reload re-reads the policy file and swaps in the new document.
// In-flight calls finish under the document they started with.
func (s *SDK) Reload() error {
	doc, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("sdk: reload policy: %w", err)
	}
	return s.enforcer.Reload(doc)
}

// Document returns the active policy document.
func (s *SDK) Document() *policy.Document {
	return s.enforcer.Document()
}

// Close stops the watcher, if any, and closes the audit sink.
func (s *SDK) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.enforcer.Close()
}

// PreflightResult is the outcome of a preflight policy check.
type PreflightResult struct {
	// Allowed is true if the tool call would proceed.
	Allowed bool

	// Reason is the human-readable explanation for a denial.
	Reason string

	// PolicyID identifies the governing policy document.
	PolicyID string

	// Layer is the pipeline stage that would terminate the call.
	Layer string

	// Remediation suggests how the caller could make the call pass.
	Remediation string

	// EvalTime is how long evaluation took.
	EvalTime time.Duration
}

// buildToolCall creates an engine.ToolCall from context and arguments.
func buildToolCall(ctx context.Context, toolName string, args map[string]any) engine.ToolCall {
	if args == nil {
		args = make(map[string]any)
	}

	return engine.ToolCall{
		Tool:      toolName,
		Args:      args,
		Actor:     stringFromContext(ctx, ActorKey),
		Roles:     rolesFromContext(ctx),
		Session:   stringFromContext(ctx, SessionKey),
		RequestID: stringFromContext(ctx, RequestIDKey),
		Timestamp: time.Now().UTC(),
	}
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}

func rolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	roles, _ := ctx.Value(RolesKey).([]string)
	return roles
}
