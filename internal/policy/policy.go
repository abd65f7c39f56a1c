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

// Package policy defines the policy document governing tool calls.
//
// A Document is loaded once (from YAML or JSON, see FileStore) and is
// immutable afterwards. Reloading produces a new Document; the engine
// swaps the pointer atomically. Malformed documents fail fast at load
// time — evaluation never sees an invalid policy.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Default actions for a Document.
const (
	DefaultAllow = "allow"
	DefaultDeny  = "deny"
)

// Rate limit scopes. The scope selects which token bucket a call draws from.
const (
	ScopeGlobal    = "global"
	ScopeActor     = "actor"
	ScopeTool      = "tool"
	ScopeActorTool = "actor+tool"
	ScopeSession   = "session"
)

// Consequences for a positive attack detection.
const (
	OnDetectDeny = "deny"
	OnDetectFlag = "flag"
)

// Document is the top-level policy configuration.
type Document struct {
	// PolicyID uniquely identifies this policy document.
	PolicyID string `yaml:"policy_id" json:"policy_id"`

	// Version is the document revision, recorded in audit events.
	Version string `yaml:"version" json:"version"`

	// Default determines what happens when no rule matches a tool call.
	// Valid values: "allow", "deny". Default: "deny".
	Default string `yaml:"default" json:"default"`

	// AllowRules are evaluated in document order after deny rules.
	AllowRules []AllowRule `yaml:"allow_rules" json:"allow_rules"`

	// DenyRules are evaluated first, in document order. A matching deny
	// rule overrides every allow rule.
	DenyRules []DenyRule `yaml:"deny_rules" json:"deny_rules"`

	// Validate configures structural argument checks.
	Validate *ValidateConfig `yaml:"validate,omitempty" json:"validate,omitempty"`

	// RateLimit configures token-bucket admission control.
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// DetectAttacks configures the heuristic injection scanner.
	DetectAttacks *DetectConfig `yaml:"detect_attacks,omitempty" json:"detect_attacks,omitempty"`

	// Redact configures result scrubbing.
	Redact *RedactConfig `yaml:"redact,omitempty" json:"redact,omitempty"`

	// Audit configures audit event verbosity.
	Audit *AuditConfig `yaml:"audit,omitempty" json:"audit,omitempty"`

	patterns  map[string]*regexp.Regexp
	knownArgs map[string]map[string]bool
}

// AllowRule permits a tool call when the tool name matches, the caller
// holds one of the listed roles, and every declared constraint passes.
type AllowRule struct {
	// Tool is the exact tool name this rule applies to.
	Tool string `yaml:"tool" json:"tool"`

	// Roles restricts the rule to callers holding at least one of these
	// roles. Empty or absent means any role (including none).
	Roles []string `yaml:"roles,omitempty" json:"roles,omitempty"`

	// Constraints maps argument names to their acceptance rules.
	Constraints map[string]Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// DenyRule blocks a tool call when the tool name matches and every
// condition entry equals the corresponding argument value.
type DenyRule struct {
	// Tool is the exact tool name this rule applies to.
	Tool string `yaml:"tool" json:"tool"`

	// Condition maps argument names to required literal values.
	// All entries must match for the rule to fire. Absent means the
	// rule fires on tool name alone.
	Condition map[string]any `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Reason is recorded in the decision and audit trail.
	Reason string `yaml:"reason" json:"reason"`
}

// EffectiveReason returns the deny reason, defaulting to a generic one.
func (r DenyRule) EffectiveReason() string {
	if r.Reason == "" {
		return "denied by policy"
	}
	return r.Reason
}

// Constraint types form a small closed set; the matcher handles each
// exhaustively.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Constraint describes one argument's acceptance rule.
type Constraint struct {
	// Type is one of "string", "integer", "number", "boolean".
	Type string `yaml:"type" json:"type"`

	// Pattern is a regular expression a string argument must match in
	// full. Partial matches fail.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Enum lists the literal values the argument may take.
	Enum []any `yaml:"enum,omitempty" json:"enum,omitempty"`

	// Min and Max are inclusive numeric bounds.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Required denies the call when the argument is absent.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Description documents the constraint. No runtime effect.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ValidateConfig configures structural checks that run before authorization.
type ValidateConfig struct {
	// RejectUnknownArgs denies calls carrying an argument name that no
	// constraint-bearing allow rule for the tool declares.
	RejectUnknownArgs bool `yaml:"reject_unknown_args" json:"reject_unknown_args"`

	// MaxArgBytes caps the JSON-serialized size of the arguments.
	// 0 means no limit.
	MaxArgBytes int `yaml:"max_arg_bytes" json:"max_arg_bytes"`
}

// RateLimitConfig configures token-bucket admission control.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// LimitPerMinute is the steady refill rate.
	LimitPerMinute int `yaml:"limit_per_minute" json:"limit_per_minute"`

	// Burst is the bucket capacity. Defaults to LimitPerMinute.
	Burst int `yaml:"burst" json:"burst"`

	// Scope selects the bucket key: "global", "actor", "tool",
	// "actor+tool", or "session". Default: "actor".
	Scope string `yaml:"scope" json:"scope"`
}

// EffectiveBurst returns the bucket capacity, defaulting to the per-minute
// limit and never less than 1.
func (c RateLimitConfig) EffectiveBurst() int {
	burst := c.Burst
	if burst <= 0 {
		burst = c.LimitPerMinute
	}
	if burst < 1 {
		burst = 1
	}
	return burst
}

// EffectiveScope returns the scope, defaulting to "actor".
func (c RateLimitConfig) EffectiveScope() string {
	if c.Scope == "" {
		return ScopeActor
	}
	return c.Scope
}

// DetectConfig configures the heuristic attack scanner.
type DetectConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// OnDetect selects the consequence of a hit: "deny" (default) or
	// "flag" (allow but annotate the audit event).
	OnDetect string `yaml:"on_detect" json:"on_detect"`

	// Fields lists the argument names to scan.
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// EffectiveOnDetect returns the consequence, defaulting to "deny".
func (c DetectConfig) EffectiveOnDetect() string {
	if c.OnDetect == "" {
		return OnDetectDeny
	}
	return c.OnDetect
}

// EffectiveFields returns the scanned field names, with defaults covering
// the usual injection carriers.
func (c DetectConfig) EffectiveFields() []string {
	if len(c.Fields) > 0 {
		return c.Fields
	}
	return []string{"query", "sql", "where", "url", "path"}
}

// RedactConfig configures result scrubbing.
type RedactConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DenyKeys are mapping keys whose values are masked, compared
	// case-insensitively. Defaults cover common credential names.
	DenyKeys []string `yaml:"deny_keys,omitempty" json:"deny_keys,omitempty"`

	// PIIEmails masks email addresses in string values. Default: true.
	PIIEmails *bool `yaml:"pii_emails,omitempty" json:"pii_emails,omitempty"`

	// PIIPhones masks phone numbers in string values. Default: false.
	PIIPhones bool `yaml:"pii_phones" json:"pii_phones"`

	// MaxStringLen truncates string values longer than this.
	// Default: 2048. Negative disables truncation.
	MaxStringLen *int `yaml:"max_string_len,omitempty" json:"max_string_len,omitempty"`
}

// EffectivePIIEmails returns whether email masking is on. Default: true.
func (c RedactConfig) EffectivePIIEmails() bool {
	if c.PIIEmails == nil {
		return true
	}
	return *c.PIIEmails
}

// EffectiveMaxStringLen returns the truncation threshold. Default: 2048.
// Zero or negative disables truncation.
func (c RedactConfig) EffectiveMaxStringLen() int {
	if c.MaxStringLen == nil {
		return 2048
	}
	return *c.MaxStringLen
}

// AuditConfig configures audit event verbosity. Raw argument and result
// values are excluded from events unless explicitly enabled here, and are
// redacted even then.
type AuditConfig struct {
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// IncludeArgumentValues includes redacted argument values in events.
	IncludeArgumentValues bool `yaml:"include_argument_values" json:"include_argument_values"`

	// IncludeResult includes the redacted tool result in events.
	IncludeResult bool `yaml:"include_result" json:"include_result"`
}

// IsEnabled returns whether auditing is active. Defaults to true.
func (c *AuditConfig) IsEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// EffectiveDefault returns the default action, failing closed on anything
// other than an explicit "allow".
func (d *Document) EffectiveDefault() string {
	if d.Default == DefaultAllow {
		return DefaultAllow
	}
	return DefaultDeny
}

// Pattern returns the compiled full-match regex for a constraint pattern.
// Patterns are compiled by Compile; unknown patterns return nil.
func (d *Document) Pattern(pattern string) *regexp.Regexp {
	return d.patterns[pattern]
}

// KnownArgs returns the set of argument names declared by constraint-bearing
// allow rules for the given tool. Used by unknown-argument rejection.
func (d *Document) KnownArgs(tool string) map[string]bool {
	return d.knownArgs[tool]
}

// Compile validates the document and builds the derived lookup tables
// (anchored regexes, per-tool known argument sets). It is called by
// FileStore.Load and must be called on hand-built documents before they
// reach the engine. Calling it twice is harmless.
func (d *Document) Compile() error {
	if d.PolicyID == "" {
		return fmt.Errorf("policy: document has no policy_id")
	}
	switch d.Default {
	case "", DefaultAllow, DefaultDeny:
	default:
		return fmt.Errorf("policy: invalid default %q (want allow or deny)", d.Default)
	}

	patterns := make(map[string]*regexp.Regexp)
	known := make(map[string]map[string]bool)

	for i, rule := range d.AllowRules {
		if rule.Tool == "" {
			return fmt.Errorf("policy: allow rule at index %d has no tool", i)
		}
		for name, c := range rule.Constraints {
			if err := validateConstraint(c); err != nil {
				return fmt.Errorf("policy: allow rule %d (tool %q) argument %q: %w", i, rule.Tool, name, err)
			}
			if c.Pattern != "" {
				if _, ok := patterns[c.Pattern]; !ok {
					re, err := regexp.Compile(anchorPattern(c.Pattern))
					if err != nil {
						return fmt.Errorf("policy: allow rule %d (tool %q) argument %q: invalid pattern: %w", i, rule.Tool, name, err)
					}
					patterns[c.Pattern] = re
				}
			}
			if known[rule.Tool] == nil {
				known[rule.Tool] = make(map[string]bool)
			}
			known[rule.Tool][name] = true
		}
	}

	for i, rule := range d.DenyRules {
		if rule.Tool == "" {
			return fmt.Errorf("policy: deny rule at index %d has no tool", i)
		}
	}

	if cfg := d.RateLimit; cfg != nil && cfg.Enabled {
		switch cfg.EffectiveScope() {
		case ScopeGlobal, ScopeActor, ScopeTool, ScopeActorTool, ScopeSession:
		default:
			return fmt.Errorf("policy: invalid rate_limit scope %q", cfg.Scope)
		}
		if cfg.LimitPerMinute < 0 {
			return fmt.Errorf("policy: rate_limit limit_per_minute must not be negative")
		}
	}

	if cfg := d.DetectAttacks; cfg != nil {
		switch cfg.EffectiveOnDetect() {
		case OnDetectDeny, OnDetectFlag:
		default:
			return fmt.Errorf("policy: invalid detect_attacks on_detect %q (want deny or flag)", cfg.OnDetect)
		}
	}

	if cfg := d.Validate; cfg != nil && cfg.MaxArgBytes < 0 {
		return fmt.Errorf("policy: validate max_arg_bytes must not be negative")
	}

	d.patterns = patterns
	d.knownArgs = known
	return nil
}

func validateConstraint(c Constraint) error {
	switch c.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
	case "":
		return fmt.Errorf("constraint has no type")
	default:
		return fmt.Errorf("unsupported constraint type %q", c.Type)
	}
	if c.Pattern != "" && c.Type != TypeString {
		return fmt.Errorf("pattern requires type string, got %q", c.Type)
	}
	if (c.Min != nil || c.Max != nil) && c.Type != TypeInteger && c.Type != TypeNumber {
		return fmt.Errorf("min/max require a numeric type, got %q", c.Type)
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return fmt.Errorf("min %v exceeds max %v", *c.Min, *c.Max)
	}
	return nil
}

// anchorPattern wraps a pattern so it must match the whole value.
func anchorPattern(p string) string {
	return "^(?:" + p + ")$"
}

// Lint returns non-fatal diagnostics for a compiled document: conditions a
// valid policy can carry but that usually indicate a mistake.
func (d *Document) Lint() []string {
	var warnings []string

	if d.EffectiveDefault() == DefaultDeny && len(d.AllowRules) == 0 {
		warnings = append(warnings, "default is deny and there are no allow rules; every call will be denied")
	}
	for i, rule := range d.DenyRules {
		if rule.Reason == "" {
			warnings = append(warnings, fmt.Sprintf("deny rule %d (tool %q) has no reason", i, rule.Tool))
		}
	}
	for i, rule := range d.AllowRules {
		if len(rule.Constraints) == 0 {
			warnings = append(warnings, fmt.Sprintf("allow rule %d (tool %q) has no constraints; any arguments are accepted", i, rule.Tool))
		}
	}
	if cfg := d.RateLimit; cfg != nil && cfg.Enabled && cfg.LimitPerMinute == 0 {
		warnings = append(warnings, "rate_limit is enabled with limit_per_minute 0; the limiter is inert")
	}

	sort.Strings(warnings)
	return warnings
}

// Tools returns the sorted set of tool names referenced by any rule.
func (d *Document) Tools() []string {
	set := make(map[string]bool)
	for _, r := range d.AllowRules {
		set[r.Tool] = true
	}
	for _, r := range d.DenyRules {
		set[r.Tool] = true
	}
	tools := make([]string, 0, len(set))
	for t := range set {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// String identifies the document in logs.
func (d *Document) String() string {
	return strings.TrimSuffix(fmt.Sprintf("%s@%s", d.PolicyID, d.Version), "@")
}
