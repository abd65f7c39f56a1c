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

// Package redact scrubs sensitive values from tool results before they
// leave the system boundary.
//
// Redaction is structure-preserving: container shape and non-matching
// values pass through untouched. Two independent passes apply — key-based
// masking for credential-like mapping keys, and pattern-based masking for
// PII inside string values.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Placeholders substituted for redacted content.
const (
	MaskRedacted = "[REDACTED]"
	MaskEmail    = "[REDACTED_EMAIL]"
	MaskPhone    = "[REDACTED_PHONE]"
)

var (
	emailRe = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{3}\)?[-.\s]?)\d{3}[-.\s]?\d{4}\b`)
)

// Config selects which redaction passes apply.
type Config struct {
	// DenyKeys are mapping keys whose values are replaced wholesale,
	// compared case-insensitively. Empty means DefaultDenyKeys.
	DenyKeys []string

	// PIIEmails masks email addresses inside string values.
	PIIEmails bool

	// PIIPhones masks phone numbers inside string values.
	PIIPhones bool

	// MaxStringLen truncates string values longer than this.
	// Zero or negative disables truncation.
	MaxStringLen int
}

// DefaultDenyKeys returns the built-in credential key set.
func DefaultDenyKeys() []string {
	return []string{"password", "token", "secret", "api_key", "authorization"}
}

// Value returns a redacted copy of v. Maps and slices are rebuilt; scalar
// values and unknown types pass through unchanged.
func Value(v any, cfg Config) any {
	denyKeys := cfg.DenyKeys
	if len(denyKeys) == 0 {
		denyKeys = DefaultDenyKeys()
	}
	return redactValue(v, denyKeys, cfg)
}

func redactValue(v any, denyKeys []string, cfg Config) any {
	switch value := v.(type) {
	case nil:
		return nil

	case string:
		return redactString(value, cfg)

	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			if deniedKey(k, denyKeys) {
				out[k] = MaskRedacted
				continue
			}
			out[k] = redactValue(item, denyKeys, cfg)
		}
		return out

	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = redactValue(item, denyKeys, cfg)
		}
		return out

	default:
		// Numbers, booleans, and foreign types carry no redactable text.
		return v
	}
}

func redactString(s string, cfg Config) string {
	if cfg.MaxStringLen > 0 && len(s) > cfg.MaxStringLen {
		cut := cfg.MaxStringLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	if cfg.PIIEmails {
		s = emailRe.ReplaceAllString(s, MaskEmail)
	}
	if cfg.PIIPhones {
		s = phoneRe.ReplaceAllString(s, MaskPhone)
	}
	return s
}

func deniedKey(key string, denyKeys []string) bool {
	for _, dk := range denyKeys {
		if strings.EqualFold(key, dk) {
			return true
		}
	}
	return false
}
