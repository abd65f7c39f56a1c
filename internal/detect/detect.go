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

// Package detect implements the heuristic injection scanner.
//
// Detection is pattern-based, not a parser: the goal is to stop obvious
// injection payloads in arguments that were already authorized, not to
// provide static-analysis-grade coverage. Only configured argument fields
// are scanned, and only string values.
package detect

import (
	"regexp"
	"sort"
)

// Category names the class of pattern a scan hit.
type Category string

const (
	CategorySQLInjection  Category = "sql_injection"
	CategoryPathTraversal Category = "path_traversal"
	CategorySSRF          Category = "ssrf"
)

// Finding describes the first suspicious value a scan encountered.
type Finding struct {
	// Category is the detected pattern class.
	Category Category

	// Field is the argument name whose value matched.
	Field string
}

// check pairs a category with its pattern battery. Order matters: the
// first matching category is reported.
type check struct {
	category Category
	patterns []*regexp.Regexp
}

var checks = []check{
	{
		category: CategorySQLInjection,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(union\s+select|select|insert|update|delete|drop|alter)\b`),
			regexp.MustCompile(`(--|/\*)`),
			regexp.MustCompile(`(?i)'\s*(or|and)\s+`),
		},
	},
	{
		category: CategoryPathTraversal,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\./|\.\.\\`),
			regexp.MustCompile(`^/(etc|proc|sys|root)(/|$)`),
		},
	},
	{
		category: CategorySSRF,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(169\.254\.169\.254|metadata\.google\.internal)\b`),
			regexp.MustCompile(`(?i)//(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\])([:/]|$)`),
			regexp.MustCompile(`(?i)\b(localhost|127\.0\.0\.1)\b`),
		},
	},
}

// Scan walks the configured fields of a call's arguments and reports the
// first suspicious string value. Nested maps and lists are descended so a
// payload cannot hide inside a wrapper object. Traversal is in sorted key
// order, making the reported finding deterministic.
func Scan(args map[string]any, fields []string) (Finding, bool) {
	if len(args) == 0 || len(fields) == 0 {
		return Finding{}, false
	}

	interest := make(map[string]bool, len(fields))
	for _, f := range fields {
		interest[f] = true
	}

	return scanValue(args, "", interest)
}

func scanValue(value any, field string, interest map[string]bool) (Finding, bool) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := field
			if interest[k] {
				child = k
			}
			if f, ok := scanValue(v[k], child, interest); ok {
				return f, true
			}
		}
	case []any:
		for _, item := range v {
			if f, ok := scanValue(item, field, interest); ok {
				return f, true
			}
		}
	case string:
		if field == "" {
			return Finding{}, false
		}
		for _, c := range checks {
			for _, re := range c.patterns {
				if re.MatchString(v) {
					return Finding{Category: c.category, Field: field}, true
				}
			}
		}
	}
	return Finding{}, false
}
