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
	"math"
	"reflect"
	"regexp"
	"sort"

	"github.com/peg/toolgate/internal/policy"
)

// MatchConstraint evaluates one argument value against its constraint.
//
// Checks run in a fixed order — required, type, pattern, enum, range — so
// the same input always yields the same reported reason. A nil return
// means the constraint passed.
func MatchConstraint(doc *policy.Document, name string, value any, present bool, c policy.Constraint) error {
	if !present {
		if c.Required {
			return fmt.Errorf("missing required argument %q", name)
		}
		return nil
	}
	if value == nil {
		return fmt.Errorf("argument %q must not be null", name)
	}

	// Type. The constraint-type set is closed; each arm establishes the
	// invariants the later checks rely on.
	switch c.Type {
	case policy.TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q type mismatch: expected string", name)
		}
		if c.Pattern != "" {
			re := doc.Pattern(c.Pattern)
			if re == nil {
				// Hand-built constraint outside the compiled document.
				compiled, err := regexp.Compile("^(?:" + c.Pattern + ")$")
				if err != nil {
					return fmt.Errorf("argument %q has an invalid policy pattern", name)
				}
				re = compiled
			}
			if !re.MatchString(s) {
				return fmt.Errorf("argument %q does not match pattern %q", name, c.Pattern)
			}
		}

	case policy.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q type mismatch: expected boolean", name)
		}

	case policy.TypeInteger:
		if _, ok := asInteger(value); !ok {
			return fmt.Errorf("argument %q type mismatch: expected integer", name)
		}

	case policy.TypeNumber:
		if _, ok := asNumber(value); !ok {
			return fmt.Errorf("argument %q type mismatch: expected number", name)
		}

	default:
		return fmt.Errorf("argument %q has unsupported constraint type %q", name, c.Type)
	}

	// Enum applies to any type, by strict literal equality.
	if len(c.Enum) > 0 {
		found := false
		for _, candidate := range c.Enum {
			if literalEqual(value, candidate) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("argument %q not in enum", name)
		}
	}

	// Range applies to numeric types, inclusive on both ends.
	if c.Min != nil || c.Max != nil {
		num, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("argument %q type mismatch: expected number", name)
		}
		if c.Min != nil && num < *c.Min {
			return fmt.Errorf("argument %q below minimum %v", name, *c.Min)
		}
		if c.Max != nil && num > *c.Max {
			return fmt.Errorf("argument %q above maximum %v", name, *c.Max)
		}
	}

	return nil
}

// asInteger reports whether value is integer-representable and returns it
// as float64 for bound checks. JSON decoding yields float64, YAML yields
// int; both are accepted. bool is never an integer.
func asInteger(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		return 0, false
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return float64(v), true
		}
		return 0, false
	case float64:
		if v == math.Trunc(v) {
			return v, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// asNumber reports whether value is numeric. bool is not a number.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		return 0, false
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return asInteger(value)
	}
}

// literalEqual compares an argument value with a policy literal. Numeric
// values compare by value regardless of Go type (YAML gives int, JSON
// float64); everything else compares strictly.
func literalEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	if _, ok := asNumber(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
