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
	"encoding/json"
	"fmt"

	"github.com/peg/toolgate/internal/policy"
)

// ValidateCall runs structural checks on a call's raw arguments before any
// rule evaluation: unknown-argument rejection and payload size limits.
// Oversized or malformed payloads are stopped here so they never reach the
// authorize layer or the attack scanner.
func ValidateCall(doc *policy.Document, call ToolCall) Decision {
	cfg := doc.Validate
	if cfg == nil {
		return Decision{Allowed: true, PolicyID: doc.PolicyID, Layer: LayerValidate}
	}

	if cfg.MaxArgBytes > 0 {
		size := argumentsSizeBytes(call.Args)
		if size > cfg.MaxArgBytes {
			return Decision{
				Allowed:     false,
				Reason:      fmt.Sprintf("argument payload too large (%d > %d bytes)", size, cfg.MaxArgBytes),
				PolicyID:    doc.PolicyID,
				Remediation: "reduce the arguments payload size",
				Layer:       LayerValidate,
			}
		}
	}

	if cfg.RejectUnknownArgs {
		known := doc.KnownArgs(call.Tool)
		for _, key := range sortedKeys(call.Args) {
			if !known[key] {
				return Decision{
					Allowed:     false,
					Reason:      fmt.Sprintf("unknown argument %q", key),
					PolicyID:    doc.PolicyID,
					Remediation: "remove arguments not declared by the tool's allow rules",
					Layer:       LayerValidate,
				}
			}
		}
	}

	return Decision{Allowed: true, PolicyID: doc.PolicyID, Layer: LayerValidate}
}

// argumentsSizeBytes measures the JSON-serialized size of the arguments.
// Unserializable arguments count as effectively infinite, forcing a deny
// whenever a size limit is configured.
func argumentsSizeBytes(args map[string]any) int {
	data, err := json.Marshal(args)
	if err != nil {
		return 1 << 30
	}
	return len(data)
}
