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

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/peg/toolgate/internal/enforce"
	"github.com/peg/toolgate/internal/engine"
	"github.com/peg/toolgate/internal/policy"
	"github.com/spf13/cobra"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		actor    string
		roles    []string
		session  string
		argsJSON string
	)

	cmd := &cobra.Command{
		Use:   "check <tool>",
		Short: "Evaluate a tool call against the policy without executing it",
		Long: `Evaluate a hypothetical tool call through the decision layers
(validation, authorization, attack detection) and print the outcome.
No tool is executed and no audit event is written.

Exit code: 0 if the call would be allowed, 2 if it would be denied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			doc, err := policy.NewFileStore(opts.configPath).Load()
			if err != nil {
				return err
			}

			var args map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return fmt.Errorf("cli: parse --args: %w", err)
				}
			}

			enforcer, err := enforce.New(doc, enforce.WithLogger(opts.logger(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}

			dec := enforcer.Preflight(engine.ToolCall{
				Tool:    posArgs[0],
				Args:    args,
				Actor:   actor,
				Roles:   roles,
				Session: session,
			})

			out := cmd.OutOrStdout()
			if dec.Allowed {
				fmt.Fprintf(out, "allow: %s (policy %s)\n", posArgs[0], doc.PolicyID)
				return nil
			}

			fmt.Fprintf(out, "deny: %s at %s: %s\n", posArgs[0], dec.Layer, dec.Reason)
			if dec.Remediation != "" {
				fmt.Fprintf(out, "remediation: %s\n", dec.Remediation)
			}
			return &exitError{code: 2, msg: fmt.Sprintf("call to %q would be denied", posArgs[0])}
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Caller identity for the check")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Caller role (repeatable)")
	cmd.Flags().StringVar(&session, "session", "", "Session identifier for the check")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	return cmd
}
