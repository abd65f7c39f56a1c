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
	"fmt"
	"os"

	"github.com/peg/toolgate/internal/policy"
	"github.com/spf13/cobra"
)

func newLintCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [file]",
		Short: "Check a policy file for errors and common mistakes",
		Long: `Parse and compile a policy file, then report non-fatal warnings:
deny rules without reasons, allow rules accepting any arguments,
inert rate limit configurations, and unreachable policies.

Exit code: 1 if the file fails to parse or compile, 0 otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}

			if _, err := os.Stat(path); os.IsNotExist(err) {
				return fmt.Errorf("cli: file not found: %s", path)
			}

			doc, err := policy.NewFileStore(path).Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			warnings := doc.Lint()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}

			fmt.Fprintf(out, "%s: policy %s ok, %d allow rule(s), %d deny rule(s), %d warning(s)\n",
				path, doc.String(), len(doc.AllowRules), len(doc.DenyRules), len(warnings))
			return nil
		},
	}
	return cmd
}
