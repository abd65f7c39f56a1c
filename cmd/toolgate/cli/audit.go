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

	"github.com/peg/toolgate/internal/audit"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(newAuditVerifyCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	var prevHash string

	cmd := &cobra.Command{
		Use:   "verify <events.jsonl>",
		Short: "Verify the hash chain of a JSONL audit file",
		Long: `Check every event in a JSONL audit file: each event's hash must be
correct and must link to the previous event. Tampering with, removing,
or reordering any event breaks the chain.

For rotated files, pass --prev-hash with the head hash of the earlier
file to verify the continuation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("cli: open audit file: %w", err)
			}
			defer f.Close()

			report, err := audit.VerifyChain(f, prevHash)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL after %d event(s): %v\n", report.Events, err)
				return &exitError{code: 1, msg: "audit chain verification failed"}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d event(s), head %s\n", report.Events, report.HeadHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&prevHash, "prev-hash", "", "Head hash of the preceding rotated file")
	return cmd
}
