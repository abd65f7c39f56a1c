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

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// ChainReport summarizes a hash chain verification pass.
type ChainReport struct {
	// Events is the number of events checked.
	Events int

	// HeadHash is the hash of the last event in the chain.
	HeadHash string
}

// VerifyChain reads a JSONL event stream and checks that every event's
// hash is correct and links to its predecessor. prevHash seeds the chain
// and is empty for a stream that starts at the first event; pass a
// rotated file's head hash to verify continuation files.
func VerifyChain(r io.Reader, prevHash string) (ChainReport, error) {
	report := ChainReport{HeadHash: prevHash}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return report, fmt.Errorf("audit: line %d: parse event: %w", line, err)
		}

		if event.PrevHash != report.HeadHash {
			return report, fmt.Errorf("audit: line %d: chain broken: prev_hash %q, want %q", line, event.PrevHash, report.HeadHash)
		}

		ok, err := event.VerifyHash()
		if err != nil {
			return report, fmt.Errorf("audit: line %d: %w", line, err)
		}
		if !ok {
			return report, fmt.Errorf("audit: line %d: event %s hash mismatch", line, event.ID)
		}

		report.HeadHash = event.Hash
		report.Events++
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("audit: read event stream: %w", err)
	}

	return report, nil
}
