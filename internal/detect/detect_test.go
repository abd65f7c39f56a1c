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

package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultFields = []string{"query", "sql", "where", "url", "path"}

func TestScanSQLInjection(t *testing.T) {
	payloads := []string{
		"1 UNION SELECT password FROM users",
		"name'; DROP TABLE users; --",
		"x' OR 1=1",
		"select * from accounts",
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			finding, hit := Scan(map[string]any{"query": p}, defaultFields)
			require.True(t, hit)
			assert.Equal(t, CategorySQLInjection, finding.Category)
			assert.Equal(t, "query", finding.Field)
		})
	}
}

func TestScanPathTraversal(t *testing.T) {
	payloads := []string{
		"../../etc/passwd",
		`..\..\windows\system32`,
		"/etc/shadow",
		"/proc/self/environ",
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			finding, hit := Scan(map[string]any{"path": p}, defaultFields)
			require.True(t, hit)
			assert.Equal(t, CategoryPathTraversal, finding.Category)
		})
	}
}

func TestScanSSRF(t *testing.T) {
	payloads := []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://localhost:8080/admin",
		"https://127.0.0.1/secrets",
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			finding, hit := Scan(map[string]any{"url": p}, defaultFields)
			require.True(t, hit)
			assert.Equal(t, CategorySSRF, finding.Category)
		})
	}
}

func TestScanCleanValuesPass(t *testing.T) {
	args := map[string]any{
		"query": "find users named smith",
		"url":   "https://api.example.com/v1/users",
		"path":  "/var/data/reports/2026.csv",
	}
	_, hit := Scan(args, defaultFields)
	assert.False(t, hit)
}

func TestScanOnlyConfiguredFields(t *testing.T) {
	// The payload sits under a field the policy does not scan.
	args := map[string]any{"note": "../../etc/passwd"}
	_, hit := Scan(args, defaultFields)
	assert.False(t, hit)

	_, hit = Scan(args, []string{"note"})
	assert.True(t, hit)
}

func TestScanDescendsNestedContainers(t *testing.T) {
	args := map[string]any{
		"query": map[string]any{
			"filter": []any{
				map[string]any{"clause": "1 UNION SELECT *"},
			},
		},
	}
	finding, hit := Scan(args, defaultFields)
	require.True(t, hit)
	assert.Equal(t, CategorySQLInjection, finding.Category)
	assert.Equal(t, "query", finding.Field, "finding names the configured ancestor field")
}

func TestScanInterestingFieldInsideWrapper(t *testing.T) {
	// A configured field nested under an unconfigured wrapper still scans.
	args := map[string]any{
		"params": map[string]any{"url": "http://169.254.169.254/"},
	}
	finding, hit := Scan(args, defaultFields)
	require.True(t, hit)
	assert.Equal(t, "url", finding.Field)
}

func TestScanNonStringValuesIgnored(t *testing.T) {
	args := map[string]any{"query": 42, "url": true, "path": []any{1, 2}}
	_, hit := Scan(args, defaultFields)
	assert.False(t, hit)
}

func TestScanEmptyInputs(t *testing.T) {
	_, hit := Scan(nil, defaultFields)
	assert.False(t, hit)

	_, hit = Scan(map[string]any{"query": "drop table x"}, nil)
	assert.False(t, hit)
}
