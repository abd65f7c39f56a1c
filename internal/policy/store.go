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

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileStore loads policy documents from a YAML or JSON file on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a policy store that reads from the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path this store reads from.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads, parses, and compiles the policy file. The format is chosen
// by extension (.json is JSON, everything else YAML; YAML is a JSON
// superset so mislabeled JSON still parses). Returns an error if the file
// cannot be read, parsed, or compiled.
func (s *FileStore) Load() (*Document, error) {
	absPath, err := filepath.Abs(s.path)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve path %q: %w", s.path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("policy: read policy file: %w", err)
	}

	return Parse(data, strings.EqualFold(filepath.Ext(absPath), ".json"))
}

// Parse decodes and compiles a policy document from raw bytes.
func Parse(data []byte, asJSON bool) (*Document, error) {
	var doc Document
	if asJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("policy: parse policy JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("policy: parse policy YAML: %w", err)
		}
	}

	if err := doc.Compile(); err != nil {
		return nil, err
	}
	return &doc, nil
}
