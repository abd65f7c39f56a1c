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

package policies

import (
	"testing"

	"github.com/peg/toolgate/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedProfilesCompile(t *testing.T) {
	for _, profile := range ProfileNames {
		t.Run(profile, func(t *testing.T) {
			data, err := Profile(profile)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			doc, err := policy.Parse(data, false)
			require.NoError(t, err, "profile %s must compile", profile)

			assert.Equal(t, profile, doc.PolicyID)
			assert.NotEmpty(t, doc.Version)
			require.NotNil(t, doc.Redact, "every profile redacts results")
			assert.True(t, doc.Redact.Enabled)
			require.NotNil(t, doc.RateLimit)
			assert.True(t, doc.RateLimit.Enabled)
		})
	}
}

func TestProfileDefaults(t *testing.T) {
	standard, err := policy.Parse(mustProfile(t, "standard"), false)
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultDeny, standard.EffectiveDefault())
	assert.NotEmpty(t, standard.AllowRules)

	strict, err := policy.Parse(mustProfile(t, "strict"), false)
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultDeny, strict.EffectiveDefault())
	assert.Equal(t, policy.OnDetectDeny, strict.DetectAttacks.EffectiveOnDetect())

	permissive, err := policy.Parse(mustProfile(t, "permissive"), false)
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultAllow, permissive.EffectiveDefault())
	assert.Equal(t, policy.OnDetectFlag, permissive.DetectAttacks.EffectiveOnDetect())
}

func TestProfileUnknownName(t *testing.T) {
	_, err := Profile("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestProfileNamesMatchFiles(t *testing.T) {
	entries, err := FS.ReadDir(".")
	require.NoError(t, err)

	files := make(map[string]bool)
	for _, e := range entries {
		files[e.Name()] = true
	}
	for _, name := range ProfileNames {
		assert.True(t, files[name+".yaml"], "profile %s needs a YAML file", name)
	}
}

func mustProfile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := Profile(name)
	require.NoError(t, err)
	return data
}
