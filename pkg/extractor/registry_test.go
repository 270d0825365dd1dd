// Copyright 2025 KrakLabs
//
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
//
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryLookupKnownExtensions(t *testing.T) {
	r := NewRegistry()
	for _, ext := range []string{".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".rs"} {
		spec := r.Lookup(ext)
		if assert.NotNil(t, spec, "extension %s should be registered", ext) {
			assert.NotEmpty(t, spec.Name)
		}
	}
}

func TestRegistryLookupUnknownExtension(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Lookup(".rb"))
}

func TestNormalizeImportPath(t *testing.T) {
	cases := map[string]string{
		`import "fmt"`:              "fmt",
		`from os import getcwd`:     "os",
		`use std::collections;`:     "std::collections",
		`import react from "react"`: "react",
	}
	for raw, want := range cases {
		assert.Equal(t, want, normalizeImportPath(raw), "raw=%q", raw)
	}
}
