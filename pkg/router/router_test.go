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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/internal/apperrors"
)

func TestIsStructuralAffirmativePhrases(t *testing.T) {
	cases := []string{
		"how many functions call Foo",
		"list all files that import bar",
		"what imports the logging package",
		"show all dependencies of this module",
		"what breaks if I remove this function",
		"impact of deleting this class",
	}
	for _, q := range cases {
		assert.True(t, IsStructural(q), q)
	}
}

func TestIsStructuralNegativePhrases(t *testing.T) {
	cases := []string{
		"how does authentication work",
		"explain the retry policy",
		"what does this function do",
		"show me the embedding pipeline",
	}
	for _, q := range cases {
		assert.False(t, IsStructural(q), q)
	}
}

func TestIsStructuralSemanticPhraseTakesPrecedence(t *testing.T) {
	assert.False(t, IsStructural("explain how many callers this function has"))
}

func TestSanitizeAcceptsReadOnlyQuery(t *testing.T) {
	cleaned, err := Sanitize("  ```cypher\nMATCH (n) RETURN n\n```  ")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n) RETURN n", cleaned)
}

func TestSanitizeRejectsMutatingKeyword(t *testing.T) {
	for _, q := range []string{
		"MATCH (n) DETACH DELETE n",
		"MATCH (n) SET n.x = 1 RETURN n",
		"MATCH (n) REMOVE n.x RETURN n",
		"CREATE (n:Foo) RETURN n",
		"DROP INDEX foo",
	} {
		_, err := Sanitize(q)
		require.Error(t, err, q)
		assert.Equal(t, apperrors.UnsafeQuery, apperrors.KindOf(err))
	}
}

func TestSanitizeRejectsNonReadOnlyLeadingKeyword(t *testing.T) {
	_, err := Sanitize("EXPLAIN MATCH (n) RETURN n")
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsafeQuery, apperrors.KindOf(err))
}

func TestSanitizeRejectsEmptyQuery(t *testing.T) {
	_, err := Sanitize("   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsafeQuery, apperrors.KindOf(err))
}

func TestSanitizeDoesNotFalsePositiveOnSubstringMatch(t *testing.T) {
	// "asset" contains "set" but must not trip the SET keyword match.
	cleaned, err := Sanitize("MATCH (n) WHERE n.name = 'asset' RETURN n")
	require.NoError(t, err)
	assert.Contains(t, cleaned, "asset")
}

func TestSanitizeAcceptsAllowlistedProcedure(t *testing.T) {
	cleaned, err := Sanitize("CALL db.labels() YIELD label RETURN label")
	require.NoError(t, err)
	assert.Contains(t, cleaned, "db.labels")
}

func TestSanitizeRejectsMutatingProcedureNotCaughtByKeywordGate(t *testing.T) {
	for _, q := range []string{
		"CALL dbms.security.createUser('u','p')",
		"CALL apoc.create.node(['Foo'], {})",
		"CALL apoc.merge.node(['Foo'], {}, {})",
	} {
		_, err := Sanitize(q)
		require.Error(t, err, q)
		assert.Equal(t, apperrors.UnsafeQuery, apperrors.KindOf(err))
	}
}

func TestSanitizeRejectsUnlistedReadProcedure(t *testing.T) {
	_, err := Sanitize("CALL db.stats.retrieve('GRAPH COUNTS')")
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsafeQuery, apperrors.KindOf(err))
}
