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

// Package router implements the Structural Router (spec §4.F): classify a
// question as structural or semantic intent, and sanitize a generated
// read-only graph query before it is allowed to execute. Generalizes the
// teacher's pkg/tools/search.go RawQuery path (execute a caller-supplied
// CozoScript string against the Querier) by adding the restricted-keyword
// gate spec.md §4.F requires before any such string reaches the store.
package router

import (
	"regexp"
	"strings"

	"github.com/kraklabs/repograph/internal/apperrors"
)

var structuralPhrases = []string{
	"how many",
	"count",
	"list all",
	"show all",
	"what imports",
	"dependency",
	"dependencies",
	"breaks if",
	"impact of",
}

var semanticPhrases = []string{
	"how does",
	"explain",
	"what does",
	"show me",
}

// IsStructural classifies question as a structural (graph-shaped) intent
// vs a semantic one, per spec §4.F's conservative surface-pattern
// classifier. Negative (semantic) phrases are checked first so that a
// question matching both lists — e.g. "explain how many callers this
// function has" — is treated as semantic, since those phrasings ask for
// narrative explanation even when they mention a structural-sounding
// term.
func IsStructural(question string) bool {
	q := strings.ToLower(question)
	for _, phrase := range semanticPhrases {
		if strings.Contains(q, phrase) {
			return false
		}
	}
	for _, phrase := range structuralPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

var forbiddenKeywords = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH\s+DELETE|SET|REMOVE|DROP)\b`)

var allowedLeadingKeyword = regexp.MustCompile(`(?i)^(MATCH|RETURN|WITH|UNWIND|CALL)\b`)

var callProcedure = regexp.MustCompile(`(?i)^CALL\s+([a-zA-Z0-9_.]+)`)

// callProcedureAllowlist limits CALL to the read-only procedures spec §4.F
// names. forbiddenKeywords already rejects a procedure whose dotted name has
// a keyword as a whole segment (apoc.create.node), but not one that embeds
// it without a word boundary (dbms.security.createUser); any procedure
// outside this set is rejected here either way.
var callProcedureAllowlist = map[string]bool{
	"db.labels":                    true,
	"db.relationshiptypes":         true,
	"db.propertykeys":              true,
	"db.schema.visualization":      true,
	"db.schema.nodetypeproperties": true,
	"db.schema.reltypeproperties":  true,
	"apoc.meta.schema":             true,
	"apoc.meta.stats":              true,
	"apoc.path.subgraphnodes":      true,
	"apoc.path.subgraphall":        true,
}

// Sanitize strips surrounding code fences/whitespace from a generated
// query and enforces spec §4.F's read-only gate: no forbidden mutating
// keyword anywhere in the query (case-insensitive, word-boundary), the
// query must begin with one of the allowed read-only keywords, and a
// CALL-led query names only an allowlisted read procedure. Violations
// return apperrors with Kind UnsafeQuery.
func Sanitize(query string) (string, error) {
	cleaned := strings.TrimSpace(query)
	cleaned = strings.TrimPrefix(cleaned, "```cypher")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", apperrors.New(apperrors.UnsafeQuery, "generated query is empty")
	}
	if forbiddenKeywords.MatchString(cleaned) {
		return "", apperrors.New(apperrors.UnsafeQuery, "generated query contains a mutating keyword")
	}
	if !allowedLeadingKeyword.MatchString(cleaned) {
		return "", apperrors.New(apperrors.UnsafeQuery, "generated query must begin with MATCH, RETURN, WITH, UNWIND, or CALL")
	}
	if m := callProcedure.FindStringSubmatch(cleaned); m != nil && !callProcedureAllowlist[strings.ToLower(m[1])] {
		return "", apperrors.New(apperrors.UnsafeQuery, "CALL is restricted to an allowlist of read procedures")
	}
	return cleaned, nil
}
