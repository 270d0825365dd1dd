// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDDeterministic(t *testing.T) {
	id1 := NodeID("repo-a", "pkg/foo.go", "DoThing", KindFunction)
	id2 := NodeID("repo-a", "pkg/foo.go", "DoThing", KindFunction)
	assert.Equal(t, id1, id2)

	raw, err := hex.DecodeString(id1)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "sha-256 digest is 32 bytes")
}

func TestNodeIDVariesByInput(t *testing.T) {
	base := NodeID("repo-a", "pkg/foo.go", "DoThing", KindFunction)
	assert.NotEqual(t, base, NodeID("repo-b", "pkg/foo.go", "DoThing", KindFunction))
	assert.NotEqual(t, base, NodeID("repo-a", "pkg/bar.go", "DoThing", KindFunction))
	assert.NotEqual(t, base, NodeID("repo-a", "pkg/foo.go", "OtherThing", KindFunction))
	assert.NotEqual(t, base, NodeID("repo-a", "pkg/foo.go", "DoThing", KindClass))
}

func TestNormalizeDedupesAndSorts(t *testing.T) {
	n1 := NewFileNode("r1", "a.go")
	n2 := NewFileNode("r1", "b.go")
	f := &Facts{
		RepoID: "r1",
		Nodes:  []Node{n2, n1, n1},
		Edges: []Edge{
			{SourceID: n2.ID, TargetID: n1.ID, Kind: EdgeImports},
			{SourceID: n2.ID, TargetID: n1.ID, Kind: EdgeImports},
			{SourceID: n1.ID, TargetID: n2.ID, Kind: EdgeContains},
		},
	}
	f.Normalize()
	require.Len(t, f.Nodes, 2)
	assert.True(t, f.Nodes[0].ID < f.Nodes[1].ID)
	require.Len(t, f.Edges, 2, "duplicate edge collapses")
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	n1 := NewFileNode("r1", "a.go")
	f := &Facts{RepoID: "r1", Nodes: []Node{n1}, Edges: []Edge{{SourceID: n1.ID, TargetID: "missing", Kind: EdgeImports}}}
	err := f.Validate()
	require.Error(t, err)
}

func TestValidateRejectsSelfLoopCalls(t *testing.T) {
	n1 := NewDefinitionNode("r1", "a.go", "Foo", KindFunction, "")
	f := &Facts{RepoID: "r1", Nodes: []Node{n1}, Edges: []Edge{{SourceID: n1.ID, TargetID: n1.ID, Kind: EdgeCalls}}}
	err := f.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedFacts(t *testing.T) {
	file := NewFileNode("r1", "a.go")
	fn := NewDefinitionNode("r1", "a.go", "Foo", KindFunction, "func Foo() {}")
	f := &Facts{RepoID: "r1", Nodes: []Node{file, fn}, Edges: []Edge{{SourceID: file.ID, TargetID: fn.ID, Kind: EdgeContains}}}
	require.NoError(t, f.Validate())
}

func TestMarshalIndentRoundTrips(t *testing.T) {
	file := NewFileNode("r1", "a.go")
	f := &Facts{RepoID: "r1", Nodes: []Node{file}}
	b, err := f.MarshalIndent()
	require.NoError(t, err)
	assert.Contains(t, string(b), "\"repo_id\": \"r1\"")

	var back Facts
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, *f, back)
}
