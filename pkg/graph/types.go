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

// Package graph defines the node/edge data model shared by the Structural
// Extractor, Graph Loader Client, and Hybrid Retriever.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// NodeKind enumerates the graph node kinds the data model recognizes.
type NodeKind string

const (
	KindFile     NodeKind = "file"
	KindClass    NodeKind = "class"
	KindFunction NodeKind = "function"
	KindModule   NodeKind = "module"
)

// EdgeKind enumerates the graph edge kinds the data model recognizes.
type EdgeKind string

const (
	EdgeContains EdgeKind = "contains"
	EdgeImports  EdgeKind = "imports"
	EdgeCalls    EdgeKind = "calls"
)

// externalModulePath is used as Path for module nodes outside the repo.
const externalModulePath = "<external>"

// Node is a single vertex of the symbol graph.
//
// ID is reproducible across runs for identical inputs: it is the lower-hex
// SHA-256 of "repo_id|path|symbol|kind". Two extraction runs over the same
// repository therefore emit byte-identical node IDs.
type Node struct {
	ID      string   `json:"id"`
	Kind    NodeKind `json:"kind"`
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Snippet string   `json:"snippet,omitempty"`
}

// Edge is a single directed relationship between two node IDs.
type Edge struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Kind     EdgeKind `json:"kind"`
}

// NodeID computes the stable node identifier for (repoID, path, symbol, kind).
//
// symbol is the bare definition name ("" for file nodes, whose identity is
// the path itself; module nodes use the "<external>" path and the import
// path as symbol).
func NodeID(repoID, path, symbol string, kind NodeKind) string {
	h := sha256.Sum256([]byte(repoID + "|" + path + "|" + symbol + "|" + string(kind)))
	return hex.EncodeToString(h[:])
}

// NewFileNode builds a file-kind node for the given path.
func NewFileNode(repoID, path string) Node {
	return Node{ID: NodeID(repoID, path, "", KindFile), Kind: KindFile, Name: path, Path: path}
}

// NewModuleNode builds a module-kind node representing an external import.
func NewModuleNode(repoID, importPath string) Node {
	return Node{
		ID:   NodeID(repoID, externalModulePath, importPath, KindModule),
		Kind: KindModule,
		Name: importPath,
		Path: externalModulePath,
	}
}

// NewDefinitionNode builds a class/function-kind node for a symbol defined
// at path. snippet is truncated by the caller before this is invoked.
func NewDefinitionNode(repoID, path, symbol string, kind NodeKind, snippet string) Node {
	return Node{ID: NodeID(repoID, path, symbol, kind), Kind: kind, Name: symbol, Path: path, Snippet: snippet}
}

// Facts is the persisted artifact format: graph_facts.json.
type Facts struct {
	RepoID string `json:"repo_id"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// Normalize deduplicates nodes by ID, deduplicates edges as a set, and sorts
// both deterministically so that two runs over identical inputs produce
// byte-identical output (invariant 1 and the round-trip law in spec §8).
func (f *Facts) Normalize() {
	seenNodes := make(map[string]Node, len(f.Nodes))
	order := make([]string, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		if _, ok := seenNodes[n.ID]; !ok {
			order = append(order, n.ID)
		}
		seenNodes[n.ID] = n
	}
	sort.Strings(order)
	nodes := make([]Node, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, seenNodes[id])
	}
	f.Nodes = nodes

	type edgeKey struct {
		src, dst string
		kind     EdgeKind
	}
	seenEdges := make(map[edgeKey]struct{}, len(f.Edges))
	edges := make([]Edge, 0, len(f.Edges))
	for _, e := range f.Edges {
		k := edgeKey{e.SourceID, e.TargetID, e.Kind}
		if _, ok := seenEdges[k]; ok {
			continue
		}
		seenEdges[k] = struct{}{}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		if edges[i].TargetID != edges[j].TargetID {
			return edges[i].TargetID < edges[j].TargetID
		}
		return edges[i].Kind < edges[j].Kind
	})
	f.Edges = edges
}

// Validate checks the invariants from spec §3/§8: every edge's endpoints
// exist as nodes in the same document, and no calls edge self-loops.
func (f *Facts) Validate() error {
	ids := make(map[string]struct{}, len(f.Nodes))
	for _, n := range f.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range f.Edges {
		if _, ok := ids[e.SourceID]; !ok {
			return fmt.Errorf("edge source %s not present in node set", e.SourceID)
		}
		if _, ok := ids[e.TargetID]; !ok {
			return fmt.Errorf("edge target %s not present in node set", e.TargetID)
		}
		if e.Kind == EdgeCalls && e.SourceID == e.TargetID {
			return fmt.Errorf("calls edge self-loops on %s", e.SourceID)
		}
	}
	return nil
}

// MarshalIndent renders Facts as 2-space-indented UTF-8 JSON, matching the
// persisted graph_facts.json format from spec §6.
func (f *Facts) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}
