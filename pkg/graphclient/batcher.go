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

package graphclient

import (
	"encoding/json"

	"github.com/kraklabs/repograph/pkg/graph"
)

// Batcher splits a large node/edge set into upload-sized chunks, targeting a
// mutation count per chunk while staying under a byte-size cap. Generalized
// from the teacher's Datalog-statement batcher (pkg/ingestion.Batcher) to
// chunk JSON fact arrays instead of script text.
type Batcher struct {
	targetCount int
	maxBytes    int
}

// NewBatcher creates a Batcher targeting targetCount items per chunk, never
// exceeding maxBytes of estimated marshaled size per chunk.
func NewBatcher(targetCount, maxBytes int) *Batcher {
	if targetCount <= 0 {
		targetCount = 500
	}
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	return &Batcher{targetCount: targetCount, maxBytes: maxBytes}
}

// BatchNodes splits nodes into chunks obeying the configured count/byte caps.
func (b *Batcher) BatchNodes(nodes []graph.Node) [][]graph.Node {
	var batches [][]graph.Node
	var current []graph.Node
	size := 0

	for _, n := range nodes {
		itemSize := estimateSize(n)
		if len(current) > 0 && (len(current) >= b.targetCount || size+itemSize > b.maxBytes) {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, n)
		size += itemSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// BatchEdges splits edges into chunks obeying the configured count/byte caps.
func (b *Batcher) BatchEdges(edges []graph.Edge) [][]graph.Edge {
	var batches [][]graph.Edge
	var current []graph.Edge
	size := 0

	for _, e := range edges {
		itemSize := estimateSize(e)
		if len(current) > 0 && (len(current) >= b.targetCount || size+itemSize > b.maxBytes) {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, e)
		size += itemSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func estimateSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 256
	}
	return len(b)
}
