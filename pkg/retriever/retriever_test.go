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

package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/graphclient"
)

type fakeGraphSource struct {
	fulltext    []graphclient.SearchHit
	fulltextErr error
	vector      []graphclient.SearchHit
	vectorErr   error
	defaultHits []graphclient.SearchHit
	defaultErr  error
	expand      graphclient.ExpandResult
	expandErr   error
	status      graphclient.StatusResult
	statusErr   error
}

func (f *fakeGraphSource) SearchFulltext(ctx context.Context, repoID, query string, limit int) ([]graphclient.SearchHit, error) {
	return f.fulltext, f.fulltextErr
}

func (f *fakeGraphSource) SearchVector(ctx context.Context, repoID string, vector []float32, limit int) ([]graphclient.SearchHit, error) {
	return f.vector, f.vectorErr
}

func (f *fakeGraphSource) SearchDefault(ctx context.Context, repoID string, limit int) ([]graphclient.SearchHit, error) {
	return f.defaultHits, f.defaultErr
}

func (f *fakeGraphSource) Expand(ctx context.Context, repoID string, ids []string, hops int) (graphclient.ExpandResult, error) {
	return f.expand, f.expandErr
}

func (f *fakeGraphSource) Status(ctx context.Context, repoID string) (graphclient.StatusResult, error) {
	return f.status, f.statusErr
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.vectors, f.err
}

func TestRetrieveFusesKeywordAndSemanticByMaxScore(t *testing.T) {
	gs := &fakeGraphSource{
		fulltext: []graphclient.SearchHit{
			{ID: "a", Name: "Alpha", Score: 0.9},
			{ID: "b", Name: "Beta", Score: 0.2},
		},
		vector: []graphclient.SearchHit{
			{ID: "b", Name: "Beta", Score: 0.95},
		},
		status: graphclient.StatusResult{EmbeddedFraction: 1.0},
		expand: graphclient.ExpandResult{Nodes: []graph.Node{graph.NewFileNode("r1", "a.go")}},
	}
	em := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}

	r := New(Config{Graph: gs, Embedder: em, EnableEmbeddings: true})
	pack, err := r.Retrieve(context.Background(), "r1", "what does Beta do", 10)
	require.NoError(t, err)
	require.Len(t, pack.Snippets, 2)
	// b's combined score (max(0.95, 0.2)=0.95) beats a's (0.9), so b ranks first.
	assert.Equal(t, "b", pack.Snippets[0].ID)
	assert.Equal(t, 0.95, pack.Snippets[0].Score)
	assert.Equal(t, "a", pack.Snippets[1].ID)
	assert.Len(t, pack.Graph.Nodes, 1)
}

func TestRetrieveFallsBackToDefaultWhenMergedEmpty(t *testing.T) {
	gs := &fakeGraphSource{
		defaultHits: []graphclient.SearchHit{{ID: "d1", Score: 1}},
	}
	r := New(Config{Graph: gs})
	pack, err := r.Retrieve(context.Background(), "r1", "anything", 5)
	require.NoError(t, err)
	require.Len(t, pack.Snippets, 1)
	assert.Equal(t, "d1", pack.Snippets[0].ID)
}

func TestRetrieveDegradesGracefullyWhenFulltextFails(t *testing.T) {
	gs := &fakeGraphSource{
		fulltextErr: errors.New("boom"),
		defaultHits: []graphclient.SearchHit{{ID: "fallback"}},
	}
	r := New(Config{Graph: gs})
	pack, err := r.Retrieve(context.Background(), "r1", "q", 5)
	require.NoError(t, err)
	require.Len(t, pack.Snippets, 1)
	assert.Equal(t, "fallback", pack.Snippets[0].ID)
}

func TestRetrieveSkipsSemanticWhenEmbeddingsDisabled(t *testing.T) {
	gs := &fakeGraphSource{
		fulltext: []graphclient.SearchHit{{ID: "a", Score: 0.3}},
	}
	em := &fakeEmbedder{vectors: [][]float32{{0.1}}}
	r := New(Config{Graph: gs, Embedder: em, EnableEmbeddings: false})
	pack, err := r.Retrieve(context.Background(), "r1", "q", 5)
	require.NoError(t, err)
	require.Len(t, pack.Snippets, 1)
	assert.Nil(t, pack.Snippets[0].SemanticScore)
}

func TestCombineScoring(t *testing.T) {
	sem := 0.7
	kw := 0.3
	assert.Equal(t, 0.7, combine(&sem, &kw))
	assert.Equal(t, 0.3, combine(nil, &kw))
	assert.Equal(t, 0.7, combine(&sem, nil))
	assert.Equal(t, 0.0, combine(nil, nil))
}
