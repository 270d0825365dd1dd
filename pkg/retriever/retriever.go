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

// Package retriever implements the Hybrid Retriever (spec §4.E): fuse
// lexical and vector search hits into a single ranked retrieval pack,
// falling back to default ranking when both sources come back empty, and
// expanding the top hits by one hop. Generalizes the teacher's
// pkg/tools.SemanticSearch fallback-to-text-search shape (semantic.go) from
// a single-provider degrade path into symmetric graceful degradation across
// two independent sources.
package retriever

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repograph/internal/metrics"
	"github.com/kraklabs/repograph/pkg/embedclient"
	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/graphclient"
)

// Snippet is one entry of a retrieval pack, per spec §3.
type Snippet struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Path          string         `json:"path"`
	Kind          graph.NodeKind `json:"kind"`
	Snippet       string         `json:"snippet"`
	Score         float64        `json:"score"`
	SemanticScore *float64       `json:"semantic_score,omitempty"`
	KeywordScore  *float64       `json:"keyword_score,omitempty"`
}

// Pack is the retrieval pack the Hybrid Retriever produces: ranked
// snippets plus the expanded one-hop subgraph.
type Pack struct {
	Snippets []Snippet   `json:"snippets"`
	Graph    graph.Facts `json:"graph"`
}

// GraphSource is the subset of the Graph Loader Client the retriever
// depends on. Declared here (rather than imported as *graphclient.Client
// directly) so tests can substitute a fake without an HTTP server.
type GraphSource interface {
	SearchFulltext(ctx context.Context, repoID, query string, limit int) ([]graphclient.SearchHit, error)
	SearchVector(ctx context.Context, repoID string, vector []float32, limit int) ([]graphclient.SearchHit, error)
	SearchDefault(ctx context.Context, repoID string, limit int) ([]graphclient.SearchHit, error)
	Expand(ctx context.Context, repoID string, ids []string, hops int) (graphclient.ExpandResult, error)
	Status(ctx context.Context, repoID string) (graphclient.StatusResult, error)
}

// Embedder is the subset of the Embedding Client the retriever depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fuses lexical and vector search into a ranked retrieval pack.
type Retriever struct {
	graph          GraphSource
	embedder       Embedder
	enableEmbed    bool
	embedThreshold float64
	logger         *slog.Logger
}

// Config configures a Retriever.
type Config struct {
	Graph GraphSource
	// Embedder may be nil; semantic search is then skipped entirely, the
	// same degrade path as an embeddings-disabled repo.
	Embedder Embedder
	// EnableEmbeddings gates step 2 of spec §4.E's algorithm globally
	// (ENABLE_EMBEDDINGS env var).
	EnableEmbeddings bool
	Logger           *slog.Logger
}

// New builds a Retriever from cfg.
func New(cfg Config) *Retriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		graph:       cfg.Graph,
		embedder:    cfg.Embedder,
		enableEmbed: cfg.EnableEmbeddings,
		logger:      cfg.Logger,
	}
}

// Retrieve executes spec §4.E's algorithm end to end: fan out keyword and
// (if enabled and available) semantic search, fuse by max score, fall back
// to default ranking if the merge is empty, then expand the top ids by one
// hop.
func (r *Retriever) Retrieve(ctx context.Context, repoID, question string, topK int) (Pack, error) {
	if topK <= 0 {
		topK = 10
	}

	keywordHits, semanticHits := r.fanOut(ctx, repoID, question, topK)

	merged := fuse(keywordHits, semanticHits)
	if len(merged) == 0 {
		metrics.RetrievalFallback()
		defaultHits, err := r.graph.SearchDefault(ctx, repoID, topK)
		if err != nil {
			r.logger.Warn("retriever.default_search.failed", "repo_id", repoID, "err", err)
			return Pack{}, err
		}
		merged = fuse(defaultHits, nil)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].combined > merged[j].combined })
	if len(merged) > topK {
		merged = merged[:topK]
	}

	snippets := make([]Snippet, 0, len(merged))
	ids := make([]string, 0, len(merged))
	for _, m := range merged {
		snippets = append(snippets, m.toSnippet())
		ids = append(ids, m.id)
	}

	pack := Pack{Snippets: snippets}
	if len(ids) > 0 {
		expanded, err := r.graph.Expand(ctx, repoID, ids, 1)
		if err != nil {
			r.logger.Warn("retriever.expand.failed", "repo_id", repoID, "err", err)
		} else {
			pack.Graph = graph.Facts{RepoID: repoID, Nodes: expanded.Nodes, Edges: expanded.Edges}
		}
	}
	return pack, nil
}

// fanOut issues the keyword and semantic searches concurrently via
// errgroup, logging and continuing past either source's failure (spec
// §4.E: "any single retrieval source may fail; the retriever must degrade
// gracefully").
func (r *Retriever) fanOut(ctx context.Context, repoID, question string, topK int) (keyword, semantic []graphclient.SearchHit) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := r.graph.SearchFulltext(gctx, repoID, question, topK)
		if err != nil {
			r.logger.Warn("retriever.fulltext_search.failed", "repo_id", repoID, "err", err)
			metrics.RetrievalKeywordFailure()
			return nil
		}
		keyword = hits
		return nil
	})

	if r.enableEmbed && r.embedder != nil {
		g.Go(func() error {
			status, err := r.graph.Status(gctx, repoID)
			if err != nil || status.EmbeddedFraction <= 0 {
				return nil
			}
			vectors, err := r.embedder.Embed(gctx, []string{question})
			if err != nil || len(vectors) == 0 {
				r.logger.Warn("retriever.embed_question.failed", "repo_id", repoID, "err", err)
				return nil
			}
			hits, err := r.graph.SearchVector(gctx, repoID, vectors[0], topK)
			if err != nil {
				r.logger.Warn("retriever.vector_search.failed", "repo_id", repoID, "err", err)
				metrics.RetrievalSemanticFailure()
				return nil
			}
			semantic = hits
			return nil
		})
	}

	_ = g.Wait() // every goroutine above already swallows its own error
	return keyword, semantic
}

type fusedHit struct {
	id            string
	name, path    string
	kind          graph.NodeKind
	snippet       string
	keywordScore  *float64
	semanticScore *float64
	combined      float64
}

func (f fusedHit) toSnippet() Snippet {
	return Snippet{
		ID:            f.id,
		Name:          f.name,
		Path:          f.path,
		Kind:          f.kind,
		Snippet:       f.snippet,
		Score:         f.combined,
		SemanticScore: f.semanticScore,
		KeywordScore:  f.keywordScore,
	}
}

// fuse merges keyword and semantic hit lists by node id, retaining the
// maximum observed score from each source and combining via
// max(semantic, keyword), per spec §4.E step 3-4.
func fuse(keyword, semantic []graphclient.SearchHit) []fusedHit {
	byID := make(map[string]*fusedHit)
	order := make([]string, 0, len(keyword)+len(semantic))

	upsert := func(h graphclient.SearchHit, isSemantic bool) {
		existing, ok := byID[h.ID]
		if !ok {
			existing = &fusedHit{id: h.ID, name: h.Name, path: h.Path, kind: h.Kind, snippet: h.Snippet}
			byID[h.ID] = existing
			order = append(order, h.ID)
		}
		score := h.Score
		if isSemantic {
			if existing.semanticScore == nil || score > *existing.semanticScore {
				existing.semanticScore = &score
			}
		} else {
			if existing.keywordScore == nil || score > *existing.keywordScore {
				existing.keywordScore = &score
			}
		}
	}

	for _, h := range keyword {
		upsert(h, false)
	}
	for _, h := range semantic {
		upsert(h, true)
	}

	result := make([]fusedHit, 0, len(order))
	for _, id := range order {
		f := byID[id]
		f.combined = combine(f.semanticScore, f.keywordScore)
		result = append(result, *f)
	}
	return result
}

// combine implements spec §4.E step 4: max(semantic, keyword) with missing
// values treated as -inf, and 0 when both are absent.
func combine(semantic, keyword *float64) float64 {
	sem := math.Inf(-1)
	if semantic != nil {
		sem = *semantic
	}
	kw := math.Inf(-1)
	if keyword != nil {
		kw = *keyword
	}
	if math.IsInf(sem, -1) && math.IsInf(kw, -1) {
		return 0
	}
	if sem > kw {
		return sem
	}
	return kw
}
