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

// Package graphclient speaks HTTP+JSON to the external property-graph
// store collaborator (spec §4.C), generalizing the teacher's
// pkg/storage.Backend interface shape (Query/Execute/Close against an
// in-process CozoDB) to an out-of-process graph service.
package graphclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/pkg/graph"
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BatchTargetSize int
	BatchMaxBytes   int
	Logger          *slog.Logger
}

// Client is the Graph Loader Client: load/status/embed/delete against the
// external graph store, per spec §4.C.
type Client struct {
	baseURL    string
	httpClient *http.Client
	batcher    *Batcher
	logger     *slog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		batcher:    NewBatcher(cfg.BatchTargetSize, cfg.BatchMaxBytes),
		logger:     cfg.Logger,
	}
}

// LoadResult reports how many nodes/edges the store reports as created.
type LoadResult struct {
	NodesCreated int `json:"nodes_created"`
	EdgesCreated int `json:"edges_created"`
}

type loadRequest struct {
	RepoID string       `json:"repo_id"`
	Nodes  []graph.Node `json:"nodes,omitempty"`
	Edges  []graph.Edge `json:"edges,omitempty"`
}

// Load upserts facts into the graph store, chunking large node/edge sets.
// The upstream treats loads as idempotent upserts keyed by (repo_id, id),
// so re-running Load for the same facts is always safe.
func (c *Client) Load(ctx context.Context, facts *graph.Facts) (LoadResult, error) {
	var total LoadResult

	nodeBatches := c.batcher.BatchNodes(facts.Nodes)
	if len(nodeBatches) == 0 {
		nodeBatches = [][]graph.Node{nil}
	}
	for _, batch := range nodeBatches {
		var resp LoadResult
		req := loadRequest{RepoID: facts.RepoID, Nodes: batch}
		if err := c.post(ctx, "/graph/load", req, &resp); err != nil {
			return total, err
		}
		total.NodesCreated += resp.NodesCreated
	}

	edgeBatches := c.batcher.BatchEdges(facts.Edges)
	for _, batch := range edgeBatches {
		var resp LoadResult
		req := loadRequest{RepoID: facts.RepoID, Edges: batch}
		if err := c.post(ctx, "/graph/load", req, &resp); err != nil {
			return total, err
		}
		total.EdgesCreated += resp.EdgesCreated
	}

	return total, nil
}

// StatusResult reports node/edge counts and embedded fraction for a repo,
// matching the HTTP edge's GET /repos/{repo_id}/status response shape.
type StatusResult struct {
	NodeCount       int     `json:"node_count"`
	EdgeCount       int     `json:"edge_count"`
	EmbeddedFraction float64 `json:"embedded_fraction"`
}

// Status retrieves node/edge counts and embedded fraction for repoID.
func (c *Client) Status(ctx context.Context, repoID string) (StatusResult, error) {
	var result StatusResult
	path := "/graph/embeddings/status?repo_id=" + url.QueryEscape(repoID)
	err := c.get(ctx, path, &result)
	return result, err
}

type embedRequest struct {
	RepoID string `json:"repo_id"`
}

// Embed requests embedding materialization for repoID's nodes.
func (c *Client) Embed(ctx context.Context, repoID string) error {
	return c.post(ctx, "/graph/embed", embedRequest{RepoID: repoID}, nil)
}

// Delete removes every node/edge belonging to repoID.
func (c *Client) Delete(ctx context.Context, repoID string) error {
	return c.do(ctx, http.MethodDelete, "/graph/"+repoID, nil, nil)
}

// SearchHit is one match from a graph-store search, carrying the
// provider's own relevance score (meaning differs per search kind:
// lexical rank for fulltext, cosine-like similarity for vector).
type SearchHit struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Path    string         `json:"path"`
	Kind    graph.NodeKind `json:"kind"`
	Snippet string         `json:"snippet"`
	Score   float64        `json:"score"`
}

type searchResponse struct {
	Hits []SearchHit `json:"hits"`
}

type fulltextSearchRequest struct {
	RepoID string `json:"repo_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

// SearchFulltext issues a full-text search over node name/snippet fields,
// per spec §4.E step 1.
func (c *Client) SearchFulltext(ctx context.Context, repoID, query string, limit int) ([]SearchHit, error) {
	var resp searchResponse
	req := fulltextSearchRequest{RepoID: repoID, Query: query, Limit: limit}
	if err := c.post(ctx, "/graph/search/fulltext", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

type vectorSearchRequest struct {
	RepoID string    `json:"repo_id"`
	Vector []float32 `json:"vector"`
	Limit  int       `json:"limit"`
}

// SearchVector issues a vector similarity search, per spec §4.E step 2.
func (c *Client) SearchVector(ctx context.Context, repoID string, vector []float32, limit int) ([]SearchHit, error) {
	var resp searchResponse
	req := vectorSearchRequest{RepoID: repoID, Vector: vector, Limit: limit}
	if err := c.post(ctx, "/graph/search/vector", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

type defaultSearchRequest struct {
	RepoID string `json:"repo_id"`
	Limit  int    `json:"limit"`
}

// SearchDefault returns the most-connected or most-recent nodes for
// repoID, used as the fallback ranking when fused retrieval yields
// nothing (spec §4.E step 5).
func (c *Client) SearchDefault(ctx context.Context, repoID string, limit int) ([]SearchHit, error) {
	var resp searchResponse
	req := defaultSearchRequest{RepoID: repoID, Limit: limit}
	if err := c.post(ctx, "/graph/search/default", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

type expandRequest struct {
	RepoID string   `json:"repo_id"`
	IDs    []string `json:"ids"`
	Hops   int      `json:"hops"`
}

// ExpandResult is a subgraph returned by /graph/expand.
type ExpandResult struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// Expand fetches the one-hop neighborhood of ids, per spec §4.E step 6.
func (c *Client) Expand(ctx context.Context, repoID string, ids []string, hops int) (ExpandResult, error) {
	var resp ExpandResult
	req := expandRequest{RepoID: repoID, IDs: ids, Hops: hops}
	err := c.post(ctx, "/graph/expand", req, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do executes one collaborator call. Per spec §4.C, every failure here
// (network error, non-2xx, invalid JSON) is fatal to the current step —
// the Graph Loader Client itself performs no retries; that decision
// belongs to the job engine's retry loop.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.Internal, "marshal graph request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "build graph request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.UpstreamUnavailable, "graph store unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.UpstreamUnavailable, "read graph store response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.New(apperrors.Unauthorized, "graph store rejected credentials").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(respBody, 500)))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.New(apperrors.UpstreamUnavailable, "graph store unavailable or rate limited").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(respBody, 500)))
	}
	if resp.StatusCode >= 400 {
		return apperrors.New(apperrors.UpstreamRejected, "graph store rejected request").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(respBody, 500)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Wrap(apperrors.UpstreamUnavailable, "parse graph store response", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
