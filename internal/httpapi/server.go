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

// Package httpapi implements the HTTP edge (spec §6): multipart archive
// ingest, job status/listing, question answering, and repo status, each
// response carrying an x-request-id header.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/kraklabs/repograph/internal/jobstore"
	"github.com/kraklabs/repograph/pkg/composer"
	"github.com/kraklabs/repograph/pkg/graphclient"
	"github.com/kraklabs/repograph/pkg/jobengine"
	"github.com/kraklabs/repograph/pkg/retriever"
)

// JobStore is the subset of internal/jobstore.Store the edge depends on.
type JobStore interface {
	CreateJob(ctx context.Context, jobID, repoID, jobType string) (jobstore.Job, error)
	Get(ctx context.Context, jobID string) (jobstore.Job, error)
	ListByRepo(ctx context.Context, repoID string) ([]jobstore.Job, error)
}

// RepoStatus is the subset of pkg/graphclient.Client the status endpoint
// depends on.
type RepoStatus interface {
	Status(ctx context.Context, repoID string) (graphclient.StatusResult, error)
}

// Retriever is the subset of pkg/retriever.Retriever the query endpoint
// depends on.
type Retriever interface {
	Retrieve(ctx context.Context, repoID, question string, topK int) (retriever.Pack, error)
}

// Composer is the subset of pkg/composer.Composer the query endpoint
// depends on.
type Composer interface {
	Compose(ctx context.Context, question string, pack retriever.Pack) (composer.Answer, error)
}

// Uploader stages an archive under the repo_id-partitioned upload
// directory for the Job Engine to later extract.
type Uploader interface {
	Stage(repoID string, body io.Reader, sizeLimit int64) error
}

// Config bounds request handling (spec §6's recognized options).
type Config struct {
	MaxZipMB int64
	TopK     int
}

// Server wires the HTTP edge's dependencies into an http.ServeMux.
type Server struct {
	store     JobStore
	repo      RepoStatus
	retriever Retriever
	composer  Composer
	uploader  Uploader
	cfg       Config
	logger    *slog.Logger
}

// New builds a Server. A nil logger uses slog.Default().
func New(store JobStore, repo RepoStatus, ret Retriever, comp Composer, uploader Uploader, cfg Config, logger *slog.Logger) *Server {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, repo: repo, retriever: ret, composer: comp, uploader: uploader, cfg: cfg, logger: logger}
}

// Handler returns the edge's routed, request-id-tagged http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/zip", s.handleIngest(jobengine.JobTypeFull))
	mux.HandleFunc("POST /ingest/kg/zip", s.handleIngest(jobengine.JobTypeGraphOnly))
	mux.HandleFunc("GET /jobs/{job_id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /repos/{repo_id}/status", s.handleRepoStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	return withRequestID(mux)
}

// withRequestID honors an inbound x-request-id header, generating a fresh
// 128-bit id when absent, and echoes it on every response (spec §6).
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("x-request-id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
