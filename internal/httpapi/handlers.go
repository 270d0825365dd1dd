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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/pkg/router"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatusOf(err), map[string]string{"error": err.Error()})
}

// handleIngest returns a handler for the multipart-upload ingest routes,
// parameterized by jobType (spec §6's /ingest/zip vs /ingest/kg/zip).
func (s *Server) handleIngest(jobType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.BadRequest, "missing multipart field \"file\"", err))
			return
		}
		defer file.Close()

		repoID := uuid.NewString()
		jobID := uuid.NewString()

		if err := s.uploader.Stage(repoID, file, s.cfg.MaxZipMB*1024*1024); err != nil {
			writeError(w, err)
			return
		}

		if _, err := s.store.CreateJob(r.Context(), jobID, repoID, jobType); err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "repo_id": repoID})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	repoID := r.URL.Query().Get("repo_id")
	if repoID == "" {
		writeError(w, apperrors.New(apperrors.BadRequest, "repo_id query parameter is required"))
		return
	}
	jobs, err := s.store.ListByRepo(r.Context(), repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRepoStatus(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("repo_id")
	status, err := s.repo.Status(r.Context(), repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type queryRequest struct {
	RepoID   string `json:"repo_id"`
	Question string `json:"question"`
}

type queryResponse struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
	Graph     struct {
		Nodes any `json:"nodes"`
		Edges any `json:"edges"`
	} `json:"graph"`
	Warning string `json:"warning,omitempty"`
}

// handleQuery answers a natural-language question about a repo (spec §6's
// POST /query). The Structural Router's classification is logged for
// observability; the retrieval pipeline itself already degrades
// gracefully across lexical and semantic sources regardless of intent
// (spec §4.E), so no branch in the retrieval call depends on it.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.BadRequest, "malformed request body", err))
		return
	}
	if req.RepoID == "" || req.Question == "" {
		writeError(w, apperrors.New(apperrors.BadRequest, "repo_id and question are required"))
		return
	}

	s.logger.Info("httpapi.query.classify", "repo_id", req.RepoID, "structural", router.IsStructural(req.Question))

	pack, err := s.retriever.Retrieve(r.Context(), req.RepoID, req.Question, s.cfg.TopK)
	if err != nil {
		writeError(w, err)
		return
	}

	answer, err := s.composer.Compose(r.Context(), req.Question, pack)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := queryResponse{Answer: answer.Answer, Citations: answer.Citations, Warning: answer.Warning}
	resp.Graph.Nodes = pack.Graph.Nodes
	resp.Graph.Edges = pack.Graph.Edges
	writeJSON(w, http.StatusOK, resp)
}
