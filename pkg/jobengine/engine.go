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

// Package jobengine implements the Job Engine (spec §4.H): the durable
// state machine that claims a queued job and drives it through
// INGEST → PARSE → LOAD_GRAPH → EMBED, each step in its own committed
// transaction against internal/jobstore, with retry-or-fail handling on
// step failure.
package jobengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/internal/jobstore"
	"github.com/kraklabs/repograph/internal/layout"
	"github.com/kraklabs/repograph/internal/metrics"
	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/graphclient"
)

// JobType distinguishes the two ingest routes spec §6 exposes: Full runs
// every step through EMBED; GraphOnly stops after LOAD_GRAPH, matching
// POST /ingest/kg/zip's "graph only, no embeddings" contract.
const (
	JobTypeFull      = "full"
	JobTypeGraphOnly = "graph_only"
)

// Sandbox is the subset of pkg/sandbox.Sandbox the engine depends on.
type Sandbox interface {
	Extract(archivePath, destDir string) error
}

// Extractor is the subset of pkg/extractor.Extractor the engine depends on.
type Extractor interface {
	Extract(ctx context.Context, repoDir, repoID string) (*graph.Facts, error)
}

// GraphClient is the subset of pkg/graphclient.Client the engine depends
// on for loading and embedding a repository's graph.
type GraphClient interface {
	Load(ctx context.Context, facts *graph.Facts) (graphclient.LoadResult, error)
	Embed(ctx context.Context, repoID string) error
}

// Config configures an Engine.
type Config struct {
	Store     *jobstore.Store
	Sandbox   Sandbox
	Extractor Extractor
	Graph     GraphClient

	// DataDir roots the repo_id-partitioned filesystem layout: uploads,
	// repos, artifacts (spec §5's shared-resource policy).
	DataDir string

	// EnableEmbeddings gates whether a JobTypeFull job's EMBED step runs
	// at all (spec §6's ENABLE_EMBEDDINGS option).
	EnableEmbeddings bool

	// MaxAttempts bounds engine-level retries (spec §6's MAX_ATTEMPTS).
	MaxAttempts int

	// EmbedMaxRetries, EmbedBackoffMin, and EmbedBackoffMax give the EMBED
	// step its own in-step retry budget (spec §4.D), separate from
	// MaxAttempts' whole-job requeue: a transient graph store failure
	// retries here with jittered backoff instead of surfacing to Fail.
	EmbedMaxRetries int
	EmbedBackoffMin time.Duration
	EmbedBackoffMax time.Duration

	Logger *slog.Logger
}

// Engine drives jobs through the state machine described in spec §4.H.
type Engine struct {
	cfg Config
}

// New builds an Engine from cfg, applying defaults.
func New(cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.EmbedMaxRetries <= 0 {
		cfg.EmbedMaxRetries = 8
	}
	if cfg.EmbedBackoffMin <= 0 {
		cfg.EmbedBackoffMin = 500 * time.Millisecond
	}
	if cfg.EmbedBackoffMax <= 0 {
		cfg.EmbedBackoffMax = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}
}

// RunOnce claims jobID and drives it through every remaining step until it
// completes, fails, or is requeued. A requeue is not retried within this
// call — the caller's scheduling loop is responsible for re-invoking
// RunOnce on a future pass, per spec §5's "single job runs to completion
// before the next is claimed" per-worker model.
func (e *Engine) RunOnce(ctx context.Context, jobID string) (jobstore.Job, error) {
	job, err := e.cfg.Store.Claim(ctx, jobID)
	if err != nil {
		return jobstore.Job{}, err
	}
	if job.Status != jobstore.StatusRunning {
		// Claim left a completed job unchanged; nothing to do.
		return job, nil
	}

	metrics.JobClaimed()
	e.cfg.Logger.Info("jobengine.run.start", "job_id", jobID, "repo_id", job.RepoID, "job_type", job.JobType)

	steps := e.stepsFor(job.JobType)
	for _, step := range steps {
		started := time.Now()
		stepErr := step.run(ctx, e, job)
		metrics.ObserveStepDuration(string(step.kind), time.Since(started).Seconds())
		if stepErr != nil {
			return e.fail(ctx, job, stepErr)
		}
		if advErr := e.cfg.Store.AdvanceStep(ctx, job.JobID, step.kind); advErr != nil {
			return jobstore.Job{}, advErr
		}
		e.cfg.Logger.Info("jobengine.step.ok", "job_id", jobID, "step", step.kind)
	}

	if err := e.cfg.Store.Complete(ctx, job.JobID); err != nil {
		return jobstore.Job{}, err
	}
	metrics.JobCompleted()
	e.cfg.Logger.Info("jobengine.run.complete", "job_id", jobID)
	return e.cfg.Store.Get(ctx, jobID)
}

type pipelineStep struct {
	kind jobstore.Step
	run  func(ctx context.Context, e *Engine, job jobstore.Job) error
}

func (e *Engine) stepsFor(jobType string) []pipelineStep {
	steps := []pipelineStep{
		{jobstore.StepIngest, (*Engine).runIngest},
		{jobstore.StepParse, (*Engine).runParse},
		{jobstore.StepLoadGraph, (*Engine).runLoadGraph},
	}
	if jobType != JobTypeGraphOnly && e.cfg.EnableEmbeddings {
		steps = append(steps, pipelineStep{jobstore.StepEmbed, (*Engine).runEmbed})
	}
	return steps
}

// runIngest extracts the staged archive into the repo_id-partitioned repos
// directory. Idempotent: if the destination already exists, extraction is
// skipped, satisfying spec §4.H's crash-safety re-claim guarantee.
func (e *Engine) runIngest(ctx context.Context, job jobstore.Job) error {
	dest := layout.ReposDir(e.cfg.DataDir, job.RepoID)
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		return nil
	}
	return e.cfg.Sandbox.Extract(layout.ArchivePath(e.cfg.DataDir, job.RepoID), dest)
}

// runParse walks the extracted tree into a symbol graph and persists it as
// spec §6's graph_facts.json artifact.
func (e *Engine) runParse(ctx context.Context, job jobstore.Job) error {
	facts, err := e.cfg.Extractor.Extract(ctx, layout.ReposDir(e.cfg.DataDir, job.RepoID), job.RepoID)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "extract symbol graph", err)
	}
	if len(facts.Nodes) == 0 {
		return apperrors.New(apperrors.EmptyParse, "extractor produced zero nodes")
	}
	return e.writeFactsArtifact(job.RepoID, facts)
}

func (e *Engine) writeFactsArtifact(repoID string, facts *graph.Facts) error {
	dir := layout.ArtifactsDir(e.cfg.DataDir, repoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.Internal, "create artifacts dir", err)
	}
	data, err := facts.MarshalIndent()
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "marshal graph facts", err)
	}
	if err := os.WriteFile(layout.FactsPath(e.cfg.DataDir, repoID), data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.Internal, "write graph facts artifact", err)
	}
	return nil
}

// runLoadGraph loads the facts persisted by runParse into the graph store.
// Re-reads the artifact rather than threading state between steps, since
// each step runs as an independently retryable unit (spec §4.H).
func (e *Engine) runLoadGraph(ctx context.Context, job jobstore.Job) error {
	facts, err := e.readFactsArtifact(job.RepoID)
	if err != nil {
		return err
	}
	_, err = e.cfg.Graph.Load(ctx, facts)
	return err
}

func (e *Engine) readFactsArtifact(repoID string) (*graph.Facts, error) {
	data, err := os.ReadFile(layout.FactsPath(e.cfg.DataDir, repoID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "read graph facts artifact", err)
	}
	var facts graph.Facts
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "unmarshal graph facts artifact", err)
	}
	return &facts, nil
}

// runEmbed requests embedding materialization for the repo's newly loaded
// nodes. The graph store owns the actual embedding provider call and its
// own upsert semantics (spec §4.C); this step wraps that call in its own
// decorrelated full-jitter retry budget (spec §4.D), separate from the
// whole-job MAX_ATTEMPTS requeue: a transient graph store failure (a 5xx or
// network error, classified UpstreamUnavailable) retries in place, while a
// non-retryable failure (e.g. a 401) or retry exhaustion fails the job
// immediately by surfacing as EmbedExhausted, which jobstore.Fail treats as
// terminal.
func (e *Engine) runEmbed(ctx context.Context, job jobstore.Job) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= e.cfg.EmbedMaxRetries; attempt++ {
		err := e.cfg.Graph.Embed(ctx, job.RepoID)
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.KindOf(err).Retryable() {
			return apperrors.Wrap(apperrors.EmbedExhausted, "embed step failed", err)
		}
		if attempt == e.cfg.EmbedMaxRetries {
			break
		}

		sleep := decorrelatedJitter(rng, e.cfg.EmbedBackoffMin, e.cfg.EmbedBackoffMax, attempt)
		e.cfg.Logger.Warn("jobengine.embed.retry", "job_id", job.JobID, "attempt", attempt, "sleep_ms", sleep.Milliseconds(), "err", err)
		metrics.EmbedRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}

	metrics.EmbedExhausted()
	return apperrors.Wrap(apperrors.EmbedExhausted, "embed step retries exhausted", lastErr)
}

// decorrelatedJitter draws a sleep duration uniformly from
// [0, min(cap, base*2^(attempt-1))], per the glossary's definition.
func decorrelatedJitter(rng *rand.Rand, base, capDur time.Duration, attempt int) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	upper := time.Duration(exp)
	if upper > capDur || upper <= 0 {
		upper = capDur
	}
	if upper <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(upper) + 1))
}

// fail implements spec §4.H's failure handling via internal/jobstore.Fail,
// then returns the job's current record for the caller to inspect.
func (e *Engine) fail(ctx context.Context, job jobstore.Job, stepErr error) (jobstore.Job, error) {
	e.cfg.Logger.Warn("jobengine.step.failed", "job_id", job.JobID, "error", stepErr)
	requeued, failErr := e.cfg.Store.Fail(ctx, job.JobID, stepErr, e.cfg.MaxAttempts)
	if failErr != nil {
		return jobstore.Job{}, failErr
	}
	if requeued {
		metrics.JobRequeued()
	} else {
		metrics.JobFailed()
	}
	return e.cfg.Store.Get(ctx, job.JobID)
}
