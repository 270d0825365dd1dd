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

package jobengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/internal/jobstore"
	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/graphclient"
)

type fakeSandbox struct {
	err error
}

func (f *fakeSandbox) Extract(archivePath, destDir string) error {
	if f.err != nil {
		return f.err
	}
	return os.MkdirAll(destDir, 0o755)
}

type fakeExtractor struct {
	facts *graph.Facts
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, repoDir, repoID string) (*graph.Facts, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}

type fakeGraphClient struct {
	loadErr  error
	embedErr error
	loaded   bool
	embedded bool

	// embedFailures, when set, makes Embed return embedErr this many times
	// before succeeding, simulating a transient upstream recovering mid-retry.
	embedFailures int
	embedCalls    int
}

func (f *fakeGraphClient) Load(ctx context.Context, facts *graph.Facts) (graphclient.LoadResult, error) {
	f.loaded = true
	if f.loadErr != nil {
		return graphclient.LoadResult{}, f.loadErr
	}
	return graphclient.LoadResult{NodesCreated: len(facts.Nodes), EdgesCreated: len(facts.Edges)}, nil
}

func (f *fakeGraphClient) Embed(ctx context.Context, repoID string) error {
	f.embedded = true
	f.embedCalls++
	if f.embedErr == nil {
		return nil
	}
	if f.embedFailures > 0 && f.embedCalls > f.embedFailures {
		return nil
	}
	return f.embedErr
}

func sampleFacts(repoID string) *graph.Facts {
	return &graph.Facts{
		RepoID: repoID,
		Nodes:  []graph.Node{{ID: "n1", Kind: graph.KindFile, Name: "a.go", Path: "a.go"}},
	}
}

func newTestEngine(t *testing.T, dataDir string, gc GraphClient, ex Extractor, sb Sandbox) (*Engine, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := New(Config{
		Store:            store,
		Sandbox:          sb,
		Extractor:        ex,
		Graph:            gc,
		DataDir:          dataDir,
		EnableEmbeddings: true,
		MaxAttempts:      3,
		EmbedMaxRetries:  5,
		EmbedBackoffMin:  time.Millisecond,
		EmbedBackoffMax:  5 * time.Millisecond,
	})
	return engine, store
}

func TestRunOnceFullPipelineCompletes(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, jobstore.ProgressComplete, job.Progress)
	assert.True(t, gc.loaded)
	assert.True(t, gc.embedded)

	artifact := filepath.Join(dataDir, "artifacts", "repo-1", "graph_facts.json")
	_, statErr := os.Stat(artifact)
	assert.NoError(t, statErr)
}

func TestRunOnceGraphOnlySkipsEmbed(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeGraphOnly)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.True(t, gc.loaded)
	assert.False(t, gc.embedded)
}

func TestRunOnceRequeuesOnTransientUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{loadErr: apperrors.New(apperrors.UpstreamUnavailable, "graph store down")}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunOnceFailsImmediatelyOnEmbedExhaustion(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{embedErr: apperrors.New(apperrors.EmbedExhausted, "embedding retries exhausted")}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunOnceEmbedStepRetriesTransientFailureInPlace(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{
		embedErr:      apperrors.New(apperrors.UpstreamUnavailable, "graph store returned server error"),
		embedFailures: 3,
	}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 4, gc.embedCalls)
}

func TestRunOnceEmbedStepFailsImmediatelyOnNonTransientError(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{embedErr: apperrors.New(apperrors.Unauthorized, "graph store rejected credentials")}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 1, gc.embedCalls)
}

func TestRunOnceFailsWhenExtractorProducesNoNodes(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: &graph.Facts{RepoID: "repo-1"}}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
}

func TestRunOnceIsIdempotentOnAlreadyCompletedJob(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	gc := &fakeGraphClient{}
	engine, store := newTestEngine(t, dataDir, gc, &fakeExtractor{facts: sampleFacts("repo-1")}, &fakeSandbox{})

	_, err := store.CreateJob(ctx, "job-1", "repo-1", JobTypeFull)
	require.NoError(t, err)
	_, err = engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)

	job, err := engine.RunOnce(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
}
