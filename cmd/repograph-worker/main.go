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

// Command repograph-worker polls internal/jobstore for queued jobs and
// drives each through the Job Engine (spec §4.H) until it completes,
// fails, or is requeued for a later pass.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/repograph/internal/config"
	"github.com/kraklabs/repograph/internal/jobstore"
	"github.com/kraklabs/repograph/pkg/extractor"
	"github.com/kraklabs/repograph/pkg/graphclient"
	"github.com/kraklabs/repograph/pkg/jobengine"
	"github.com/kraklabs/repograph/pkg/sandbox"
)

// pollInterval is how often an idle worker checks for a newly queued job.
// No collaborator exposes a queue-push notification, so polling is the
// only option (spec §5's "a single worker claims and runs one job to
// completion before claiming the next").
const pollInterval = 2 * time.Second

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("repograph-worker.config", "config", cfg.String())

	store, err := jobstore.Open(cfg.JobDBDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open job store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sb := sandbox.New(sandbox.Limits{
		MaxCompressedBytes:   cfg.MaxZipMB * 1024 * 1024,
		MaxUncompressedBytes: cfg.MaxTotalUnzippedMB * 1024 * 1024,
		MaxFiles:             cfg.MaxFiles,
	}, logger)

	ex := extractor.New(extractor.Options{
		MaxSnippetChars: cfg.MaxSnippetChars,
		Logger:          logger,
	})

	graph := graphclient.New(graphclient.Config{
		BaseURL: cfg.GraphStoreURL,
		Logger:  logger,
	})

	engine := jobengine.New(jobengine.Config{
		Store:            store,
		Sandbox:          sb,
		Extractor:        ex,
		Graph:            graph,
		DataDir:          cfg.DataDir,
		EnableEmbeddings: cfg.EnableEmbeddings,
		MaxAttempts:      cfg.MaxAttempts,
		EmbedMaxRetries:  cfg.EmbedMaxRetries,
		EmbedBackoffMin:  cfg.EmbedBackoffBaseDuration(),
		EmbedBackoffMax:  cfg.EmbedBackoffMaxDuration(),
		Logger:           logger,
	})

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			logger.Info("metrics.http.start", "addr", cfg.MetricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("repograph-worker.poll.start", "interval", pollInterval)
	runPollLoop(ctx, store, engine, logger)
}

// runPollLoop claims and runs one queued job per pass, sleeping
// pollInterval whenever none is available. RunOnce always runs a claimed
// job to completion, failure, or requeue before the next claim.
func runPollLoop(ctx context.Context, store *jobstore.Store, engine *jobengine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("repograph-worker.poll.stop")
			return
		default:
		}

		jobID, ok, err := nextQueuedJobID(ctx, store)
		if err != nil {
			logger.Warn("repograph-worker.poll.error", "err", err)
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if !ok {
			sleepOrDone(ctx, pollInterval)
			continue
		}

		if _, err := engine.RunOnce(ctx, jobID); err != nil {
			logger.Warn("repograph-worker.run.error", "job_id", jobID, "err", err)
		}
	}
}

// nextQueuedJobID finds the oldest queued job's id, if any.
func nextQueuedJobID(ctx context.Context, store *jobstore.Store) (string, bool, error) {
	jobID, err := store.NextQueued(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return jobID, true, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
