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

// Command repograph-server runs the HTTP edge: multipart archive ingest,
// job status, repo status, and question answering (spec §6).
package main

import (
	"context"
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
	"github.com/kraklabs/repograph/internal/httpapi"
	"github.com/kraklabs/repograph/internal/jobstore"
	"github.com/kraklabs/repograph/pkg/chatclient"
	"github.com/kraklabs/repograph/pkg/composer"
	"github.com/kraklabs/repograph/pkg/embedclient"
	"github.com/kraklabs/repograph/pkg/graphclient"
	"github.com/kraklabs/repograph/pkg/retriever"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	configPath := flag.String("config", "", "Not read: configuration always comes from ./.repograph/config.yaml and the environment")
	flag.Parse()
	_ = configPath // layered config.Load() reads ./.repograph/config.yaml directly; flag documents the convention

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
	logger.Info("repograph-server.config", "config", cfg.String())

	store, err := jobstore.Open(cfg.JobDBDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open job store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	graph := graphclient.New(graphclient.Config{
		BaseURL: cfg.GraphStoreURL,
		Logger:  logger,
	})

	var embedder retriever.Embedder
	if cfg.EnableEmbeddings && cfg.EmbedProviderURL != "" {
		embedder = embedclient.New(embedclient.Config{
			BaseURL:    cfg.EmbedProviderURL,
			APIKey:     cfg.EmbedAPIKey,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDimensions,
			MaxRetries: cfg.EmbedMaxRetries,
			BackoffMin: cfg.EmbedBackoffBaseDuration(),
			BackoffMax: cfg.EmbedBackoffMaxDuration(),
			Timeout:    cfg.EmbedTimeout(),
			Logger:     logger,
		})
	}

	ret := retriever.New(retriever.Config{
		Graph:            graph,
		Embedder:         embedder,
		EnableEmbeddings: cfg.EnableEmbeddings,
		Logger:           logger,
	})

	chat := chatclient.New(chatclient.Config{
		BaseURL: cfg.ChatProviderURL,
		APIKey:  cfg.ChatAPIKey,
		Model:   cfg.ChatModel,
		Timeout: cfg.ChatTimeout(),
		Logger:  logger,
	})

	comp := composer.New(composer.Config{
		Chat:            chat,
		MaxSnippetChars: cfg.MaxSnippetChars,
	})

	uploader := httpapi.FileUploader{DataDir: cfg.DataDir}

	server := httpapi.New(store, graph, ret, comp, uploader, httpapi.Config{
		MaxZipMB: cfg.MaxZipMB,
		TopK:     cfg.TopK,
	}, logger)

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

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
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

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http.shutdown.error", "err", err)
		}
	}()

	logger.Info("repograph-server.http.start", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Error: http server: %v\n", err)
		os.Exit(1)
	}
}
