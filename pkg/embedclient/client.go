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

// Package embedclient batch-embeds text via an external HTTP+JSON provider
// (spec §4.D), generalizing the teacher's in-process per-entity embedding
// retry loop (pkg/ingestion/embedding.go's computeBackoffWithJitter and
// isRetryableEmbeddingError) into a single batch call per step.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/internal/metrics"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client batch-embeds strings against an OpenAI-compatible
// POST {base}/v1/embeddings endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client from cfg, applying spec §4.D's documented defaults.
func New(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed embeds texts in a single batch call, preserving input order.
// Retries follow spec §4.D's decorrelated full-jitter policy: each attempt
// sleeps uniform(0, min(cap, base*2^(attempt-1))) before the next try.
// A dimensions mismatch against the client's configured Dimensions (when
// non-zero) surfaces as BadRequest — dimension pinning is enforced only by
// this convention, not by an external schema (spec §9 open question).
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		vectors, err := c.embedOnce(ctx, texts)
		if err == nil {
			if c.cfg.Dimensions > 0 {
				for _, v := range vectors {
					if len(v) != c.cfg.Dimensions {
						return nil, apperrors.New(apperrors.BadRequest,
							fmt.Sprintf("embedding dimension %d does not match configured %d", len(v), c.cfg.Dimensions))
					}
				}
			}
			return vectors, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		sleep := decorrelatedJitter(rng, c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)
		c.cfg.Logger.Warn("embedding.retry", "attempt", attempt, "sleep_ms", sleep.Milliseconds(), "err", err)
		metrics.EmbedRetry()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	metrics.EmbedExhausted()
	return nil, apperrors.Wrap(apperrors.EmbedExhausted, "embedding retries exhausted", lastErr)
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Model: c.cfg.Model, Input: texts, Dimensions: c.cfg.Dimensions}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, "embedding provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, "read embedding response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.New(apperrors.Unauthorized, "embedding provider rejected credentials").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}
	if isRetryableStatus(resp.StatusCode) {
		return nil, apperrors.New(apperrors.UpstreamUnavailable, "embedding provider returned a retryable status").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.UpstreamRejected, "embedding provider rejected request").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, "malformed embedding response json", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// isRetryable reports whether err belongs to spec §4.D's retryable class:
// network errors, timeouts, malformed JSON, and the retryable HTTP codes
// (already folded into UpstreamUnavailable by embedOnce).
func isRetryable(err error) bool {
	return apperrors.KindOf(err) == apperrors.UpstreamUnavailable
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
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

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
