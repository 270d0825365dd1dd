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

// Package chatclient speaks HTTP+JSON to the external chat/completion
// provider the Answer Composer calls (spec §4.G), generalizing the
// teacher's pkg/llm.Provider interface (Generate/Chat/Name/Models) down
// to the single OpenAI-compatible HTTP shape the collaborator contract
// names: POST {base}/v1/chat/completions with
// {model, messages[], temperature, response_format}.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kraklabs/repograph/internal/apperrors"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether a provider base URL was set. The Answer
// Composer falls back to a deterministic summary when this is false,
// per spec §4.G.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// CompleteJSON requests a chat completion constrained to JSON object
// output (response_format: {"type": "json_object"}) and returns the raw
// assistant message content, which callers unmarshal into their own
// answer/citations shape.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.UpstreamUnavailable, "chat provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.UpstreamUnavailable, "read chat response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", apperrors.New(apperrors.Unauthorized, "chat provider rejected credentials").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", apperrors.New(apperrors.UpstreamUnavailable, "chat provider unavailable or rate limited").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}
	if resp.StatusCode >= 400 {
		return "", apperrors.New(apperrors.UpstreamRejected, "chat provider rejected request").
			WithDetail(fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body, 500)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperrors.Wrap(apperrors.UpstreamUnavailable, "malformed chat response json", err)
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.New(apperrors.UpstreamUnavailable, "chat provider returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
