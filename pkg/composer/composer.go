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

// Package composer implements the Answer Composer (spec §4.G): assemble a
// prompt from retrieved snippets plus a compact graph summary, call the
// chat provider for a JSON {answer, citations} object, validate citations,
// and fall back to a deterministic summary when the provider is
// unconfigured or answers with low-confidence phrasing. Generalizes the
// teacher's pkg/tools/summary.go + pkg/llm.Provider.Chat call shape into
// this one composition path.
package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/repograph/internal/apperrors"
	"github.com/kraklabs/repograph/internal/metrics"
	"github.com/kraklabs/repograph/pkg/chatclient"
	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/retriever"
)

// ChatClient is the subset of pkg/chatclient.Client the composer depends
// on, declared at point of use so tests can substitute a fake.
type ChatClient interface {
	Configured() bool
	CompleteJSON(ctx context.Context, messages []chatclient.Message) (string, error)
}

// Config configures a Composer.
type Config struct {
	Chat ChatClient
	// MaxSnippetChars truncates each snippet's text before it enters the
	// prompt (spec §4.G: "snippet text truncated per-call to a
	// configured char cap").
	MaxSnippetChars int
	// MaxSummaryEdges bounds how many labeled edges appear in the
	// compact graph summary (spec §4.G's "up to M labeled edges").
	MaxSummaryEdges int
}

// Composer builds an answer from a retrieval pack.
type Composer struct {
	cfg Config
}

// New builds a Composer from cfg, applying defaults.
func New(cfg Config) *Composer {
	if cfg.MaxSnippetChars <= 0 {
		cfg.MaxSnippetChars = 400
	}
	if cfg.MaxSummaryEdges <= 0 {
		cfg.MaxSummaryEdges = 20
	}
	return &Composer{cfg: cfg}
}

// Answer is the composed response to a /query request (spec §6).
type Answer struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
	Warning   string   `json:"warning,omitempty"`
}

// lowConfidencePhrases is the closed vocabulary spec §4.G names as
// indicating the provider itself could not answer confidently.
var lowConfidencePhrases = []string{
	"not enough context",
	"cannot determine",
	"i don't know",
	"insufficient information",
	"unable to determine",
}

type providerJSON struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Compose builds an answer for question from pack, per spec §4.G's
// algorithm.
func (c *Composer) Compose(ctx context.Context, question string, pack retriever.Pack) (Answer, error) {
	validIDs := make(map[string]struct{}, len(pack.Snippets))
	for _, s := range pack.Snippets {
		validIDs[s.ID] = struct{}{}
	}

	if c.cfg.Chat == nil || !c.cfg.Chat.Configured() {
		metrics.ComposerFallback()
		return Answer{Answer: c.deterministicSummary(pack), Citations: topSnippetIDs(pack, len(pack.Snippets))}, nil
	}

	prompt := c.buildPrompt(question, pack)
	raw, err := c.cfg.Chat.CompleteJSON(ctx, []chatclient.Message{
		{Role: "system", Content: "You are a code-repository question answering assistant. Respond with a single JSON object: {\"answer\": string, \"citations\": [string]}. Citations must be node ids drawn only from the provided context."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Answer{}, err
	}

	var parsed providerJSON
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		return Answer{}, apperrors.Wrap(apperrors.UpstreamUnavailable, "malformed chat completion json", jsonErr)
	}

	citations := make([]string, 0, len(parsed.Citations))
	for _, id := range parsed.Citations {
		if _, ok := validIDs[id]; ok {
			citations = append(citations, id)
		}
	}
	if len(citations) == 0 {
		citations = topSnippetIDs(pack, len(pack.Snippets))
	}

	answer := Answer{Answer: parsed.Answer, Citations: citations}
	if isLowConfidence(parsed.Answer) {
		metrics.ComposerFallback()
		summary := c.deterministicSummary(pack)
		answer.Answer = summary + "\n\n" + parsed.Answer
		answer.Warning = "the chat provider returned low-confidence phrasing; a deterministic summary was prepended"
	}
	return answer, nil
}

func topSnippetIDs(pack retriever.Pack, n int) []string {
	if n > len(pack.Snippets) {
		n = len(pack.Snippets)
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, pack.Snippets[i].ID)
	}
	return ids
}

func isLowConfidence(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range lowConfidencePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// deterministicSummary builds spec §4.G's no-provider fallback: a
// bulleted list of the top anchors (snippets) and the top observed
// relationships (edges) in the expanded subgraph.
func (c *Composer) deterministicSummary(pack retriever.Pack) string {
	var sb strings.Builder
	sb.WriteString("Top anchors:\n")
	for _, s := range pack.Snippets {
		fmt.Fprintf(&sb, "- %s (%s) at %s\n", s.Name, s.Kind, s.Path)
	}

	if len(pack.Graph.Edges) > 0 {
		sb.WriteString("\nObserved relationships:\n")
		byName := make(map[string]string, len(pack.Graph.Nodes))
		for _, n := range pack.Graph.Nodes {
			byName[n.ID] = n.Name
		}
		edges := pack.Graph.Edges
		if len(edges) > c.cfg.MaxSummaryEdges {
			edges = edges[:c.cfg.MaxSummaryEdges]
		}
		for _, e := range edges {
			src := nameOrID(byName, e.SourceID)
			dst := nameOrID(byName, e.TargetID)
			fmt.Fprintf(&sb, "- %s --%s--> %s\n", src, e.Kind, dst)
		}
	}
	return sb.String()
}

func nameOrID(byName map[string]string, id string) string {
	if name, ok := byName[id]; ok && name != "" {
		return name
	}
	return id
}

// buildPrompt assembles the prompt text: truncated snippets plus a
// compact graph-context summary, per spec §4.G.
func (c *Composer) buildPrompt(question string, pack retriever.Pack) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", question)

	sb.WriteString("Context snippets:\n")
	for _, s := range pack.Snippets {
		snippet := truncate(s.Snippet, c.cfg.MaxSnippetChars)
		fmt.Fprintf(&sb, "[%s] %s (%s, %s)\n%s\n\n", s.ID, s.Name, s.Kind, s.Path, snippet)
	}

	sb.WriteString(c.graphSummary(pack.Graph))
	return sb.String()
}

func (c *Composer) graphSummary(facts graph.Facts) string {
	histogram := make(map[graph.NodeKind]int)
	for _, n := range facts.Nodes {
		histogram[n.Kind]++
	}
	kinds := make([]graph.NodeKind, 0, len(histogram))
	for k := range histogram {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return histogram[kinds[i]] > histogram[kinds[j]] })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph summary: %d nodes, %d edges\n", len(facts.Nodes), len(facts.Edges))
	sb.WriteString("Top node kinds: ")
	for i, k := range kinds {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%d", k, histogram[k])
	}
	sb.WriteString("\n")

	byID := make(map[string]string, len(facts.Nodes))
	for _, n := range facts.Nodes {
		byID[n.ID] = n.Name
	}
	edges := facts.Edges
	if len(edges) > c.cfg.MaxSummaryEdges {
		edges = edges[:c.cfg.MaxSummaryEdges]
	}
	sb.WriteString("Edges:\n")
	for _, e := range edges {
		fmt.Fprintf(&sb, "- %s --%s--> %s\n", nameOrID(byID, e.SourceID), e.Kind, nameOrID(byID, e.TargetID))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
