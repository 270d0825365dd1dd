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

// Package extractor walks a checked-out repository and produces the
// language-agnostic symbol graph described by package graph (spec §4.B).
//
// Every recognized source file is parsed with tree-sitter (protobuf files
// with a small regex-based reader instead, since no tree-sitter grammar is
// bundled for it) into a file node, its definitions, its imports, and the
// calls between its own definitions. The AST walk itself uses an explicit
// stack rather than recursion so that a maliciously deep syntax tree cannot
// exhaust the goroutine stack.
package extractor

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/repograph/internal/metrics"
	"github.com/kraklabs/repograph/pkg/graph"
)

// DefaultMaxSnippetChars bounds how much of a definition's source text is
// persisted alongside its node.
const DefaultMaxSnippetChars = 400

// defaultExcludedDirs are directory names pruned from the walk: version
// control metadata, dependency caches, and build output, none of which
// contain source a reader would want indexed.
var defaultExcludedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	"target":       {},
	"__pycache__":  {},
	".venv":        {},
	"venv":         {},
	"bin":          {},
	"obj":          {},
	".idea":        {},
	".vscode":      {},
	"out":          {},
}

// Options configures one Extract call.
type Options struct {
	// MaxSnippetChars overrides DefaultMaxSnippetChars when non-zero.
	MaxSnippetChars int
	// ExcludedDirs overrides defaultExcludedDirs when non-nil.
	ExcludedDirs map[string]struct{}
	Logger       *slog.Logger
}

// Extractor parses a checked-out repository tree into graph.Facts.
type Extractor struct {
	registry *Registry
	opts     Options
}

// New builds an Extractor backed by the default language Registry.
func New(opts Options) *Extractor {
	if opts.MaxSnippetChars <= 0 {
		opts.MaxSnippetChars = DefaultMaxSnippetChars
	}
	if opts.ExcludedDirs == nil {
		opts.ExcludedDirs = defaultExcludedDirs
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{registry: NewRegistry(), opts: opts}
}

// Extract walks repoDir and returns the normalized symbol graph for repoID.
// Files with unrecognized extensions are skipped; a file that fails to
// parse is skipped with a logged warning rather than failing the whole run
// (spec §4.B: partial extraction is preferable to an all-or-nothing walk).
func (e *Extractor) Extract(ctx context.Context, repoDir, repoID string) (*graph.Facts, error) {
	paths, err := e.listFiles(repoDir)
	if err != nil {
		return nil, err
	}

	facts := &graph.Facts{RepoID: repoID}
	filesProcessed, filesSkipped := 0, 0

	for _, relPath := range paths {
		ext := filepath.Ext(relPath)
		absPath := filepath.Join(repoDir, relPath)

		raw, readErr := readFileLossy(absPath)
		if readErr != nil {
			e.opts.Logger.Warn("extractor.file.read_error", "path", relPath, "error", readErr)
			filesSkipped++
			metrics.ExtractorFileSkipped()
			continue
		}

		var nodes []graph.Node
		var edges []graph.Edge
		var ok bool

		if ext == ".proto" {
			nodes, edges, ok = e.extractProto(repoID, relPath, raw)
		} else if spec := e.registry.Lookup(ext); spec != nil {
			nodes, edges, ok = e.extractSource(ctx, repoID, relPath, raw, spec)
		} else {
			filesSkipped++
			metrics.ExtractorFileSkipped()
			continue
		}

		if !ok {
			e.opts.Logger.Warn("extractor.file.parse_error", "path", relPath)
			filesSkipped++
			metrics.ExtractorFileSkipped()
			continue
		}

		facts.Nodes = append(facts.Nodes, nodes...)
		facts.Edges = append(facts.Edges, edges...)
		filesProcessed++
		metrics.ExtractorFileProcessed()
	}

	facts.Normalize()
	e.opts.Logger.Info("extractor.run.complete",
		"repo_id", repoID, "files_processed", filesProcessed, "files_skipped", filesSkipped,
		"nodes", len(facts.Nodes), "edges", len(facts.Edges))
	return facts, nil
}

// listFiles returns every non-excluded file path under repoDir, relative to
// repoDir and slash-separated, sorted for deterministic processing order.
func (e *Extractor) listFiles(repoDir string) ([]string, error) {
	var paths []string
	walkErr := filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, excluded := e.opts.ExcludedDirs[d.Name()]; excluded && path != repoDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(repoDir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(paths)
	return paths, nil
}

// definitionRange pairs a resolved definition node with the byte range its
// AST node spans, used to resolve each call's nearest enclosing definition.
type definitionRange struct {
	Node      graph.Node
	StartByte uint32
	EndByte   uint32
}

func (e *Extractor) extractSource(ctx context.Context, repoID, relPath string, content []byte, spec *LanguageSpec) ([]graph.Node, []graph.Edge, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return nil, nil, false
	}
	root := tree.RootNode()
	if root == nil {
		return nil, nil, false
	}

	walked := walkTree(root, content, spec)

	fileNode := graph.NewFileNode(repoID, relPath)
	nodes := []graph.Node{fileNode}
	var edges []graph.Edge

	symbolTable := make(map[string]string, len(walked.Definitions))
	defRanges := make([]definitionRange, 0, len(walked.Definitions))

	for _, d := range walked.Definitions {
		snippet := truncateSnippet(nodeText(d.Node, content), e.opts.MaxSnippetChars)
		defNode := graph.NewDefinitionNode(repoID, relPath, d.Name, d.Kind, snippet)
		nodes = append(nodes, defNode)
		edges = append(edges, graph.Edge{SourceID: fileNode.ID, TargetID: defNode.ID, Kind: graph.EdgeContains})
		symbolTable[d.Name] = defNode.ID
		defRanges = append(defRanges, definitionRange{Node: defNode, StartByte: d.Node.StartByte(), EndByte: d.Node.EndByte()})
	}

	for _, imp := range walked.Imports {
		path := normalizeImportPath(nodeText(imp.Node, content))
		if path == "" {
			continue
		}
		modNode := graph.NewModuleNode(repoID, path)
		nodes = append(nodes, modNode)
		edges = append(edges, graph.Edge{SourceID: fileNode.ID, TargetID: modNode.ID, Kind: graph.EdgeImports})
	}

	for _, call := range walked.Calls {
		targetID, known := symbolTable[call.CalleeName]
		if !known {
			continue
		}
		enclosingID := nearestEnclosing(defRanges, call.StartByte, fileNode.ID)
		if enclosingID == targetID {
			continue
		}
		edges = append(edges, graph.Edge{SourceID: enclosingID, TargetID: targetID, Kind: graph.EdgeCalls})
	}

	return nodes, edges, true
}

// nearestEnclosing returns the id of the definition whose byte range both
// contains pos and is the smallest such range (the innermost enclosing
// definition), or fallbackID (the file node) if no definition contains pos.
func nearestEnclosing(defs []definitionRange, pos uint32, fallbackID string) string {
	best := fallbackID
	bestSpan := uint32(0)
	found := false
	for _, d := range defs {
		if pos < d.StartByte || pos >= d.EndByte {
			continue
		}
		span := d.EndByte - d.StartByte
		if !found || span < bestSpan {
			best = d.Node.ID
			bestSpan = span
			found = true
		}
	}
	return best
}

func truncateSnippet(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}

// readFileLossy reads a file and coerces any invalid UTF-8 byte sequence to
// the replacement character, so a binary or mis-encoded file never aborts
// the walk.
func readFileLossy(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(raw) {
		return raw, nil
	}
	return []byte(strings.ToValidUTF8(string(raw), "�")), nil
}
