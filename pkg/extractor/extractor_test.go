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

package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/pkg/graph"
)

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func nodeByName(facts *graph.Facts, name string) (graph.Node, bool) {
	for _, n := range facts.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return graph.Node{}, false
}

func hasEdge(facts *graph.Facts, src, dst string, kind graph.EdgeKind) bool {
	for _, e := range facts.Edges {
		if e.SourceID == src && e.TargetID == dst && e.Kind == kind {
			return true
		}
	}
	return false
}

func TestExtractGoFunctionsAndCalls(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"main.go": `package main

import "fmt"

func helper() {
	fmt.Println("hi")
}

func main() {
	helper()
}
`,
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo1")
	require.NoError(t, err)
	require.NoError(t, facts.Validate())

	fileNode, ok := nodeByName(facts, "main.go")
	require.True(t, ok)

	helperNode, ok := nodeByName(facts, "helper")
	require.True(t, ok)
	assert.Equal(t, graph.KindFunction, helperNode.Kind)

	mainNode, ok := nodeByName(facts, "main")
	require.True(t, ok)

	assert.True(t, hasEdge(facts, fileNode.ID, helperNode.ID, graph.EdgeContains))
	assert.True(t, hasEdge(facts, fileNode.ID, mainNode.ID, graph.EdgeContains))
	assert.True(t, hasEdge(facts, mainNode.ID, helperNode.ID, graph.EdgeCalls))
}

func TestExtractPythonDecoratedDefinition(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"app.py": `import os

@staticmethod
def handler():
    return os.getcwd()
`,
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo-py")
	require.NoError(t, err)

	n, ok := nodeByName(facts, "handler")
	require.True(t, ok, "decorated function should still be extracted")
	assert.Equal(t, graph.KindFunction, n.Kind)
}

func TestExtractJavaScriptArrowFunctionDeclarator(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"index.js": `const greet = () => {
  return "hi";
};

function main() {
  greet();
}
`,
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo-js")
	require.NoError(t, err)

	greet, ok := nodeByName(facts, "greet")
	require.True(t, ok)
	assert.Equal(t, graph.KindFunction, greet.Kind)

	main, ok := nodeByName(facts, "main")
	require.True(t, ok)
	assert.True(t, hasEdge(facts, main.ID, greet.ID, graph.EdgeCalls))
}

func TestExtractProtoMessagesAndServices(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"service.proto": `syntax = "proto3";

import "google/protobuf/empty.proto";

message Request {
  string id = 1;
}

service Greeter {
  rpc SayHello(Request) returns (Request);
}
`,
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo-proto")
	require.NoError(t, err)

	_, ok := nodeByName(facts, "Request")
	assert.True(t, ok)
	_, ok = nodeByName(facts, "Greeter")
	assert.True(t, ok)
	_, ok = nodeByName(facts, "SayHello")
	assert.True(t, ok)
	_, ok = nodeByName(facts, "google/protobuf/empty.proto")
	assert.True(t, ok)
}

func TestExtractSkipsUnrecognizedExtensions(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"notes.txt": "just some notes",
		"main.go":   "package main\n",
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo-skip")
	require.NoError(t, err)

	_, ok := nodeByName(facts, "notes.txt")
	assert.False(t, ok)
	_, ok = nodeByName(facts, "main.go")
	assert.True(t, ok)
}

func TestExtractIsDeterministic(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"a.go": "package main\n\nfunc A() {}\nfunc B() { A() }\n",
		"b.go": "package main\n\nfunc C() {}\n",
	})

	ex := New(Options{})
	f1, err := ex.Extract(context.Background(), dir, "repo-det")
	require.NoError(t, err)
	f2, err := ex.Extract(context.Background(), dir, "repo-det")
	require.NoError(t, err)

	b1, err := f1.MarshalIndent()
	require.NoError(t, err)
	b2, err := f2.MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestExtractExcludesVendorDirectories(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"main.go":             "package main\n",
		"vendor/lib/thing.go": "package lib\n\nfunc Ignored() {}\n",
		"node_modules/x/i.js": "function ignored() {}\n",
	})

	ex := New(Options{})
	facts, err := ex.Extract(context.Background(), dir, "repo-excl")
	require.NoError(t, err)

	_, ok := nodeByName(facts, "Ignored")
	assert.False(t, ok)
	_, ok = nodeByName(facts, "ignored")
	assert.False(t, ok)
}
