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
	"regexp"

	"github.com/kraklabs/repograph/pkg/graph"
)

// No bundled tree-sitter grammar covers protobuf, so .proto files get a
// line-oriented regex reader instead of an AST walk. Protobuf has no call
// expressions, so this only ever emits file/contains/imports edges, never
// calls edges.
var (
	protoMessageRe = regexp.MustCompile(`(?m)^\s*message\s+(\w+)\s*\{`)
	protoServiceRe = regexp.MustCompile(`(?m)^\s*service\s+(\w+)\s*\{`)
	protoRPCRe     = regexp.MustCompile(`(?m)^\s*rpc\s+(\w+)\s*\(`)
	protoImportRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:public\s+|weak\s+)?"([^"]+)"\s*;`)
)

func (e *Extractor) extractProto(repoID, relPath string, content []byte) ([]graph.Node, []graph.Edge, bool) {
	text := string(content)

	fileNode := graph.NewFileNode(repoID, relPath)
	nodes := []graph.Node{fileNode}
	var edges []graph.Edge

	emit := func(name string, kind graph.NodeKind, matchStart, matchEnd int) {
		snippet := truncateSnippet(text[matchStart:min(matchEnd, len(text))], e.opts.MaxSnippetChars)
		n := graph.NewDefinitionNode(repoID, relPath, name, kind, snippet)
		nodes = append(nodes, n)
		edges = append(edges, graph.Edge{SourceID: fileNode.ID, TargetID: n.ID, Kind: graph.EdgeContains})
	}

	for _, m := range protoMessageRe.FindAllStringSubmatchIndex(text, -1) {
		emit(text[m[2]:m[3]], graph.KindClass, m[0], m[1])
	}
	for _, m := range protoServiceRe.FindAllStringSubmatchIndex(text, -1) {
		emit(text[m[2]:m[3]], graph.KindClass, m[0], m[1])
	}
	for _, m := range protoRPCRe.FindAllStringSubmatchIndex(text, -1) {
		emit(text[m[2]:m[3]], graph.KindFunction, m[0], m[1])
	}
	for _, m := range protoImportRe.FindAllStringSubmatchIndex(text, -1) {
		path := text[m[2]:m[3]]
		modNode := graph.NewModuleNode(repoID, path)
		nodes = append(nodes, modNode)
		edges = append(edges, graph.Edge{SourceID: fileNode.ID, TargetID: modNode.ID, Kind: graph.EdgeImports})
	}

	return nodes, edges, true
}
