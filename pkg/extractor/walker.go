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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/repograph/pkg/graph"
)

// definitionMatch is a resolved symbol definition: the textual name, the
// graph kind it should emit, and the AST node whose byte range anchors its
// id, snippet, and "nearest enclosing definition" calculus for call
// resolution.
type definitionMatch struct {
	Name string
	Kind graph.NodeKind
	Node *sitter.Node
}

// importMatch is a raw import-kind node awaiting textual normalization.
type importMatch struct {
	Node *sitter.Node
}

// callMatch is a raw call-expression node awaiting callee resolution.
type callMatch struct {
	Node       *sitter.Node
	CalleeNode *sitter.Node
	CalleeName string
	StartByte  uint32
}

// walkResult is the raw output of one explicit-worklist pass over a file's
// syntax tree, before ids are assigned or calls are resolved.
type walkResult struct {
	Definitions []definitionMatch
	Imports     []importMatch
	Calls       []callMatch
}

// walkTree traverses root with an explicit stack (spec §9: recursion over
// syntax trees is converted to an explicit worklist to bound stack usage on
// adversarial inputs), collecting every definition, import, and call node
// the language's spec recognizes.
func walkTree(root *sitter.Node, content []byte, spec *LanguageSpec) walkResult {
	var result walkResult

	stack := make([]*sitter.Node, 0, 64)
	stack = append(stack, root)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		nodeType := n.Type()

		if defSpec, ok := lookupDefinitionSpec(spec, nodeType); ok {
			result.Definitions = append(result.Definitions, resolveDefinition(n, content, defSpec)...)
		}

		if _, ok := spec.ImportKinds[nodeType]; ok {
			result.Imports = append(result.Imports, importMatch{Node: n})
		}

		if nodeType == spec.CallKind {
			if cm, ok := resolveCall(n, content, spec); ok {
				result.Calls = append(result.Calls, cm)
			}
		}

		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}

	return result
}

func lookupDefinitionSpec(spec *LanguageSpec, nodeType string) (DefinitionSpec, bool) {
	for _, d := range spec.Definitions {
		if d.NodeType == nodeType {
			return d, true
		}
	}
	return DefinitionSpec{}, false
}

// resolveDefinition resolves one matched definition node into zero or more
// definitionMatch records, applying the node's documented fallback.
func resolveDefinition(n *sitter.Node, content []byte, spec DefinitionSpec) []definitionMatch {
	switch spec.Fallback {
	case FallbackDecoratorWrapper:
		return resolveDecoratorWrapper(n, content)
	case FallbackShortVarFuncLiteral:
		return resolveShortVarFuncLiteral(n, content)
	case FallbackDeclaratorArrowFunction:
		return resolveDeclaratorArrowFunction(n, content)
	default:
		nameNode := n.ChildByFieldName(spec.NameField)
		if nameNode == nil {
			return nil
		}
		name := nodeText(nameNode, content)
		if name == "" {
			return nil
		}
		return []definitionMatch{{Name: name, Kind: spec.GraphKind, Node: n}}
	}
}

// resolveDecoratorWrapper unwraps a decorator wrapper node (e.g. Python's
// decorated_definition) to the inner function/class definition it wraps.
func resolveDecoratorWrapper(n *sitter.Node, content []byte) []definitionMatch {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		var kind graph.NodeKind
		switch child.Type() {
		case "function_definition":
			kind = graph.KindFunction
		case "class_definition":
			kind = graph.KindClass
		default:
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		return []definitionMatch{{Name: nodeText(nameNode, content), Kind: kind, Node: child}}
	}
	return nil
}

// resolveShortVarFuncLiteral handles Go's `foo := func() {...}` shape: a
// short variable declaration whose right-hand side is a function literal.
// Left and right expressions are paired positionally.
func resolveShortVarFuncLiteral(n *sitter.Node, content []byte) []definitionMatch {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return nil
	}

	names := namedChildren(left)
	values := namedChildren(right)
	var matches []definitionMatch
	for i := 0; i < len(names) && i < len(values); i++ {
		if values[i].Type() != "func_literal" {
			continue
		}
		name := nodeText(names[i], content)
		if name == "" {
			continue
		}
		matches = append(matches, definitionMatch{Name: name, Kind: graph.KindFunction, Node: values[i]})
	}
	return matches
}

// resolveDeclaratorArrowFunction handles JS/TS's `const foo = () => {...}`
// shape: a variable_declarator whose value is an arrow/function expression.
func resolveDeclaratorArrowFunction(n *sitter.Node, content []byte) []definitionMatch {
	nameNode := n.ChildByFieldName("name")
	valueNode := n.ChildByFieldName("value")
	if nameNode == nil || valueNode == nil {
		return nil
	}
	switch valueNode.Type() {
	case "arrow_function", "function", "function_expression":
		name := nodeText(nameNode, content)
		if name == "" {
			return nil
		}
		return []definitionMatch{{Name: name, Kind: graph.KindFunction, Node: valueNode}}
	default:
		return nil
	}
}

// resolveCall extracts the callee identifier from a call-expression node's
// callee field, per spec §4.B step 6.
func resolveCall(n *sitter.Node, content []byte, spec *LanguageSpec) (callMatch, bool) {
	calleeNode := n.ChildByFieldName(spec.CalleeField)
	if calleeNode == nil {
		return callMatch{}, false
	}
	name := calleeIdentifier(calleeNode, content)
	if name == "" {
		return callMatch{}, false
	}
	return callMatch{Node: n, CalleeNode: calleeNode, CalleeName: name, StartByte: n.StartByte()}, true
}

// calleeIdentifier resolves the bare identifier a callee expression refers
// to. For a plain identifier this is its own text; for a member/field
// access expression (e.g. `pkg.Foo(...)`, `obj.method(...)`) it is the
// rightmost component, matching the local (same-file) symbol table the
// extractor resolves calls against.
func calleeIdentifier(n *sitter.Node, content []byte) string {
	switch n.Type() {
	case "identifier", "field_identifier", "property_identifier", "type_identifier":
		return nodeText(n, content)
	case "selector_expression", "member_expression", "field_access", "scoped_identifier", "field_expression", "attribute":
		if field := n.ChildByFieldName("field"); field != nil {
			return nodeText(field, content)
		}
		if prop := n.ChildByFieldName("property"); prop != nil {
			return nodeText(prop, content)
		}
		if name := n.ChildByFieldName("name"); name != nil {
			return nodeText(name, content)
		}
		// Fall back to the last named child's text.
		if cc := n.NamedChildCount(); cc > 0 {
			return nodeText(n.NamedChild(int(cc-1)), content)
		}
		return ""
	default:
		return ""
	}
}

func nodeText(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// normalizeImportPath applies the textual normalization spec §4.B step 5
// describes: strip leading keywords, take the first token, strip trailing
// punctuation and quotes.
func normalizeImportPath(raw string) string {
	s := strings.TrimSpace(raw)
	for _, kw := range []string{"import", "from", "use", "package"} {
		if strings.HasPrefix(s, kw+" ") {
			s = strings.TrimSpace(strings.TrimPrefix(s, kw))
			break
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	token := fields[0]
	token = strings.Trim(token, `"'` + ";`(){}")
	return token
}
