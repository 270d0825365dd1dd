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
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kraklabs/repograph/pkg/graph"
)

// FallbackKind names a wrapper-node shape the definition walk must see
// through to find the symbol name, per spec §4.B step 4.
type FallbackKind int

const (
	// FallbackNone: the node's NameField carries the symbol name directly.
	FallbackNone FallbackKind = iota
	// FallbackDecoratorWrapper: the matched node wraps an inner definition
	// (e.g. Python's decorated_definition wrapping function_definition);
	// unwrap to the inner node's own name field.
	FallbackDecoratorWrapper
	// FallbackShortVarFuncLiteral: a short variable declaration whose
	// right-hand side is a function literal (Go's `foo := func() {...}`);
	// the name comes from the left-hand identifier, not NameField.
	FallbackShortVarFuncLiteral
	// FallbackDeclaratorArrowFunction: a variable_declarator whose value is
	// an arrow/function expression (JS/TS `const foo = () => {...}`); the
	// name comes from the declarator's own "name" field.
	FallbackDeclaratorArrowFunction
)

// DefinitionSpec is the per-language triple (syntax-kind, graph-kind,
// name-field) from spec §GLOSSARY, extended with the fallback a node of
// this syntax-kind may require to resolve its name.
type DefinitionSpec struct {
	NodeType  string
	GraphKind graph.NodeKind
	NameField string
	Fallback  FallbackKind
}

// LanguageSpec is the static per-language registration spec §9's redesign
// note calls for, replacing the teacher's per-language hand-written walker
// functions with declarative tables driving one shared walker.
type LanguageSpec struct {
	Name        string
	Extensions  []string
	Language    func() *sitter.Language
	Definitions []DefinitionSpec
	ImportKinds map[string]struct{}
	CallKind    string
	CalleeField string
}

// Registry maps a file extension to the LanguageSpec that parses it.
// Unknown extensions are skipped by the extractor (spec §4.B).
type Registry struct {
	byExtension map[string]*LanguageSpec
}

// NewRegistry builds the static language registry recognized by spec §4.B:
// python, javascript, typescript, tsx, java, go, rust.
func NewRegistry() *Registry {
	langs := []*LanguageSpec{
		goSpec(),
		pythonSpec(),
		javascriptSpec(),
		typescriptSpec(),
		tsxSpec(),
		javaSpec(),
		rustSpec(),
	}

	r := &Registry{byExtension: make(map[string]*LanguageSpec)}
	for _, l := range langs {
		for _, ext := range l.Extensions {
			r.byExtension[ext] = l
		}
	}
	return r
}

// Lookup returns the LanguageSpec registered for ext (including the dot,
// e.g. ".go"), or nil if the extension isn't recognized.
func (r *Registry) Lookup(ext string) *LanguageSpec {
	return r.byExtension[ext]
}

func goSpec() *LanguageSpec {
	return &LanguageSpec{
		Name:       "go",
		Extensions: []string{".go"},
		Language:   golang.GetLanguage,
		Definitions: []DefinitionSpec{
			{NodeType: "function_declaration", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "method_declaration", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "type_spec", GraphKind: graph.KindClass, NameField: "name"},
			{NodeType: "short_var_declaration", GraphKind: graph.KindFunction, Fallback: FallbackShortVarFuncLiteral},
		},
		ImportKinds: set("import_spec"),
		CallKind:    "call_expression",
		CalleeField: "function",
	}
}

func pythonSpec() *LanguageSpec {
	return &LanguageSpec{
		Name:       "python",
		Extensions: []string{".py"},
		Language:   python.GetLanguage,
		Definitions: []DefinitionSpec{
			{NodeType: "function_definition", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "class_definition", GraphKind: graph.KindClass, NameField: "name"},
			{NodeType: "decorated_definition", Fallback: FallbackDecoratorWrapper},
		},
		ImportKinds: set("import_statement", "import_from_statement"),
		CallKind:    "call",
		CalleeField: "function",
	}
}

func javascriptSpec() *LanguageSpec {
	return &LanguageSpec{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Language:   javascript.GetLanguage,
		Definitions: []DefinitionSpec{
			{NodeType: "function_declaration", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "method_definition", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "class_declaration", GraphKind: graph.KindClass, NameField: "name"},
			{NodeType: "variable_declarator", Fallback: FallbackDeclaratorArrowFunction},
		},
		ImportKinds: set("import_statement"),
		CallKind:    "call_expression",
		CalleeField: "function",
	}
}

func typescriptSpec() *LanguageSpec {
	s := javascriptSpec()
	s.Name = "typescript"
	s.Extensions = []string{".ts"}
	s.Language = typescript.GetLanguage
	s.Definitions = append(s.Definitions,
		DefinitionSpec{NodeType: "interface_declaration", GraphKind: graph.KindClass, NameField: "name"},
	)
	return s
}

func tsxSpec() *LanguageSpec {
	s := typescriptSpec()
	s.Name = "tsx"
	s.Extensions = []string{".tsx"}
	s.Language = tsx.GetLanguage
	return s
}

func javaSpec() *LanguageSpec {
	return &LanguageSpec{
		Name:       "java",
		Extensions: []string{".java"},
		Language:   java.GetLanguage,
		Definitions: []DefinitionSpec{
			{NodeType: "method_declaration", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "constructor_declaration", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "class_declaration", GraphKind: graph.KindClass, NameField: "name"},
			{NodeType: "interface_declaration", GraphKind: graph.KindClass, NameField: "name"},
		},
		ImportKinds: set("import_declaration"),
		CallKind:    "method_invocation",
		CalleeField: "name",
	}
}

func rustSpec() *LanguageSpec {
	return &LanguageSpec{
		Name:       "rust",
		Extensions: []string{".rs"},
		Language:   rust.GetLanguage,
		Definitions: []DefinitionSpec{
			{NodeType: "function_item", GraphKind: graph.KindFunction, NameField: "name"},
			{NodeType: "struct_item", GraphKind: graph.KindClass, NameField: "name"},
			{NodeType: "trait_item", GraphKind: graph.KindClass, NameField: "name"},
		},
		ImportKinds: set("use_declaration"),
		CallKind:    "call_expression",
		CalleeField: "function",
	}
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		m[i] = struct{}{}
	}
	return m
}
