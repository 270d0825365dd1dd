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

package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/pkg/chatclient"
	"github.com/kraklabs/repograph/pkg/graph"
	"github.com/kraklabs/repograph/pkg/retriever"
)

type fakeChat struct {
	configured bool
	response   string
	err        error
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) CompleteJSON(ctx context.Context, messages []chatclient.Message) (string, error) {
	return f.response, f.err
}

func samplePack() retriever.Pack {
	return retriever.Pack{
		Snippets: []retriever.Snippet{
			{ID: "n1", Name: "Helper", Kind: graph.KindFunction, Path: "a.go", Snippet: "func Helper() {}"},
			{ID: "n2", Name: "Main", Kind: graph.KindFunction, Path: "a.go", Snippet: "func Main() {}"},
		},
		Graph: graph.Facts{
			Nodes: []graph.Node{
				{ID: "n1", Name: "Helper", Kind: graph.KindFunction},
				{ID: "n2", Name: "Main", Kind: graph.KindFunction},
			},
			Edges: []graph.Edge{{SourceID: "n2", TargetID: "n1", Kind: graph.EdgeCalls}},
		},
	}
}

func TestComposeUnconfiguredProducesDeterministicSummary(t *testing.T) {
	c := New(Config{Chat: &fakeChat{configured: false}})
	answer, err := c.Compose(context.Background(), "what calls Helper", samplePack())
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "Helper")
	assert.Contains(t, answer.Answer, "Main")
	assert.ElementsMatch(t, []string{"n1", "n2"}, answer.Citations)
}

func TestComposeValidatesCitationsDroppingInvalid(t *testing.T) {
	chat := &fakeChat{configured: true, response: `{"answer":"Main calls Helper","citations":["n1","bogus"]}`}
	c := New(Config{Chat: chat})
	answer, err := c.Compose(context.Background(), "what calls Helper", samplePack())
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, answer.Citations)
	assert.Equal(t, "Main calls Helper", answer.Answer)
	assert.Empty(t, answer.Warning)
}

func TestComposeBackfillsWhenAllCitationsInvalid(t *testing.T) {
	chat := &fakeChat{configured: true, response: `{"answer":"x","citations":["bogus1","bogus2"]}`}
	c := New(Config{Chat: chat})
	answer, err := c.Compose(context.Background(), "q", samplePack())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, answer.Citations)
}

func TestComposeDetectsLowConfidencePhrasing(t *testing.T) {
	chat := &fakeChat{configured: true, response: `{"answer":"There is not enough context to answer.","citations":["n1"]}`}
	c := New(Config{Chat: chat})
	answer, err := c.Compose(context.Background(), "q", samplePack())
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Warning)
	assert.Contains(t, answer.Answer, "Top anchors")
	assert.Contains(t, answer.Answer, "not enough context")
}

func TestComposeSurfacesMalformedProviderJSON(t *testing.T) {
	chat := &fakeChat{configured: true, response: `not json`}
	c := New(Config{Chat: chat})
	_, err := c.Compose(context.Background(), "q", samplePack())
	require.Error(t, err)
}
