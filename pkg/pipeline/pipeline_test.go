// Copyright 2024 The kubegems.io Authors
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

package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func act(id string, inputs map[string]any) *Node {
	return &Node{ID: id, Type: NodeTypeActivity, Name: id, Component: "echo", Inputs: inputs}
}

func chain(t *testing.T, p *Pipeline, ids ...string) {
	t.Helper()
	for i := 0; i+1 < len(ids); i++ {
		require.NoError(t, p.Link(ids[i], ids[i+1]))
	}
}

// start -> a -> pg -> [b, sub(c)] -> cg -> d -> end
func samplePipeline(t *testing.T) *Pipeline {
	t.Helper()
	sub := New("sub", "sub")
	for _, n := range []*Node{
		{ID: "sub-start", Type: NodeTypeStartEvent},
		act("c", map[string]any{"password": "secret"}),
		{ID: "sub-end", Type: NodeTypeEndEvent},
	} {
		require.NoError(t, sub.AddNode(n))
	}
	chain(t, sub, "sub-start", "c", "sub-end")

	p := New("root", "root")
	for _, n := range []*Node{
		{ID: "start", Type: NodeTypeStartEvent},
		act("a", map[string]any{"k": "v"}),
		{ID: "pg", Type: NodeTypeParallelGateway, ConvergeID: "cg"},
		act("b", nil),
		{ID: "sub", Type: NodeTypeSubProcess, Pipeline: sub},
		{ID: "cg", Type: NodeTypeConvergeGateway},
		act("d", nil),
		{ID: "end", Type: NodeTypeEndEvent},
	} {
		require.NoError(t, p.AddNode(n))
	}
	chain(t, p, "start", "a", "pg", "b", "cg")
	chain(t, p, "pg", "sub", "cg")
	chain(t, p, "cg", "d", "end")
	return p
}

func TestWalkStructuralOrder(t *testing.T) {
	p := samplePipeline(t)
	var order []string
	err := p.Walk(func(n *Node, depth int) error {
		order = append(order, n.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "a", "pg", "b", "sub", "sub-start", "c", "sub-end", "cg", "d", "end"}, order)

	acts, err := p.Activities()
	require.NoError(t, err)
	ids := []string{}
	for _, a := range acts {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantErr error
	}{
		{name: "valid", mutate: func(p *Pipeline) {}},
		{
			name:    "missing converge",
			mutate:  func(p *Pipeline) { p.Nodes["pg"].ConvergeID = "" },
			wantErr: ErrMalformed,
		},
		{
			name:    "dangling reference",
			mutate:  func(p *Pipeline) { p.Nodes["d"].Outgoing = []string{"missing"} },
			wantErr: ErrMalformed,
		},
		{
			name:    "no start",
			mutate:  func(p *Pipeline) { p.StartEvent = "" },
			wantErr: ErrMalformed,
		},
		{
			name:    "duplicated id across levels",
			mutate:  func(p *Pipeline) { p.Nodes["sub"].Pipeline.Nodes["d"] = act("d", nil) },
			wantErr: ErrMalformed,
		},
		{
			name: "unreachable node",
			mutate: func(p *Pipeline) {
				p.Nodes["x"] = act("x", nil)
			},
			wantErr: ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePipeline(t)
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateNoActivity(t *testing.T) {
	p := New("root", "root")
	require.NoError(t, p.AddNode(&Node{ID: "start", Type: NodeTypeStartEvent}))
	require.NoError(t, p.AddNode(&Node{ID: "end", Type: NodeTypeEndEvent}))
	require.NoError(t, p.Link("start", "end"))
	assert.ErrorIs(t, p.Validate(), ErrNoActivity)
}

func TestFindAndPath(t *testing.T) {
	p := samplePipeline(t)
	n, owner := p.Find("c")
	require.NotNil(t, n)
	assert.Equal(t, "sub", owner.ID)

	path := p.Path("c")
	require.Len(t, path, 2)
	assert.Equal(t, "root", path[0].ID)
	assert.Equal(t, "sub", path[1].ID)

	n, _ = p.Find("missing")
	assert.Nil(t, n)
	assert.Nil(t, p.Path("missing"))
}

func TestRedact(t *testing.T) {
	p := samplePipeline(t)
	redacted := Redact(p)

	redacted.Visit(func(n *Node) {
		assert.Nil(t, n.Inputs, "node %s", n.ID)
	})
	// source untouched
	assert.Equal(t, "secret", p.Nodes["sub"].Pipeline.Nodes["c"].Inputs["password"])
	assert.Empty(t, cmp.Diff(redacted, Redact(redacted)))
	assert.NoError(t, redacted.Validate())
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		name   string
		inputs map[string]any
		want   map[string]any
	}{
		{name: "nil", inputs: nil, want: nil},
		{
			name:   "credential",
			inputs: map[string]any{"username": "tmp_user", "password": "s3cret", "cluster_ids": []string{"c1"}},
			want:   map[string]any{"username": "tmp_user", "password": SecretMask, "cluster_ids": []string{"c1"}},
		},
		{
			name:   "nested and case insensitive",
			inputs: map[string]any{"db": map[string]any{"Password": "x", "host": "h"}, "Token": "t"},
			want:   map[string]any{"db": map[string]any{"Password": SecretMask, "host": "h"}, "Token": SecretMask},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecrets(tt.inputs))
		})
	}
	src := map[string]any{"password": "s3cret"}
	MaskSecrets(src)
	assert.Equal(t, "s3cret", src["password"])
}

func TestCanTransit(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateRunning, true},
		{StateCreated, StateFinished, false},
		{StateRunning, StateSuspended, true},
		{StateRunning, StateCreated, false},
		{StateSuspended, StateRunning, true},
		{StateSuspended, StateFailed, true},
		{StateFailed, StateRunning, true},
		{StateFailed, StateFinished, true},
		{StateFinished, StateRunning, false},
		{StateRevoked, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransit(tt.from, tt.to))
		})
	}
	assert.True(t, StateRevoked.IsTerminal())
	assert.False(t, StateFailed.IsTerminal())
	assert.False(t, State("UNKNOWN").Valid())
}

func TestStateTreeFind(t *testing.T) {
	tree := &StateTree{ID: "root", Children: map[string]*StateTree{
		"sub": {ID: "sub", Children: map[string]*StateTree{"c": {ID: "c", State: StateFailed}}},
	}}
	assert.Equal(t, StateFailed, tree.Find("c").State)
	assert.Nil(t, tree.Find("x"))

	clone := tree.Clone()
	clone.Find("c").State = StateFinished
	assert.Equal(t, StateFailed, tree.Find("c").State)
}
