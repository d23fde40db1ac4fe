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

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"kubegems.io/ticketflow/pkg/i18n"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
)

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		children []pipeline.State
		want     pipeline.State
		wantOK   bool
	}{
		{
			name:     "failed beats suspended",
			children: []pipeline.State{pipeline.StateFinished, pipeline.StateFailed, pipeline.StateSuspended},
			want:     pipeline.StateFailed,
			wantOK:   true,
		},
		{
			name:     "revoked beats suspended",
			children: []pipeline.State{pipeline.StateFinished, pipeline.StateRevoked, pipeline.StateSuspended},
			want:     pipeline.StateRevoked,
			wantOK:   true,
		},
		{
			name:     "failed beats revoked",
			children: []pipeline.State{pipeline.StateRevoked, pipeline.StateFailed},
			want:     pipeline.StateFailed,
			wantOK:   true,
		},
		{
			name:     "suspended only",
			children: []pipeline.State{pipeline.StateRunning, pipeline.StateSuspended},
			want:     pipeline.StateSuspended,
			wantOK:   true,
		},
		{
			name:     "all normal",
			children: []pipeline.State{pipeline.StateFinished, pipeline.StateRunning, pipeline.StateCreated},
		},
		{
			name: "no children",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Precedence(tt.children)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func leaf(id string, state pipeline.State) *pipeline.StateTree {
	return &pipeline.StateTree{ID: id, Name: id, Type: pipeline.NodeTypeActivity, State: state}
}

func node(id string, typ pipeline.NodeType, state pipeline.State, children ...*pipeline.StateTree) *pipeline.StateTree {
	t := &pipeline.StateTree{ID: id, Name: id, Type: typ, State: state, Children: map[string]*pipeline.StateTree{}}
	for _, c := range children {
		t.Children[c.ID] = c
	}
	return t
}

// root -> start, a, sub(start, b, c, end), end
func sampleTree(b, c pipeline.State) *pipeline.StateTree {
	return node("root", "", pipeline.StateRunning,
		node("start", pipeline.NodeTypeStartEvent, pipeline.StateFinished),
		leaf("a", pipeline.StateFinished),
		node("sub", pipeline.NodeTypeSubProcess, pipeline.StateRunning,
			node("sub-start", pipeline.NodeTypeStartEvent, pipeline.StateFinished),
			leaf("b", b),
			leaf("c", c),
			node("sub-end", pipeline.NodeTypeEndEvent, pipeline.StateCreated),
		),
		node("end", pipeline.NodeTypeEndEvent, pipeline.StateCreated),
	)
}

func TestEffectiveStates(t *testing.T) {
	tests := []struct {
		name     string
		b, c     pipeline.State
		wantSub  pipeline.State
		wantRoot pipeline.State
	}{
		{name: "failed and suspended", b: pipeline.StateFailed, c: pipeline.StateSuspended, wantSub: pipeline.StateFailed, wantRoot: pipeline.StateFailed},
		{name: "revoked and suspended", b: pipeline.StateRevoked, c: pipeline.StateSuspended, wantSub: pipeline.StateRevoked, wantRoot: pipeline.StateRevoked},
		{name: "suspended", b: pipeline.StateFinished, c: pipeline.StateSuspended, wantSub: pipeline.StateSuspended, wantRoot: pipeline.StateSuspended},
		{name: "running", b: pipeline.StateFinished, c: pipeline.StateRunning, wantSub: pipeline.StateRunning, wantRoot: pipeline.StateRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sampleTree(tt.b, tt.c)
			before := raw.Clone()
			got := EffectiveStates(raw)
			assert.Equal(t, tt.wantSub, got.Find("sub").State)
			assert.Equal(t, tt.wantRoot, got.State)
			assert.Equal(t, tt.b, got.Find("b").State)
			if diff := cmp.Diff(before, raw); diff != "" {
				t.Errorf("raw tree modified (-before +after):\n%s", diff)
			}
		})
	}
}

func TestEffectiveStatesKeepsTerminalParent(t *testing.T) {
	raw := node("root", "", pipeline.StateRevoked,
		node("sub", pipeline.NodeTypeSubProcess, pipeline.StateFinished, leaf("b", pipeline.StateFailed)),
	)
	got := EffectiveStates(raw)
	assert.Equal(t, pipeline.StateRevoked, got.State)
	assert.Equal(t, pipeline.StateFinished, got.Find("sub").State)
}

type fakeSource struct {
	trees map[string]*pipeline.StateTree
}

func (f *fakeSource) GetTreeState(_ context.Context, rootID string) (*pipeline.StateTree, error) {
	tree, ok := f.trees[rootID]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return tree.Clone(), nil
}

type fakeStore struct {
	flows       []*models.FlowTree
	nodes       map[string][]*models.FlowNode
	flowUpdates map[string]pipeline.State
	nodeUpdates map[string]pipeline.State
	listErr     error
}

func (f *fakeStore) ListFlowNodes(_ context.Context, rootID string) ([]*models.FlowNode, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.nodes[rootID], nil
}

func (f *fakeStore) ListFlows(_ context.Context, _ ...pipeline.State) ([]*models.FlowTree, error) {
	return f.flows, nil
}

func (f *fakeStore) UpdateFlowStatus(_ context.Context, rootID string, status pipeline.State) error {
	f.flowUpdates[rootID] = status
	return nil
}

func (f *fakeStore) UpdateFlowNode(_ context.Context, nodeID string, status pipeline.State, _ *time.Time) error {
	f.nodeUpdates[nodeID] = status
	return nil
}

func TestAggregator_ComputeEffectiveStates(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	source := &fakeSource{trees: map[string]*pipeline.StateTree{"root": sampleTree(pipeline.StateFailed, pipeline.StateFinished)}}
	store := &fakeStore{nodes: map[string][]*models.FlowNode{
		"root": {
			{NodeID: "b", Hosts: datatypes.JSON(`["10.0.0.1","10.0.0.2"]`), CreatedAt: created, UpdatedAt: started, StartedAt: &started},
			{NodeID: "unknown", CreatedAt: created},
		},
	}}
	aggregator := NewAggregator(source, store)

	t.Run("english", func(t *testing.T) {
		tree, err := aggregator.ComputeEffectiveStates(context.Background(), "root")
		require.NoError(t, err)
		assert.Equal(t, pipeline.StateFailed, tree.State)
		assert.Equal(t, "Failed", tree.StateLabel)

		b := tree.Find("b")
		require.NotNil(t, b.Meta)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, b.Meta.Hosts)
		assert.Equal(t, &started, b.Meta.StartedAt)
		assert.Equal(t, created, *b.Meta.CreatedAt)
		assert.Nil(t, tree.Find("c").Meta)
		assert.Nil(t, tree.Find("unknown"))
	})

	t.Run("chinese", func(t *testing.T) {
		ctx := i18n.WithLang(context.Background(), language.SimplifiedChinese)
		tree, err := aggregator.ComputeEffectiveStates(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, "执行失败", tree.StateLabel)
		assert.Equal(t, "执行成功", tree.Find("c").StateLabel)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := aggregator.ComputeEffectiveStates(context.Background(), "missing")
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})
}

func TestSyncer_SyncOnce(t *testing.T) {
	started := time.Now()
	raw := sampleTree(pipeline.StateSuspended, pipeline.StateFinished)
	raw.Find("b").StartedAt = &started
	source := &fakeSource{trees: map[string]*pipeline.StateTree{"root": raw}}
	store := &fakeStore{
		flows: []*models.FlowTree{{RootID: "root", Status: pipeline.StateRunning}},
		nodes: map[string][]*models.FlowNode{"root": {
			{NodeID: "a", Status: pipeline.StateFinished},
			{NodeID: "b", Status: pipeline.StateCreated},
			{NodeID: "c", Status: pipeline.StateCreated},
		}},
		flowUpdates: map[string]pipeline.State{},
		nodeUpdates: map[string]pipeline.State{},
	}
	syncer := NewSyncer(NewDefaultSyncOptions(), source, store)

	require.NoError(t, syncer.SyncOnce(context.Background()))
	assert.Equal(t, map[string]pipeline.State{"root": pipeline.StateSuspended}, store.flowUpdates)
	assert.Equal(t, map[string]pipeline.State{"b": pipeline.StateSuspended, "c": pipeline.StateFinished}, store.nodeUpdates)

	store.flows = append(store.flows, &models.FlowTree{RootID: "missing"})
	store.listErr = errors.New("db down")
	err := syncer.SyncOnce(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
	assert.ErrorContains(t, err, "db down")
}

func TestSyncer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	syncer := NewSyncer(&SyncOptions{Schedule: "invalid"}, &fakeSource{}, &fakeStore{})
	assert.Error(t, syncer.Run(ctx))

	syncer = NewSyncer(NewDefaultSyncOptions(), &fakeSource{}, &fakeStore{})
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("syncer not stopped")
	}
}
