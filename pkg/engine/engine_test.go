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

package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/builder"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/scheduler"
)

var (
	_ engine.Scheduler = (*scheduler.Server)(nil)
	_ engine.Scheduler = (*scheduler.RemoteClient)(nil)
	_ builder.Runner   = (*engine.Engine)(nil)
)

type fakeStore struct {
	mu        sync.Mutex
	tree      *models.FlowTree
	nodes     []*models.FlowNode
	statuses  []pipeline.State
	createErr error
}

func (s *fakeStore) CreateFlow(_ context.Context, tree *models.FlowTree, nodes []*models.FlowNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.tree, s.nodes = tree, nodes
	return nil
}

func (s *fakeStore) UpdateFlowStatus(_ context.Context, _ string, status pipeline.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

// countingScheduler counts state reads of the wrapped scheduler.
type countingScheduler struct {
	engine.Scheduler
	submitErr error
	reads     int
}

func (c *countingScheduler) Submit(ctx context.Context, tree *pipeline.Pipeline) error {
	if c.submitErr != nil {
		return c.submitErr
	}
	return c.Scheduler.Submit(ctx, tree)
}

func (c *countingScheduler) GetState(ctx context.Context, rootID string) (*pipeline.StateTree, error) {
	c.reads++
	return c.Scheduler.GetState(ctx, rootID)
}

type testEnv struct {
	ctx       context.Context
	registry  *activity.Registry
	server    *scheduler.Server
	scheduler *countingScheduler
	store     *fakeStore
	engine    *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry := activity.NewRegistry()
	require.NoError(t, activity.RegisterBuiltins(registry, nil))
	server := scheduler.NewServer(scheduler.NewInmemoryBackend(ctx), scheduler.NewMemoryLocker(), registry, scheduler.NewDefaultOptions())
	counting := &countingScheduler{Scheduler: server}
	store := &fakeStore{}
	return &testEnv{
		ctx:       ctx,
		registry:  registry,
		server:    server,
		scheduler: counting,
		store:     store,
		engine:    engine.New(counting, store),
	}
}

func (env *testEnv) flow(t *testing.T, rootID string, specs ...builder.ActivitySpec) (*engine.Flow, []*builder.ActivityNode) {
	t.Helper()
	b, err := builder.New(env.registry, rootID, nil, builder.WithTicket("SQL_IMPORT", "biz-1", "alice"))
	require.NoError(t, err)
	nodes := []*builder.ActivityNode{}
	for _, spec := range specs {
		n, err := b.AddActivity(spec)
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	flow, err := b.Finalize(builder.FinalizeOptions{})
	require.NoError(t, err)
	return flow, nodes
}

func echo(name string, params map[string]any) builder.ActivitySpec {
	return builder.ActivitySpec{Name: name, Component: activity.ComponentEcho, Params: params, Hosts: []string{"10.0.0.1"}}
}

func pause(name string) builder.ActivitySpec {
	return builder.ActivitySpec{Name: name, Component: activity.ComponentPause}
}

func TestEngine_Run(t *testing.T) {
	env := newTestEnv(t)
	flow, nodes := env.flow(t, "root-run", echo("import", map[string]any{"password": "s3cret"}))

	result := env.engine.Run(env.ctx, flow)
	require.True(t, result.OK, "%v", result.Err)
	assert.Equal(t, "root-run", result.RootID)

	require.NotNil(t, env.store.tree)
	assert.Equal(t, "SQL_IMPORT", env.store.tree.TicketType)
	assert.Equal(t, "alice", env.store.tree.CreatedBy)
	assert.NotContains(t, string(env.store.tree.Tree), "s3cret")
	assert.NotContains(t, string(env.store.tree.Tree), `"inputs"`)
	require.Len(t, env.store.nodes, 1)
	assert.Equal(t, nodes[0].NodeID, env.store.nodes[0].NodeID)
	assert.JSONEq(t, `["10.0.0.1"]`, string(env.store.nodes[0].Hosts))
	assert.Equal(t, []pipeline.State{pipeline.StateRunning}, env.store.statuses)

	// the submitted tree keeps its inputs
	require.NoError(t, env.server.Process(env.ctx, "root-run"))
	inputs, err := env.engine.GetNodeInput(env.ctx, "root-run", nodes[0].NodeID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"password": "s3cret"}, inputs)
}

func TestEngine_RunFailures(t *testing.T) {
	tests := []struct {
		name         string
		flow         func(env *testEnv, t *testing.T) *engine.Flow
		createErr    error
		submitErr    error
		wantErr      error
		wantStatuses []pipeline.State
	}{
		{
			name:    "nil flow",
			flow:    func(*testEnv, *testing.T) *engine.Flow { return nil },
			wantErr: engine.ErrEmptyFlow,
		},
		{
			name: "malformed tree",
			flow: func(env *testEnv, t *testing.T) *engine.Flow {
				flow, _ := env.flow(t, "root-bad", echo("a", nil))
				flow.Tree.Nodes["dangling"] = &pipeline.Node{ID: "dangling", Type: pipeline.NodeTypeActivity}
				return flow
			},
			wantErr: pipeline.ErrMalformed,
		},
		{
			name: "root id mismatch",
			flow: func(env *testEnv, t *testing.T) *engine.Flow {
				flow, _ := env.flow(t, "root-a", echo("a", nil))
				flow.RootID = "root-b"
				return flow
			},
			wantErr: pipeline.ErrMalformed,
		},
		{
			name: "store failure",
			flow: func(env *testEnv, t *testing.T) *engine.Flow {
				flow, _ := env.flow(t, "root-store", echo("a", nil))
				return flow
			},
			createErr: errors.New("db down"),
		},
		{
			name: "submit failure",
			flow: func(env *testEnv, t *testing.T) *engine.Flow {
				flow, _ := env.flow(t, "root-submit", echo("a", nil))
				return flow
			},
			submitErr:    errors.New("scheduler down"),
			wantStatuses: []pipeline.State{pipeline.StateFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.createErr = tt.createErr
			env.scheduler.submitErr = tt.submitErr

			result := env.engine.Run(env.ctx, tt.flow(env, t))
			assert.False(t, result.OK)
			require.Error(t, result.Err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, result.Err, tt.wantErr)
			}
			assert.Equal(t, tt.wantStatuses, env.store.statuses)
		})
	}
}

func TestEngine_Callback(t *testing.T) {
	env := newTestEnv(t)
	flow, nodes := env.flow(t, "root-cb", echo("a", nil), pause("confirm"))
	require.True(t, env.engine.Run(env.ctx, flow).OK)
	require.NoError(t, env.server.Process(env.ctx, "root-cb"))

	err := env.engine.Callback(env.ctx, "root-cb", nodes[0].NodeID, nil)
	assert.ErrorIs(t, err, engine.ErrNoPendingCallback)
	opErr := &engine.OperationError{}
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "callback", opErr.Op)
	assert.Equal(t, nodes[0].NodeID, opErr.NodeID)

	err = env.engine.Callback(env.ctx, "root-cb", "missing", nil)
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)
	assert.ErrorIs(t, err, pipeline.ErrNotFound)

	require.NoError(t, env.engine.Callback(env.ctx, "root-cb", nodes[1].NodeID, map[string]any{"approved": true}))
	require.NoError(t, env.server.Process(env.ctx, "root-cb"))

	output, err := env.engine.GetExecutionOutput(env.ctx, "root-cb", nodes[1].NodeID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"approved": true}, output.Outputs)
}

func TestEngine_Operations(t *testing.T) {
	env := newTestEnv(t)
	flow, nodes := env.flow(t, "root-ops", echo("a", map[string]any{"fail": "boom"}), pause("confirm"))
	require.True(t, env.engine.Run(env.ctx, flow).OK)
	require.NoError(t, env.server.Process(env.ctx, "root-ops"))

	require.NoError(t, env.engine.Pause(env.ctx, "root-ops"))
	assert.ErrorIs(t, env.engine.Pause(env.ctx, "root-ops"), pipeline.ErrInvalidState)
	require.NoError(t, env.engine.Resume(env.ctx, "root-ops"))

	require.NoError(t, env.engine.RetryNode(env.ctx, "root-ops", nodes[0].NodeID, map[string]any{"msg": "ok"}))
	require.NoError(t, env.server.Process(env.ctx, "root-ops"))
	history, err := env.engine.GetNodeHistory(env.ctx, "root-ops", nodes[0].NodeID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "boom", history[0].Error)

	require.NoError(t, env.engine.ForceFailNode(env.ctx, "root-ops", nodes[1].NodeID, "rejected"))
	assert.ErrorIs(t, env.engine.SkipNode(env.ctx, "root-ops", nodes[0].NodeID), pipeline.ErrInvalidState)
	require.NoError(t, env.engine.SkipNode(env.ctx, "root-ops", nodes[1].NodeID))
	require.NoError(t, env.server.Process(env.ctx, "root-ops"))

	children, err := env.engine.GetChildrenState(env.ctx, "root-ops", nodes[1].NodeID)
	require.NoError(t, err)
	assert.True(t, children.Skip)

	tree, err := env.engine.GetTreeState(env.ctx, "root-ops")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateFinished, tree.State)
	assert.Equal(t, []pipeline.State{pipeline.StateRunning}, env.store.statuses)
}

func TestEngine_Revoke(t *testing.T) {
	env := newTestEnv(t)
	flow, _ := env.flow(t, "root-revoke", pause("confirm"))
	require.True(t, env.engine.Run(env.ctx, flow).OK)
	require.NoError(t, env.server.Process(env.ctx, "root-revoke"))

	require.NoError(t, env.engine.Revoke(env.ctx, "root-revoke"))
	assert.Equal(t, []pipeline.State{pipeline.StateRunning, pipeline.StateRevoked}, env.store.statuses)

	err := env.engine.Revoke(env.ctx, "root-revoke")
	assert.ErrorIs(t, err, pipeline.ErrInvalidState)
	assert.Len(t, env.store.statuses, 2)
}

func TestEngine_GetTreeStateCache(t *testing.T) {
	env := newTestEnv(t)
	flow, _ := env.flow(t, "root-cache", pause("confirm"))
	require.True(t, env.engine.Run(env.ctx, flow).OK)
	require.NoError(t, env.server.Process(env.ctx, "root-cache"))

	_, err := env.engine.GetTreeState(env.ctx, "root-cache")
	require.NoError(t, err)
	_, err = env.engine.GetTreeState(env.ctx, "root-cache")
	require.NoError(t, err)
	assert.Equal(t, 2, env.scheduler.reads, "running flows are read through")

	require.NoError(t, env.engine.Revoke(env.ctx, "root-cache"))
	first, err := env.engine.GetTreeState(env.ctx, "root-cache")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateRevoked, first.State)
	reads := env.scheduler.reads

	first.State = pipeline.StateFailed
	second, err := env.engine.GetTreeState(env.ctx, "root-cache")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateRevoked, second.State)
	assert.Equal(t, reads, env.scheduler.reads)

	_, err = env.engine.GetTreeState(env.ctx, "missing")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}
