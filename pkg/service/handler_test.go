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

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/state"
)

type memStore struct {
	mu    sync.Mutex
	flows map[string]*models.FlowTree
	nodes map[string][]*models.FlowNode
}

func newMemStore() *memStore {
	return &memStore{flows: map[string]*models.FlowTree{}, nodes: map[string][]*models.FlowNode{}}
}

func (s *memStore) CreateFlow(_ context.Context, tree *models.FlowTree, nodes []*models.FlowNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[tree.RootID] = tree
	s.nodes[tree.RootID] = nodes
	return nil
}

func (s *memStore) UpdateFlowStatus(_ context.Context, rootID string, status pipeline.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow, ok := s.flows[rootID]; ok {
		flow.Status = status
	}
	return nil
}

func (s *memStore) ListFlowNodes(_ context.Context, rootID string) ([]*models.FlowNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[rootID], nil
}

func (s *memStore) ListFlows(_ context.Context, statuses ...pipeline.State) ([]*models.FlowTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := []*models.FlowTree{}
	for _, flow := range s.flows {
		if len(statuses) == 0 {
			ret = append(ret, flow)
			continue
		}
		for _, status := range statuses {
			if flow.Status == status {
				ret = append(ret, flow)
				break
			}
		}
	}
	return ret, nil
}

func (s *memStore) nodeID(rootID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes[rootID] {
		if n.Name == name {
			return n.NodeID
		}
	}
	return ""
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	activities := activity.NewRegistry()
	require.NoError(t, activity.RegisterBuiltins(activities, nil))
	worker := scheduler.NewServer(scheduler.NewInmemoryBackend(ctx), scheduler.NewMemoryLocker(), activities, scheduler.NewDefaultOptions())
	go func() { _ = worker.Run(ctx) }()

	tickets, err := NewTicketRegistry()
	require.NoError(t, err)
	store := newMemStore()
	eng := engine.New(worker, store)
	handler := &Handler{
		Engine:     eng,
		Tickets:    tickets,
		Aggregator: state.NewAggregator(eng, store),
		Flows:      store,
	}
	server := httptest.NewServer(handler.Route(logr.Discard()))
	t.Cleanup(server.Close)
	return server, store
}

func doRequest(t *testing.T, method, url string, body any, into any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&scheduler.Response{Data: into}))
	}
	return resp.StatusCode
}

func TestHandler_TicketLifecycle(t *testing.T) {
	server, store := newTestServer(t)
	base := server.URL + "/v1/tickets"

	ticket := map[string]any{
		"rootId":     "ticket-1",
		"ticketType": "GENERIC",
		"bizId":      "biz-1",
		"stages": []map[string]any{
			{"type": "activity", "activity": map[string]any{"name": "echo", "component": "echo", "params": map[string]any{"msg": "hi"}}},
			{"type": "activity", "activity": map[string]any{"name": "confirm", "component": "pause"}},
		},
	}
	submitted := SubmitResponse{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodPost, base, ticket, &submitted))
	assert.Equal(t, "ticket-1", submitted.RootID)

	confirm := store.nodeID("ticket-1", "confirm")
	require.NotEmpty(t, confirm)

	require.Eventually(t, func() bool {
		tree := &pipeline.StateTree{}
		if doRequest(t, http.MethodGet, base+"/ticket-1/state", nil, tree) != http.StatusOK {
			return false
		}
		node := tree.Find(confirm)
		return node != nil && node.State == pipeline.StateSuspended
	}, 5*time.Second, 20*time.Millisecond)

	// the aggregated root reports the pending confirmation
	tree := &pipeline.StateTree{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base+"/ticket-1/state", nil, tree))
	assert.Equal(t, pipeline.StateSuspended, tree.State)

	callback := CallbackRequest{Data: map[string]any{"approved": true}}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodPost, base+"/ticket-1/nodes/"+confirm+"/callback", callback, nil))

	require.Eventually(t, func() bool {
		tree := &pipeline.StateTree{}
		return doRequest(t, http.MethodGet, base+"/ticket-1/state", nil, tree) == http.StatusOK &&
			tree.State == pipeline.StateFinished
	}, 5*time.Second, 20*time.Millisecond)

	output := &pipeline.ExecutionOutput{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base+"/ticket-1/nodes/"+confirm+"/outputs", nil, output))

	flows := []*models.FlowTree{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base, nil, &flows))
	assert.Len(t, flows, 1)

	types := []string{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base+"/types", nil, &types))
	assert.Contains(t, types, "GENERIC")
}

func TestHandler_MaskedInputs(t *testing.T) {
	server, store := newTestServer(t)
	base := server.URL + "/v1/tickets"

	ticket := map[string]any{
		"rootId":              "ticket-2",
		"ticketType":          "GENERIC",
		"ephemeralClusterIds": []string{"cluster-1"},
		"stages": []map[string]any{
			{"type": "activity", "activity": map[string]any{"name": "echo", "component": "echo", "params": map[string]any{"token": "t0k", "msg": "hi"}}},
		},
	}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodPost, base, ticket, nil))

	create := store.nodeID("ticket-2", "Create ephemeral credential")
	require.NotEmpty(t, create)
	inputs := map[string]any{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base+"/ticket-2/nodes/"+create+"/inputs", nil, &inputs))
	assert.Equal(t, pipeline.SecretMask, inputs["password"])
	assert.NotEmpty(t, inputs["username"])

	echo := store.nodeID("ticket-2", "echo")
	inputs = map[string]any{}
	require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, base+"/ticket-2/nodes/"+echo+"/inputs", nil, &inputs))
	assert.Equal(t, map[string]any{"token": pipeline.SecretMask, "msg": "hi"}, inputs)
}

func TestHandler_Errors(t *testing.T) {
	server, _ := newTestServer(t)
	base := server.URL + "/v1/tickets"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name:   "ticket without type",
			method: http.MethodPost,
			path:   "",
			body:   map[string]any{"rootId": "bad"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown ticket type",
			method: http.MethodPost,
			path:   "",
			body:   map[string]any{"ticketType": "NOPE"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "list with unknown status",
			method: http.MethodGet,
			path:   "?status=DONE",
			want:   http.StatusBadRequest,
		},
		{
			name:   "state of unknown flow",
			method: http.MethodGet,
			path:   "/missing/state",
			want:   http.StatusNotFound,
		},
		{
			name:   "pause unknown flow",
			method: http.MethodPost,
			path:   "/missing/pause",
			want:   http.StatusNotFound,
		},
		{
			name:   "callback unknown flow",
			method: http.MethodPost,
			path:   "/missing/nodes/n1/callback",
			want:   http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doRequest(t, tt.method, base+tt.path, tt.body, nil))
		})
	}
}
