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

package scheduler

import (
	"maps"
	"time"

	"kubegems.io/ticketflow/pkg/pipeline"
)

const (
	pendingRun      = "run"
	pendingCallback = "callback"
)

// Runtime 是一个流程在调度器中的运行时状态，存储路径为 runtime/{rootID}
type Runtime struct {
	RootID     string                 `json:"rootId"`
	Tree       *pipeline.Pipeline     `json:"tree"`
	State      pipeline.State         `json:"state"`
	Nodes      map[string]*NodeStatus `json:"nodes"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
}

type NodeStatus struct {
	State        pipeline.State         `json:"state"`
	Attempt      int                    `json:"attempt,omitempty"` // increased on every dispatch
	Retry        int                    `json:"retry,omitempty"`
	Skip         bool                   `json:"skip,omitempty"`
	ErrorIgnored bool                   `json:"errorIgnored,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Version      string                 `json:"version,omitempty"` // pending callback version
	Pending      string                 `json:"pending,omitempty"` // run or callback not yet applied
	Executer     string                 `json:"executer,omitempty"`
	Deadline     *time.Time             `json:"deadline,omitempty"` // the dispatched run is lost after it
	Inputs       map[string]any         `json:"inputs,omitempty"`  // retry override of the current attempt
	CallbackData map[string]any         `json:"callbackData,omitempty"`
	Outputs      map[string]any         `json:"outputs,omitempty"`
	StartedAt    *time.Time             `json:"startedAt,omitempty"`
	FinishedAt   *time.Time             `json:"finishedAt,omitempty"`
	History      []pipeline.NodeHistory `json:"history,omitempty"`
}

func runtimeKey(rootID string) string {
	return "runtime/" + rootID
}

func newRuntime(tree *pipeline.Pipeline, now time.Time) *Runtime {
	rt := &Runtime{
		RootID:    tree.ID,
		Tree:      tree,
		State:     pipeline.StateRunning,
		Nodes:     map[string]*NodeStatus{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	tree.Visit(func(n *pipeline.Node) {
		rt.Nodes[n.ID] = &NodeStatus{State: pipeline.StateCreated}
	})
	return rt
}

func (rt *Runtime) transit(status *NodeStatus, to pipeline.State, now time.Time) {
	status.State = to
	switch to {
	case pipeline.StateRunning:
		if status.StartedAt == nil {
			status.StartedAt = &now
		}
		status.FinishedAt = nil
	case pipeline.StateFinished, pipeline.StateFailed, pipeline.StateRevoked:
		status.FinishedAt = &now
	}
}

// inflight reports whether a dispatched run may still write its result back.
func (status *NodeStatus) inflight(now time.Time) bool {
	return status.Deadline != nil && now.Before(*status.Deadline)
}

// settle clears the dispatch of status once its result is applied or discarded.
func (status *NodeStatus) settle() {
	status.Pending = ""
	status.Executer = ""
	status.Deadline = nil
	status.CallbackData = nil
}

// dispatchable reports whether a running activity waits for a dispatch.
func (status *NodeStatus) dispatchable(now time.Time) bool {
	return status.State == pipeline.StateRunning && status.Pending != "" && !status.inflight(now)
}

// stalled reports whether a running flow holds activities nobody is executing.
func (rt *Runtime) stalled(now time.Time) bool {
	if rt.State != pipeline.StateRunning {
		return false
	}
	for _, status := range rt.Nodes {
		if status.dispatchable(now) {
			return true
		}
	}
	return false
}

// predecessorsFinished reports whether every predecessor of n is FINISHED.
func (rt *Runtime) predecessorsFinished(n *pipeline.Node) bool {
	for _, id := range n.Incoming {
		if rt.Nodes[id].State != pipeline.StateFinished {
			return false
		}
	}
	return true
}

// params returns the inputs of the current attempt of an activity.
func (rt *Runtime) params(n *pipeline.Node) map[string]any {
	if status := rt.Nodes[n.ID]; status != nil && status.Inputs != nil {
		return maps.Clone(status.Inputs)
	}
	return maps.Clone(n.Inputs)
}

// output returns the outputs of node id when it may contribute to context variables.
func (rt *Runtime) output(id string) (map[string]any, bool) {
	status, ok := rt.Nodes[id]
	if !ok || status.State != pipeline.StateFinished || status.Skip || status.ErrorIgnored {
		return nil, false
	}
	if status.Outputs == nil {
		return map[string]any{}, true
	}
	return status.Outputs, true
}

func (rt *Runtime) stateTree() *pipeline.StateTree {
	root := &pipeline.StateTree{
		ID:         rt.RootID,
		Name:       rt.Tree.Name,
		State:      rt.State,
		StartedAt:  &rt.CreatedAt,
		FinishedAt: rt.FinishedAt,
	}
	root.Children = rt.children(rt.Tree)
	return root
}

func (rt *Runtime) children(p *pipeline.Pipeline) map[string]*pipeline.StateTree {
	children := make(map[string]*pipeline.StateTree, len(p.Nodes))
	for id, n := range p.Nodes {
		status := rt.Nodes[id]
		if status == nil {
			status = &NodeStatus{State: pipeline.StateCreated}
		}
		child := &pipeline.StateTree{
			ID:           id,
			Name:         n.Name,
			Type:         n.Type,
			Component:    n.Component,
			State:        status.State,
			Skip:         status.Skip,
			ErrorIgnored: status.ErrorIgnored,
			Retry:        status.Retry,
			Error:        status.Error,
			Version:      status.Version,
			StartedAt:    status.StartedAt,
			FinishedAt:   status.FinishedAt,
		}
		if n.Pipeline != nil {
			child.Children = rt.children(n.Pipeline)
		}
		children[id] = child
	}
	return children
}
