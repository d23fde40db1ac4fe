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
	"maps"
	"slices"
	"time"
)

// StateTree is the state of a node and, for pipelines and sub processes, of its children.
type StateTree struct {
	ID           string                `json:"id"`
	Name         string                `json:"name,omitempty"`
	Type         NodeType              `json:"type,omitempty"`
	Component    string                `json:"component,omitempty"`
	State        State                 `json:"state"`
	StateLabel   string                `json:"stateLabel,omitempty"`
	Skip         bool                  `json:"skip,omitempty"`
	ErrorIgnored bool                  `json:"errorIgnored,omitempty"`
	Retry        int                   `json:"retry,omitempty"`
	Error        string                `json:"error,omitempty"`
	Version      string                `json:"version,omitempty"` // pending callback version
	StartedAt    *time.Time            `json:"startedAt,omitempty"`
	FinishedAt   *time.Time            `json:"finishedAt,omitempty"`
	Meta         *NodeMeta             `json:"meta,omitempty"`
	Children     map[string]*StateTree `json:"children,omitempty"`
}

// NodeMeta is the locally persisted metadata of a node.
type NodeMeta struct {
	Hosts     []string   `json:"hosts,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Find returns the state of node id at any depth, including t itself.
func (t *StateTree) Find(id string) *StateTree {
	if t == nil {
		return nil
	}
	if t.ID == id {
		return t
	}
	for _, child := range t.Children {
		if found := child.Find(id); found != nil {
			return found
		}
	}
	return nil
}

func (t *StateTree) Clone() *StateTree {
	if t == nil {
		return nil
	}
	out := *t
	if t.Meta != nil {
		meta := *t.Meta
		meta.Hosts = slices.Clone(t.Meta.Hosts)
		out.Meta = &meta
	}
	if t.Children != nil {
		out.Children = make(map[string]*StateTree, len(t.Children))
		for id, child := range t.Children {
			out.Children[id] = child.Clone()
		}
	}
	return &out
}

// NodeHistory is one previous attempt of a retried node.
type NodeHistory struct {
	Attempt    int            `json:"attempt"`
	State      State          `json:"state"`
	Error      string         `json:"error,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

type ExecutionOutput struct {
	State        State          `json:"state"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorIgnored bool           `json:"errorIgnored,omitempty"`
}

func (o *ExecutionOutput) Clone() *ExecutionOutput {
	out := *o
	out.Outputs = maps.Clone(o.Outputs)
	return &out
}
