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
	"fmt"
)

var (
	ErrMalformed  = errors.New("malformed pipeline")
	ErrNoActivity = errors.New("pipeline has no activity")
)

type NodeType string

const (
	NodeTypeStartEvent      NodeType = "EmptyStartEvent"
	NodeTypeEndEvent        NodeType = "EmptyEndEvent"
	NodeTypeActivity        NodeType = "ServiceActivity"
	NodeTypeParallelGateway NodeType = "ParallelGateway"
	NodeTypeConvergeGateway NodeType = "ConvergeGateway"
	NodeTypeSubProcess      NodeType = "SubProcess"
)

// IsControl reports whether the scheduler passes the node without running anything.
func (t NodeType) IsControl() bool {
	switch t {
	case NodeTypeStartEvent, NodeTypeEndEvent, NodeTypeParallelGateway, NodeTypeConvergeGateway:
		return true
	}
	return false
}

// Node is one element of a pipeline, which kind of element is told by Type.
// Nodes reference each other by id only, a SubProcess owns its nested pipeline.
type Node struct {
	ID             string         `json:"id"`
	Type           NodeType       `json:"type"`
	Name           string         `json:"name,omitempty"`
	Component      string         `json:"component,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	ErrorIgnorable bool           `json:"errorIgnorable,omitempty"`
	WriteOutputVar string         `json:"writeOutputVar,omitempty"`
	Hosts          []string       `json:"hosts,omitempty"`
	Incoming       []string       `json:"incoming,omitempty"`
	Outgoing       []string       `json:"outgoing,omitempty"`
	ConvergeID     string         `json:"convergeId,omitempty"` // parallel gateway only
	Pipeline       *Pipeline      `json:"pipeline,omitempty"`   // sub process only
}

// ContextVar is a shared context slot. Writers are node ids in declared order,
// their outputs are combined by the named merge function.
type ContextVar struct {
	Key     string   `json:"key"`
	Value   any      `json:"value,omitempty"`
	Writers []string `json:"writers,omitempty"`
	Merge   string   `json:"merge,omitempty"`
}

// Pipeline is a single entry single exit graph of nodes.
// Nodes is the arena of this level, nested levels live in their SubProcess node.
type Pipeline struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name,omitempty"`
	StartEvent string                 `json:"startEvent"`
	EndEvent   string                 `json:"endEvent"`
	Nodes      map[string]*Node       `json:"nodes"`
	Global     map[string]any         `json:"global,omitempty"`
	Data       map[string]*ContextVar `json:"data,omitempty"`
}

func New(id, name string) *Pipeline {
	return &Pipeline{
		ID:    id,
		Name:  name,
		Nodes: map[string]*Node{},
		Data:  map[string]*ContextVar{},
	}
}

func (p *Pipeline) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrMalformed)
	}
	if _, ok := p.Nodes[n.ID]; ok {
		return fmt.Errorf("%w: duplicated node id %s", ErrMalformed, n.ID)
	}
	p.Nodes[n.ID] = n
	switch n.Type {
	case NodeTypeStartEvent:
		p.StartEvent = n.ID
	case NodeTypeEndEvent:
		p.EndEvent = n.ID
	}
	return nil
}

// Link adds a flow from -> to.
func (p *Pipeline) Link(from, to string) error {
	src, dst := p.Nodes[from], p.Nodes[to]
	if src == nil || dst == nil {
		return fmt.Errorf("%w: link %s -> %s references unknown node", ErrMalformed, from, to)
	}
	src.Outgoing = append(src.Outgoing, to)
	dst.Incoming = append(dst.Incoming, from)
	return nil
}

// Var returns the context variable named key, declaring it with merge when missing.
func (p *Pipeline) Var(key string, merge string) *ContextVar {
	if p.Data == nil {
		p.Data = map[string]*ContextVar{}
	}
	v, ok := p.Data[key]
	if !ok {
		v = &ContextVar{Key: key, Merge: merge}
		p.Data[key] = v
	}
	return v
}
