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
	"fmt"
	"maps"
	"slices"
	"strings"
)

// WalkFunc is called for every node, depth is 0 for nodes of the root pipeline.
type WalkFunc func(n *Node, depth int) error

// Walk visits nodes in structural order: serial nodes in declared order, the branches
// of a parallel gateway one after another in declared order, then the converge gateway.
// A sub process is visited before the nodes of its nested pipeline.
func (p *Pipeline) Walk(fn WalkFunc) error {
	return p.walk(fn, 0)
}

func (p *Pipeline) walk(fn WalkFunc, depth int) error {
	seen := map[string]bool{}
	if err := p.walkFrom(p.StartEvent, "", fn, depth, seen); err != nil {
		return err
	}
	if len(seen) != len(p.Nodes) {
		return fmt.Errorf("%w: pipeline %s has %d unreachable nodes", ErrMalformed, p.ID, len(p.Nodes)-len(seen))
	}
	return nil
}

func (p *Pipeline) walkFrom(id, stop string, fn WalkFunc, depth int, seen map[string]bool) error {
	for id != "" && id != stop {
		n, ok := p.Nodes[id]
		if !ok {
			return fmt.Errorf("%w: unknown node %s", ErrMalformed, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: node %s reached twice", ErrMalformed, id)
		}
		seen[id] = true
		if err := fn(n, depth); err != nil {
			return err
		}
		if n.Type == NodeTypeSubProcess {
			if n.Pipeline == nil {
				return fmt.Errorf("%w: sub process %s has no pipeline", ErrMalformed, id)
			}
			if err := n.Pipeline.walk(fn, depth+1); err != nil {
				return err
			}
		}
		switch {
		case n.Type == NodeTypeParallelGateway:
			if n.ConvergeID == "" {
				return fmt.Errorf("%w: parallel gateway %s has no converge gateway", ErrMalformed, id)
			}
			for _, branch := range n.Outgoing {
				if err := p.walkFrom(branch, n.ConvergeID, fn, depth, seen); err != nil {
					return err
				}
			}
			id = n.ConvergeID
		case len(n.Outgoing) == 0:
			id = ""
		default:
			id = n.Outgoing[0]
		}
	}
	return nil
}

// Visit calls fn for every node at every nesting level, in no particular order.
func (p *Pipeline) Visit(fn func(n *Node)) {
	if p == nil {
		return
	}
	for _, n := range p.Nodes {
		fn(n)
		if n.Pipeline != nil {
			n.Pipeline.Visit(fn)
		}
	}
}

// Activities returns the activity nodes in structural order.
func (p *Pipeline) Activities() ([]*Node, error) {
	var acts []*Node
	err := p.Walk(func(n *Node, _ int) error {
		if n.Type == NodeTypeActivity {
			acts = append(acts, n)
		}
		return nil
	})
	return acts, err
}

// Find looks up a node at any nesting level, the pipeline owning the node is returned too.
func (p *Pipeline) Find(id string) (*Node, *Pipeline) {
	if p == nil {
		return nil, nil
	}
	if n, ok := p.Nodes[id]; ok {
		return n, p
	}
	for _, n := range p.Nodes {
		if n.Pipeline == nil {
			continue
		}
		if found, owner := n.Pipeline.Find(id); found != nil {
			return found, owner
		}
	}
	return nil, nil
}

// Path returns the chain of pipelines from p down to the pipeline owning node id.
func (p *Pipeline) Path(id string) []*Pipeline {
	if p == nil {
		return nil
	}
	if _, ok := p.Nodes[id]; ok {
		return []*Pipeline{p}
	}
	for _, n := range p.Nodes {
		if n.Pipeline == nil {
			continue
		}
		if sub := n.Pipeline.Path(id); sub != nil {
			return append([]*Pipeline{p}, sub...)
		}
	}
	return nil
}

// Validate checks the structure of the whole tree.
func (p *Pipeline) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil pipeline", ErrMalformed)
	}
	ids := map[string]bool{}
	activities := 0
	if err := p.validate(ids, &activities); err != nil {
		return err
	}
	if activities == 0 {
		return ErrNoActivity
	}
	return nil
}

func (p *Pipeline) validate(ids map[string]bool, activities *int) error {
	if start, ok := p.Nodes[p.StartEvent]; !ok || start.Type != NodeTypeStartEvent {
		return fmt.Errorf("%w: pipeline %s has no start event", ErrMalformed, p.ID)
	}
	if end, ok := p.Nodes[p.EndEvent]; !ok || end.Type != NodeTypeEndEvent {
		return fmt.Errorf("%w: pipeline %s has no end event", ErrMalformed, p.ID)
	}
	for id, n := range p.Nodes {
		if id != n.ID {
			return fmt.Errorf("%w: node %s stored as %s", ErrMalformed, n.ID, id)
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicated node id %s", ErrMalformed, id)
		}
		ids[id] = true
		for _, ref := range append(slices.Clone(n.Incoming), n.Outgoing...) {
			if _, ok := p.Nodes[ref]; !ok {
				return fmt.Errorf("%w: node %s references unknown node %s", ErrMalformed, id, ref)
			}
		}
		switch n.Type {
		case NodeTypeActivity:
			if n.Component == "" {
				return fmt.Errorf("%w: activity %s has no component", ErrMalformed, id)
			}
			*activities++
		case NodeTypeParallelGateway:
			if cg, ok := p.Nodes[n.ConvergeID]; !ok || cg.Type != NodeTypeConvergeGateway {
				return fmt.Errorf("%w: parallel gateway %s has no converge gateway", ErrMalformed, id)
			}
			if len(n.Outgoing) == 0 {
				return fmt.Errorf("%w: parallel gateway %s has no branch", ErrMalformed, id)
			}
		case NodeTypeSubProcess:
			if n.Pipeline == nil {
				return fmt.Errorf("%w: sub process %s has no pipeline", ErrMalformed, id)
			}
			if err := n.Pipeline.validate(ids, activities); err != nil {
				return err
			}
		}
	}
	return p.walk(func(*Node, int) error { return nil }, 0)
}

func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	out := &Pipeline{
		ID:         p.ID,
		Name:       p.Name,
		StartEvent: p.StartEvent,
		EndEvent:   p.EndEvent,
		Nodes:      make(map[string]*Node, len(p.Nodes)),
		Global:     maps.Clone(p.Global),
	}
	if p.Data != nil {
		out.Data = make(map[string]*ContextVar, len(p.Data))
		for k, v := range p.Data {
			cv := *v
			cv.Writers = slices.Clone(v.Writers)
			out.Data[k] = &cv
		}
	}
	for id, n := range p.Nodes {
		out.Nodes[id] = n.Clone()
	}
	return out
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Inputs = maps.Clone(n.Inputs)
	out.Hosts = slices.Clone(n.Hosts)
	out.Incoming = slices.Clone(n.Incoming)
	out.Outgoing = slices.Clone(n.Outgoing)
	out.Pipeline = n.Pipeline.Clone()
	return &out
}

// Redact returns a copy of p with the inputs of every node removed, at every nesting level.
// Redact(Redact(p)) equals Redact(p).
func Redact(p *Pipeline) *Pipeline {
	out := p.Clone()
	out.Visit(func(n *Node) { n.Inputs = nil })
	return out
}

const SecretMask = "******"

// SecretKeys are input keys whose values never leave the engine in plain text.
var SecretKeys = []string{"password", "passwd", "secret", "token"}

// MaskSecrets returns a copy of inputs with the values of SecretKeys masked, nested maps included.
func MaskSecrets(inputs map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if slices.Contains(SecretKeys, strings.ToLower(k)) {
			out[k] = SecretMask
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = MaskSecrets(nested)
		}
		out[k] = v
	}
	return out
}
