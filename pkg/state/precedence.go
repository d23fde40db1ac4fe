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

import "kubegems.io/ticketflow/pkg/pipeline"

// precedence of abnormal child states, the first state present wins.
var precedence = []pipeline.State{
	pipeline.StateFailed,
	pipeline.StateRevoked,
	pipeline.StateSuspended,
}

// Precedence returns the state a RUNNING parent is reported in given the states of its children.
// ok is false when no child is FAILED, REVOKED or SUSPENDED.
func Precedence(children []pipeline.State) (pipeline.State, bool) {
	present := make(map[pipeline.State]bool, len(children))
	for _, s := range children {
		present[s] = true
	}
	for _, s := range precedence {
		if present[s] {
			return s, true
		}
	}
	return "", false
}

// EffectiveStates returns a copy of tree where every RUNNING node with children carries the
// precedence of its children's effective states. Children are resolved before their parent.
func EffectiveStates(tree *pipeline.StateTree) *pipeline.StateTree {
	out := tree.Clone()
	resolve(out)
	return out
}

func resolve(node *pipeline.StateTree) {
	if node == nil || len(node.Children) == 0 {
		return
	}
	states := make([]pipeline.State, 0, len(node.Children))
	for _, child := range node.Children {
		resolve(child)
		states = append(states, child.State)
	}
	if node.State != pipeline.StateRunning {
		return
	}
	if s, ok := Precedence(states); ok {
		node.State = s
	}
}
