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

// State is the execution state of a node, a sub process or a whole pipeline.
type State string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateSuspended State = "SUSPENDED"
	StateFinished  State = "FINISHED"
	StateFailed    State = "FAILED"
	StateRevoked   State = "REVOKED"
)

var AllStates = []State{StateCreated, StateRunning, StateSuspended, StateFinished, StateFailed, StateRevoked}

// 状态机:
//
//	CREATED   -> RUNNING
//	RUNNING   -> FINISHED | FAILED | SUSPENDED | REVOKED
//	SUSPENDED -> RUNNING | REVOKED | FAILED(force fail)
//	FAILED    -> RUNNING(retry) | FINISHED(skip) | REVOKED
//
// FINISHED 和 REVOKED 为终态。
var transitions = map[State]map[State]bool{
	StateCreated:   {StateRunning: true},
	StateRunning:   {StateFinished: true, StateFailed: true, StateSuspended: true, StateRevoked: true},
	StateSuspended: {StateRunning: true, StateRevoked: true, StateFailed: true},
	StateFailed:    {StateRunning: true, StateFinished: true, StateRevoked: true},
}

func CanTransit(from, to State) bool {
	return transitions[from][to]
}

func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateRevoked
}

func (s State) Valid() bool {
	for _, state := range AllStates {
		if s == state {
			return true
		}
	}
	return false
}
