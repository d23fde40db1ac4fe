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
	"context"
	"errors"
	"fmt"
	"slices"

	"kubegems.io/ticketflow/pkg/pipeline"
)

var (
	ErrNotFound          = pipeline.ErrNotFound
	ErrInvalidState      = pipeline.ErrInvalidState
	ErrNoPendingCallback = pipeline.ErrNoPendingCallback
	ErrCallbackVersion   = pipeline.ErrCallbackVersion

	ErrCorruptedRuntime = errors.New("corrupted runtime")
)

// TransitionError is returned when an operation is not allowed in the current state.
type TransitionError struct {
	Op     string
	NodeID string
	From   pipeline.State
	To     pipeline.State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("can not %s %s: %s -> %s", e.Op, e.NodeID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// checkTransit allows op to move a node in state to when state is one of from.
func checkTransit(op, nodeID string, state, to pipeline.State, from ...pipeline.State) error {
	if slices.Contains(from, state) && pipeline.CanTransit(state, to) {
		return nil
	}
	return &TransitionError{Op: op, NodeID: nodeID, From: state, To: to}
}

// retriable reports whether processing a flow may succeed when it is requeued.
func retriable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrCorruptedRuntime),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
