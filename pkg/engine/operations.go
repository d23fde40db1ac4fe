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

package engine

import (
	"context"

	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/pipeline"
)

func (e *Engine) Pause(ctx context.Context, rootID string) error {
	return e.do(ctx, "pause", rootID, "", func(ctx context.Context) error {
		return e.scheduler.Pause(ctx, rootID)
	})
}

func (e *Engine) Resume(ctx context.Context, rootID string) error {
	return e.do(ctx, "resume", rootID, "", func(ctx context.Context) error {
		return e.scheduler.Resume(ctx, rootID)
	})
}

// Revoke cancels the flow, in flight activities keep running but their results are discarded.
func (e *Engine) Revoke(ctx context.Context, rootID string) error {
	return e.do(ctx, "revoke", rootID, "", func(ctx context.Context) error {
		if err := e.scheduler.Revoke(ctx, rootID); err != nil {
			return err
		}
		if err := e.store.UpdateFlowStatus(ctx, rootID, pipeline.StateRevoked); err != nil {
			log.FromContextOrDiscard(ctx).Error(err, "mark flow revoked", "root", rootID)
		}
		return nil
	})
}

// RetryNode reruns a failed node, non nil inputs replace its original inputs.
func (e *Engine) RetryNode(ctx context.Context, rootID, nodeID string, inputs map[string]any) error {
	return e.do(ctx, "retry", rootID, nodeID, func(ctx context.Context) error {
		return e.scheduler.RetryNode(ctx, rootID, nodeID, inputs)
	})
}

func (e *Engine) SkipNode(ctx context.Context, rootID, nodeID string) error {
	return e.do(ctx, "skip", rootID, nodeID, func(ctx context.Context) error {
		return e.scheduler.SkipNode(ctx, rootID, nodeID)
	})
}

func (e *Engine) ForceFailNode(ctx context.Context, rootID, nodeID, reason string) error {
	return e.do(ctx, "forcefail", rootID, nodeID, func(ctx context.Context) error {
		return e.scheduler.ForceFail(ctx, rootID, nodeID, reason)
	})
}

// Callback delivers data to a node waiting for it, the pending version is read from the live state.
func (e *Engine) Callback(ctx context.Context, rootID, nodeID string, data map[string]any) error {
	return e.do(ctx, "callback", rootID, nodeID, func(ctx context.Context) error {
		tree, err := e.scheduler.GetState(ctx, rootID)
		if err != nil {
			return err
		}
		node := tree.Find(nodeID)
		if node == nil {
			return ErrNodeNotFound
		}
		if node.Version == "" {
			return ErrNoPendingCallback
		}
		return e.scheduler.Callback(ctx, rootID, nodeID, node.Version, data)
	})
}

// GetTreeState returns the raw state tree, trees of terminated flows are served from cache.
func (e *Engine) GetTreeState(ctx context.Context, rootID string) (*pipeline.StateTree, error) {
	if cached, ok := e.cache.Get(rootID); ok {
		return cached.Clone(), nil
	}
	var tree *pipeline.StateTree
	err := e.do(ctx, "state", rootID, "", func(ctx context.Context) error {
		got, err := e.scheduler.GetState(ctx, rootID)
		tree = got
		return err
	})
	if err != nil {
		return nil, err
	}
	if tree.State.IsTerminal() {
		e.cache.Add(rootID, tree.Clone())
	}
	return tree, nil
}

func (e *Engine) GetChildrenState(ctx context.Context, rootID, nodeID string) (*pipeline.StateTree, error) {
	var tree *pipeline.StateTree
	err := e.do(ctx, "children", rootID, nodeID, func(ctx context.Context) error {
		got, err := e.scheduler.GetChildrenState(ctx, rootID, nodeID)
		tree = got
		return err
	})
	return tree, err
}

func (e *Engine) GetNodeInput(ctx context.Context, rootID, nodeID string) (map[string]any, error) {
	var inputs map[string]any
	err := e.do(ctx, "inputs", rootID, nodeID, func(ctx context.Context) error {
		got, err := e.scheduler.GetNodeInput(ctx, rootID, nodeID)
		inputs = got
		return err
	})
	return inputs, err
}

func (e *Engine) GetNodeHistory(ctx context.Context, rootID, nodeID string) ([]pipeline.NodeHistory, error) {
	var history []pipeline.NodeHistory
	err := e.do(ctx, "history", rootID, nodeID, func(ctx context.Context) error {
		got, err := e.scheduler.GetNodeHistory(ctx, rootID, nodeID)
		history = got
		return err
	})
	return history, err
}

func (e *Engine) GetExecutionOutput(ctx context.Context, rootID, nodeID string) (*pipeline.ExecutionOutput, error) {
	var output *pipeline.ExecutionOutput
	err := e.do(ctx, "outputs", rootID, nodeID, func(ctx context.Context) error {
		got, err := e.scheduler.GetExecutionOutput(ctx, rootID, nodeID)
		output = got
		return err
	})
	return output, err
}
