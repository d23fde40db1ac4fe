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
	"fmt"
	"maps"

	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/pipeline"
)

func (s *Server) operate(ctx context.Context, op, rootID string, fn func(rt *Runtime) (bool, error)) error {
	err := s.update(ctx, rootID, fn)
	s.metrics.operation(op, err)
	if err != nil {
		log.FromContextOrDiscard(ctx).Info("operation rejected", "op", op, "root", rootID, "err", err.Error())
	}
	return err
}

func (s *Server) Pause(ctx context.Context, rootID string) error {
	return s.operate(ctx, "pause", rootID, func(rt *Runtime) (bool, error) {
		if err := checkTransit("pause", rootID, rt.State, pipeline.StateSuspended, pipeline.StateRunning); err != nil {
			return false, err
		}
		rt.State = pipeline.StateSuspended
		return true, nil
	})
}

func (s *Server) Resume(ctx context.Context, rootID string) error {
	err := s.operate(ctx, "resume", rootID, func(rt *Runtime) (bool, error) {
		if err := checkTransit("resume", rootID, rt.State, pipeline.StateRunning, pipeline.StateSuspended); err != nil {
			return false, err
		}
		rt.State = pipeline.StateRunning
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, rootID)
}

// Revoke terminates the flow, nodes not yet started stay CREATED.
func (s *Server) Revoke(ctx context.Context, rootID string) error {
	return s.operate(ctx, "revoke", rootID, func(rt *Runtime) (bool, error) {
		if err := checkTransit("revoke", rootID, rt.State, pipeline.StateRevoked, pipeline.StateRunning, pipeline.StateSuspended); err != nil {
			return false, err
		}
		now := s.now()
		rt.State = pipeline.StateRevoked
		rt.FinishedAt = &now
		for _, status := range rt.Nodes {
			if pipeline.CanTransit(status.State, pipeline.StateRevoked) {
				status.settle()
				rt.transit(status, pipeline.StateRevoked, now)
			}
		}
		return true, nil
	})
}

// activityStatus returns the status of activity nodeID, the flow must still be alive.
func activityStatus(rt *Runtime, op, nodeID string) (*pipeline.Node, *NodeStatus, error) {
	n, _ := rt.Tree.Find(nodeID)
	if n == nil {
		return nil, nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	if n.Type != pipeline.NodeTypeActivity {
		return nil, nil, fmt.Errorf("can not %s %s node %s: %w", op, n.Type, nodeID, ErrInvalidState)
	}
	if rt.State.IsTerminal() {
		return nil, nil, fmt.Errorf("can not %s node of %s flow: %w", op, rt.State, ErrInvalidState)
	}
	return n, rt.Nodes[nodeID], nil
}

// RetryNode reruns a failed activity, inputs not nil replaces its inputs for this attempt only.
func (s *Server) RetryNode(ctx context.Context, rootID, nodeID string, inputs map[string]any) error {
	err := s.operate(ctx, "retry", rootID, func(rt *Runtime) (bool, error) {
		n, status, err := activityStatus(rt, "retry", nodeID)
		if err != nil {
			return false, err
		}
		if err := checkTransit("retry", nodeID, status.State, pipeline.StateRunning, pipeline.StateFailed); err != nil {
			return false, err
		}
		status.History = append(status.History, pipeline.NodeHistory{
			Attempt:    status.Attempt,
			State:      status.State,
			Error:      status.Error,
			Inputs:     rt.params(n),
			Outputs:    status.Outputs,
			StartedAt:  status.StartedAt,
			FinishedAt: status.FinishedAt,
		})
		status.Inputs = maps.Clone(inputs)
		status.Retry++
		status.Error = ""
		status.Outputs = nil
		status.StartedAt = nil
		status.settle()
		status.Pending = pendingRun
		rt.transit(status, pipeline.StateRunning, s.now())
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, rootID)
}

// SkipNode marks a failed activity finished, it contributes nothing to context variables.
func (s *Server) SkipNode(ctx context.Context, rootID, nodeID string) error {
	err := s.operate(ctx, "skip", rootID, func(rt *Runtime) (bool, error) {
		_, status, err := activityStatus(rt, "skip", nodeID)
		if err != nil {
			return false, err
		}
		if err := checkTransit("skip", nodeID, status.State, pipeline.StateFinished, pipeline.StateFailed); err != nil {
			return false, err
		}
		status.Skip = true
		rt.transit(status, pipeline.StateFinished, s.now())
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, rootID)
}

// ForceFail fails a running or suspended activity, a result of its in flight run is discarded.
func (s *Server) ForceFail(ctx context.Context, rootID, nodeID, reason string) error {
	return s.operate(ctx, "force_fail", rootID, func(rt *Runtime) (bool, error) {
		_, status, err := activityStatus(rt, "force fail", nodeID)
		if err != nil {
			return false, err
		}
		if err := checkTransit("force fail", nodeID, status.State, pipeline.StateFailed, pipeline.StateRunning, pipeline.StateSuspended); err != nil {
			return false, err
		}
		if reason == "" {
			reason = "force failed"
		}
		status.Error = reason
		status.Version = ""
		status.settle()
		status.Attempt++
		rt.transit(status, pipeline.StateFailed, s.now())
		return true, nil
	})
}

// Callback resumes a suspended activity, version must match the one issued when it suspended.
func (s *Server) Callback(ctx context.Context, rootID, nodeID, version string, data map[string]any) error {
	err := s.operate(ctx, "callback", rootID, func(rt *Runtime) (bool, error) {
		_, status, err := activityStatus(rt, "callback", nodeID)
		if err != nil {
			return false, err
		}
		if status.State != pipeline.StateSuspended || status.Version == "" {
			return false, fmt.Errorf("node %s in state %s: %w", nodeID, status.State, ErrNoPendingCallback)
		}
		if status.Version != version {
			return false, fmt.Errorf("node %s: %w", nodeID, ErrCallbackVersion)
		}
		status.Version = ""
		status.settle()
		status.Pending = pendingCallback
		status.CallbackData = maps.Clone(data)
		rt.transit(status, pipeline.StateRunning, s.now())
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, rootID)
}

func (s *Server) GetState(ctx context.Context, rootID string) (*pipeline.StateTree, error) {
	rt, err := s.load(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return rt.stateTree(), nil
}

// GetChildrenState returns the state tree below nodeID, nodeID may be the root.
func (s *Server) GetChildrenState(ctx context.Context, rootID, nodeID string) (*pipeline.StateTree, error) {
	tree, err := s.GetState(ctx, rootID)
	if err != nil {
		return nil, err
	}
	found := tree.Find(nodeID)
	if found == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return found, nil
}

func (s *Server) node(ctx context.Context, rootID, nodeID string) (*Runtime, *pipeline.Node, error) {
	rt, err := s.load(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}
	n, _ := rt.Tree.Find(nodeID)
	if n == nil {
		return nil, nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return rt, n, nil
}

func (s *Server) GetNodeInput(ctx context.Context, rootID, nodeID string) (map[string]any, error) {
	rt, n, err := s.node(ctx, rootID, nodeID)
	if err != nil {
		return nil, err
	}
	return rt.params(n), nil
}

func (s *Server) GetNodeHistory(ctx context.Context, rootID, nodeID string) ([]pipeline.NodeHistory, error) {
	rt, n, err := s.node(ctx, rootID, nodeID)
	if err != nil {
		return nil, err
	}
	history := rt.Nodes[n.ID].History
	if history == nil {
		history = []pipeline.NodeHistory{}
	}
	return history, nil
}

func (s *Server) GetExecutionOutput(ctx context.Context, rootID, nodeID string) (*pipeline.ExecutionOutput, error) {
	rt, n, err := s.node(ctx, rootID, nodeID)
	if err != nil {
		return nil, err
	}
	status := rt.Nodes[n.ID]
	return &pipeline.ExecutionOutput{
		State:        status.State,
		Outputs:      maps.Clone(status.Outputs),
		Error:        status.Error,
		ErrorIgnored: status.ErrorIgnored,
	}, nil
}
