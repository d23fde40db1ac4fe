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
	"errors"
	"fmt"

	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
)

var (
	ErrEmptyFlow         = errors.New("empty flow")
	ErrNodeNotFound      = fmt.Errorf("node %w", pipeline.ErrNotFound)
	ErrNoPendingCallback = pipeline.ErrNoPendingCallback
)

// Flow is a finalized pipeline tree ready to be submitted.
type Flow struct {
	RootID     string             `json:"rootId"`
	TicketType string             `json:"ticketType,omitempty"`
	BizID      string             `json:"bizId,omitempty"`
	Creator    string             `json:"creator,omitempty"`
	Tree       *pipeline.Pipeline `json:"tree"`
	Nodes      []NodeRecord       `json:"nodes,omitempty"`
}

// NodeRecord is the local bookkeeping of an activity node.
type NodeRecord struct {
	NodeID    string   `json:"nodeId"`
	Name      string   `json:"name"`
	Component string   `json:"component"`
	Hosts     []string `json:"hosts,omitempty"`
}

type RunResult struct {
	OK     bool
	RootID string
	Err    error
}

// Scheduler executes submitted trees and serves their runtime state.
type Scheduler interface {
	Submit(ctx context.Context, tree *pipeline.Pipeline) error
	Pause(ctx context.Context, rootID string) error
	Resume(ctx context.Context, rootID string) error
	Revoke(ctx context.Context, rootID string) error
	RetryNode(ctx context.Context, rootID, nodeID string, inputs map[string]any) error
	SkipNode(ctx context.Context, rootID, nodeID string) error
	ForceFail(ctx context.Context, rootID, nodeID, reason string) error
	Callback(ctx context.Context, rootID, nodeID, version string, data map[string]any) error
	GetState(ctx context.Context, rootID string) (*pipeline.StateTree, error)
	GetChildrenState(ctx context.Context, rootID, nodeID string) (*pipeline.StateTree, error)
	GetNodeInput(ctx context.Context, rootID, nodeID string) (map[string]any, error)
	GetNodeHistory(ctx context.Context, rootID, nodeID string) ([]pipeline.NodeHistory, error)
	GetExecutionOutput(ctx context.Context, rootID, nodeID string) (*pipeline.ExecutionOutput, error)
}

type Store interface {
	CreateFlow(ctx context.Context, tree *models.FlowTree, nodes []*models.FlowNode) error
	UpdateFlowStatus(ctx context.Context, rootID string, status pipeline.State) error
}

type OperationError struct {
	Op     string
	RootID string
	NodeID string
	Err    error
}

func (e *OperationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s node %s of %s: %v", e.Op, e.NodeID, e.RootID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RootID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
