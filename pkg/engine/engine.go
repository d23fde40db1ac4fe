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
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
)

const (
	tracerName            = "kubegems.io/ticketflow/pkg/engine"
	DefaultStateCacheSize = 1024
)

type Engine struct {
	scheduler Scheduler
	store     Store
	cache     *lru.Cache[string, *pipeline.StateTree] // state trees of terminated flows
	tracer    trace.Tracer
}

func New(scheduler Scheduler, store Store) *Engine {
	cache, _ := lru.New[string, *pipeline.StateTree](DefaultStateCacheSize)
	return &Engine{
		scheduler: scheduler,
		store:     store,
		cache:     cache,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run persists the redacted tree of flow and submits it to the scheduler.
func (e *Engine) Run(ctx context.Context, flow *Flow) (result RunResult) {
	ctx, span := e.tracer.Start(ctx, "engine.run")
	defer span.End()
	log := log.FromContextOrDiscard(ctx).WithName("engine")

	defer func() {
		if r := recover(); r != nil {
			result = RunResult{Err: fmt.Errorf("run flow: panic: %v", r)}
		}
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
			log.Error(result.Err, "run flow failed", "root", result.RootID)
		}
	}()

	if flow == nil || flow.Tree == nil {
		return RunResult{Err: ErrEmptyFlow}
	}
	rootID := flow.RootID
	if rootID == "" {
		rootID = flow.Tree.ID
	}
	span.SetAttributes(attribute.String("root", rootID))
	if rootID != flow.Tree.ID {
		return RunResult{RootID: rootID, Err: fmt.Errorf("%w: root id %s differs from tree id %s", pipeline.ErrMalformed, rootID, flow.Tree.ID)}
	}
	if err := flow.Tree.Validate(); err != nil {
		return RunResult{RootID: rootID, Err: err}
	}

	record, nodes, err := flowRecords(rootID, flow)
	if err != nil {
		return RunResult{RootID: rootID, Err: err}
	}
	if err := e.store.CreateFlow(ctx, record, nodes); err != nil {
		return RunResult{RootID: rootID, Err: err}
	}
	if err := e.scheduler.Submit(ctx, flow.Tree); err != nil {
		if uerr := e.store.UpdateFlowStatus(ctx, rootID, pipeline.StateFailed); uerr != nil {
			log.Error(uerr, "mark flow failed", "root", rootID)
		}
		return RunResult{RootID: rootID, Err: fmt.Errorf("submit flow: %w", err)}
	}
	if err := e.store.UpdateFlowStatus(ctx, rootID, pipeline.StateRunning); err != nil {
		log.Error(err, "mark flow running", "root", rootID)
	}
	log.Info("flow submitted", "root", rootID, "nodes", len(nodes))
	return RunResult{OK: true, RootID: rootID}
}

func flowRecords(rootID string, flow *Flow) (*models.FlowTree, []*models.FlowNode, error) {
	raw, err := json.Marshal(pipeline.Redact(flow.Tree))
	if err != nil {
		return nil, nil, err
	}
	record := &models.FlowTree{
		RootID:     rootID,
		TicketType: flow.TicketType,
		BizID:      flow.BizID,
		Tree:       datatypes.JSON(raw),
		Status:     pipeline.StateCreated,
		CreatedBy:  flow.Creator,
	}
	nodes := make([]*models.FlowNode, 0, len(flow.Nodes))
	for _, n := range flow.Nodes {
		hosts, err := json.Marshal(n.Hosts)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, &models.FlowNode{
			RootID:    rootID,
			NodeID:    n.NodeID,
			Name:      n.Name,
			Component: n.Component,
			Hosts:     datatypes.JSON(hosts),
			Status:    pipeline.StateCreated,
		})
	}
	return record, nodes, nil
}

func (e *Engine) do(ctx context.Context, op, rootID, nodeID string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(
		attribute.String("root", rootID),
		attribute.String("node", nodeID),
	))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &OperationError{Op: op, RootID: rootID, NodeID: nodeID, Err: err}
	}
	return nil
}
