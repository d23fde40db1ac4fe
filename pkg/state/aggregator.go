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

import (
	"context"
	"encoding/json"

	"kubegems.io/ticketflow/pkg/i18n"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
)

// TreeSource serves raw state trees, implemented by *engine.Engine.
type TreeSource interface {
	GetTreeState(ctx context.Context, rootID string) (*pipeline.StateTree, error)
}

// NodeStore serves the locally persisted node records.
type NodeStore interface {
	ListFlowNodes(ctx context.Context, rootID string) ([]*models.FlowNode, error)
}

type Aggregator struct {
	source TreeSource
	store  NodeStore
}

func NewAggregator(source TreeSource, store NodeStore) *Aggregator {
	return &Aggregator{source: source, store: store}
}

// ComputeEffectiveStates returns the effective state tree of a flow, enriched with node
// metadata and labels in the language of ctx.
func (a *Aggregator) ComputeEffectiveStates(ctx context.Context, rootID string) (*pipeline.StateTree, error) {
	raw, err := a.source.GetTreeState(ctx, rootID)
	if err != nil {
		return nil, err
	}
	tree := EffectiveStates(raw)

	nodes, err := a.store.ListFlowNodes(ctx, rootID)
	if err != nil {
		return nil, err
	}
	metas := make(map[string]*pipeline.NodeMeta, len(nodes))
	for _, n := range nodes {
		metas[n.NodeID] = nodeMeta(ctx, n)
	}
	decorate(ctx, tree, metas)
	return tree, nil
}

func nodeMeta(ctx context.Context, n *models.FlowNode) *pipeline.NodeMeta {
	createdAt, updatedAt := n.CreatedAt, n.UpdatedAt
	meta := &pipeline.NodeMeta{
		CreatedAt: &createdAt,
		StartedAt: n.StartedAt,
		UpdatedAt: &updatedAt,
	}
	if len(n.Hosts) > 0 {
		if err := json.Unmarshal(n.Hosts, &meta.Hosts); err != nil {
			log.FromContextOrDiscard(ctx).Info("invalid hosts of node", "node", n.NodeID, "err", err.Error())
		}
	}
	return meta
}

func decorate(ctx context.Context, node *pipeline.StateTree, metas map[string]*pipeline.NodeMeta) {
	if meta, ok := metas[node.ID]; ok {
		node.Meta = meta
	}
	if node.Name != "" {
		node.Name = i18n.Translate(ctx, node.Name)
	}
	node.StateLabel = i18n.Translate(ctx, string(node.State))
	for _, child := range node.Children {
		decorate(ctx, child, metas)
	}
}
