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
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/utils"
)

// flows in these statuses are still synchronized, a FAILED flow may be retried.
var syncStatuses = []pipeline.State{
	pipeline.StateCreated,
	pipeline.StateRunning,
	pipeline.StateSuspended,
	pipeline.StateFailed,
}

type SyncOptions struct {
	Schedule string `json:"schedule" yaml:"schedule" description:"cron schedule of flow state synchronization"`
}

func NewDefaultSyncOptions() *SyncOptions {
	return &SyncOptions{Schedule: "@every 30s"}
}

func (o *SyncOptions) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Schedule, utils.JoinFlagName(prefix, "schedule"), o.Schedule, "cron schedule of flow state synchronization")
}

type SyncStore interface {
	NodeStore
	ListFlows(ctx context.Context, statuses ...pipeline.State) ([]*models.FlowTree, error)
	UpdateFlowStatus(ctx context.Context, rootID string, status pipeline.State) error
	UpdateFlowNode(ctx context.Context, nodeID string, status pipeline.State, startedAt *time.Time) error
}

// Syncer writes effective states of live flows back to the local records.
type Syncer struct {
	options *SyncOptions
	source  TreeSource
	store   SyncStore
}

func NewSyncer(options *SyncOptions, source TreeSource, store SyncStore) *Syncer {
	return &Syncer{options: options, source: source, store: store}
}

// Run synchronizes on schedule until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	log := log.FromContextOrDiscard(ctx).WithName("syncer")
	ctx = logr.NewContext(ctx, log)

	crontab := cron.New()
	if _, err := crontab.AddFunc(s.options.Schedule, func() {
		if err := s.SyncOnce(ctx); err != nil {
			log.Error(err, "sync flow states")
		}
	}); err != nil {
		return err
	}
	log.Info("starting state syncer", "schedule", s.options.Schedule)
	crontab.Start()
	<-ctx.Done()
	<-crontab.Stop().Done()
	return nil
}

// SyncOnce synchronizes every live flow once, errors of single flows are joined.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	flows, err := s.store.ListFlows(ctx, syncStatuses...)
	if err != nil {
		return err
	}
	var errs []error
	for _, flow := range flows {
		if err := s.syncFlow(ctx, flow); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) syncFlow(ctx context.Context, flow *models.FlowTree) error {
	raw, err := s.source.GetTreeState(ctx, flow.RootID)
	if err != nil {
		return err
	}
	tree := EffectiveStates(raw)
	if tree.State != flow.Status {
		log.FromContextOrDiscard(ctx).Info("flow state changed", "root", flow.RootID, "from", flow.Status, "to", tree.State)
		if err := s.store.UpdateFlowStatus(ctx, flow.RootID, tree.State); err != nil {
			return err
		}
	}
	nodes, err := s.store.ListFlowNodes(ctx, flow.RootID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		state := tree.Find(n.NodeID)
		if state == nil || (state.State == n.Status && (n.StartedAt != nil || state.StartedAt == nil)) {
			continue
		}
		if err := s.store.UpdateFlowNode(ctx, n.NodeID, state.State, state.StartedAt); err != nil {
			return err
		}
	}
	return nil
}
