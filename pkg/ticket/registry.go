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

package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/builder"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/log"
)

var (
	ErrUnknownTicketType = errors.New("unknown ticket type")
	ErrDuplicated        = errors.New("ticket type already registered")
	ErrInvalidStage      = errors.New("invalid stage")
)

// FlowFactory adds the steps of a ticket to a fresh builder.
type FlowFactory func(ctx context.Context, b *builder.Builder, t *Ticket) error

// Registry maps ticket types to the factories building their flows.
type Registry struct {
	activities *activity.Registry
	lock       sync.RWMutex
	factories  map[string]FlowFactory
}

func NewRegistry(activities *activity.Registry) *Registry {
	return &Registry{activities: activities, factories: map[string]FlowFactory{}}
}

// NewDefaultRegistry returns a registry serving the declarative GENERIC ticket type.
func NewDefaultRegistry(activities *activity.Registry) *Registry {
	r := NewRegistry(activities)
	_ = r.Register(TicketTypeGeneric, GenericFlow)
	return r
}

func (r *Registry) Register(ticketType string, factory FlowFactory) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.factories[ticketType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicated, ticketType)
	}
	r.factories[ticketType] = factory
	return nil
}

func (r *Registry) TicketTypes() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) builder(ctx context.Context, t *Ticket) (*builder.Builder, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r.lock.RLock()
	factory, ok := r.factories[t.TicketType]
	r.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicketType, t.TicketType)
	}
	b, err := builder.New(r.activities, t.RootID, t.Details,
		builder.WithTicket(t.TicketType, t.BizID, t.Creator),
		builder.WithEphemeralScope(t.EphemeralClusterIDs...),
	)
	if err != nil {
		return nil, err
	}
	if err := factory(ctx, b, t); err != nil {
		return nil, fmt.Errorf("build %s flow: %w", t.TicketType, err)
	}
	return b, nil
}

func finalizeOptions(t *Ticket) builder.FinalizeOptions {
	return builder.FinalizeOptions{InitialContext: t.InitialContext, KeepEphemeral: t.KeepEphemeral}
}

// Build returns the finalized flow of t without submitting it.
func (r *Registry) Build(ctx context.Context, t *Ticket) (*engine.Flow, error) {
	b, err := r.builder(ctx, t)
	if err != nil {
		return nil, err
	}
	return b.Finalize(finalizeOptions(t))
}

// Submit builds the flow of t and runs it, failures are logged and reported as false.
func (r *Registry) Submit(ctx context.Context, t *Ticket, runner builder.Runner) bool {
	b, err := r.builder(ctx, t)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "build ticket flow", "ticketType", t.TicketType, "bizId", t.BizID)
		return false
	}
	return b.FinalizeAndSubmit(ctx, runner, finalizeOptions(t))
}
