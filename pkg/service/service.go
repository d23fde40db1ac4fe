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

package service

import (
	"context"

	"golang.org/x/sync/errgroup"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/state"
	"kubegems.io/ticketflow/pkg/ticket"
	"kubegems.io/ticketflow/pkg/utils/database"
	"kubegems.io/ticketflow/pkg/utils/otel"
	"kubegems.io/ticketflow/pkg/utils/pprof"
	"kubegems.io/ticketflow/pkg/utils/system"
)

const serviceName = "ticketflow-service"

type Dependencies struct {
	Database *database.Database
	Store    *models.GormStore
	Engine   *engine.Engine
	Tickets  *ticket.Registry
}

// NewTicketRegistry returns the ticket registry with the builtin components.
// Components only need to be known by name here, they run on the worker.
func NewTicketRegistry() (*ticket.Registry, error) {
	activities := activity.NewRegistry()
	cred := activity.NewCredentialManager(activity.NewDefaultCredentialOptions())
	if err := activity.RegisterBuiltins(activities, cred); err != nil {
		return nil, err
	}
	return ticket.NewDefaultRegistry(activities), nil
}

func NewDependencies(_ context.Context, options *Options) (*Dependencies, error) {
	db, err := database.NewDatabase(options.Mysql)
	if err != nil {
		return nil, err
	}
	store := models.NewGormStore(db.DB())
	tickets, err := NewTicketRegistry()
	if err != nil {
		return nil, err
	}
	return &Dependencies{
		Database: db,
		Store:    store,
		Engine:   engine.New(scheduler.NewRemoteClient(options.Scheduler), store),
		Tickets:  tickets,
	}, nil
}

func Run(ctx context.Context, options *Options) error {
	log.SetLevel(options.LogLevel)
	ctx = log.NewContext(ctx, log.LogrLogger)

	shutdown, err := otel.Init(ctx, options.Otel)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	deps, err := NewDependencies(ctx, options)
	if err != nil {
		return err
	}
	syncer := state.NewSyncer(options.Sync, deps.Engine, deps.Store)
	handler := &Handler{
		Engine:     deps.Engine,
		Tickets:    deps.Tickets,
		Aggregator: state.NewAggregator(deps.Engine, deps.Store),
		Flows:      deps.Store,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return pprof.Run(ctx, options.Pprof)
	})
	eg.Go(func() error {
		return syncer.Run(ctx)
	})
	eg.Go(func() error {
		return system.ListenAndServeContext(ctx, options.System.Listen, nil,
			handler.Route(log.LogrLogger, otel.GinTracing(serviceName, options.Otel)))
	})
	return eg.Wait()
}
