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

package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/utils/otel"
	"kubegems.io/ticketflow/pkg/utils/pprof"
	"kubegems.io/ticketflow/pkg/utils/redis"
	"kubegems.io/ticketflow/pkg/utils/system"
)

const serviceName = "ticketflow-worker"

type Dependencies struct {
	Backend  scheduler.Backend
	Locker   scheduler.Locker
	Registry *activity.Registry
}

func prepareDependencies(ctx context.Context, options *Options) (*Dependencies, error) {
	registry := activity.NewRegistry()
	if err := activity.RegisterBuiltins(registry, activity.NewCredentialManager(options.Credential)); err != nil {
		return nil, err
	}
	// inmemory backend if no redis configured
	if options.Redis.Addr == "" {
		log.FromContextOrDiscard(ctx).Info("redis addr not set, using inmemory backend")
		return &Dependencies{
			Backend:  scheduler.NewInmemoryBackend(ctx),
			Locker:   scheduler.NewMemoryLocker(),
			Registry: registry,
		}, nil
	}
	rediscli, err := redis.NewClient(options.Redis)
	if err != nil {
		return nil, err
	}
	return &Dependencies{
		Backend:  scheduler.NewRedisBackend(rediscli.Client),
		Locker:   scheduler.NewRedisLocker(rediscli.Client),
		Registry: registry,
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

	deps, err := prepareDependencies(ctx, options)
	if err != nil {
		return err
	}
	server := scheduler.NewServer(deps.Backend, deps.Locker, deps.Registry, options.Scheduler)
	handler := scheduler.NewAPI(server).Handler(log.LogrLogger, otel.GinTracing(serviceName, options.Otel))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return pprof.Run(ctx, options.Pprof)
	})
	eg.Go(func() error {
		return server.Run(ctx)
	})
	eg.Go(func() error {
		return system.ListenAndServeContext(ctx, options.System.Listen, nil, handler)
	})
	return eg.Wait()
}
