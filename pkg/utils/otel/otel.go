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

package otel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/utils"
)

// Options of the otlp exporters, endpoints come from the standard OTEL_EXPORTER_OTLP_* env.
type Options struct {
	Enable       bool   `json:"enable" yaml:"enable" description:"enable otel"`
	ExcludePaths string `json:"excludePaths" yaml:"excludePaths" description:"exclude http request paths to sample, split by ','"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Enable:       false,
		ExcludePaths: "/healthz,/metrics",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enable, utils.JoinFlagName(prefix, "enable"), o.Enable, "enable otel")
	fs.StringVar(&o.ExcludePaths, utils.JoinFlagName(prefix, "exclude-paths"), o.ExcludePaths, "exclude http request paths to sample, split by ','")
}

func (o *Options) excluded() map[string]bool {
	paths := map[string]bool{}
	for _, p := range strings.Split(o.ExcludePaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths[p] = true
		}
	}
	return paths
}

func initTracer(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

func initMeter(ctx context.Context) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Init installs the global tracer and meter providers, the returned func flushes and stops them.
func Init(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enable {
		return noop, nil
	}
	otel.SetLogger(log.LogrLogger)

	tp, err := initTracer(ctx)
	if err != nil {
		return noop, err
	}
	mp, err := initMeter(ctx)
	if err != nil {
		return tp.Shutdown, err
	}
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	// start runtime metric
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		return shutdown, err
	}
	return shutdown, nil
}
