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

package pprof

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/utils"
	"kubegems.io/ticketflow/pkg/utils/system"
)

type Options struct {
	Listen string `json:"listen,omitempty" yaml:"listen" description:"debug listen address, empty disables it"`
}

func NewDefaultOptions() *Options {
	return &Options{Listen: ""}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, utils.JoinFlagName(prefix, "listen"), o.Listen, "pprof listen address, e.g. :6060")
}

// NewHandler serves expvar and pprof on a private mux.
func NewHandler() http.Handler {
	m := http.NewServeMux()
	m.Handle("/debug/vars", expvar.Handler())
	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return m
}

// Run serves the debug endpoints until ctx is done, it blocks without serving when disabled.
func Run(ctx context.Context, options *Options) error {
	if options.Listen == "" {
		<-ctx.Done()
		return nil
	}
	return system.ListenAndServeContext(ctx, options.Listen, nil, NewHandler())
}
