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
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/state"
	"kubegems.io/ticketflow/pkg/utils"
	"kubegems.io/ticketflow/pkg/utils/database"
	"kubegems.io/ticketflow/pkg/utils/otel"
	"kubegems.io/ticketflow/pkg/utils/pprof"
	"kubegems.io/ticketflow/pkg/utils/system"
)

type Options struct {
	System    *system.Options    `json:"system,omitempty" yaml:"system" head_comment:"系统配置"`
	LogLevel  string             `json:"logLevel,omitempty" yaml:"logLevel"`
	Mysql     *database.Options  `json:"mysql,omitempty" yaml:"mysql" head_comment:"数据库配置"`
	Scheduler string             `json:"scheduler,omitempty" yaml:"scheduler" head_comment:"worker 地址"`
	Sync      *state.SyncOptions `json:"sync,omitempty" yaml:"sync" head_comment:"状态同步"`
	Otel      *otel.Options      `json:"otel,omitempty" yaml:"otel"`
	Pprof     *pprof.Options     `json:"pprof,omitempty" yaml:"pprof"`
}

func DefaultOptions() *Options {
	sys := system.NewDefaultOptions()
	sys.Listen = ":8080"
	return &Options{
		System:    sys,
		LogLevel:  "info",
		Mysql:     database.NewDefaultOptions(),
		Scheduler: scheduler.DefaultWorkerAddress,
		Sync:      state.NewDefaultSyncOptions(),
		Otel:      otel.NewDefaultOptions(),
		Pprof:     pprof.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, utils.JoinFlagName(prefix, "loglevel"), o.LogLevel, "log level")
	fs.StringVar(&o.Scheduler, utils.JoinFlagName(prefix, "scheduler"), o.Scheduler, "address of the worker pipeline api")
	o.System.RegistFlags(utils.JoinFlagName(prefix, "system"), fs)
	o.Mysql.RegistFlags(utils.JoinFlagName(prefix, "mysql"), fs)
	o.Sync.RegistFlags(utils.JoinFlagName(prefix, "sync"), fs)
	o.Otel.RegistFlags(utils.JoinFlagName(prefix, "otel"), fs)
	o.Pprof.RegistFlags(utils.JoinFlagName(prefix, "pprof"), fs)
}
