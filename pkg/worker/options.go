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
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/utils"
	"kubegems.io/ticketflow/pkg/utils/otel"
	"kubegems.io/ticketflow/pkg/utils/pprof"
	"kubegems.io/ticketflow/pkg/utils/redis"
	"kubegems.io/ticketflow/pkg/utils/system"
)

type Options struct {
	System     *system.Options             `json:"system,omitempty" yaml:"system" head_comment:"系统配置"`
	LogLevel   string                      `json:"logLevel,omitempty" yaml:"logLevel"`
	Redis      *redis.Options              `json:"redis,omitempty" yaml:"redis" head_comment:"redis 配置, addr 为空时使用内存 backend, 仅适用于单实例"`
	Scheduler  *scheduler.Options          `json:"scheduler,omitempty" yaml:"scheduler" head_comment:"调度配置"`
	Credential *activity.CredentialOptions `json:"credential,omitempty" yaml:"credential" head_comment:"临时账号配置"`
	Otel       *otel.Options               `json:"otel,omitempty" yaml:"otel"`
	Pprof      *pprof.Options              `json:"pprof,omitempty" yaml:"pprof"`
}

func DefaultOptions() *Options {
	return &Options{
		System:     system.NewDefaultOptions(),
		LogLevel:   "info",
		Redis:      redis.NewDefaultOptions(),
		Scheduler:  scheduler.NewDefaultOptions(),
		Credential: activity.NewDefaultCredentialOptions(),
		Otel:       otel.NewDefaultOptions(),
		Pprof:      pprof.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, utils.JoinFlagName(prefix, "loglevel"), o.LogLevel, "log level")
	o.System.RegistFlags(utils.JoinFlagName(prefix, "system"), fs)
	o.Redis.RegistFlags(utils.JoinFlagName(prefix, "redis"), fs)
	o.Scheduler.RegistFlags(utils.JoinFlagName(prefix, "scheduler"), fs)
	o.Credential.RegistFlags(utils.JoinFlagName(prefix, "credential"), fs)
	o.Otel.RegistFlags(utils.JoinFlagName(prefix, "otel"), fs)
	o.Pprof.RegistFlags(utils.JoinFlagName(prefix, "pprof"), fs)
}
