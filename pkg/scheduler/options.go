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

package scheduler

import (
	"time"

	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/utils"
)

const (
	QueueSubmit            = "submit"
	DefaultActivityTimeout = 5 * time.Minute
	// dispatchGrace is the time left to write a result back after the activity timeout.
	dispatchGrace = time.Minute
)

type Options struct {
	Concurrency     int           `json:"concurrency" yaml:"concurrency" description:"number of flows processed at the same time and activities run in parallel per flow"`
	ActivityTimeout time.Duration `json:"activityTimeout" yaml:"activityTimeout" description:"timeout of a single activity run"`
	Retention       time.Duration `json:"retention" yaml:"retention" description:"how long runtime state of terminated flows is kept, 0 keeps forever"`
	RecoverInterval time.Duration `json:"recoverInterval" yaml:"recoverInterval" description:"interval of requeueing flows whose dispatched activities are lost, 0 disables"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Concurrency:     5,
		ActivityTimeout: DefaultActivityTimeout,
		Retention:       7 * 24 * time.Hour,
		RecoverInterval: time.Minute,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.IntVar(&o.Concurrency, utils.JoinFlagName(prefix, "concurrency"), o.Concurrency, "number of flows and activities processed concurrently")
	fs.DurationVar(&o.ActivityTimeout, utils.JoinFlagName(prefix, "activity-timeout"), o.ActivityTimeout, "timeout of a single activity run")
	fs.DurationVar(&o.Retention, utils.JoinFlagName(prefix, "retention"), o.Retention, "retention of terminated flow runtime, 0 keeps forever")
	fs.DurationVar(&o.RecoverInterval, utils.JoinFlagName(prefix, "recover-interval"), o.RecoverInterval, "interval of requeueing flows with lost activities, 0 disables")
}
