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

package system

import (
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/utils"
)

type Options struct {
	Listen string `json:"listen,omitempty" yaml:"listen" description:"listen address"`
}

func NewDefaultOptions() *Options {
	return &Options{Listen: ":8090"}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, utils.JoinFlagName(prefix, "listen"), o.Listen, "listen address")
}
