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

package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/utils"
)

type Options struct {
	Addr     string `json:"addr,omitempty" yaml:"addr" description:"redis address"`
	Username string `json:"username,omitempty" yaml:"username" description:"redis username"`
	Password string `json:"password,omitempty" yaml:"password" description:"redis password"`
	DB       int    `json:"db,omitempty" yaml:"db" description:"redis db"`
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "redis address, keep empty to use the inmemory backend")
	fs.StringVar(&o.Username, utils.JoinFlagName(prefix, "username"), o.Username, "redis username")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "redis password")
	fs.IntVar(&o.DB, utils.JoinFlagName(prefix, "db"), o.DB, "redis db")
}

func NewDefaultOptions() *Options {
	return &Options{
		Addr:     "", // keep empty to avoid using redis
		Password: "",
	}
}

type Client struct {
	*redis.Client
}

func NewClient(options *Options) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Username: options.Username,
		Password: options.Password,
		DB:       options.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{Client: cli}, nil
}
