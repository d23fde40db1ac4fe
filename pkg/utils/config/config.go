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

package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"kubegems.io/ticketflow/pkg/log"
)

// Parse 从多个方式加载配置
/*
 * 配置文件加载有如下优先级：
 1. 命令行参数
 2. 环境变量
 3. 配置文件
 4. 默认值

- 高优先级的配置若存在，会覆盖低优先级已存在的配置
- 若所有配置均不存在，则使用默认值

配置项需要先注册为 flag，例如 "redis-addr"，对应的环境变量为 "REDIS_ADDR"，配置文件项为 "redis.addr"。
*/
func Parse(fs *pflag.FlagSet) error {
	LoadConfigFile(fs)
	LoadEnv(fs)
	Print(fs)
	return nil
}

func Print(fs *pflag.FlagSet) {
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			log.V(5).Info("config", "flag", flag.Name, "value", flag.Value.String())
		}
	})
}

func LoadEnv(fs *pflag.FlagSet) {
	flagNameToEnvKey := func(fname string) string {
		return strings.ToUpper(strings.ReplaceAll(fname, "-", "_"))
	}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envname := flagNameToEnvKey(f.Name)
		if val, ok := os.LookupEnv(envname); ok {
			log.Info("config from env", "env", envname)
			_ = f.Value.Set(val)
		}
	})
}

func LoadConfigFile(fs *pflag.FlagSet) {
	flagNameToConfigKey := func(fname string) string {
		return strings.ToLower(strings.ReplaceAll(fname, "-", "."))
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	if err := v.ReadInConfig(); err != nil {
		log.V(5).Info("no config file found")
		return
	}

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		filekeyname := flagNameToConfigKey(f.Name)
		if val := v.GetString(filekeyname); val != "" {
			log.Info("config from file", "key", filekeyname)
			_ = f.Value.Set(val)
		}
	})
}
