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

package log

import (
	"github.com/go-logr/logr"
)

// 组件的 logger 从 context 中获取并用 .WithName() 区分，全局函数只用于进程启动阶段。

var (
	NewContext           = logr.NewContext
	FromContextOrDiscard = logr.FromContextOrDiscard
)

func Error(err error, msg string, keysAndValues ...interface{}) {
	LogrLogger.WithCallDepth(1).Error(err, msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	LogrLogger.WithCallDepth(1).Info(msg, keysAndValues...)
}

func V(level int) logr.Logger {
	return LogrLogger.V(level)
}
