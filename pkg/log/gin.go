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
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

func SetGinDebugPrintRouteFuncLogger(logger logr.Logger) {
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
		logger.V(5).Info("registered",
			"method", httpMethod,
			"path", absolutePath,
			"handler", path.Base(handlerName),
			"count", nuHandlers,
		)
	}
}

// NewGinLoggerMideare logs every request, errors and 5xx on error level.
// The logger is also put into the request context for the handlers.
func NewGinLoggerMideare(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logr.NewContext(c.Request.Context(), logger))
		c.Next()
		latency := time.Since(start)

		statusCode := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", statusCode,
			"latency", latency.String(),
		}
		if root := c.Param("root"); root != "" {
			fields = append(fields, "root", root)
		}
		if len(c.Errors) != 0 {
			logger.Error(c.Errors.Last(), http.StatusText(statusCode), fields...)
			return
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Info(http.StatusText(statusCode), fields...)
			return
		}
		logger.V(5).Info(http.StatusText(statusCode), fields...)
	}
}
