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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"kubegems.io/ticketflow/pkg/i18n"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/pipeline"
)

// error codes carried in responses, the remote client maps them back to sentinels
const (
	CodeNotFound          = "NotFound"
	CodeInvalidState      = "InvalidState"
	CodeNoPendingCallback = "NoPendingCallback"
	CodeCallbackVersion   = "CallbackVersion"
	CodeBadRequest        = "BadRequest"
	CodeInternal          = "Internal"
)

type Response struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type RetryRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

type ForceFailRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CallbackRequest struct {
	Version string         `json:"version"`
	Data    map[string]any `json:"data,omitempty"`
}

type API struct {
	server *Server
}

func NewAPI(server *Server) *API {
	return &API{server: server}
}

// Handler returns the pipeline api with /metrics and /healthz.
func (a *API) Handler(logger logr.Logger, middlewares ...gin.HandlerFunc) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(a.server.Collectors()...)

	log.SetGinDebugPrintRouteFuncLogger(logger)
	r := gin.New()
	r.Use(log.NewGinLoggerMideare(logger), gin.Recovery(), i18n.SetLang)
	r.Use(middlewares...)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	g := r.Group("/v1/pipelines")
	g.POST("", a.Submit)
	g.POST("/:root/pause", a.Pause)
	g.POST("/:root/resume", a.Resume)
	g.POST("/:root/revoke", a.Revoke)
	g.GET("/:root/state", a.GetState)
	g.POST("/:root/nodes/:node/retry", a.RetryNode)
	g.POST("/:root/nodes/:node/skip", a.SkipNode)
	g.POST("/:root/nodes/:node/forcefail", a.ForceFail)
	g.POST("/:root/nodes/:node/callback", a.Callback)
	g.GET("/:root/nodes/:node/state", a.GetChildrenState)
	g.GET("/:root/nodes/:node/inputs", a.GetNodeInput)
	g.GET("/:root/nodes/:node/history", a.GetNodeHistory)
	g.GET("/:root/nodes/:node/outputs", a.GetExecutionOutput)
	return r
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrNoPendingCallback):
		return http.StatusConflict, CodeNoPendingCallback
	case errors.Is(err, ErrCallbackVersion):
		return http.StatusConflict, CodeCallbackVersion
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, pipeline.ErrMalformed), errors.Is(err, pipeline.ErrNoActivity):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Data: data})
}

func NotOK(c *gin.Context, op string, err error) {
	c.Errors = append(c.Errors, &gin.Error{Err: err, Type: gin.ErrorTypeAny})
	status, code := errorCode(err)
	msg := i18n.Sprintf(c.Request.Context(), "operation %s failed: %s", op, err.Error())
	c.AbortWithStatusJSON(status, Response{Message: msg, Code: code})
}

func BadRequest(c *gin.Context, err error) {
	c.Errors = append(c.Errors, &gin.Error{Err: err, Type: gin.ErrorTypeBind})
	msg := i18n.Sprintf(c.Request.Context(), "invalid request: %s", err.Error())
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: msg, Code: CodeBadRequest})
}

func (a *API) Submit(c *gin.Context) {
	tree := &pipeline.Pipeline{}
	if err := c.ShouldBindJSON(tree); err != nil {
		BadRequest(c, err)
		return
	}
	if err := a.server.Submit(c.Request.Context(), tree); err != nil {
		NotOK(c, "submit", err)
		return
	}
	OK(c, tree.ID)
}

func (a *API) rootOperation(c *gin.Context, op string, fn func(c *gin.Context, root string) error) {
	root := c.Param("root")
	if err := fn(c, root); err != nil {
		NotOK(c, op, err)
		return
	}
	OK(c, root)
}

func (a *API) Pause(c *gin.Context) {
	a.rootOperation(c, "pause", func(c *gin.Context, root string) error {
		return a.server.Pause(c.Request.Context(), root)
	})
}

func (a *API) Resume(c *gin.Context) {
	a.rootOperation(c, "resume", func(c *gin.Context, root string) error {
		return a.server.Resume(c.Request.Context(), root)
	})
}

func (a *API) Revoke(c *gin.Context) {
	a.rootOperation(c, "revoke", func(c *gin.Context, root string) error {
		return a.server.Revoke(c.Request.Context(), root)
	})
}

func (a *API) RetryNode(c *gin.Context) {
	req := RetryRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err)
			return
		}
	}
	a.rootOperation(c, "retry", func(c *gin.Context, root string) error {
		return a.server.RetryNode(c.Request.Context(), root, c.Param("node"), req.Inputs)
	})
}

func (a *API) SkipNode(c *gin.Context) {
	a.rootOperation(c, "skip", func(c *gin.Context, root string) error {
		return a.server.SkipNode(c.Request.Context(), root, c.Param("node"))
	})
}

func (a *API) ForceFail(c *gin.Context) {
	req := ForceFailRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err)
			return
		}
	}
	a.rootOperation(c, "force_fail", func(c *gin.Context, root string) error {
		return a.server.ForceFail(c.Request.Context(), root, c.Param("node"), req.Reason)
	})
}

func (a *API) Callback(c *gin.Context) {
	req := CallbackRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err)
		return
	}
	a.rootOperation(c, "callback", func(c *gin.Context, root string) error {
		return a.server.Callback(c.Request.Context(), root, c.Param("node"), req.Version, req.Data)
	})
}

func (a *API) GetState(c *gin.Context) {
	tree, err := a.server.GetState(c.Request.Context(), c.Param("root"))
	if err != nil {
		NotOK(c, "get_state", err)
		return
	}
	OK(c, tree)
}

func (a *API) GetChildrenState(c *gin.Context) {
	tree, err := a.server.GetChildrenState(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		NotOK(c, "get_children_state", err)
		return
	}
	OK(c, tree)
}

func (a *API) GetNodeInput(c *gin.Context) {
	inputs, err := a.server.GetNodeInput(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		NotOK(c, "get_node_input", err)
		return
	}
	OK(c, inputs)
}

func (a *API) GetNodeHistory(c *gin.Context) {
	history, err := a.server.GetNodeHistory(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		NotOK(c, "get_node_history", err)
		return
	}
	OK(c, history)
}

func (a *API) GetExecutionOutput(c *gin.Context) {
	output, err := a.server.GetExecutionOutput(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		NotOK(c, "get_execution_output", err)
		return
	}
	OK(c, output)
}
