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
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/i18n"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/scheduler"
	"kubegems.io/ticketflow/pkg/state"
	"kubegems.io/ticketflow/pkg/ticket"
)

type FlowLister interface {
	ListFlows(ctx context.Context, statuses ...pipeline.State) ([]*models.FlowTree, error)
}

type CallbackRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

type SubmitResponse struct {
	RootID string `json:"rootId"`
}

// Handler serves tickets: submission, control operations and aggregated state.
type Handler struct {
	Engine     *engine.Engine
	Tickets    *ticket.Registry
	Aggregator *state.Aggregator
	Flows      FlowLister
}

func (h *Handler) Route(logger logr.Logger, middlewares ...gin.HandlerFunc) http.Handler {
	log.SetGinDebugPrintRouteFuncLogger(logger)
	r := gin.New()
	r.Use(log.NewGinLoggerMideare(logger), gin.Recovery(), i18n.SetLang)
	r.Use(middlewares...)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	g := r.Group("/v1/tickets")
	g.GET("", h.ListTickets)
	g.POST("", h.SubmitTicket)
	g.GET("/types", h.ListTicketTypes)
	g.GET("/:root/state", h.GetTicketState)
	g.POST("/:root/pause", h.Pause)
	g.POST("/:root/resume", h.Resume)
	g.POST("/:root/revoke", h.Revoke)
	g.POST("/:root/nodes/:node/retry", h.RetryNode)
	g.POST("/:root/nodes/:node/skip", h.SkipNode)
	g.POST("/:root/nodes/:node/forcefail", h.ForceFail)
	g.POST("/:root/nodes/:node/callback", h.Callback)
	g.GET("/:root/nodes/:node/state", h.GetChildrenState)
	g.GET("/:root/nodes/:node/inputs", h.GetNodeInput)
	g.GET("/:root/nodes/:node/history", h.GetNodeHistory)
	g.GET("/:root/nodes/:node/outputs", h.GetExecutionOutput)
	return r
}

func (h *Handler) ListTickets(c *gin.Context) {
	statuses := []pipeline.State{}
	for _, s := range c.QueryArray("status") {
		status := pipeline.State(s)
		if !status.Valid() {
			scheduler.BadRequest(c, fmt.Errorf("unknown status %q", s))
			return
		}
		statuses = append(statuses, status)
	}
	flows, err := h.Flows.ListFlows(c.Request.Context(), statuses...)
	if err != nil {
		scheduler.NotOK(c, "list", err)
		return
	}
	scheduler.OK(c, flows)
}

func (h *Handler) ListTicketTypes(c *gin.Context) {
	scheduler.OK(c, h.Tickets.TicketTypes())
}

// SubmitTicket accepts a json or yaml ticket and starts its flow.
func (h *Handler) SubmitTicket(c *gin.Context) {
	t := &ticket.Ticket{}
	if err := c.ShouldBind(t); err != nil {
		scheduler.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	flow, err := h.Tickets.Build(ctx, t)
	if err != nil {
		scheduler.BadRequest(c, err)
		return
	}
	result := h.Engine.Run(ctx, flow)
	if !result.OK {
		scheduler.NotOK(c, "submit", result.Err)
		return
	}
	scheduler.OK(c, SubmitResponse{RootID: result.RootID})
}

func (h *Handler) GetTicketState(c *gin.Context) {
	tree, err := h.Aggregator.ComputeEffectiveStates(c.Request.Context(), c.Param("root"))
	if err != nil {
		scheduler.NotOK(c, "get_state", err)
		return
	}
	scheduler.OK(c, tree)
}

func (h *Handler) operation(c *gin.Context, op string, fn func(ctx context.Context, root, node string) error) {
	if err := fn(c.Request.Context(), c.Param("root"), c.Param("node")); err != nil {
		scheduler.NotOK(c, op, err)
		return
	}
	scheduler.OK(c, nil)
}

func (h *Handler) Pause(c *gin.Context) {
	h.operation(c, "pause", func(ctx context.Context, root, _ string) error {
		return h.Engine.Pause(ctx, root)
	})
}

func (h *Handler) Resume(c *gin.Context) {
	h.operation(c, "resume", func(ctx context.Context, root, _ string) error {
		return h.Engine.Resume(ctx, root)
	})
}

func (h *Handler) Revoke(c *gin.Context) {
	h.operation(c, "revoke", func(ctx context.Context, root, _ string) error {
		return h.Engine.Revoke(ctx, root)
	})
}

func (h *Handler) RetryNode(c *gin.Context) {
	req := scheduler.RetryRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			scheduler.BadRequest(c, err)
			return
		}
	}
	h.operation(c, "retry", func(ctx context.Context, root, node string) error {
		return h.Engine.RetryNode(ctx, root, node, req.Inputs)
	})
}

func (h *Handler) SkipNode(c *gin.Context) {
	h.operation(c, "skip", func(ctx context.Context, root, node string) error {
		return h.Engine.SkipNode(ctx, root, node)
	})
}

func (h *Handler) ForceFail(c *gin.Context) {
	req := scheduler.ForceFailRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			scheduler.BadRequest(c, err)
			return
		}
	}
	h.operation(c, "force_fail", func(ctx context.Context, root, node string) error {
		return h.Engine.ForceFailNode(ctx, root, node, req.Reason)
	})
}

func (h *Handler) Callback(c *gin.Context) {
	req := CallbackRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			scheduler.BadRequest(c, err)
			return
		}
	}
	h.operation(c, "callback", func(ctx context.Context, root, node string) error {
		return h.Engine.Callback(ctx, root, node, req.Data)
	})
}

func (h *Handler) GetChildrenState(c *gin.Context) {
	tree, err := h.Engine.GetChildrenState(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		scheduler.NotOK(c, "get_state", err)
		return
	}
	scheduler.OK(c, tree)
}

func (h *Handler) GetNodeInput(c *gin.Context) {
	inputs, err := h.Engine.GetNodeInput(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		scheduler.NotOK(c, "get_inputs", err)
		return
	}
	scheduler.OK(c, pipeline.MaskSecrets(inputs))
}

func (h *Handler) GetNodeHistory(c *gin.Context) {
	history, err := h.Engine.GetNodeHistory(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		scheduler.NotOK(c, "get_history", err)
		return
	}
	for i := range history {
		history[i].Inputs = pipeline.MaskSecrets(history[i].Inputs)
	}
	scheduler.OK(c, history)
}

func (h *Handler) GetExecutionOutput(c *gin.Context) {
	output, err := h.Engine.GetExecutionOutput(c.Request.Context(), c.Param("root"), c.Param("node"))
	if err != nil {
		scheduler.NotOK(c, "get_outputs", err)
		return
	}
	scheduler.OK(c, output)
}
