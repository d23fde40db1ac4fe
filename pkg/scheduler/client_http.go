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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/version"
)

// RemoteClient talks to the pipeline api of a scheduler worker.
type RemoteClient struct {
	Address string
	client  *resty.Client
}

const DefaultWorkerAddress = "http://ticketflow-worker:8090"

func NewRemoteClient(address string) *RemoteClient {
	return NewRemoteClientWithHTTPClient(address, &http.Client{Timeout: 30 * time.Second})
}

func NewRemoteClientWithHTTPClient(address string, client *http.Client) *RemoteClient {
	return &RemoteClient{
		Address: address,
		client: resty.NewWithClient(client).
			SetBaseURL(address).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", version.UserAgent()).
			OnBeforeRequest(injectTraceContext),
	}
}

func injectTraceContext(_ *resty.Client, req *resty.Request) error {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return nil
}

var codeErrors = map[string]error{
	CodeNotFound:          ErrNotFound,
	CodeInvalidState:      ErrInvalidState,
	CodeNoPendingCallback: ErrNoPendingCallback,
	CodeCallbackVersion:   ErrCallbackVersion,
}

func (r *RemoteClient) do(ctx context.Context, method, path string, body, into any) error {
	req := r.client.R().SetContext(ctx).SetResult(&Response{Data: into}).SetError(&Response{})
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*Response); ok && e.Message != "" {
		msg = e.Message
		if sentinel, ok := codeErrors[e.Code]; ok {
			return fmt.Errorf("%s: %w", msg, sentinel)
		}
	}
	return fmt.Errorf("request %s %s failed: %s", method, path, msg)
}

func rootPath(rootID string, elems ...string) string {
	p := "/v1/pipelines/" + url.PathEscape(rootID)
	for _, elem := range elems {
		p += "/" + url.PathEscape(elem)
	}
	return p
}

func (r *RemoteClient) Submit(ctx context.Context, tree *pipeline.Pipeline) error {
	return r.do(ctx, http.MethodPost, "/v1/pipelines", tree, nil)
}

func (r *RemoteClient) Pause(ctx context.Context, rootID string) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "pause"), nil, nil)
}

func (r *RemoteClient) Resume(ctx context.Context, rootID string) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "resume"), nil, nil)
}

func (r *RemoteClient) Revoke(ctx context.Context, rootID string) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "revoke"), nil, nil)
}

func (r *RemoteClient) RetryNode(ctx context.Context, rootID, nodeID string, inputs map[string]any) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "nodes", nodeID, "retry"), RetryRequest{Inputs: inputs}, nil)
}

func (r *RemoteClient) SkipNode(ctx context.Context, rootID, nodeID string) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "nodes", nodeID, "skip"), nil, nil)
}

func (r *RemoteClient) ForceFail(ctx context.Context, rootID, nodeID, reason string) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "nodes", nodeID, "forcefail"), ForceFailRequest{Reason: reason}, nil)
}

func (r *RemoteClient) Callback(ctx context.Context, rootID, nodeID, version string, data map[string]any) error {
	return r.do(ctx, http.MethodPost, rootPath(rootID, "nodes", nodeID, "callback"), CallbackRequest{Version: version, Data: data}, nil)
}

func (r *RemoteClient) GetState(ctx context.Context, rootID string) (*pipeline.StateTree, error) {
	tree := &pipeline.StateTree{}
	if err := r.do(ctx, http.MethodGet, rootPath(rootID, "state"), nil, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (r *RemoteClient) GetChildrenState(ctx context.Context, rootID, nodeID string) (*pipeline.StateTree, error) {
	tree := &pipeline.StateTree{}
	if err := r.do(ctx, http.MethodGet, rootPath(rootID, "nodes", nodeID, "state"), nil, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (r *RemoteClient) GetNodeInput(ctx context.Context, rootID, nodeID string) (map[string]any, error) {
	inputs := map[string]any{}
	if err := r.do(ctx, http.MethodGet, rootPath(rootID, "nodes", nodeID, "inputs"), nil, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (r *RemoteClient) GetNodeHistory(ctx context.Context, rootID, nodeID string) ([]pipeline.NodeHistory, error) {
	history := []pipeline.NodeHistory{}
	if err := r.do(ctx, http.MethodGet, rootPath(rootID, "nodes", nodeID, "history"), nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (r *RemoteClient) GetExecutionOutput(ctx context.Context, rootID, nodeID string) (*pipeline.ExecutionOutput, error) {
	output := &pipeline.ExecutionOutput{}
	if err := r.do(ctx, http.MethodGet, rootPath(rootID, "nodes", nodeID, "outputs"), nil, output); err != nil {
		return nil, err
	}
	return output, nil
}
