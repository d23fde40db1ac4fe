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

package apps

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"kubegems.io/ticketflow/pkg/service"
)

type opFunc func(ctx context.Context, deps *service.Dependencies, args []string) error

// NewOpCmd groups the control operations on running flows.
func NewOpCmd() *cobra.Command {
	options := service.DefaultOptions()
	var (
		inputs string
		reason string
		data   string
	)
	cmd := &cobra.Command{
		Use:   "op",
		Short: "control a flow",
	}
	options.RegistFlags("", cmd.PersistentFlags())

	newOp := func(use, short string, nargs int, fn opFunc) *cobra.Command {
		return &cobra.Command{
			Use:          use,
			Short:        short,
			Args:         cobra.ExactArgs(nargs),
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return clientCmd(cmd, options, func(ctx context.Context, deps *service.Dependencies) error {
					return fn(ctx, deps, args)
				})
			},
		}
	}

	retry := newOp("retry ROOT_ID NODE_ID", "retry a failed node", 2, func(ctx context.Context, deps *service.Dependencies, args []string) error {
		var override map[string]any
		if inputs != "" {
			if err := json.Unmarshal([]byte(inputs), &override); err != nil {
				return err
			}
		}
		return deps.Engine.RetryNode(ctx, args[0], args[1], override)
	})
	retry.Flags().StringVar(&inputs, "inputs", "", "json object replacing the inputs of the node")

	forcefail := newOp("forcefail ROOT_ID NODE_ID", "mark a running node failed", 2, func(ctx context.Context, deps *service.Dependencies, args []string) error {
		return deps.Engine.ForceFailNode(ctx, args[0], args[1], reason)
	})
	forcefail.Flags().StringVar(&reason, "reason", "", "failure reason")

	callback := newOp("callback ROOT_ID NODE_ID", "deliver callback data to a waiting node", 2, func(ctx context.Context, deps *service.Dependencies, args []string) error {
		var payload map[string]any
		if data != "" {
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return err
			}
		}
		return deps.Engine.Callback(ctx, args[0], args[1], payload)
	})
	callback.Flags().StringVar(&data, "data", "", "json object delivered to the node")

	cmd.AddCommand(
		newOp("pause ROOT_ID", "pause a flow", 1, func(ctx context.Context, deps *service.Dependencies, args []string) error {
			return deps.Engine.Pause(ctx, args[0])
		}),
		newOp("resume ROOT_ID", "resume a paused flow", 1, func(ctx context.Context, deps *service.Dependencies, args []string) error {
			return deps.Engine.Resume(ctx, args[0])
		}),
		newOp("revoke ROOT_ID", "revoke a flow", 1, func(ctx context.Context, deps *service.Dependencies, args []string) error {
			return deps.Engine.Revoke(ctx, args[0])
		}),
		newOp("skip ROOT_ID NODE_ID", "skip a failed node", 2, func(ctx context.Context, deps *service.Dependencies, args []string) error {
			return deps.Engine.SkipNode(ctx, args[0], args[1])
		}),
		retry,
		forcefail,
		callback,
	)
	return cmd
}
