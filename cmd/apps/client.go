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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"kubegems.io/ticketflow/pkg/service"
	"kubegems.io/ticketflow/pkg/state"
	"kubegems.io/ticketflow/pkg/ticket"
	"kubegems.io/ticketflow/pkg/utils/config"
)

// clientCmd runs fn with dependencies built from the service options.
func clientCmd(cmd *cobra.Command, options *service.Options, fn func(ctx context.Context, deps *service.Dependencies) error) error {
	if err := config.Parse(cmd.Flags()); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	deps, err := service.NewDependencies(ctx, options)
	if err != nil {
		return err
	}
	return fn(ctx, deps)
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func NewSubmitCmd() *cobra.Command {
	options := service.DefaultOptions()
	file, dryRun := "", false
	cmd := &cobra.Command{
		Use:          "submit",
		Short:        "build a ticket file into a flow and submit it",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := ticket.LoadFile(file)
			if err != nil {
				return err
			}
			if dryRun {
				tickets, err := service.NewTicketRegistry()
				if err != nil {
					return err
				}
				flow, err := tickets.Build(cmd.Context(), t)
				if err != nil {
					return err
				}
				return printJSON(cmd, flow)
			}
			return clientCmd(cmd, options, func(ctx context.Context, deps *service.Dependencies) error {
				flow, err := deps.Tickets.Build(ctx, t)
				if err != nil {
					return err
				}
				result := deps.Engine.Run(ctx, flow)
				if !result.OK {
					return result.Err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.RootID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "ticket.yaml", "ticket file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", dryRun, "print the built flow without submitting")
	options.RegistFlags("", cmd.Flags())
	return cmd
}

func NewStateCmd() *cobra.Command {
	options := service.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "state ROOT_ID",
		Short:        "show the effective state tree of a flow",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCmd(cmd, options, func(ctx context.Context, deps *service.Dependencies) error {
				tree, err := state.NewAggregator(deps.Engine, deps.Store).ComputeEffectiveStates(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, tree)
			})
		},
	}
	options.RegistFlags("", cmd.Flags())
	return cmd
}
