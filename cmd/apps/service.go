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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"kubegems.io/ticketflow/pkg/models"
	"kubegems.io/ticketflow/pkg/service"
	"kubegems.io/ticketflow/pkg/utils/config"
	"kubegems.io/ticketflow/pkg/utils/database"
	"kubegems.io/ticketflow/pkg/version"
)

func NewServiceCmd() *cobra.Command {
	options := service.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "service",
		Short:        "run ticket service",
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return service.Run(ctx, options)
		},
	}
	cmd.AddCommand(newGenCfgCmd(func() any { return service.DefaultOptions() }))
	options.RegistFlags("", cmd.Flags())
	return cmd
}

func NewMigrateCmd() *cobra.Command {
	options := service.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "create database and tables (use service config)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			return database.Migrate(options.Mysql, models.AllModels()...)
		},
	}
	options.RegistFlags("", cmd.Flags())
	return cmd
}
