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

package activity

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/utils"
	"kubegems.io/ticketflow/pkg/utils/validate"
)

type CredentialOptions struct {
	AdminUsername  string            `json:"adminUsername" yaml:"adminUsername" description:"account used to manage ephemeral users"`
	AdminPassword  string            `json:"adminPassword" yaml:"adminPassword" description:"password of the admin account"`
	Clusters       map[string]string `json:"clusters" yaml:"clusters" description:"cluster id to comma separated host:port list"`
	Privileges     string            `json:"privileges" yaml:"privileges" description:"privileges granted to ephemeral users"`
	ConnectTimeout time.Duration     `json:"connectTimeout" yaml:"connectTimeout" description:"timeout connecting to a host"`
}

func NewDefaultCredentialOptions() *CredentialOptions {
	return &CredentialOptions{
		AdminUsername:  "root",
		Clusters:       map[string]string{},
		Privileges:     "ALL PRIVILEGES",
		ConnectTimeout: 10 * time.Second,
	}
}

func (o *CredentialOptions) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.AdminUsername, utils.JoinFlagName(prefix, "admin-username"), o.AdminUsername, "admin account used to manage ephemeral users")
	fs.StringVar(&o.AdminPassword, utils.JoinFlagName(prefix, "admin-password"), o.AdminPassword, "admin account password")
	fs.StringToStringVar(&o.Clusters, utils.JoinFlagName(prefix, "clusters"), o.Clusters, "cluster hosts, e.g. c1=10.0.0.1:3306,c2=10.0.0.2:3306")
	fs.StringVar(&o.Privileges, utils.JoinFlagName(prefix, "privileges"), o.Privileges, "privileges granted to ephemeral users")
	fs.DurationVar(&o.ConnectTimeout, utils.JoinFlagName(prefix, "connect-timeout"), o.ConnectTimeout, "timeout connecting to a host")
}

type HostResolver interface {
	Hosts(ctx context.Context, clusterID string) ([]string, error)
}

// StaticHostResolver resolves cluster hosts from a cluster id to "host:port,host:port" map.
type StaticHostResolver map[string]string

func (r StaticHostResolver) Hosts(_ context.Context, clusterID string) ([]string, error) {
	val, ok := r[clusterID]
	if !ok || val == "" {
		return nil, fmt.Errorf("no hosts known for cluster %s", clusterID)
	}
	hosts := []string{}
	for _, host := range strings.Split(val, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

type OpenFunc func(dsn string) (*sql.DB, error)

type CredentialManager struct {
	Options  *CredentialOptions
	Resolver HostResolver
	Open     OpenFunc
}

func NewCredentialManager(options *CredentialOptions) *CredentialManager {
	return &CredentialManager{
		Options:  options,
		Resolver: StaticHostResolver(options.Clusters),
		Open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
	}
}

type CredentialParams struct {
	ClusterIDs []string `json:"cluster_ids" validate:"required,min=1,dive,required"`
	Username   string   `json:"username" validate:"required,max=32,sqlident"`
	Password   string   `json:"password" validate:"omitempty,alphanum"`
}

func (m *CredentialManager) resolve(ctx context.Context, clusterIDs []string) ([]string, error) {
	hosts := []string{}
	seen := map[string]bool{}
	for _, id := range clusterIDs {
		resolved, err := m.Resolver.Hosts(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, host := range resolved {
			if !seen[host] {
				seen[host] = true
				hosts = append(hosts, host)
			}
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (m *CredentialManager) dsn(host string) string {
	cfg := driver.NewConfig()
	cfg.User = m.Options.AdminUsername
	cfg.Passwd = m.Options.AdminPassword
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.Timeout = m.Options.ConnectTimeout
	cfg.AllowNativePasswords = true
	return cfg.FormatDSN()
}

// exec runs statements on every host of the clusters, stopping at the first failing host.
func (m *CredentialManager) exec(ctx context.Context, clusterIDs []string, statements ...string) ([]string, error) {
	hosts, err := m.resolve(ctx, clusterIDs)
	if err != nil {
		return nil, err
	}
	log := log.FromContextOrDiscard(ctx)
	for _, host := range hosts {
		if err := m.execOn(ctx, host, statements); err != nil {
			return nil, fmt.Errorf("host %s: %w", host, err)
		}
		log.Info("account statements applied", "host", host, "count", len(statements))
	}
	return hosts, nil
}

func (m *CredentialManager) execOn(ctx context.Context, host string, statements []string) error {
	db, err := m.Open(m.dsn(host))
	if err != nil {
		return err
	}
	defer db.Close()
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func decodeCredentialParams(in Input, needPassword bool) (*CredentialParams, error) {
	params := &CredentialParams{}
	if err := DecodeParams(in.Params, params); err != nil {
		return nil, err
	}
	if err := validate.Struct(params); err != nil {
		return nil, err
	}
	if needPassword && params.Password == "" {
		return nil, fmt.Errorf("password is required")
	}
	return params, nil
}

type CreateCredential struct {
	manager *CredentialManager
}

func (c *CreateCredential) Run(ctx context.Context, in Input) (Result, error) {
	params, err := decodeCredentialParams(in, true)
	if err != nil {
		return Result{}, err
	}
	privileges := c.manager.Options.Privileges
	if privileges == "" {
		privileges = "ALL PRIVILEGES"
	}
	hosts, err := c.manager.exec(ctx, params.ClusterIDs,
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'", params.Username, params.Password),
		fmt.Sprintf("GRANT %s ON *.* TO '%s'@'%%'", privileges, params.Username),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Outputs: map[string]any{"username": params.Username, "hosts": hosts}}, nil
}

type DropCredential struct {
	manager *CredentialManager
}

func (d *DropCredential) Run(ctx context.Context, in Input) (Result, error) {
	params, err := decodeCredentialParams(in, false)
	if err != nil {
		return Result{}, err
	}
	hosts, err := d.manager.exec(ctx, params.ClusterIDs,
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'", params.Username),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Outputs: map[string]any{"username": params.Username, "hosts": hosts}}, nil
}
