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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockManager(t *testing.T) (*CredentialManager, sqlmock.Sqlmock, *[]string) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	dsns := &[]string{}
	options := NewDefaultCredentialOptions()
	options.AdminPassword = "admin"
	options.Clusters = map[string]string{"c1": "10.0.0.1:3306"}
	manager := NewCredentialManager(options)
	manager.Open = func(dsn string) (*sql.DB, error) {
		*dsns = append(*dsns, dsn)
		return db, nil
	}
	return manager, mock, dsns
}

func TestCreateCredential(t *testing.T) {
	manager, mock, dsns := newMockManager(t)
	mock.ExpectExec("CREATE USER IF NOT EXISTS 'tmp_2401011200_abc123'@'%' IDENTIFIED BY 'Pa55word'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("GRANT ALL PRIVILEGES ON *.* TO 'tmp_2401011200_abc123'@'%'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	act := &CreateCredential{manager: manager}
	got, err := act.Run(context.Background(), Input{Params: map[string]any{
		"cluster_ids": []any{"c1"},
		"username":    "tmp_2401011200_abc123",
		"password":    "Pa55word",
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "tmp_2401011200_abc123", "hosts": []string{"10.0.0.1:3306"}}, got.Outputs)
	assert.NotContains(t, got.Outputs, "password")
	require.Len(t, *dsns, 1)
	assert.Contains(t, (*dsns)[0], "root:admin@tcp(10.0.0.1:3306)")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropCredential(t *testing.T) {
	manager, mock, _ := newMockManager(t)
	mock.ExpectExec("DROP USER IF EXISTS 'tmp_2401011200_abc123'@'%'").
		WillReturnError(errors.New("access denied"))
	mock.ExpectClose()

	act := &DropCredential{manager: manager}
	_, err := act.Run(context.Background(), Input{Params: map[string]any{
		"cluster_ids": []any{"c1"},
		"username":    "tmp_2401011200_abc123",
	}})
	assert.ErrorContains(t, err, "access denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialParamsRejected(t *testing.T) {
	manager, _, dsns := newMockManager(t)
	tests := []struct {
		name   string
		params map[string]any
	}{
		{name: "injection", params: map[string]any{"cluster_ids": []any{"c1"}, "username": "x'@'%'; --", "password": "p"}},
		{name: "no cluster", params: map[string]any{"username": "tmp_x", "password": "p"}},
		{name: "no password", params: map[string]any{"cluster_ids": []any{"c1"}, "username": "tmp_x"}},
		{name: "unknown cluster", params: map[string]any{"cluster_ids": []any{"c9"}, "username": "tmp_x", "password": "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&CreateCredential{manager: manager}).Run(context.Background(), Input{Params: tt.params})
			assert.Error(t, err)
		})
	}
	assert.Empty(t, *dsns)
}

func TestStaticHostResolver(t *testing.T) {
	r := StaticHostResolver{"c1": "a:3306, b:3306,"}
	hosts, err := r.Hosts(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:3306", "b:3306"}, hosts)
	_, err = r.Hosts(context.Background(), "c2")
	assert.Error(t, err)
}
