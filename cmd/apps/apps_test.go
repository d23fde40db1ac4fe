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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenCfg(t *testing.T) {
	tests := []struct {
		name string
		args []string
		keys []string
	}{
		{name: "worker", args: []string{"gencfg"}, keys: []string{"system", "redis", "scheduler", "credential", "otel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			cmd := NewWorkerCmd()
			cmd.SetOut(out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())

			got := map[string]any{}
			require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
			for _, key := range tt.keys {
				assert.Contains(t, got, key)
			}
		})
	}
}

func TestServiceGenCfg(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewServiceCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"gencfg"})
	require.NoError(t, cmd.Execute())

	got := map[string]any{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Contains(t, got, "mysql")
	assert.Contains(t, got, "sync")
	assert.Equal(t, "http://ticketflow-worker:8090", got["scheduler"])
}

func TestSubmitDryRun(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewSubmitCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"-f", "../../pkg/ticket/testdata/generic.yaml", "--dry-run"})
	require.NoError(t, cmd.Execute())

	flow := map[string]any{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &flow))
	assert.Equal(t, "ticket-1001", flow["rootId"])
	assert.NotEmpty(t, flow["nodes"])
}
