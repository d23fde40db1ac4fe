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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, nil))
	assert.Equal(t, []string{ComponentEcho, ComponentPause, ComponentSleep}, r.Components())

	err := r.Register(ComponentEcho, func() Activity { return &Echo{} })
	assert.Error(t, err, "duplicated registration")

	_, err = r.Resolve("missing")
	assert.True(t, errors.Is(err, ErrUnknownComponent))
	var unknown *UnknownComponentError
	if assert.True(t, errors.As(err, &unknown)) {
		assert.Equal(t, "missing", unknown.Component)
	}

	act, err := r.Resolve(ComponentPause)
	require.NoError(t, err)
	_, ok := act.(Callbacker)
	assert.True(t, ok)
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		activity Activity
		params   map[string]any
		want     Result
		wantErr  bool
	}{
		{
			name:     "echo",
			activity: &Echo{},
			params:   map[string]any{"k": "v"},
			want:     Result{Outputs: map[string]any{"k": "v"}},
		},
		{
			name:     "echo fails",
			activity: &Echo{},
			params:   map[string]any{"fail": "boom"},
			wantErr:  true,
		},
		{
			name:     "pause waits",
			activity: &Pause{},
			want:     Result{Wait: true},
		},
		{
			name:     "sleep",
			activity: &Sleep{},
			params:   map[string]any{"seconds": 0.01},
			want:     Result{Outputs: map[string]any{"slept": 0.01}},
		},
		{
			name:     "sleep bad params",
			activity: &Sleep{},
			params:   map[string]any{"seconds": "long"},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.activity.Run(ctx, Input{NodeID: "n1", Params: tt.params})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSleepCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := (&Sleep{}).Run(ctx, Input{Params: map[string]any{"seconds": 60}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPauseCallback(t *testing.T) {
	got, err := (&Pause{}).OnCallback(context.Background(), Input{}, map[string]any{"confirmed": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"confirmed": true}, got.Outputs)
}
