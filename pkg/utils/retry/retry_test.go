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

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/wait"
)

func TestOnErrorWithBackoff(t *testing.T) {
	fast := wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1}
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failTimes int
		isRetry   func(error) bool
		wantErr   error
		wantCalls int
	}{
		{name: "success first", failTimes: 0, isRetry: AlwaysError, wantCalls: 1},
		{name: "success after retry", failTimes: 2, isRetry: AlwaysError, wantCalls: 3},
		{name: "exhausted returns last error", failTimes: 10, isRetry: AlwaysError, wantErr: errBoom, wantCalls: 3},
		{name: "not retriable", failTimes: 10, isRetry: func(error) bool { return false }, wantErr: errBoom, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := OnErrorWithBackoff(fast, tt.isRetry, func() error {
				calls++
				if calls <= tt.failTimes {
					return errBoom
				}
				return nil
			})
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestNotContextCancelError(t *testing.T) {
	assert.False(t, NotContextCancelError(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, NotContextCancelError(errors.New("other")))
}
