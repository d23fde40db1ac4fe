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

package validate

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type account struct {
	Username string `json:"username" validate:"required,sqlident"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		value     account
		wantField string
	}{
		{name: "ok", value: account{Username: "tmp_2401011200_abc123"}},
		{name: "empty", value: account{}, wantField: "username"},
		{name: "quote", value: account{Username: "a'b"}, wantField: "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.value)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs validator.ValidationErrors
			if assert.True(t, errors.As(err, &verrs)) {
				assert.Equal(t, tt.wantField, verrs[0].Field())
			}
		})
	}
}
