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
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	v    *validator.Validate
	once sync.Once

	sqlIdentRegexp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Get returns the shared validator, field names in errors follow json tags.
func Get() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// sqlident: safe to inline into account management statements
		_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
			return sqlIdentRegexp.MatchString(fl.Field().String())
		})
	})
	return v
}

func Struct(value any) error {
	return Get().Struct(value)
}
