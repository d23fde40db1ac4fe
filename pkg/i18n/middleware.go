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

package i18n

import (
	"github.com/gin-gonic/gin"
)

type CtxLang string

const LANG CtxLang = "lang"

func SetLang(c *gin.Context) {
	lang := Match(c.GetHeader("Accept-Language"))
	c.Request = c.Request.WithContext(WithLang(c.Request.Context(), lang))
}
