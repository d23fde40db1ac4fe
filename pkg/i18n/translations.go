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
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	p           *i18nPrinter
	defaultLang = language.English
)

type i18nPrinter struct {
	printers map[language.Tag]*message.Printer
}

var supportedTags = []language.Tag{
	language.English,
	language.AmericanEnglish,
	language.SimplifiedChinese,
	language.Chinese,
}

var supported = language.NewMatcher(supportedTags)

// Match returns the supported language closest to the accept-language like input, e.g. "zh-CN,zh;q=0.9".
func Match(accept string) language.Tag {
	langs, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(langs) == 0 {
		return defaultLang
	}
	_, idx, confidence := supported.Match(langs...)
	if confidence == language.No {
		return defaultLang
	}
	return supportedTags[idx]
}

func WithLang(ctx context.Context, lang language.Tag) context.Context {
	return context.WithValue(ctx, LANG, lang)
}

func LangFromContext(ctx context.Context) language.Tag {
	if ctx == nil {
		return defaultLang
	}
	if lang, ok := ctx.Value(LANG).(language.Tag); ok {
		return lang
	}
	return defaultLang
}

func printerFromCtx(ctx context.Context) *message.Printer {
	if printer, exist := p.printers[LangFromContext(ctx)]; exist {
		return printer
	}
	return p.printers[defaultLang]
}

func Sprintf(ctx context.Context, format string, a ...interface{}) string {
	return printerFromCtx(ctx).Sprintf(format, a...)
}

// Translate looks up a plain message key, keys carrying format verbs are returned as is.
func Translate(ctx context.Context, key string) string {
	if strings.Contains(key, "%") {
		return key
	}
	return printerFromCtx(ctx).Sprintf(key)
}

func Errorf(ctx context.Context, format string, a ...interface{}) error {
	return errors.New(printerFromCtx(ctx).Sprintf(format, a...))
}

func init() {
	p = &i18nPrinter{printers: make(map[language.Tag]*message.Printer)}
	for _, langTag := range supportedTags {
		switch langTag {
		case language.AmericanEnglish, language.English:
			initEnUS(langTag)
		case language.SimplifiedChinese, language.Chinese:
			initZhCN(langTag)
		}
		p.printers[langTag] = message.NewPrinter(langTag)
	}
}
