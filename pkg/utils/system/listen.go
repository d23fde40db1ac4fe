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

package system

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"

	"github.com/go-logr/logr"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ListenAndServeContext serves handler until ctx is done, plain http also accepts h2c.
func ListenAndServeContext(ctx context.Context, listen string, tls *tls.Config, handler http.Handler) error {
	log := logr.FromContextOrDiscard(ctx)

	s := http.Server{Handler: handler, Addr: listen, TLSConfig: tls}
	go func() {
		<-ctx.Done()
		log.Info("shutting down server", "addr", listen)
		s.Close()
	}()
	var err error
	if s.TLSConfig != nil {
		_ = http2.ConfigureServer(&s, &http2.Server{})
		log.Info("starting https server", "addr", listen)
		err = s.ListenAndServeTLS("", "")
	} else {
		s.Handler = h2c.NewHandler(s.Handler, &http2.Server{})
		log.Info("starting http server", "addr", listen)
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
