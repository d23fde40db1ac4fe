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
	"maps"
	"time"

	"kubegems.io/ticketflow/pkg/log"
)

const (
	ComponentPause            = "pause"
	ComponentSleep            = "sleep"
	ComponentEcho             = "echo"
	ComponentCreateCredential = "ephemeral_credential_create"
	ComponentDropCredential   = "ephemeral_credential_drop"
)

// RegisterBuiltins registers the builtin components, credential components are registered when cred is not nil.
func RegisterBuiltins(r *Registry, cred *CredentialManager) error {
	builtins := map[string]Constructor{
		ComponentPause: func() Activity { return &Pause{} },
		ComponentSleep: func() Activity { return &Sleep{} },
		ComponentEcho:  func() Activity { return &Echo{} },
	}
	if cred != nil {
		builtins[ComponentCreateCredential] = func() Activity { return &CreateCredential{manager: cred} }
		builtins[ComponentDropCredential] = func() Activity { return &DropCredential{manager: cred} }
	}
	for name, constructor := range builtins {
		if err := r.Register(name, constructor); err != nil {
			return err
		}
	}
	return nil
}

// Pause waits for a manual confirmation, the callback data becomes its outputs.
type Pause struct{}

func (p *Pause) Run(ctx context.Context, in Input) (Result, error) {
	log.FromContextOrDiscard(ctx).Info("waiting for confirmation", "node", in.NodeID)
	return Result{Wait: true}, nil
}

func (p *Pause) OnCallback(ctx context.Context, in Input, data map[string]any) (Result, error) {
	return Result{Outputs: maps.Clone(data)}, nil
}

type SleepParams struct {
	Seconds float64 `json:"seconds"`
}

type Sleep struct{}

func (s *Sleep) Run(ctx context.Context, in Input) (Result, error) {
	params := SleepParams{}
	if err := DecodeParams(in.Params, &params); err != nil {
		return Result{}, err
	}
	timer := time.NewTimer(time.Duration(params.Seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		return Result{Outputs: map[string]any{"slept": params.Seconds}}, nil
	}
}

// Echo returns its params as outputs, a string "fail" param makes it fail with that message.
type Echo struct{}

func (e *Echo) Run(ctx context.Context, in Input) (Result, error) {
	if msg, ok := in.Params["fail"].(string); ok && msg != "" {
		return Result{}, errors.New(msg)
	}
	return Result{Outputs: maps.Clone(in.Params)}, nil
}
