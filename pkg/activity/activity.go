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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// 组件 id 与实现一一对应，构建流程时通过 Registry 解析，未注册的组件无法加入流程。

var ErrUnknownComponent = errors.New("unknown component")

type Input struct {
	RootID  string         `json:"rootId"`
	NodeID  string         `json:"nodeId"`
	Params  map[string]any `json:"params,omitempty"`
	Global  map[string]any `json:"global,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

type Result struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	// Wait suspends the node until a callback arrives.
	Wait bool `json:"wait,omitempty"`
}

type Activity interface {
	Run(ctx context.Context, in Input) (Result, error)
}

// Callbacker is implemented by activities that may be resumed by external callback data.
type Callbacker interface {
	OnCallback(ctx context.Context, in Input, data map[string]any) (Result, error)
}

type Constructor func() Activity

type UnknownComponentError struct {
	Component string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("component %q not registered", e.Component)
}

func (e *UnknownComponentError) Is(target error) bool {
	return target == ErrUnknownComponent
}

type Registry struct {
	lock         sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

func (r *Registry) Register(component string, constructor Constructor) error {
	if component == "" || constructor == nil {
		return fmt.Errorf("invalid component registration %q", component)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.constructors[component]; ok {
		return fmt.Errorf("component %q already registered", component)
	}
	r.constructors[component] = constructor
	return nil
}

func (r *Registry) Resolve(component string) (Activity, error) {
	r.lock.RLock()
	constructor, ok := r.constructors[component]
	r.lock.RUnlock()
	if !ok {
		return nil, &UnknownComponentError{Component: component}
	}
	return constructor(), nil
}

func (r *Registry) Has(component string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.constructors[component]
	return ok
}

func (r *Registry) Components() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeParams converts loosely typed params into a typed struct through its json tags.
func DecodeParams(params map[string]any, into any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
