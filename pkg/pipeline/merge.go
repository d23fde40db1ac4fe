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

package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"sort"
)

const (
	MergeOverride = "override" // output of the last declared writer that finished
	MergeMaps     = "merge"    // shallow merge of map outputs in declared order
	MergeAppend   = "append"   // list of all outputs in declared order

	DefaultMerge = MergeMaps
)

var ErrUnknownMerge = errors.New("unknown merge function")

// MergeFunc combines the initial value of a context variable with the outputs of its writers,
// contributions are ordered as the writers were declared.
type MergeFunc func(initial any, contributions []any) any

var mergeFuncs = map[string]MergeFunc{
	MergeOverride: mergeOverride,
	MergeMaps:     mergeMaps,
	MergeAppend:   mergeAppend,
}

func ValidMerge(name string) bool {
	_, ok := mergeFuncs[name]
	return ok || name == ""
}

func Merge(name string, initial any, contributions []any) (any, error) {
	if name == "" {
		name = DefaultMerge
	}
	fn, ok := mergeFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMerge, name)
	}
	return fn(initial, contributions), nil
}

func mergeOverride(initial any, contributions []any) any {
	if len(contributions) == 0 {
		return initial
	}
	return contributions[len(contributions)-1]
}

func mergeMaps(initial any, contributions []any) any {
	if len(contributions) == 0 {
		return initial
	}
	merged := map[string]any{}
	if m, ok := initial.(map[string]any); ok {
		maps.Copy(merged, m)
	}
	for _, c := range contributions {
		if m, ok := c.(map[string]any); ok {
			maps.Copy(merged, m)
		}
	}
	return merged
}

func mergeAppend(initial any, contributions []any) any {
	list := []any{}
	if initial != nil {
		list = append(list, initial)
	}
	return append(list, contributions...)
}

// OutputFunc returns the output of a finished writer, ok is false when the writer must not contribute.
type OutputFunc func(nodeID string) (output map[string]any, ok bool)

// ResolveContext computes the context seen by a node owned by the innermost of scopes.
// scopes are ordered outermost first, inner variables override outer ones with the same key.
func ResolveContext(scopes []*Pipeline, outputOf OutputFunc) (map[string]any, error) {
	resolved := map[string]any{}
	for _, scope := range scopes {
		keys := make([]string, 0, len(scope.Data))
		for key := range scope.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			v := scope.Data[key]
			contributions := []any{}
			for _, writer := range v.Writers {
				if out, ok := outputOf(writer); ok {
					contributions = append(contributions, out)
				}
			}
			val, err := Merge(v.Merge, v.Value, contributions)
			if err != nil {
				return nil, fmt.Errorf("context %s: %w", key, err)
			}
			resolved[key] = val
		}
	}
	return resolved, nil
}
