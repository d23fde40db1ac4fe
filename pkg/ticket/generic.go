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

package ticket

import (
	"context"
	"fmt"

	"kubegems.io/ticketflow/pkg/builder"
)

// chain is satisfied by both *builder.Builder and *builder.SubBuilder.
type chain interface {
	AddActivity(spec builder.ActivitySpec) (*builder.ActivityNode, error)
	AddParallelActivities(specs []builder.ActivitySpec) ([]*builder.ActivityNode, error)
	AddSubPipeline(sub *builder.SubBuilder) error
	AddParallelSubPipelines(subs []*builder.SubBuilder) error
	DeclareContextVar(key, merge string) error
}

// GenericFlow maps the declared stages of a ticket onto builder calls in order.
func GenericFlow(_ context.Context, b *builder.Builder, t *Ticket) error {
	return addStages(b, b, t.Stages)
}

func addStages(root *builder.Builder, c chain, stages []Stage) error {
	for i, stage := range stages {
		if err := addStage(root, c, stage); err != nil {
			return fmt.Errorf("stage %d (%s): %w", i, stage.Type, err)
		}
	}
	return nil
}

func addStage(root *builder.Builder, c chain, stage Stage) error {
	switch stage.Type {
	case StageActivity:
		if stage.Activity == nil {
			return fmt.Errorf("%w: activity missing", ErrInvalidStage)
		}
		_, err := c.AddActivity(*stage.Activity)
		return err
	case StageParallel:
		_, err := c.AddParallelActivities(stage.Activities)
		return err
	case StageSubPipeline:
		if stage.SubPipeline == nil {
			return fmt.Errorf("%w: sub pipeline missing", ErrInvalidStage)
		}
		sub, err := subBuilder(root, *stage.SubPipeline)
		if err != nil {
			return err
		}
		return c.AddSubPipeline(sub)
	case StageParallelSubPipelines:
		subs := make([]*builder.SubBuilder, 0, len(stage.SubPipelines))
		for _, spec := range stage.SubPipelines {
			sub, err := subBuilder(root, spec)
			if err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		return c.AddParallelSubPipelines(subs)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidStage, stage.Type)
	}
}

func subBuilder(root *builder.Builder, spec SubPipelineSpec) (*builder.SubBuilder, error) {
	sub := root.NewSubBuilder(spec.Name, spec.Global)
	for key, merge := range spec.Vars {
		if err := sub.DeclareContextVar(key, merge); err != nil {
			return nil, err
		}
	}
	if err := addStages(root, sub, spec.Stages); err != nil {
		return nil, fmt.Errorf("sub pipeline %s: %w", spec.Name, err)
	}
	return sub, nil
}
