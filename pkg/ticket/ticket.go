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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"kubegems.io/ticketflow/pkg/builder"
	"kubegems.io/ticketflow/pkg/utils/validate"
)

const TicketTypeGeneric = "GENERIC"

type StageType string

const (
	StageActivity             StageType = "activity"
	StageParallel             StageType = "parallel"
	StageSubPipeline          StageType = "sub_pipeline"
	StageParallelSubPipelines StageType = "parallel_sub_pipelines"
)

// Ticket is the input of a flow, the ticket type selects how its stages become a pipeline.
type Ticket struct {
	RootID              string         `json:"rootId,omitempty" yaml:"rootId,omitempty"`
	TicketType          string         `json:"ticketType" yaml:"ticketType" validate:"required"`
	BizID               string         `json:"bizId,omitempty" yaml:"bizId,omitempty"`
	Creator             string         `json:"creator,omitempty" yaml:"creator,omitempty"`
	EphemeralClusterIDs []string       `json:"ephemeralClusterIds,omitempty" yaml:"ephemeralClusterIds,omitempty"`
	KeepEphemeral       bool           `json:"keepEphemeral,omitempty" yaml:"keepEphemeral,omitempty"`
	Details             map[string]any `json:"details,omitempty" yaml:"details,omitempty"`               // global data of the root pipeline
	InitialContext      map[string]any `json:"initialContext,omitempty" yaml:"initialContext,omitempty"` // initial value of trans_data
	Stages              []Stage        `json:"stages,omitempty" yaml:"stages,omitempty" validate:"dive"`
}

// Stage is one step of a declarative flow.
type Stage struct {
	Type         StageType              `json:"type" yaml:"type" validate:"required,oneof=activity parallel sub_pipeline parallel_sub_pipelines"`
	Activity     *builder.ActivitySpec  `json:"activity,omitempty" yaml:"activity,omitempty"`
	Activities   []builder.ActivitySpec `json:"activities,omitempty" yaml:"activities,omitempty"`
	SubPipeline  *SubPipelineSpec       `json:"subPipeline,omitempty" yaml:"subPipeline,omitempty"`
	SubPipelines []SubPipelineSpec      `json:"subPipelines,omitempty" yaml:"subPipelines,omitempty"`
}

type SubPipelineSpec struct {
	Name   string            `json:"name" yaml:"name" validate:"required"`
	Global map[string]any    `json:"global,omitempty" yaml:"global,omitempty"`
	Vars   map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"` // context variable -> merge function
	Stages []Stage           `json:"stages" yaml:"stages" validate:"dive"`
}

func (t *Ticket) Validate() error {
	return validate.Struct(t)
}

func Parse(data []byte) (*Ticket, error) {
	t := &Ticket{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}
	return t, nil
}

func LoadFile(path string) (*Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
