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

package models

import (
	"time"

	"gorm.io/datatypes"
	"kubegems.io/ticketflow/pkg/pipeline"
)

// FlowTree 一次工单执行的流程树，树中不包含节点的 inputs
type FlowTree struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	RootID     string         `gorm:"type:varchar(64);uniqueIndex;<-:create" json:"rootId"` // 创建后不可修改
	TicketType string         `gorm:"type:varchar(64);index" json:"ticketType"`
	BizID      string         `gorm:"type:varchar(64)" json:"bizId"`
	Tree       datatypes.JSON `json:"tree"`
	Status     pipeline.State `gorm:"type:varchar(16);index" json:"status"`
	CreatedBy  string         `gorm:"type:varchar(64)" json:"createdBy"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (FlowTree) TableName() string {
	return "flow_trees"
}

// FlowNode 流程中 activity 节点的本地记录，用于状态查询时补充元数据
type FlowNode struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	RootID    string         `gorm:"type:varchar(64);index" json:"rootId"`
	NodeID    string         `gorm:"type:varchar(64);uniqueIndex" json:"nodeId"`
	Name      string         `gorm:"type:varchar(255)" json:"name"`
	Component string         `gorm:"type:varchar(128)" json:"component"`
	Hosts     datatypes.JSON `json:"hosts"`
	Status    pipeline.State `gorm:"type:varchar(16)" json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	StartedAt *time.Time     `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (FlowNode) TableName() string {
	return "flow_nodes"
}

func AllModels() []any {
	return []any{&FlowTree{}, &FlowNode{}}
}
