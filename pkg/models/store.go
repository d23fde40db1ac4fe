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
	"context"
	"time"

	"github.com/VividCortex/mysqlerr"
	driver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"kubegems.io/ticketflow/pkg/pipeline"
)

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowExists   = errors.Wrap(pipeline.ErrInvalidState, "flow already exists")
)

func isDuplicated(err error) bool {
	me := &driver.MySQLError{}
	return errors.As(err, &me) && me.Number == mysqlerr.ER_DUP_ENTRY
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateFlow(ctx context.Context, tree *FlowTree, nodes []*FlowNode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tree).Error; err != nil {
			if isDuplicated(err) {
				return errors.Wrapf(ErrFlowExists, "create flow %s", tree.RootID)
			}
			return errors.Wrapf(err, "create flow %s", tree.RootID)
		}
		if len(nodes) == 0 {
			return nil
		}
		if err := tx.Create(&nodes).Error; err != nil {
			return errors.Wrapf(err, "create nodes of flow %s", tree.RootID)
		}
		return nil
	})
}

func (s *GormStore) UpdateFlowStatus(ctx context.Context, rootID string, status pipeline.State) error {
	result := s.db.WithContext(ctx).Model(&FlowTree{}).Where("root_id = ?", rootID).Update("status", status)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update status of flow %s", rootID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrFlowNotFound, "update status of flow %s", rootID)
	}
	return nil
}

func (s *GormStore) GetFlow(ctx context.Context, rootID string) (*FlowTree, error) {
	tree := &FlowTree{}
	if err := s.db.WithContext(ctx).Where("root_id = ?", rootID).First(tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrFlowNotFound, "get flow %s", rootID)
		}
		return nil, errors.Wrapf(err, "get flow %s", rootID)
	}
	return tree, nil
}

func (s *GormStore) ListFlows(ctx context.Context, statuses ...pipeline.State) ([]*FlowTree, error) {
	trees := []*FlowTree{}
	query := s.db.WithContext(ctx).Order("id")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Find(&trees).Error; err != nil {
		return nil, errors.Wrap(err, "list flows")
	}
	return trees, nil
}

func (s *GormStore) ListFlowNodes(ctx context.Context, rootID string) ([]*FlowNode, error) {
	nodes := []*FlowNode{}
	if err := s.db.WithContext(ctx).Where("root_id = ?", rootID).Order("id").Find(&nodes).Error; err != nil {
		return nil, errors.Wrapf(err, "list nodes of flow %s", rootID)
	}
	return nodes, nil
}

func (s *GormStore) UpdateFlowNode(ctx context.Context, nodeID string, status pipeline.State, startedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	err := s.db.WithContext(ctx).Model(&FlowNode{}).Where("node_id = ?", nodeID).Updates(updates).Error
	return errors.Wrapf(err, "update node %s", nodeID)
}
