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

package builder

import (
	"time"

	"k8s.io/apimachinery/pkg/util/rand"
	"kubegems.io/ticketflow/pkg/activity"
)

const (
	ephemeralUserPrefix     = "tmp_"
	ephemeralTimeFormat     = "0601021504"
	ephemeralSuffixLength   = 6
	ephemeralPasswordLength = 16
)

// EphemeralCredential is a temporary account living for the duration of one flow.
type EphemeralCredential struct {
	Username     string   `json:"username"`
	Password     string   `json:"-"`
	ClusterIDs   []string `json:"clusterIds"`
	CreateNodeID string   `json:"createNodeId"`
	DropNodeID   string   `json:"dropNodeId,omitempty"`
}

func NewEphemeralCredential(clusterIDs []string, now time.Time) *EphemeralCredential {
	return &EphemeralCredential{
		Username:   ephemeralUserPrefix + now.Format(ephemeralTimeFormat) + "_" + rand.String(ephemeralSuffixLength),
		Password:   rand.String(ephemeralPasswordLength),
		ClusterIDs: append([]string(nil), clusterIDs...),
	}
}

func (b *Builder) wrapEphemeral() error {
	if !b.arena.registry.Has(activity.ComponentCreateCredential) || !b.arena.registry.Has(activity.ComponentDropCredential) {
		return ErrEphemeralUnsupported
	}
	cred := NewEphemeralCredential(b.ephemeralScope, time.Now())
	created, err := b.AddActivity(ActivitySpec{
		Name:      "Create ephemeral credential",
		Component: activity.ComponentCreateCredential,
		Params: map[string]any{
			"cluster_ids": cred.ClusterIDs,
			"username":    cred.Username,
			"password":    cred.Password,
		},
		WriteOutputVar: NoOutputVar,
	})
	if err != nil {
		return err
	}
	cred.CreateNodeID = created.NodeID
	b.credential = cred
	return nil
}

func (b *Builder) appendDrop() error {
	dropped, err := b.AddActivity(ActivitySpec{
		Name:      "Drop ephemeral credential",
		Component: activity.ComponentDropCredential,
		Params: map[string]any{
			"cluster_ids": b.credential.ClusterIDs,
			"username":    b.credential.Username,
		},
		WriteOutputVar: NoOutputVar,
	})
	if err != nil {
		return err
	}
	b.credential.DropNodeID = dropped.NodeID
	return nil
}
