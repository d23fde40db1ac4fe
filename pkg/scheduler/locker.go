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

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// Locker serializes runtime mutations of one flow across workers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(cli *redis.Client) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(cli)), expiry: 30 * time.Second}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex("ticketflow-lock-"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(100),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() { _, _ = mutex.Unlock() }, nil
}

type MemoryLocker struct {
	lock sync.Mutex
	keys map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: map[string]chan struct{}{}}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.lock.Lock()
	ch, ok := l.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.keys[key] = ch
	}
	l.lock.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
