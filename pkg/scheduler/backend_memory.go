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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var _ Backend = &InmemoryBackend{}

type kv struct {
	key        string
	val        []byte
	createTime time.Time
	expireTime time.Time
}

type kvwatcher struct {
	key string
	fn  OnChangeFunc
}

// InmemoryBackend 仅允许一个实例启动，并且队列中的数据仅存在内存中，不支持持久化。
type InmemoryBackend struct {
	db     map[string]kv
	dblock sync.RWMutex

	sublock    sync.RWMutex
	subs       map[string]OnChangeFunc
	subeventch chan kv

	watchch   chan kv
	watchlock sync.RWMutex
	watchers  map[string]kvwatcher
}

func NewInmemoryBackend(ctx context.Context) *InmemoryBackend {
	backend := &InmemoryBackend{
		db:         make(map[string]kv),
		subeventch: make(chan kv, 1024),
		subs:       make(map[string]OnChangeFunc),
		watchch:    make(chan kv, 64),
		watchers:   make(map[string]kvwatcher),
	}
	go backend.run(ctx)
	return backend
}

func (t *InmemoryBackend) run(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("inmemorybackend")
	// watcher
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case kv := <-t.watchch:
				t.watchlock.RLock()
				watchers := make([]kvwatcher, 0, len(t.watchers))
				for _, watcher := range t.watchers {
					watchers = append(watchers, watcher)
				}
				t.watchlock.RUnlock()
				for _, watcher := range watchers {
					if strings.HasPrefix(kv.key, watcher.key) {
						log.V(5).Info("watcher notify", "key", kv.key)
						_ = watcher.fn(ctx, kv.key, kv.val)
					}
				}
			}
		}
	}()
	// subevent, each message goes to one subscriber
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case kv := <-t.subeventch:
				if onchange := t.anySubscriber(); onchange != nil {
					log.V(5).Info("subscriber notify", "key", kv.key)
					_ = onchange(ctx, kv.key, kv.val)
					continue
				}
				// no subscriber yet, retry later
				go func() {
					select {
					case <-ctx.Done():
					case <-time.After(100 * time.Millisecond):
						t.subeventch <- kv
					}
				}()
			}
		}
	}()
	go func() {
		duration := 1 * time.Minute
		timer := time.NewTimer(duration)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				t.removeExpired(ctx)
				timer.Reset(duration)
			}
		}
	}()
}

func (t *InmemoryBackend) anySubscriber() OnChangeFunc {
	t.sublock.RLock()
	defer t.sublock.RUnlock()
	for _, onchange := range t.subs {
		return onchange
	}
	return nil
}

func (t *InmemoryBackend) removeExpired(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx)
	t.dblock.Lock()
	defer t.dblock.Unlock()

	now := time.Now()
	for k, v := range t.db {
		if !v.expireTime.IsZero() && v.expireTime.Before(now) {
			log.V(5).Info("remove expired", "key", k)
			delete(t.db, k)
		}
	}
}

func (t *InmemoryBackend) event(kv kv) {
	select {
	case t.watchch <- kv:
	default:
	}
}

func (t *InmemoryBackend) Del(ctx context.Context, key string) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("del", "key", key)
	t.dblock.Lock()
	defer t.dblock.Unlock()
	delete(t.db, key)
	return nil
}

func (t *InmemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("get", "key", key)
	t.dblock.RLock()
	defer t.dblock.RUnlock()
	kv, ok := t.db[key]
	if !ok || (!kv.expireTime.IsZero() && kv.expireTime.Before(time.Now())) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return kv.val, nil
}

func (t *InmemoryBackend) List(ctx context.Context, keyprefix string) (map[string][]byte, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("list", "keyprefix", keyprefix)
	ret := make(map[string][]byte)

	t.dblock.RLock()
	defer t.dblock.RUnlock()
	for k, v := range t.db {
		if strings.HasPrefix(k, keyprefix) {
			ret[k] = v.val
		}
	}
	return ret, nil
}

func (t *InmemoryBackend) Pub(ctx context.Context, name string, key string, val []byte) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("pub", "name", name, "key", key)
	select {
	case t.subeventch <- kv{key: key, val: val}:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("subevent channel full")
	}
	return nil
}

func (t *InmemoryBackend) Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("put", "key", key)
	kv := kv{
		key:        key,
		val:        val,
		createTime: time.Now(),
	}
	if len(ttl) > 0 && ttl[0] > 0 {
		kv.expireTime = kv.createTime.Add(ttl[0])
	}
	t.dblock.Lock()
	t.db[key] = kv
	t.dblock.Unlock()

	t.event(kv)
	return nil
}

func (t *InmemoryBackend) Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error {
	options := newSubOptions(opts...)
	uid := uuid.New().String()
	log := logr.FromContextOrDiscard(ctx)
	log.V(5).Info("sub", "name", name, "uid", uid, "concurrency", options.Concurrency)

	concurrency := make(chan struct{}, options.Concurrency)

	t.sublock.Lock()
	t.subs[uid] = func(ctx context.Context, key string, val []byte) error {
		concurrency <- struct{}{}
		go func() {
			defer func() { <-concurrency }()
			if err := onchange(ctx, key, val); err != nil {
				log.Error(err, "handle message", "name", name, "key", key)
			}
		}()
		return nil
	}
	t.sublock.Unlock()
	defer func() {
		log.V(5).Info("unsub", "name", name, "uid", uid)
		t.sublock.Lock()
		delete(t.subs, uid)
		t.sublock.Unlock()
	}()
	<-ctx.Done()
	return nil
}

func (t *InmemoryBackend) Watch(ctx context.Context, key string, onchange OnChangeFunc) error {
	uid := uuid.New().String()
	logr.FromContextOrDiscard(ctx).V(5).Info("watch", "key", key, "uid", uid)
	t.watchlock.Lock()
	t.watchers[uid] = kvwatcher{key: key, fn: onchange}
	t.watchlock.Unlock()
	defer func() {
		t.watchlock.Lock()
		delete(t.watchers, uid)
		t.watchlock.Unlock()
	}()
	<-ctx.Done()
	return nil
}
