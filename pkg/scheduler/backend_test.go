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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	return s, redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func TestRedisBackend_KV(t *testing.T) {
	s, cli := setupRedis(t)
	ctx := context.Background()
	b := NewRedisBackend(cli)

	_, err := b.Get(ctx, "runtime/missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, b.Put(ctx, "runtime/a", []byte("1")))
	require.NoError(t, b.Put(ctx, "runtime/b", []byte("2"), time.Minute))
	require.NoError(t, b.Put(ctx, "other/c", []byte("3")))
	assert.True(t, s.Exists("/ticketflow-store/runtime/a"))

	val, err := b.Get(ctx, "runtime/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	list, err := b.List(ctx, "runtime/")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"runtime/a": []byte("1"), "runtime/b": []byte("2")}, list)

	s.FastForward(2 * time.Minute)
	_, err = b.Get(ctx, "runtime/b")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, b.Del(ctx, "runtime/a"))
	_, err = b.Get(ctx, "runtime/a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisBackend_Pub(t *testing.T) {
	s, cli := setupRedis(t)
	b := NewRedisBackend(cli)
	require.NoError(t, b.Pub(context.Background(), QueueSubmit, "root", []byte("root")))
	entries, err := s.Stream("/ticketflow-queue/" + QueueSubmit)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"root", "root"}, entries[0].Values)
}

func TestRedisLocker(t *testing.T) {
	_, cli := setupRedis(t)
	locker := NewRedisLocker(cli)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "root")
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, "root")
	assert.Error(t, err)

	other, err := locker.Lock(ctx, "another")
	require.NoError(t, err)
	other()

	unlock()
	again, err := locker.Lock(ctx, "root")
	require.NoError(t, err)
	again()
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "root")
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, "root")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		again, err := locker.Lock(ctx, "root")
		if err == nil {
			again()
		}
		close(acquired)
	}()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}

func TestInmemoryBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewInmemoryBackend(ctx)

	t.Run("kv", func(t *testing.T) {
		_, err := b.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		require.NoError(t, b.Put(ctx, "k", []byte("v")))
		require.NoError(t, b.Put(ctx, "expired", []byte("v"), time.Nanosecond))
		time.Sleep(time.Millisecond)

		val, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), val)
		_, err = b.Get(ctx, "expired")
		assert.ErrorIs(t, err, ErrKeyNotFound)

		require.NoError(t, b.Del(ctx, "k"))
		_, err = b.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("pub before sub", func(t *testing.T) {
		require.NoError(t, b.Pub(ctx, QueueSubmit, "root", []byte("root")))

		subctx, subcancel := context.WithCancel(ctx)
		defer subcancel()
		var (
			mu       sync.Mutex
			received []string
		)
		go func() {
			_ = b.Sub(subctx, QueueSubmit, func(_ context.Context, key string, val []byte) error {
				mu.Lock()
				received = append(received, key+"="+string(val))
				mu.Unlock()
				return nil
			}, WithConcurrency(1))
		}()
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1 && received[0] == "root=root"
		}, 2*time.Second, 10*time.Millisecond)
	})
}
