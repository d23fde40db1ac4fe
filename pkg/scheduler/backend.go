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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"kubegems.io/ticketflow/pkg/log"
)

// Backend 作为调度的数据存储，需要一致性支持
// 队列用于分发待推进的流程，kv 存储用于保存流程的运行时状态。

const (
	DefaultGroup = "ticketflow-group"
)

var ErrKeyNotFound = errors.New("key not found")

type OnChangeFunc func(ctx context.Context, key string, val []byte) error

type Backend interface {
	// 队列，多个消费者共享同一个 topic 下的数据，且无重复。
	Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error
	Pub(ctx context.Context, name string, key string, val []byte) error

	// kv存储
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error
	Del(ctx context.Context, key string) error
	List(ctx context.Context, keyprefix string) (map[string][]byte, error)
	Watch(ctx context.Context, key string, onchange OnChangeFunc) error
}

type SubOptions struct {
	AutoACK     bool // 自动确认，无论结果是否为 error
	Concurrency int  // 支持的并发数量
}

type SubOption func(o *SubOptions)

func WithConcurrency(con int) SubOption {
	return func(o *SubOptions) { o.Concurrency = con }
}

func WithAutoACK(ack bool) SubOption {
	return func(o *SubOptions) { o.AutoACK = ack }
}

func newSubOptions(opts ...SubOption) *SubOptions {
	options := &SubOptions{Concurrency: 1}
	for _, opt := range opts {
		opt(options)
	}
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	return options
}

type RedisBackend struct {
	kvprefix    string
	steamprefix string
	cli         *redis.Client
}

func NewRedisBackend(cli *redis.Client) *RedisBackend {
	return &RedisBackend{
		kvprefix:    "/ticketflow-store/",
		steamprefix: "/ticketflow-queue/",
		cli:         cli,
	}
}

func (b *RedisBackend) Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error {
	options := newSubOptions(opts...)
	stream := b.steamprefix + name

	// https://redis.io/commands/xgroup-create
	if err := b.cli.XGroupCreateMkStream(ctx, stream, DefaultGroup, "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	consumer, _ := os.Hostname()
	concurrentchan := make(chan struct{}, options.Concurrency)

	// 首次读取本消费者上次未确认的消息，之后仅消费新消息
	ids := "0"
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		result, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    DefaultGroup,
			Consumer: consumer,
			Streams:  []string{stream, ids},
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		if ids == "0" && isEmptyStreams(result) {
			ids = ">"
			continue
		}
		for _, msgs := range result {
			for _, msg := range msgs.Messages {
				for k, v := range msg.Values {
					val := []byte{}
					switch data := v.(type) {
					case string:
						val = []byte(data)
					case []byte:
						val = data
					}
					select {
					case <-ctx.Done():
						return nil
					case concurrentchan <- struct{}{}:
					}
					go func(stream, id, k string, v []byte) {
						defer func() { <-concurrentchan }()
						if err := onchange(ctx, k, v); err != nil && !options.AutoACK {
							log.FromContextOrDiscard(ctx).Error(err, "handle message", "stream", stream, "id", id)
							return
						}
						b.cli.XAck(ctx, stream, DefaultGroup, id)
					}(msgs.Stream, msg.ID, k, val)
				}
			}
		}
	}
}

func isEmptyStreams(result []redis.XStream) bool {
	for _, msgs := range result {
		if len(msgs.Messages) > 0 {
			return false
		}
	}
	return true
}

func (b *RedisBackend) Pub(ctx context.Context, name string, key string, val []byte) error {
	return b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: b.steamprefix + name,
		Values: map[string]interface{}{key: val},
	}).Err()
}

func (b *RedisBackend) Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error {
	var expiration time.Duration
	if len(ttl) > 0 {
		expiration = ttl[0]
	}
	return b.cli.Set(ctx, b.kvprefix+key, val, expiration).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.cli.Del(ctx, b.kvprefix+key).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.cli.Get(ctx, b.kvprefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return val, err
}

func (b *RedisBackend) List(ctx context.Context, keyprefix string) (map[string][]byte, error) {
	prefixedKey := b.kvprefix + keyprefix
	iter := b.cli.Scan(ctx, 0, prefixedKey+"*", 0).Iterator()

	list := map[string][]byte{}
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := b.cli.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		list[strings.TrimPrefix(key, b.kvprefix)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (b *RedisBackend) Watch(ctx context.Context, key string, onchange OnChangeFunc) error {
	// https://redis.io/topics/notifications
	_ = b.cli.ConfigSet(ctx, "notify-keyspace-events", "KA")

	channelprefix := fmt.Sprintf("__keyspace@%d__:%s", b.cli.Options().DB, b.kvprefix)
	pubsub := b.cli.PSubscribe(ctx, channelprefix+key+"*")
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		name := strings.TrimPrefix(msg.Channel, channelprefix)
		val, err := b.Get(ctx, name)
		if err != nil {
			continue
		}
		if err := onchange(ctx, name, val); err != nil {
			return err
		}
	}
}
