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
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/utils/retry"
)

// 工作流程
// - 提交流程，保存运行时状态并进入 submit 队列
// - 一个 worker 消费该流程，在锁内推进控制节点，选出可以执行的 activity 并标记为 RUNNING
// - 释放锁并发执行这些 activity
// - 重新获取锁，仅当节点仍处于同一次执行的 RUNNING 状态时写回结果，否则丢弃
// - 有进展则重新入队，直到没有可执行的节点
// - 执行结果丢失的节点（worker 退出、写回失败）在 deadline 之后由 Recover 重新入队并再次执行

type Server struct {
	backend    Backend
	locker     Locker
	registry   *activity.Registry
	options    *Options
	metrics    *metrics
	executerid string
	now        func() time.Time
	// requeueDelay is the base delay before a flow failed with a retriable error is requeued.
	requeueDelay time.Duration
}

func NewServer(backend Backend, locker Locker, registry *activity.Registry, options *Options) *Server {
	if options == nil {
		options = NewDefaultOptions()
	}
	executerid, _ := os.Hostname()
	return &Server{
		backend:    backend,
		locker:     locker,
		registry:   registry,
		options:    options,
		metrics:    newMetrics(nil),
		executerid: executerid,
		now:        time.Now,

		requeueDelay: retry.DefaultBackoff.Duration,
	}
}

func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.metrics.nodeExecutions, s.metrics.operations, s.metrics.nodeDuration}
}

// Run consumes the submit queue and periodically recovers stalled flows until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	log := log.FromContextOrDiscard(ctx).WithName("scheduler")
	ctx = logr.NewContext(ctx, log)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return retry.OnError(retry.NotContextCancelError, func() error {
			log.Info("starting flow consumer", "executer", s.executerid, "concurrency", s.options.Concurrency)
			if err := s.backend.Sub(ctx, QueueSubmit, s.consume, WithConcurrency(s.options.Concurrency), WithAutoACK(true)); err != nil {
				log.Error(err, "subscribe failed, retry...")
				return err
			}
			return nil
		})
	})
	if s.options.RecoverInterval > 0 {
		eg.Go(func() error {
			wait.UntilWithContext(ctx, func(ctx context.Context) {
				if err := s.Recover(ctx); err != nil && ctx.Err() == nil {
					log.Error(err, "recover stalled flows")
				}
			}, s.options.RecoverInterval)
			return nil
		})
	}
	return eg.Wait()
}

func (s *Server) consume(ctx context.Context, _ string, val []byte) error {
	rootID := string(val)
	log := log.FromContextOrDiscard(ctx).WithValues("root", rootID)
	ctx = logr.NewContext(ctx, log)

	more, err := s.step(ctx, rootID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		log.Info("drop message of unknown flow")
		return nil
	case !retriable(err):
		log.Error(err, "drop flow")
		return nil
	default:
		delay := wait.Jitter(s.requeueDelay, retry.DefaultBackoff.Jitter)
		log.Error(err, "process flow, requeue", "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		return s.enqueue(ctx, rootID)
	}
	if more {
		log.V(5).Info("requeue flow")
		return s.enqueue(ctx, rootID)
	}
	return nil
}

// Recover requeues running flows holding activities whose dispatch was lost or never made.
func (s *Server) Recover(ctx context.Context) error {
	log := log.FromContextOrDiscard(ctx)
	kvs, err := s.backend.List(ctx, runtimeKey(""))
	if err != nil {
		return err
	}
	now := s.now()
	for key, raw := range kvs {
		rt := &Runtime{}
		if err := json.Unmarshal(raw, rt); err != nil {
			log.Info("skip corrupted runtime", "key", key, "err", err.Error())
			continue
		}
		if !rt.stalled(now) {
			continue
		}
		log.Info("requeue stalled flow", "root", rt.RootID)
		if err := s.enqueue(ctx, rt.RootID); err != nil {
			return err
		}
	}
	return nil
}

// Process drives a flow synchronously until nothing can be dispatched.
func (s *Server) Process(ctx context.Context, rootID string) error {
	for {
		more, err := s.step(ctx, rootID)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (s *Server) Submit(ctx context.Context, tree *pipeline.Pipeline) error {
	err := s.submit(ctx, tree)
	s.metrics.operation("submit", err)
	return err
}

func (s *Server) submit(ctx context.Context, tree *pipeline.Pipeline) error {
	if err := tree.Validate(); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, tree.ID)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := s.backend.Get(ctx, runtimeKey(tree.ID)); err == nil {
		return fmt.Errorf("flow %s already submitted: %w", tree.ID, ErrInvalidState)
	} else if !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	if err := s.save(ctx, newRuntime(tree.Clone(), s.now())); err != nil {
		return err
	}
	log.FromContextOrDiscard(ctx).Info("flow submitted", "root", tree.ID)
	return s.enqueue(ctx, tree.ID)
}

func (s *Server) enqueue(ctx context.Context, rootID string) error {
	return s.backend.Pub(ctx, QueueSubmit, rootID, []byte(rootID))
}

func (s *Server) load(ctx context.Context, rootID string) (*Runtime, error) {
	raw, err := s.backend.Get(ctx, runtimeKey(rootID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("flow %s: %w", rootID, ErrNotFound)
		}
		return nil, err
	}
	rt := &Runtime{}
	if err := json.Unmarshal(raw, rt); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptedRuntime, rootID, err)
	}
	return rt, nil
}

func (s *Server) save(ctx context.Context, rt *Runtime) error {
	rt.UpdatedAt = s.now()
	raw, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	if rt.State.IsTerminal() && s.options.Retention > 0 {
		return s.backend.Put(ctx, runtimeKey(rt.RootID), raw, s.options.Retention)
	}
	return s.backend.Put(ctx, runtimeKey(rt.RootID), raw)
}

// update loads the runtime under the flow lock and saves it when fn reports a change.
func (s *Server) update(ctx context.Context, rootID string, fn func(rt *Runtime) (bool, error)) error {
	unlock, err := s.locker.Lock(ctx, rootID)
	if err != nil {
		return err
	}
	defer unlock()
	rt, err := s.load(ctx, rootID)
	if err != nil {
		return err
	}
	changed, err := fn(rt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(ctx, rt)
}

type dispatch struct {
	node     *pipeline.Node
	attempt  int
	callback bool
	data     map[string]any
	input    activity.Input
}

type execution struct {
	result   activity.Result
	err      error
	duration time.Duration
}

// step advances a flow once, it reports whether activities were dispatched.
func (s *Server) step(ctx context.Context, rootID string) (bool, error) {
	var items []*dispatch
	err := s.update(ctx, rootID, func(rt *Runtime) (bool, error) {
		var changed bool
		items, changed = s.advance(ctx, rt)
		return changed, nil
	})
	if err != nil || len(items) == 0 {
		return false, err
	}

	executions := make([]execution, len(items))
	eg := &errgroup.Group{}
	eg.SetLimit(s.options.Concurrency)
	for i, item := range items {
		i, item := i, item
		eg.Go(func() error {
			start := time.Now()
			executions[i].result, executions[i].err = s.execute(ctx, item)
			executions[i].duration = time.Since(start)
			return nil
		})
	}
	_ = eg.Wait()

	err = s.update(ctx, rootID, func(rt *Runtime) (bool, error) {
		changed := false
		for i, item := range items {
			if s.apply(ctx, rt, item, executions[i]) {
				changed = true
			}
		}
		return changed, nil
	})
	return true, err
}

// advance moves control nodes whose predecessors finished and collects dispatchable activities.
func (s *Server) advance(ctx context.Context, rt *Runtime) ([]*dispatch, bool) {
	if rt.State != pipeline.StateRunning {
		return nil, false
	}
	var items []*dispatch
	changed := false
	for {
		progressed := s.advanceLevel(ctx, rt, rt.Tree, nil, nil, &items)
		if !progressed {
			break
		}
		changed = true
	}
	return items, changed
}

func sortedIDs(p *pipeline.Pipeline) []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) advanceLevel(ctx context.Context, rt *Runtime, p *pipeline.Pipeline, owner *pipeline.Node, parents []*pipeline.Pipeline, items *[]*dispatch) bool {
	now := s.now()
	scopes := append(append([]*pipeline.Pipeline{}, parents...), p)
	progressed := false
	for _, id := range sortedIDs(p) {
		n := p.Nodes[id]
		status := rt.Nodes[id]
		switch n.Type {
		case pipeline.NodeTypeStartEvent, pipeline.NodeTypeParallelGateway, pipeline.NodeTypeConvergeGateway:
			if status.State == pipeline.StateCreated && rt.predecessorsFinished(n) {
				rt.transit(status, pipeline.StateRunning, now)
				rt.transit(status, pipeline.StateFinished, now)
				progressed = true
			}
		case pipeline.NodeTypeEndEvent:
			if status.State != pipeline.StateCreated || !rt.predecessorsFinished(n) {
				continue
			}
			rt.transit(status, pipeline.StateRunning, now)
			rt.transit(status, pipeline.StateFinished, now)
			progressed = true
			if owner == nil {
				rt.State = pipeline.StateFinished
				rt.FinishedAt = &now
				log.FromContextOrDiscard(ctx).Info("flow finished", "root", rt.RootID)
			} else {
				rt.transit(rt.Nodes[owner.ID], pipeline.StateFinished, now)
			}
		case pipeline.NodeTypeSubProcess:
			if status.State == pipeline.StateCreated && rt.predecessorsFinished(n) {
				rt.transit(status, pipeline.StateRunning, now)
				progressed = true
			}
			if status.State == pipeline.StateRunning {
				if s.advanceLevel(ctx, rt, n.Pipeline, n, scopes, items) {
					progressed = true
				}
			}
		case pipeline.NodeTypeActivity:
			switch {
			case status.State == pipeline.StateCreated && rt.predecessorsFinished(n):
			case status.dispatchable(now):
				if status.Deadline != nil {
					log.FromContextOrDiscard(ctx).Info("redispatch lost run", "node", id, "attempt", status.Attempt, "executer", status.Executer)
				}
			default:
				continue
			}
			if item := s.prepare(rt, n, status, scopes, now); item != nil {
				*items = append(*items, item)
			}
			progressed = true
		}
	}
	return progressed
}

// prepare marks an activity RUNNING and snapshots its input, nil means it failed before dispatch.
// The dispatch stays pending until its result is applied or its deadline passes.
func (s *Server) prepare(rt *Runtime, n *pipeline.Node, status *NodeStatus, scopes []*pipeline.Pipeline, now time.Time) *dispatch {
	rt.transit(status, pipeline.StateRunning, now)
	status.Attempt++
	if status.Pending == "" {
		status.Pending = pendingRun
	}
	item := &dispatch{node: n, attempt: status.Attempt}
	if status.Pending == pendingCallback {
		item.callback = true
		item.data = maps.Clone(status.CallbackData)
	}
	deadline := now.Add(s.activityTimeout() + dispatchGrace)
	status.Deadline = &deadline
	status.Executer = s.executerid

	global := map[string]any{}
	for _, scope := range scopes {
		maps.Copy(global, scope.Global)
	}
	vars, err := pipeline.ResolveContext(scopes, rt.output)
	if err != nil {
		status.settle()
		status.Error = err.Error()
		rt.transit(status, pipeline.StateFailed, now)
		return nil
	}
	item.input = activity.Input{
		RootID:  rt.RootID,
		NodeID:  n.ID,
		Params:  rt.params(n),
		Global:  global,
		Context: vars,
	}
	return item
}

func (s *Server) activityTimeout() time.Duration {
	if s.options.ActivityTimeout <= 0 {
		return DefaultActivityTimeout
	}
	return s.options.ActivityTimeout
}

func (s *Server) execute(ctx context.Context, item *dispatch) (result activity.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.activityTimeout())
	defer cancel()

	log := log.FromContextOrDiscard(ctx).WithValues("node", item.node.ID, "component", item.node.Component)
	ctx = logr.NewContext(ctx, log)
	log.Info("executing", "name", item.node.Name, "attempt", item.attempt, "callback", item.callback)

	defer func() {
		if e := recover(); e != nil {
			log.Info("executed panic", "err", e)
			switch e := e.(type) {
			case error:
				err = e
			case string:
				err = errors.New(e)
			default:
				err = fmt.Errorf("panic: %v", e)
			}
		}
	}()

	act, err := s.registry.Resolve(item.node.Component)
	if err != nil {
		return activity.Result{}, err
	}
	if item.callback {
		callbacker, ok := act.(activity.Callbacker)
		if !ok {
			return activity.Result{}, fmt.Errorf("component %s does not accept callbacks", item.node.Component)
		}
		return callbacker.OnCallback(ctx, item.input, item.data)
	}
	return act.Run(ctx, item.input)
}

// apply writes an execution result back, stale results of revoked, force failed or redispatched nodes are dropped.
func (s *Server) apply(ctx context.Context, rt *Runtime, item *dispatch, exec execution) bool {
	log := log.FromContextOrDiscard(ctx).WithValues("node", item.node.ID)
	status := rt.Nodes[item.node.ID]
	if rt.State == pipeline.StateRevoked || status.State != pipeline.StateRunning || status.Attempt != item.attempt {
		log.Info("discard stale result", "state", status.State, "attempt", item.attempt)
		return false
	}
	now := s.now()
	status.settle()
	switch {
	case exec.err != nil:
		status.Error = exec.err.Error()
		if item.node.ErrorIgnorable {
			status.ErrorIgnored = true
			rt.transit(status, pipeline.StateFinished, now)
		} else {
			rt.transit(status, pipeline.StateFailed, now)
		}
		log.Info("executed with error", "err", status.Error, "ignored", status.ErrorIgnored)
	case exec.result.Wait:
		status.Version = uuid.NewString()
		rt.transit(status, pipeline.StateSuspended, now)
		log.Info("waiting for callback", "version", status.Version)
	default:
		status.Error = ""
		status.ErrorIgnored = false
		status.Outputs = exec.result.Outputs
		rt.transit(status, pipeline.StateFinished, now)
		log.Info("executed")
	}
	s.metrics.nodeExecutions.WithLabelValues(item.node.Component, string(status.State)).Inc()
	s.metrics.nodeDuration.WithLabelValues(item.node.Component).Observe(exec.duration.Seconds())
	return true
}

// WatchRuntime calls onchange with every update of the runtime of rootID.
func (s *Server) WatchRuntime(ctx context.Context, rootID string, onchange func(ctx context.Context, rt *Runtime) error) error {
	return s.backend.Watch(ctx, runtimeKey(rootID), func(ctx context.Context, _ string, val []byte) error {
		rt := &Runtime{}
		if err := json.Unmarshal(val, rt); err != nil {
			return err
		}
		return onchange(ctx, rt)
	})
}
