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
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"kubegems.io/ticketflow/pkg/activity"
	"kubegems.io/ticketflow/pkg/engine"
	"kubegems.io/ticketflow/pkg/log"
	"kubegems.io/ticketflow/pkg/pipeline"
	"kubegems.io/ticketflow/pkg/utils/validate"
)

const (
	// TransData is the default context variable every activity writes its outputs to.
	TransData = "trans_data"
	// NoOutputVar opts an activity out of writing any context variable.
	NoOutputVar = "-"
)

var (
	ErrEmptyParallel        = errors.New("parallel activities must not be empty")
	ErrEmptySubPipeline     = errors.New("sub pipeline must contain at least one activity")
	ErrFinalized            = errors.New("builder already finalized")
	ErrSubPipelineAttached  = errors.New("sub pipeline already attached")
	ErrEphemeralUnsupported = errors.New("ephemeral credential components not registered")
)

type ActivitySpec struct {
	Name           string         `json:"name" yaml:"name" validate:"required"`
	Component      string         `json:"component" yaml:"component" validate:"required"`
	Params         map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	WriteOutputVar string         `json:"writeOutputVar,omitempty" yaml:"writeOutputVar,omitempty"`
	ErrorIgnorable bool           `json:"errorIgnorable,omitempty" yaml:"errorIgnorable,omitempty"`
	Hosts          []string       `json:"hosts,omitempty" yaml:"hosts,omitempty"`
}

// ActivityNode is the record of an inserted activity.
type ActivityNode struct {
	NodeID    string
	Name      string
	Component string
	Hosts     []string
}

// Runner submits finalized flows, implemented by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, flow *engine.Flow) engine.RunResult
}

type arena struct {
	registry *activity.Registry
	newID    func() string
}

func NewNodeID() string {
	return "n" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// chain appends nodes to one pipeline level.
type chain struct {
	arena      *arena
	pipeline   *pipeline.Pipeline
	tail       string
	activities int
	closed     error
}

func newChain(a *arena, id, name string, global map[string]any) *chain {
	p := pipeline.New(id, name)
	p.Global = maps.Clone(global)
	start := &pipeline.Node{ID: a.newID(), Type: pipeline.NodeTypeStartEvent, Name: "Start"}
	c := &chain{arena: a, pipeline: p, tail: start.ID}
	if err := p.AddNode(start); err != nil {
		c.fail(err)
	}
	return c
}

// fail closes the chain with a structural error, every later call returns it.
func (c *chain) fail(err error) error {
	c.closed = err
	return err
}

func (c *chain) activityNode(spec ActivitySpec) (*pipeline.Node, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, err
	}
	if !c.arena.registry.Has(spec.Component) {
		return nil, fmt.Errorf("activity %s: %w", spec.Name, &activity.UnknownComponentError{Component: spec.Component})
	}
	outputVar := spec.WriteOutputVar
	if outputVar == "" {
		outputVar = TransData
	}
	return &pipeline.Node{
		ID:             c.arena.newID(),
		Type:           pipeline.NodeTypeActivity,
		Name:           spec.Name,
		Component:      spec.Component,
		Inputs:         maps.Clone(spec.Params),
		ErrorIgnorable: spec.ErrorIgnorable,
		WriteOutputVar: outputVar,
		Hosts:          append([]string(nil), spec.Hosts...),
	}, nil
}

func (c *chain) append(n *pipeline.Node) error {
	if err := c.pipeline.AddNode(n); err != nil {
		return c.fail(err)
	}
	if err := c.pipeline.Link(c.tail, n.ID); err != nil {
		return c.fail(err)
	}
	c.tail = n.ID
	return nil
}

func (c *chain) appendParallel(branches []*pipeline.Node) error {
	pg := &pipeline.Node{ID: c.arena.newID(), Type: pipeline.NodeTypeParallelGateway, Name: "Parallel gateway"}
	cg := &pipeline.Node{ID: c.arena.newID(), Type: pipeline.NodeTypeConvergeGateway, Name: "Converge gateway"}
	pg.ConvergeID = cg.ID
	if err := c.append(pg); err != nil {
		return err
	}
	if err := c.pipeline.AddNode(cg); err != nil {
		return c.fail(err)
	}
	for _, branch := range branches {
		if err := c.pipeline.AddNode(branch); err != nil {
			return c.fail(err)
		}
		if err := c.pipeline.Link(pg.ID, branch.ID); err != nil {
			return c.fail(err)
		}
		if err := c.pipeline.Link(branch.ID, cg.ID); err != nil {
			return c.fail(err)
		}
	}
	c.tail = cg.ID
	return nil
}

func record(n *pipeline.Node) *ActivityNode {
	return &ActivityNode{NodeID: n.ID, Name: n.Name, Component: n.Component, Hosts: n.Hosts}
}

func (c *chain) AddActivity(spec ActivitySpec) (*ActivityNode, error) {
	if c.closed != nil {
		return nil, c.closed
	}
	n, err := c.activityNode(spec)
	if err != nil {
		return nil, err
	}
	if err := c.append(n); err != nil {
		return nil, err
	}
	c.activities++
	return record(n), nil
}

// AddParallelActivities inserts a fan-out/fan-in of specs, the chain is untouched on error.
func (c *chain) AddParallelActivities(specs []ActivitySpec) ([]*ActivityNode, error) {
	if c.closed != nil {
		return nil, c.closed
	}
	if len(specs) == 0 {
		return nil, ErrEmptyParallel
	}
	nodes := make([]*pipeline.Node, 0, len(specs))
	for _, spec := range specs {
		n, err := c.activityNode(spec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := c.appendParallel(nodes); err != nil {
		return nil, err
	}
	c.activities += len(nodes)
	records := make([]*ActivityNode, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, record(n))
	}
	return records, nil
}

func (c *chain) checkSubs(subs ...*SubBuilder) error {
	seen := map[*SubBuilder]bool{}
	for _, sub := range subs {
		if sub == nil || sub.activities == 0 {
			return ErrEmptySubPipeline
		}
		if sub.arena != c.arena {
			return fmt.Errorf("sub pipeline %s was created by another builder", sub.pipeline.Name)
		}
		if sub.closed != nil {
			return sub.closed
		}
		if seen[sub] {
			return ErrSubPipelineAttached
		}
		seen[sub] = true
	}
	return nil
}

func (c *chain) AddSubPipeline(sub *SubBuilder) error {
	if c.closed != nil {
		return c.closed
	}
	if err := c.checkSubs(sub); err != nil {
		return err
	}
	n, err := sub.seal()
	if err != nil {
		return err
	}
	if err := c.append(n); err != nil {
		return err
	}
	c.activities += sub.activities
	return nil
}

// AddParallelSubPipelines runs subs in parallel branches, the chain is untouched on error.
func (c *chain) AddParallelSubPipelines(subs []*SubBuilder) error {
	if c.closed != nil {
		return c.closed
	}
	if len(subs) == 0 {
		return ErrEmptyParallel
	}
	if err := c.checkSubs(subs...); err != nil {
		return err
	}
	nodes := make([]*pipeline.Node, 0, len(subs))
	activities := 0
	for _, sub := range subs {
		n, err := sub.seal()
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
		activities += sub.activities
	}
	if err := c.appendParallel(nodes); err != nil {
		return err
	}
	c.activities += activities
	return nil
}

// DeclareContextVar declares a context variable of this level with the named merge function.
func (c *chain) DeclareContextVar(key, merge string) error {
	if c.closed != nil {
		return c.closed
	}
	if !pipeline.ValidMerge(merge) {
		return fmt.Errorf("%w: %s", pipeline.ErrUnknownMerge, merge)
	}
	c.pipeline.Var(key, merge).Merge = merge
	return nil
}

func (c *chain) end() error {
	end := &pipeline.Node{ID: c.arena.newID(), Type: pipeline.NodeTypeEndEvent, Name: "End"}
	return c.append(end)
}

type SubBuilder struct {
	*chain
}

// NewSubBuilder creates a nested pipeline sharing the id space and registry of b.
func (b *Builder) NewSubBuilder(name string, global map[string]any) *SubBuilder {
	return &SubBuilder{chain: newChain(b.arena, b.arena.newID(), name, global)}
}

func (s *SubBuilder) seal() (*pipeline.Node, error) {
	if err := s.end(); err != nil {
		return nil, err
	}
	s.closed = ErrSubPipelineAttached
	return &pipeline.Node{
		ID:       s.pipeline.ID,
		Type:     pipeline.NodeTypeSubProcess,
		Name:     s.pipeline.Name,
		Pipeline: s.pipeline,
	}, nil
}

type Option func(b *Builder)

func WithEphemeralScope(clusterIDs ...string) Option {
	return func(b *Builder) { b.ephemeralScope = clusterIDs }
}

func WithTicket(ticketType, bizID, creator string) Option {
	return func(b *Builder) {
		b.ticketType, b.bizID, b.creator = ticketType, bizID, creator
	}
}

// WithIDGenerator replaces the node id generator, ids must be unique within the flow.
func WithIDGenerator(fn func() string) Option {
	return func(b *Builder) { b.newID = fn }
}

type Builder struct {
	*chain
	ticketType     string
	bizID          string
	creator        string
	ephemeralScope []string
	newID          func() string
	credential     *EphemeralCredential
}

// New creates a builder of root pipeline rootID, a non empty ephemeral scope inserts the
// create credential activity as the first step.
func New(registry *activity.Registry, rootID string, global map[string]any, options ...Option) (*Builder, error) {
	b := &Builder{newID: NewNodeID}
	for _, opt := range options {
		opt(b)
	}
	a := &arena{registry: registry, newID: b.newID}
	if rootID == "" {
		rootID = a.newID()
	}
	b.chain = newChain(a, rootID, rootID, global)
	if b.closed != nil {
		return nil, b.closed
	}
	if len(b.ephemeralScope) > 0 {
		if err := b.wrapEphemeral(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Builder) RootID() string {
	return b.pipeline.ID
}

// Credential returns the ephemeral credential of the builder, nil without ephemeral scope.
func (b *Builder) Credential() *EphemeralCredential {
	return b.credential
}

type FinalizeOptions struct {
	InitialContext map[string]any
	// KeepEphemeral skips the drop credential activity, cleanup is left to the caller.
	KeepEphemeral bool
}

// Finalize closes the root pipeline and returns the flow, the builder can not be used afterwards.
func (b *Builder) Finalize(opts FinalizeOptions) (*engine.Flow, error) {
	if b.closed != nil {
		return nil, b.closed
	}
	if b.credential != nil && !opts.KeepEphemeral {
		if err := b.appendDrop(); err != nil {
			return nil, err
		}
	}
	if err := b.end(); err != nil {
		return nil, err
	}
	b.closed = ErrFinalized

	trans := b.pipeline.Var(TransData, pipeline.DefaultMerge)
	initial := maps.Clone(opts.InitialContext)
	if initial == nil {
		initial = map[string]any{}
	}
	trans.Value = initial

	if err := b.pipeline.Validate(); err != nil {
		return nil, err
	}
	if err := b.assignWriters(); err != nil {
		return nil, err
	}
	activities, err := b.pipeline.Activities()
	if err != nil {
		return nil, err
	}
	records := make([]engine.NodeRecord, 0, len(activities))
	for _, n := range activities {
		records = append(records, engine.NodeRecord{NodeID: n.ID, Name: n.Name, Component: n.Component, Hosts: n.Hosts})
	}
	return &engine.Flow{
		RootID:     b.pipeline.ID,
		TicketType: b.ticketType,
		BizID:      b.bizID,
		Creator:    b.creator,
		Tree:       b.pipeline,
		Nodes:      records,
	}, nil
}

// assignWriters registers every activity, in structural order, as writer of its output variable
// in the innermost level declaring it, the root level otherwise.
func (b *Builder) assignWriters() error {
	root := b.pipeline
	return root.Walk(func(n *pipeline.Node, _ int) error {
		if n.Type != pipeline.NodeTypeActivity || n.WriteOutputVar == NoOutputVar {
			return nil
		}
		if b.credential != nil && n.ID == b.credential.CreateNodeID {
			return nil
		}
		path := root.Path(n.ID)
		owner := root
		for i := len(path) - 1; i >= 0; i-- {
			if _, ok := path[i].Data[n.WriteOutputVar]; ok {
				owner = path[i]
				break
			}
		}
		v := owner.Var(n.WriteOutputVar, pipeline.DefaultMerge)
		v.Writers = append(v.Writers, n.ID)
		return nil
	})
}

// FinalizeAndSubmit finalizes the builder and runs the flow, failures are logged and reported as false.
func (b *Builder) FinalizeAndSubmit(ctx context.Context, runner Runner, opts FinalizeOptions) bool {
	log := log.FromContextOrDiscard(ctx).WithName("builder").WithValues("root", b.RootID())
	flow, err := b.Finalize(opts)
	if err != nil {
		log.Error(err, "finalize pipeline")
		return false
	}
	result := runner.Run(ctx, flow)
	if !result.OK {
		log.Error(result.Err, "submit pipeline")
		return false
	}
	return true
}
