//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 The Flowline Authors
//
// This file is part of Flowline.
//
// Flowline is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Flowline is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Flowline. If not, see https://www.gnu.org/licenses/.

package flowline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/markovalabs/flowline/core"
	"github.com/markovalabs/flowline/transform"
)

// Framework is the registry of named connectors, custom transformation
// steps, and pipeline definitions, and the entry point for running
// pipelines. Construct one explicitly and pass it around; there is no
// process-wide instance.
//
// Registered connectors are shared across runs. The framework wraps
// each one so that concurrent runs acquire it exclusively per
// operation; connector implementations need not be thread-safe.
type Framework struct {
	logger *zap.Logger
	retry  RetryPolicy

	mu          sync.RWMutex
	connectors  map[string]*sharedConnector
	transforms  map[string]core.Step
	definitions map[string]*PipelineDefinition
	runs        []*RunMetrics
}

// FrameworkOption adjusts a Framework at construction.
type FrameworkOption func(*Framework)

// WithFrameworkLogger sets the structured logger used by the framework
// and every pipeline it runs; the default discards everything.
func WithFrameworkLogger(l *zap.Logger) FrameworkOption {
	return func(f *Framework) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFrameworkRetryPolicy sets the retry policy applied to every
// pipeline run.
func WithFrameworkRetryPolicy(p RetryPolicy) FrameworkOption {
	return func(f *Framework) { f.retry = p.withDefaults() }
}

// NewFramework constructs an empty registry.
func NewFramework(opts ...FrameworkOption) *Framework {
	f := &Framework{
		logger:      zap.NewNop(),
		retry:       DefaultRetryPolicy(),
		connectors:  make(map[string]*sharedConnector),
		transforms:  make(map[string]core.Step),
		definitions: make(map[string]*PipelineDefinition),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterConnector adds a named connector instance. Re-registering a
// name replaces the previous instance for pipelines built afterwards.
func (f *Framework) RegisterConnector(name string, c core.Connector) error {
	if name == "" {
		return core.Errorf(core.KindValidation, "register_connector", "connector name is required")
	}
	if c == nil {
		return core.Errorf(core.KindValidation, "register_connector", "connector %q is nil", name)
	}
	f.mu.Lock()
	f.connectors[name] = &sharedConnector{inner: c}
	f.mu.Unlock()
	f.logger.Info("connector registered", zap.String("connector", name))
	return nil
}

// RegisterTransformation adds a named custom step so pipeline builders
// can reference it by name. Register before building the pipelines
// that use it.
func (f *Framework) RegisterTransformation(name string, step core.Step) error {
	if name == "" {
		return core.Errorf(core.KindValidation, "register_transformation", "transformation name is required")
	}
	if step == nil {
		return core.Errorf(core.KindValidation, "register_transformation", "transformation %q is nil", name)
	}
	f.mu.Lock()
	f.transforms[name] = step
	f.mu.Unlock()
	return nil
}

// Connectors lists the registered connector names, sorted.
func (f *Framework) Connectors() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.connectors))
	for n := range f.connectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pipelines lists the built pipeline definition names, sorted.
func (f *Framework) Pipelines() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.definitions))
	for n := range f.definitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PipelineDefinition is the immutable description of a pipeline: its
// name, source and target connector names, and the ordered step list.
// The framework owns definitions; each RunPipeline call turns one into
// a fresh Pipeline instance.
type PipelineDefinition struct {
	Name   string
	Source string
	Target string
	Steps  []core.Step
}

// PipelineBuilder assembles a PipelineDefinition. Every method
// validates its arguments immediately and remembers the first failure;
// Build reports it. All methods return the builder for chaining.
type PipelineBuilder struct {
	fw     *Framework
	name   string
	source string
	target string
	steps  []core.Step
	err    error
}

// CreatePipeline starts a builder for a named pipeline definition.
func (f *Framework) CreatePipeline(name string) *PipelineBuilder {
	b := &PipelineBuilder{fw: f, name: name}
	if name == "" {
		b.err = core.Errorf(core.KindValidation, "create_pipeline", "pipeline name is required")
	}
	return b
}

func (b *PipelineBuilder) fail(err error) *PipelineBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *PipelineBuilder) lookupConnector(op, name string) error {
	if name == "" {
		return core.Errorf(core.KindValidation, op, "connector name is required")
	}
	b.fw.mu.RLock()
	_, ok := b.fw.connectors[name]
	b.fw.mu.RUnlock()
	if !ok {
		return core.Errorf(core.KindValidation, op, "connector %q is not registered", name)
	}
	return nil
}

// SetSource names the registered connector to extract from.
func (b *PipelineBuilder) SetSource(connector string) *PipelineBuilder {
	if err := b.lookupConnector("set_source", connector); err != nil {
		return b.fail(err)
	}
	b.source = connector
	return b
}

// SetTarget names the registered connector to load into.
func (b *PipelineBuilder) SetTarget(connector string) *PipelineBuilder {
	if err := b.lookupConnector("set_target", connector); err != nil {
		return b.fail(err)
	}
	b.target = connector
	return b
}

// AddFilter appends a row filter step.
func (b *PipelineBuilder) AddFilter(pred transform.Predicate) *PipelineBuilder {
	if pred == nil {
		return b.fail(core.Errorf(core.KindValidation, "add_filter", "predicate is required"))
	}
	b.steps = append(b.steps, transform.Filter(pred))
	return b
}

// AddAggregation appends a group-by aggregation step.
func (b *PipelineBuilder) AddAggregation(groupBy []string, aggs map[string]transform.AggFunc) *PipelineBuilder {
	step, err := transform.NewAggregate(groupBy, aggs)
	if err != nil {
		return b.fail(err)
	}
	b.steps = append(b.steps, step)
	return b
}

// AddClean appends a missing-value/dedupe cleaning step.
func (b *PipelineBuilder) AddClean(opts transform.CleanOptions) *PipelineBuilder {
	step, err := transform.NewClean(opts)
	if err != nil {
		return b.fail(err)
	}
	b.steps = append(b.steps, step)
	return b
}

// AddComputed appends a computed-column step.
func (b *PipelineBuilder) AddComputed(column string, expr transform.Expr) *PipelineBuilder {
	step, err := transform.NewComputed(column, expr)
	if err != nil {
		return b.fail(err)
	}
	b.steps = append(b.steps, step)
	return b
}

// AddTransformation appends a custom step previously registered with
// RegisterTransformation.
func (b *PipelineBuilder) AddTransformation(name string) *PipelineBuilder {
	if name == "" {
		return b.fail(core.Errorf(core.KindValidation, "add_transformation", "transformation name is required"))
	}
	b.fw.mu.RLock()
	step, ok := b.fw.transforms[name]
	b.fw.mu.RUnlock()
	if !ok {
		return b.fail(core.Errorf(core.KindValidation, "add_transformation", "transformation %q is not registered", name))
	}
	b.steps = append(b.steps, step)
	return b
}

// AddStep appends an arbitrary pre-built step.
func (b *PipelineBuilder) AddStep(step core.Step) *PipelineBuilder {
	if step == nil {
		return b.fail(core.Errorf(core.KindValidation, "add_step", "step is required"))
	}
	b.steps = append(b.steps, step)
	return b
}

// Build finalizes the definition and registers it with the framework,
// replacing any previous definition of the same name.
func (b *PipelineBuilder) Build() (*PipelineDefinition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.source == "" {
		return nil, core.Errorf(core.KindValidation, "build", "pipeline %q has no source connector", b.name)
	}
	if b.target == "" {
		return nil, core.Errorf(core.KindValidation, "build", "pipeline %q has no target connector", b.name)
	}
	def := &PipelineDefinition{
		Name:   b.name,
		Source: b.source,
		Target: b.target,
		Steps:  append([]core.Step(nil), b.steps...),
	}
	b.fw.mu.Lock()
	b.fw.definitions[def.Name] = def
	b.fw.mu.Unlock()
	b.fw.logger.Info("pipeline built",
		zap.String("pipeline", def.Name),
		zap.String("source", def.Source),
		zap.String("target", def.Target),
		zap.Int("steps", len(def.Steps)),
	)
	return def, nil
}

// RunPipeline looks up a named definition, builds a fresh Pipeline
// instance, and runs it. The sealed RunMetrics are recorded (and
// returned) for completed and failed runs alike; failed runs also
// return the terminal error.
func (f *Framework) RunPipeline(ctx context.Context, name string, extract core.ExtractParams, load core.LoadParams) (*RunMetrics, error) {
	f.mu.RLock()
	def, ok := f.definitions[name]
	var source, target core.Connector
	if ok {
		source = f.connectors[def.Source]
		target = f.connectors[def.Target]
	}
	f.mu.RUnlock()

	if !ok {
		return nil, core.Errorf(core.KindValidation, "run_pipeline", "pipeline %q is not registered", name)
	}
	if source == nil || target == nil {
		return nil, core.Errorf(core.KindValidation, "run_pipeline", "pipeline %q references an unregistered connector", name)
	}

	pipe := NewPipeline(def.Name, source, target, def.Steps,
		WithRetryPolicy(f.retry),
		WithLogger(f.logger),
	)
	if err := pipe.Configure(); err != nil {
		return nil, err
	}

	metrics, runErr := pipe.Run(ctx, extract, load)
	if metrics != nil {
		f.mu.Lock()
		f.runs = append(f.runs, metrics.clone())
		f.mu.Unlock()
	}
	return metrics, runErr
}

// Metrics returns the RunMetrics of every run executed through this
// framework, most recent last.
func (f *Framework) Metrics() []*RunMetrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*RunMetrics, len(f.runs))
	for i, m := range f.runs {
		out[i] = m.clone()
	}
	return out
}

// sharedConnector serializes access to one connector instance so
// concurrent runs take turns per operation instead of requiring
// thread-safe implementations. Connect and Disconnect are reference
// counted: the underlying store is opened on the first Connect and
// released when the last run holding it disconnects.
type sharedConnector struct {
	mu    sync.Mutex
	inner core.Connector
	refs  int
}

func (s *sharedConnector) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		if err := s.inner.Connect(ctx); err != nil {
			return err
		}
	}
	s.refs++
	return nil
}

func (s *sharedConnector) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Extract(ctx, params)
}

func (s *sharedConnector) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Load(ctx, ds, params)
}

func (s *sharedConnector) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs == 0 {
		return s.inner.Disconnect()
	}
	return nil
}
