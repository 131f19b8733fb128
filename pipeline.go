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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markovalabs/flowline/core"
)

// Package flowline orchestrates batch extract-transform-load runs.
//
// A Pipeline binds one source connector, an ordered transformation
// chain, and one target connector, and drives them through a strict
// protocol: connect source, extract, transform step by step, connect
// target, load, disconnect. Connector operations are retried under the
// pipeline's RetryPolicy; transformation failures abort immediately.
// The Framework owns named connectors and pipeline definitions and is
// the entry point for building and running pipelines.

// State is the lifecycle position of one Pipeline instance.
type State int

const (
	// StateCreated is the state right after construction; nothing is
	// validated yet.
	StateCreated State = iota
	// StateConfigured means source, target, and steps passed
	// structural validation.
	StateConfigured
	// StateRunning means execution has started.
	StateRunning
	// StateCompleted means every stage succeeded, including the target
	// load.
	StateCompleted
	// StateFailed means an unrecoverable error ended the run.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pipeline executes one extract-transform-load run. An instance runs
// at most once; rerunning means building a new instance (the Framework
// does this per RunPipeline call).
type Pipeline struct {
	name   string
	source core.Connector
	target core.Connector
	steps  []core.Step
	retry  RetryPolicy
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	ran     bool
	metrics *RunMetrics
}

// PipelineOption adjusts a Pipeline at construction.
type PipelineOption func(*Pipeline)

// WithRetryPolicy overrides the default connector retry policy.
func WithRetryPolicy(p RetryPolicy) PipelineOption {
	return func(pl *Pipeline) { pl.retry = p.withDefaults() }
}

// WithLogger sets the structured logger; the default discards
// everything.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

// NewPipeline constructs a Pipeline in the Created state.
func NewPipeline(name string, source, target core.Connector, steps []core.Step, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		name:   name,
		source: source,
		target: target,
		steps:  append([]core.Step(nil), steps...),
		retry:  DefaultRetryPolicy(),
		logger: zap.NewNop(),
		state:  StateCreated,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Configure validates the pipeline structure and moves it to
// Configured. Calling it on an already configured pipeline is a no-op.
func (p *Pipeline) Configure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateConfigured:
		return nil
	case StateCreated:
	default:
		return core.Errorf(core.KindValidation, "configure", "pipeline %q is %s, cannot reconfigure", p.name, p.state)
	}

	if p.name == "" {
		return core.Errorf(core.KindValidation, "configure", "pipeline name is required")
	}
	if p.source == nil {
		return core.Errorf(core.KindValidation, "configure", "pipeline %q has no source connector", p.name)
	}
	if p.target == nil {
		return core.Errorf(core.KindValidation, "configure", "pipeline %q has no target connector", p.name)
	}
	for i, step := range p.steps {
		if step == nil {
			return core.Errorf(core.KindValidation, "configure", "pipeline %q step %d is nil", p.name, i)
		}
	}

	p.state = StateConfigured
	return nil
}

// Run executes the pipeline once. It returns the sealed RunMetrics and,
// for failed runs, the terminal error; the metrics are returned in both
// cases. Cancellation of ctx is observed between stages and fails the
// run without rolling back rows already written to the target.
func (p *Pipeline) Run(ctx context.Context, extract core.ExtractParams, load core.LoadParams) (*RunMetrics, error) {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return nil, core.Errorf(core.KindValidation, "run", "pipeline %q already ran; build a new instance to rerun", p.name)
	}
	if p.state != StateConfigured {
		p.mu.Unlock()
		return nil, core.Errorf(core.KindValidation, "run", "pipeline %q is %s, want configured", p.name, p.state)
	}
	p.ran = true
	p.state = StateRunning
	p.metrics = &RunMetrics{
		RunID:     uuid.NewString(),
		Pipeline:  p.name,
		StartedAt: time.Now(),
		Attempts:  make(map[string]int),
		Status:    StatusRunning,
	}
	p.mu.Unlock()

	log := p.logger.With(
		zap.String("pipeline", p.name),
		zap.String("run_id", p.metrics.RunID),
	)
	log.Info("pipeline run starting",
		zap.String("source_object", extract.Object),
		zap.String("target_object", load.Object),
		zap.String("write_mode", load.Mode.String()),
	)

	err := p.execute(ctx, log, extract, load)
	p.disconnectAll(log)
	return p.seal(log, err)
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, extract core.ExtractParams, load core.LoadParams) error {
	if err := p.withRetry(ctx, log, StageConnectSource, core.KindConnection, func(opCtx context.Context) error {
		return p.source.Connect(opCtx)
	}); err != nil {
		return err
	}
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	var ds *core.Dataset
	if err := p.withRetry(ctx, log, StageExtract, core.KindExtraction, func(opCtx context.Context) error {
		var err error
		ds, err = p.source.Extract(opCtx, extract)
		return err
	}); err != nil {
		return err
	}
	p.updateMetrics(func(m *RunMetrics) { m.RowsExtracted = ds.NumRows() })
	log.Info("extract finished", zap.Int("rows", ds.NumRows()))

	for _, step := range p.steps {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		start := time.Now()
		out, err := step.Apply(ds)
		if err != nil {
			if core.KindOf(err) == "" {
				err = core.WrapError(core.KindTransformation, step.Name(), err)
			}
			return err
		}
		if out == nil {
			return core.Errorf(core.KindTransformation, step.Name(), "step produced a nil dataset")
		}
		p.updateMetrics(func(m *RunMetrics) {
			m.Steps = append(m.Steps, StepMetrics{
				Name:     step.Name(),
				RowsIn:   ds.NumRows(),
				RowsOut:  out.NumRows(),
				Duration: time.Since(start),
			})
		})
		log.Debug("step finished",
			zap.String("step", step.Name()),
			zap.Int("rows_in", ds.NumRows()),
			zap.Int("rows_out", out.NumRows()),
		)
		ds = out
	}

	if err := p.withRetry(ctx, log, StageConnectTarget, core.KindConnection, func(opCtx context.Context) error {
		return p.target.Connect(opCtx)
	}); err != nil {
		return err
	}
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	var written int
	if err := p.withRetry(ctx, log, StageLoad, core.KindLoad, func(opCtx context.Context) error {
		var err error
		written, err = p.target.Load(opCtx, ds, load)
		return err
	}); err != nil {
		return err
	}
	p.updateMetrics(func(m *RunMetrics) { m.RowsLoaded = written })
	log.Info("load finished", zap.Int("rows", written))

	return nil
}

// withRetry runs one connector operation under the retry policy,
// counting attempts into the run metrics. Errors without a kind are
// classified with the stage's default kind; an operation timeout is a
// transient failure of the same kind.
func (p *Pipeline) withRetry(ctx context.Context, log *zap.Logger, stage string, kind core.Kind, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		p.updateMetrics(func(m *RunMetrics) { m.Attempts[stage]++ })

		opCtx, cancel := context.WithTimeout(ctx, p.retry.OpTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = classify(ctx, stage, kind, err)
		if !core.IsRetryable(lastErr) || attempt == p.retry.MaxAttempts {
			return lastErr
		}

		delay := p.retry.Delay(attempt)
		log.Warn("stage failed, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return core.WrapError(core.KindCancelled, stage, ctx.Err())
		}
	}
	return lastErr
}

// classify assigns a kind to errors that connectors returned bare. A
// parent-context cancellation is never a connector fault.
func classify(ctx context.Context, stage string, kind core.Kind, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return core.WrapError(core.KindCancelled, stage, err)
	}
	if core.KindOf(err) != "" {
		return err
	}
	return core.WrapError(kind, stage, err)
}

// updateMetrics applies fn to the live run metrics under the pipeline
// lock, so Metrics() can clone them while a run is in flight.
func (p *Pipeline) updateMetrics(fn func(m *RunMetrics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.metrics)
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.KindCancelled, "run", err)
	}
	return nil
}

// disconnectAll releases both connectors. Best effort: a disconnect
// failure is logged and does not change the run's terminal status.
func (p *Pipeline) disconnectAll(log *zap.Logger) {
	if p.source != nil {
		if err := p.source.Disconnect(); err != nil {
			log.Warn("source disconnect failed", zap.Error(err))
		}
	}
	if p.target != nil {
		if err := p.target.Disconnect(); err != nil {
			log.Warn("target disconnect failed", zap.Error(err))
		}
	}
}

// seal fixes the terminal status and timestamps, transitions the state
// machine, and returns an immutable copy of the metrics.
func (p *Pipeline) seal(log *zap.Logger, runErr error) (*RunMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.FinishedAt = time.Now()
	if runErr != nil {
		p.state = StateFailed
		p.metrics.Status = StatusFailed
		p.metrics.ErrorKind = core.KindOf(runErr)
		p.metrics.ErrorDetail = runErr.Error()
		log.Error("pipeline run failed",
			zap.String("error_kind", string(p.metrics.ErrorKind)),
			zap.Duration("duration", p.metrics.Duration()),
			zap.Error(runErr),
		)
	} else {
		p.state = StateCompleted
		p.metrics.Status = StatusCompleted
		log.Info("pipeline run completed",
			zap.Int("rows_extracted", p.metrics.RowsExtracted),
			zap.Int("rows_loaded", p.metrics.RowsLoaded),
			zap.Duration("duration", p.metrics.Duration()),
		)
	}
	return p.metrics.clone(), runErr
}

// Metrics returns a copy of the run metrics, or nil before the run
// starts.
func (p *Pipeline) Metrics() *RunMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics == nil {
		return nil
	}
	return p.metrics.clone()
}
