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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markovalabs/flowline/core"
	"github.com/markovalabs/flowline/transform"
)

// fakeConnector injects failures per operation. A positive failure
// budget makes the operation fail that many times before succeeding;
// a negative budget fails forever.
type fakeConnector struct {
	data *core.Dataset

	connectFails int
	extractFails int
	loadFails    int

	connectCalls int
	extractCalls int
	loadCalls    int
	disconnects  int

	loaded     *core.Dataset
	loadParams core.LoadParams
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.connectCalls++
	if f.connectFails != 0 {
		if f.connectFails > 0 {
			f.connectFails--
		}
		return core.Errorf(core.KindConnection, "fake_connect", "store unreachable")
	}
	return nil
}

func (f *fakeConnector) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	f.extractCalls++
	if f.extractFails != 0 {
		if f.extractFails > 0 {
			f.extractFails--
		}
		return nil, core.Errorf(core.KindExtraction, "fake_extract", "object %q unavailable", params.Object)
	}
	return f.data, nil
}

func (f *fakeConnector) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	f.loadCalls++
	if f.loadFails != 0 {
		if f.loadFails > 0 {
			f.loadFails--
		}
		return 0, core.Errorf(core.KindLoad, "fake_load", "write refused")
	}
	f.loaded = ds
	f.loadParams = params
	return ds.NumRows(), nil
}

func (f *fakeConnector) Disconnect() error {
	f.disconnects++
	return nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		OpTimeout:   time.Second,
	}
}

func testDataset(t *testing.T) *core.Dataset {
	t.Helper()
	ds, err := core.NewDataset([]string{"id", "amount"}, []core.Row{
		{"id": 1, "amount": 120.0},
		{"id": 2, "amount": 30.0},
		{"id": 3, "amount": 200.0},
	})
	require.NoError(t, err)
	return ds
}

func configuredPipeline(t *testing.T, source, target *fakeConnector, steps ...core.Step) *Pipeline {
	t.Helper()
	p := NewPipeline("orders", source, target, steps, WithRetryPolicy(fastRetry()))
	require.NoError(t, p.Configure())
	return p
}

func TestPipeline_StateMachine(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}

	p := NewPipeline("orders", source, target, nil, WithRetryPolicy(fastRetry()))
	assert.Equal(t, StateCreated, p.State())

	// Run before Configure is rejected.
	_, err := p.Run(context.Background(), core.ExtractParams{Object: "t"}, core.LoadParams{Object: "t"})
	assert.True(t, core.IsKind(err, core.KindValidation))

	require.NoError(t, p.Configure())
	assert.Equal(t, StateConfigured, p.State())
	// Configure is idempotent while configured.
	require.NoError(t, p.Configure())

	_, err = p.Run(context.Background(), core.ExtractParams{Object: "t"}, core.LoadParams{Object: "t"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State())

	// Terminal states cannot be reconfigured.
	assert.True(t, core.IsKind(p.Configure(), core.KindValidation))
}

func TestPipeline_ConfigureValidation(t *testing.T) {
	target := &fakeConnector{}

	p := NewPipeline("orders", nil, target, nil)
	assert.True(t, core.IsKind(p.Configure(), core.KindValidation))

	p = NewPipeline("orders", target, nil, nil)
	assert.True(t, core.IsKind(p.Configure(), core.KindValidation))

	p = NewPipeline("", target, target, nil)
	assert.True(t, core.IsKind(p.Configure(), core.KindValidation))

	p = NewPipeline("orders", target, target, []core.Step{nil})
	assert.True(t, core.IsKind(p.Configure(), core.KindValidation))
}

func TestPipeline_HappyPathMetrics(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target, transform.Filter(transform.Gt("amount", 50)))

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"},
		core.LoadParams{Object: "orders_out", Mode: core.WriteOverwrite},
	)
	require.NoError(t, err)

	assert.NotEmpty(t, metrics.RunID)
	assert.Equal(t, "orders", metrics.Pipeline)
	assert.Equal(t, StatusCompleted, metrics.Status)
	assert.Equal(t, 3, metrics.RowsExtracted)
	assert.Equal(t, 2, metrics.RowsLoaded)
	assert.False(t, metrics.FinishedAt.IsZero())
	assert.GreaterOrEqual(t, metrics.Duration(), time.Duration(0))

	require.Len(t, metrics.Steps, 1)
	assert.Equal(t, "filter", metrics.Steps[0].Name)
	assert.Equal(t, 3, metrics.Steps[0].RowsIn)
	assert.Equal(t, 2, metrics.Steps[0].RowsOut)

	assert.Equal(t, 1, metrics.Attempts[StageConnectSource])
	assert.Equal(t, 1, metrics.Attempts[StageExtract])
	assert.Equal(t, 1, metrics.Attempts[StageLoad])

	// Both connectors released exactly once.
	assert.Equal(t, 1, source.disconnects)
	assert.Equal(t, 1, target.disconnects)

	require.NotNil(t, target.loaded)
	assert.Equal(t, 2, target.loaded.NumRows())
	assert.Equal(t, core.WriteOverwrite, target.loadParams.Mode)
}

func TestPipeline_TransientConnectFailureRecovers(t *testing.T) {
	source := &fakeConnector{data: testDataset(t), connectFails: 2}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, metrics.Status)
	assert.Equal(t, 3, metrics.Attempts[StageConnectSource])
	assert.Equal(t, 3, source.connectCalls)
}

func TestPipeline_TransientExtractFailureRecovers(t *testing.T) {
	source := &fakeConnector{data: testDataset(t), extractFails: 2}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, metrics.Status)
	assert.Equal(t, 3, metrics.Attempts[StageExtract])
	assert.Equal(t, 3, metrics.RowsExtracted)
}

func TestPipeline_AttemptBudgetIsTotalCalls(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{loadFails: -1}
	p := NewPipeline("orders", source, target, nil, WithRetryPolicy(RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		OpTimeout:   time.Second,
	}))
	require.NoError(t, p.Configure())

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)

	assert.Equal(t, core.KindLoad, metrics.ErrorKind)
	assert.Equal(t, 2, metrics.Attempts[StageLoad])
	assert.Equal(t, 2, target.loadCalls)
}

func TestPipeline_ExtractExhaustsRetries(t *testing.T) {
	source := &fakeConnector{data: testDataset(t), extractFails: -1}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)

	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, StatusFailed, metrics.Status)
	assert.Equal(t, core.KindExtraction, metrics.ErrorKind)
	assert.Contains(t, metrics.ErrorDetail, "unavailable")
	assert.Equal(t, 3, metrics.Attempts[StageExtract])
	assert.Equal(t, 3, source.extractCalls)

	// The target was never touched; both sides still released.
	assert.Equal(t, 0, target.loadCalls)
	assert.Equal(t, 1, source.disconnects)
	assert.Equal(t, 1, target.disconnects)
}

func TestPipeline_LoadRetriesThenFails(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{loadFails: -1}
	p := configuredPipeline(t, source, target)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)

	assert.Equal(t, core.KindLoad, metrics.ErrorKind)
	assert.Equal(t, 3, metrics.Attempts[StageLoad])
	assert.Equal(t, 3, metrics.RowsExtracted)
	assert.Equal(t, 0, metrics.RowsLoaded)
}

func TestPipeline_TransformationFailureIsNotRetried(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}

	calls := 0
	bad := transform.Custom("explode", func(*core.Dataset) (*core.Dataset, error) {
		calls++
		return nil, errors.New("corrupt row")
	})
	p := configuredPipeline(t, source, target, bad)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, core.KindTransformation, metrics.ErrorKind)
	assert.Equal(t, StatusFailed, metrics.Status)
	assert.Equal(t, 0, target.loadCalls)
}

func TestPipeline_BareStepErrorGetsTransformationKind(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}
	bare := core.NewStep("bare", func(*core.Dataset) (*core.Dataset, error) {
		return nil, errors.New("oops")
	})
	p := configuredPipeline(t, source, target, bare)

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)
	assert.Equal(t, core.KindTransformation, metrics.ErrorKind)
}

func TestPipeline_CancellationBetweenStages(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}

	ctx, cancel := context.WithCancel(context.Background())
	trip := transform.Custom("trip", func(ds *core.Dataset) (*core.Dataset, error) {
		cancel()
		return ds, nil
	})
	p := configuredPipeline(t, source, target, trip)

	metrics, err := p.Run(ctx,
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)

	assert.Equal(t, core.KindCancelled, metrics.ErrorKind)
	assert.Equal(t, StateFailed, p.State())
	// Load never ran; rows extracted are still recorded.
	assert.Equal(t, 0, target.loadCalls)
	assert.Equal(t, 3, metrics.RowsExtracted)
	assert.Equal(t, 1, source.disconnects)
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics, err := p.Run(ctx,
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)
	assert.Equal(t, core.KindCancelled, metrics.ErrorKind)
	assert.Equal(t, 0, source.connectCalls)
}

func TestPipeline_RunsExactlyOnce(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	_, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.NoError(t, err)

	_, err = p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindValidation))

	// A failed run is equally final.
	failedSource := &fakeConnector{extractFails: -1}
	p2 := configuredPipeline(t, failedSource, &fakeConnector{})
	_, err = p2.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.Error(t, err)
	_, err = p2.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	assert.True(t, core.IsKind(err, core.KindValidation))
}

func TestPipeline_MetricsReadableDuringRun(t *testing.T) {
	source := &fakeConnector{data: testDataset(t), connectFails: 1}
	target := &fakeConnector{loadFails: 1}
	slow := core.NewStep("slow", func(ds *core.Dataset) (*core.Dataset, error) {
		time.Sleep(10 * time.Millisecond)
		return ds, nil
	})
	p := configuredPipeline(t, source, target, slow)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.Metrics()
			}
		}
	}()

	metrics, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	close(stop)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, metrics.Status)
	assert.Equal(t, 2, metrics.Attempts[StageConnectSource])
	assert.Equal(t, 2, metrics.Attempts[StageLoad])
	assert.Len(t, metrics.Steps, 1)
}

func TestPipeline_MetricsAccessorReturnsCopies(t *testing.T) {
	source := &fakeConnector{data: testDataset(t)}
	target := &fakeConnector{}
	p := configuredPipeline(t, source, target)

	assert.Nil(t, p.Metrics())

	sealed, err := p.Run(context.Background(),
		core.ExtractParams{Object: "orders"}, core.LoadParams{Object: "out"})
	require.NoError(t, err)

	sealed.Attempts[StageExtract] = 99
	sealed.Pipeline = "tampered"

	fresh := p.Metrics()
	assert.Equal(t, 1, fresh.Attempts[StageExtract])
	assert.Equal(t, "orders", fresh.Pipeline)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	// Capped.
	assert.Equal(t, 350*time.Millisecond, p.Delay(3))
	assert.Equal(t, 350*time.Millisecond, p.Delay(20))
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	def := DefaultRetryPolicy()
	assert.Equal(t, def, p)

	custom := RetryPolicy{MaxAttempts: 5}.withDefaults()
	assert.Equal(t, 5, custom.MaxAttempts)
	assert.Equal(t, def.BaseDelay, custom.BaseDelay)
}
