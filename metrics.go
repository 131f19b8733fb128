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
	"time"

	"github.com/markovalabs/flowline/core"
)

// Status is the terminal (or in-flight) state of one pipeline run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stage names used as attempt-counter keys in RunMetrics.
const (
	StageConnectSource = "connect_source"
	StageExtract       = "extract"
	StageTransform     = "transform"
	StageConnectTarget = "connect_target"
	StageLoad          = "load"
)

// StepMetrics records the row flow through one transformation step.
type StepMetrics struct {
	Name     string
	RowsIn   int
	RowsOut  int
	Duration time.Duration
}

// RunMetrics is the record of one pipeline execution. It is created at
// run start, appended to while the run progresses, and sealed when the
// run reaches a terminal state; callers always receive a copy.
type RunMetrics struct {
	RunID         string
	Pipeline      string
	StartedAt     time.Time
	FinishedAt    time.Time
	RowsExtracted int
	RowsLoaded    int
	Steps         []StepMetrics
	Attempts      map[string]int
	Status        Status
	ErrorKind     core.Kind
	ErrorDetail   string
}

// Duration is the wall-clock time of the run; zero until sealed.
func (m *RunMetrics) Duration() time.Duration {
	if m.FinishedAt.IsZero() {
		return 0
	}
	return m.FinishedAt.Sub(m.StartedAt)
}

func (m *RunMetrics) clone() *RunMetrics {
	out := *m
	out.Steps = make([]StepMetrics, len(m.Steps))
	copy(out.Steps, m.Steps)
	out.Attempts = make(map[string]int, len(m.Attempts))
	for k, v := range m.Attempts {
		out.Attempts[k] = v
	}
	return &out
}
