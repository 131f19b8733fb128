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

package core

import (
	"context"
	"fmt"
)

// WriteMode selects how a connector writes into an existing destination
// object.
type WriteMode int

const (
	// WriteAppend adds rows after whatever the destination already holds.
	WriteAppend WriteMode = iota
	// WriteOverwrite replaces the destination object entirely.
	WriteOverwrite
)

func (m WriteMode) String() string {
	switch m {
	case WriteAppend:
		return "append"
	case WriteOverwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// ExtractParams addresses the object a connector should read. The
// fields are interpreted per connector kind: Object is a table,
// collection, file, or key; Query is a connector-specific predicate
// (SQL text, document filter); Columns optionally projects a subset.
type ExtractParams struct {
	Object  string
	Query   string
	Columns []string
}

// LoadParams addresses the destination of a write.
type LoadParams struct {
	Object string
	Mode   WriteMode
}

// Connector reads a Dataset from, or writes a Dataset into, one kind of
// external store. All four operations share one error taxonomy:
// Connect fails with KindConnection, Extract with
// KindExtraction/KindConnection, Load with KindLoad.
//
// Connect is idempotent; Disconnect is always safe to call, including
// after a failed Connect. Implementations are not required to be safe
// for concurrent use: the framework serializes access to a shared
// connector instance per operation.
type Connector interface {
	Connect(ctx context.Context) error
	Extract(ctx context.Context, params ExtractParams) (*Dataset, error)
	Load(ctx context.Context, ds *Dataset, params LoadParams) (int, error)
	Disconnect() error
}

// Step is one unit of the transformation chain: a pure
// Dataset-to-Dataset function. Steps run strictly in order; step i's
// output is step i+1's input. A Step must not retain or mutate its
// input.
type Step interface {
	// Name identifies the step in metrics and logs.
	Name() string
	// Apply produces a new Dataset from ds.
	Apply(ds *Dataset) (*Dataset, error)
}

type stepFunc struct {
	name string
	fn   func(*Dataset) (*Dataset, error)
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Apply(ds *Dataset) (*Dataset, error) { return s.fn(ds) }

// NewStep adapts an ordinary function into a named Step.
func NewStep(name string, fn func(*Dataset) (*Dataset, error)) Step {
	return stepFunc{name: name, fn: fn}
}
