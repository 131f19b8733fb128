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

package connectors

import (
	"context"

	"github.com/markovalabs/flowline/core"
)

// Package connectors provides core.Connector implementations for the
// stores Flowline moves data between: relational databases, columnar
// Parquet files, document stores, S3-compatible object storage, and an
// in-process table map for tests and glue pipelines.

// Memory is a core.Connector backed by an in-process map of named
// tables. It behaves like the real connectors, including the
// connected-state checks, which makes it the connector of choice in
// tests and examples.
type Memory struct {
	connected bool
	tables    map[string]*core.Dataset
}

// NewMemory creates an empty in-process connector.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*core.Dataset)}
}

// Seed stores a dataset under the given object name without requiring
// a connection. Intended for test setup.
func (m *Memory) Seed(object string, ds *core.Dataset) {
	m.tables[object] = ds
}

// Table returns the dataset stored under the given object name, or nil.
func (m *Memory) Table(object string) *core.Dataset {
	return m.tables[object]
}

func (m *Memory) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.KindConnection, "memory_connect", err)
	}
	m.connected = true
	return nil
}

func (m *Memory) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	if !m.connected {
		return nil, core.Errorf(core.KindExtraction, "memory_extract", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.KindExtraction, "memory_extract", err)
	}
	if params.Object == "" {
		return nil, core.Errorf(core.KindValidation, "memory_extract", "object is required")
	}
	ds, ok := m.tables[params.Object]
	if !ok {
		return nil, core.Errorf(core.KindExtraction, "memory_extract", "table %q does not exist", params.Object)
	}
	if len(params.Columns) == 0 {
		return ds, nil
	}
	return projectColumns(ds, params.Columns)
}

func (m *Memory) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	if !m.connected {
		return 0, core.Errorf(core.KindLoad, "memory_load", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return 0, core.WrapError(core.KindLoad, "memory_load", err)
	}
	if params.Object == "" {
		return 0, core.Errorf(core.KindValidation, "memory_load", "object is required")
	}

	if params.Mode == core.WriteAppend {
		if existing, ok := m.tables[params.Object]; ok {
			merged, err := appendDatasets(existing, ds)
			if err != nil {
				return 0, core.WrapError(core.KindLoad, "memory_load", err)
			}
			m.tables[params.Object] = merged
			return ds.NumRows(), nil
		}
	}
	m.tables[params.Object] = ds
	return ds.NumRows(), nil
}

func (m *Memory) Disconnect() error {
	m.connected = false
	return nil
}

// projectColumns narrows a dataset to the named columns, preserving row
// order. Unknown columns are a validation error.
func projectColumns(ds *core.Dataset, columns []string) (*core.Dataset, error) {
	for _, c := range columns {
		if !ds.HasColumn(c) {
			return nil, core.Errorf(core.KindValidation, "project", "column %q does not exist", c)
		}
	}
	b := core.NewBuilder(columns)
	for _, row := range ds.Rows() {
		out := make(core.Row, len(columns))
		for _, c := range columns {
			out[c] = row[c]
		}
		b.Append(out)
	}
	return b.Build()
}

// appendDatasets concatenates next after base. The column sets must
// match exactly; order may differ.
func appendDatasets(base, next *core.Dataset) (*core.Dataset, error) {
	baseCols := base.Columns()
	if !sameColumnSet(baseCols, next.Columns()) {
		return nil, core.Errorf(core.KindValidation, "append",
			"column mismatch: existing %v, incoming %v", baseCols, next.Columns())
	}
	b := core.NewBuilder(baseCols)
	for _, row := range base.Rows() {
		b.Append(row)
	}
	for _, row := range next.Rows() {
		b.Append(row)
	}
	return b.Build()
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
