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
	"fmt"
	"sort"
)

// Package core defines the value types shared by every Flowline component.
//
// Flowline is a batch ETL engine: connectors pull a Dataset out of an
// external store, a chain of steps reshapes it, and a connector pushes the
// result into another store. The Dataset is the only value that crosses
// those boundaries.

// Row is a single record: a mapping from column name to a scalar value.
type Row map[string]interface{}

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an immutable, ordered collection of rows with a uniform
// column set. Stages never modify a Dataset in place; a stage that
// "changes" one produces a new Dataset.
type Dataset struct {
	columns []string
	rows    []Row
}

// NewDataset builds a Dataset from the given column set and rows.
// Every row must carry exactly the listed columns; rows and columns are
// copied so later mutation of the inputs cannot leak in.
func NewDataset(columns []string, rows []Row) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, Errorf(KindValidation, "dataset", "at least one column is required")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c == "" {
			return nil, Errorf(KindValidation, "dataset", "empty column name")
		}
		if _, dup := seen[c]; dup {
			return nil, Errorf(KindValidation, "dataset", "duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}

	copied := make([]Row, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, Errorf(KindValidation, "dataset", "row %d has %d values, want %d columns", i, len(row), len(columns))
		}
		for c := range row {
			if _, ok := seen[c]; !ok {
				return nil, Errorf(KindValidation, "dataset", "row %d has unknown column %q", i, c)
			}
		}
		copied[i] = row.Clone()
	}

	cols := make([]string, len(columns))
	copy(cols, columns)

	return &Dataset{columns: cols, rows: copied}, nil
}

// Columns returns the column names in declaration order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int {
	return len(d.rows)
}

// HasColumn reports whether the dataset carries the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Value returns the value at row i for the named column. The second
// return is false when the column does not exist or i is out of range.
func (d *Dataset) Value(i int, column string) (interface{}, bool) {
	if i < 0 || i >= len(d.rows) {
		return nil, false
	}
	v, ok := d.rows[i][column]
	return v, ok
}

// Row returns an independent copy of row i.
func (d *Dataset) Row(i int) Row {
	return d.rows[i].Clone()
}

// Rows returns independent copies of every row, in order.
func (d *Dataset) Rows() []Row {
	out := make([]Row, len(d.rows))
	for i, row := range d.rows {
		out[i] = row.Clone()
	}
	return out
}

// String summarizes the dataset shape; handy in logs and test failures.
func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset(%d columns, %d rows)", len(d.columns), len(d.rows))
}

// Builder accumulates rows for a new Dataset. Connectors and transform
// steps use it so column-set validation happens once per row instead of
// after the fact.
type Builder struct {
	columns []string
	colSet  map[string]struct{}
	rows    []Row
	err     error
}

// NewBuilder starts a Builder for the given column set.
func NewBuilder(columns []string) *Builder {
	b := &Builder{
		columns: make([]string, len(columns)),
		colSet:  make(map[string]struct{}, len(columns)),
	}
	copy(b.columns, columns)
	for _, c := range columns {
		b.colSet[c] = struct{}{}
	}
	return b
}

// Append adds one row. The row is copied; missing columns are filled
// with nil, unknown columns make the final Build fail.
func (b *Builder) Append(row Row) *Builder {
	if b.err != nil {
		return b
	}
	out := make(Row, len(b.columns))
	for k, v := range row {
		if _, ok := b.colSet[k]; !ok {
			b.err = Errorf(KindValidation, "dataset", "row %d has unknown column %q", len(b.rows), k)
			return b
		}
		out[k] = v
	}
	for _, c := range b.columns {
		if _, ok := out[c]; !ok {
			out[c] = nil
		}
	}
	b.rows = append(b.rows, out)
	return b
}

// Build finalizes the Dataset.
func (b *Builder) Build() (*Dataset, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.columns) == 0 {
		return nil, Errorf(KindValidation, "dataset", "at least one column is required")
	}
	cols := make([]string, len(b.columns))
	copy(cols, b.columns)
	return &Dataset{columns: cols, rows: b.rows}, nil
}

// ColumnsOf derives a sorted column list from a sample row. Used by
// connectors whose stores carry no schema of their own.
func ColumnsOf(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
