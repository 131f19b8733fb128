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

package transform

import (
	"fmt"
	"strings"

	"github.com/markovalabs/flowline/core"
)

// MissingPolicy selects what Clean does with rows that carry nil
// values.
type MissingPolicy int

const (
	// MissingKeep leaves nil values untouched.
	MissingKeep MissingPolicy = iota
	// MissingDrop removes any row containing a nil value.
	MissingDrop
	// MissingFill replaces nil values with per-column defaults.
	MissingFill
)

// CleanOptions configures the Clean step.
type CleanOptions struct {
	// Missing selects the missing-value policy.
	Missing MissingPolicy
	// Fill maps column name to the default used under MissingFill.
	// Columns absent from the map keep their nil values.
	Fill map[string]interface{}
	// DedupeKeys, when non-empty, removes rows that duplicate an
	// earlier row under this key set, keeping the first occurrence in
	// input order.
	DedupeKeys []string
}

// NewClean validates the options eagerly and returns the step.
func NewClean(opts CleanOptions) (core.Step, error) {
	switch opts.Missing {
	case MissingKeep, MissingDrop:
	case MissingFill:
		if len(opts.Fill) == 0 {
			return nil, core.Errorf(core.KindValidation, "clean", "fill policy requires at least one column default")
		}
	default:
		return nil, core.Errorf(core.KindValidation, "clean", "unknown missing-value policy %d", opts.Missing)
	}
	seen := make(map[string]struct{}, len(opts.DedupeKeys))
	for _, c := range opts.DedupeKeys {
		if c == "" {
			return nil, core.Errorf(core.KindValidation, "clean", "empty dedupe key column name")
		}
		if _, dup := seen[c]; dup {
			return nil, core.Errorf(core.KindValidation, "clean", "duplicate dedupe key %q", c)
		}
		seen[c] = struct{}{}
	}

	fill := make(map[string]interface{}, len(opts.Fill))
	for k, v := range opts.Fill {
		fill[k] = v
	}
	keys := make([]string, len(opts.DedupeKeys))
	copy(keys, opts.DedupeKeys)
	policy := opts.Missing

	return core.NewStep("clean", func(ds *core.Dataset) (*core.Dataset, error) {
		return clean(ds, policy, fill, keys)
	}), nil
}

// Clean is the panicking variant of NewClean for statically known
// options.
func Clean(opts CleanOptions) core.Step {
	step, err := NewClean(opts)
	if err != nil {
		panic(err)
	}
	return step
}

func clean(ds *core.Dataset, policy MissingPolicy, fill map[string]interface{}, dedupeKeys []string) (*core.Dataset, error) {
	for _, c := range dedupeKeys {
		if !ds.HasColumn(c) {
			return nil, core.Errorf(core.KindTransformation, "clean", "dedupe key %q not in dataset", c)
		}
	}

	b := core.NewBuilder(ds.Columns())
	seen := make(map[string]struct{})

	for _, row := range ds.Rows() {
		switch policy {
		case MissingDrop:
			if rowHasNil(row) {
				continue
			}
		case MissingFill:
			for col, def := range fill {
				if v, ok := row[col]; ok && v == nil {
					row[col] = def
				}
			}
		}

		if len(dedupeKeys) > 0 {
			key := dedupeKey(row, dedupeKeys)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		b.Append(row)
	}
	return b.Build()
}

func rowHasNil(row core.Row) bool {
	for _, v := range row {
		if v == nil {
			return true
		}
	}
	return false
}

func dedupeKey(row core.Row, keys []string) string {
	var sb strings.Builder
	for i, c := range keys {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		v := row[c]
		if v == nil {
			sb.WriteString("\x00nil")
			continue
		}
		fmt.Fprintf(&sb, "%T:%v", v, v)
	}
	return sb.String()
}
