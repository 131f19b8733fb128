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
	"reflect"
	"strings"

	"github.com/markovalabs/flowline/core"
)

// Package transform provides the reusable Dataset-to-Dataset steps a
// pipeline composes: filtering, aggregation, cleaning, computed
// columns, and caller-registered custom steps. Every function here is
// stateless and pure; the same input Dataset always produces the same
// output Dataset.

// Predicate decides whether a row passes a filter. Predicates are
// evaluated per row and never see rows outside the one given.
type Predicate interface {
	Match(row core.Row) bool
}

// PredicateFunc adapts an ordinary function to the Predicate interface.
type PredicateFunc func(row core.Row) bool

// Match implements Predicate.
func (f PredicateFunc) Match(row core.Row) bool { return f(row) }

// Filter keeps rows satisfying pred, preserving input order and the
// column set. An empty result is not an error.
func Filter(pred Predicate) core.Step {
	return core.NewStep("filter", func(ds *core.Dataset) (*core.Dataset, error) {
		b := core.NewBuilder(ds.Columns())
		for _, row := range ds.Rows() {
			if pred.Match(row) {
				b.Append(row)
			}
		}
		return b.Build()
	})
}

// Gt matches rows whose numeric column exceeds threshold. A missing or
// non-numeric value excludes the row.
func Gt(column string, threshold float64) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		n, ok := toFloat(row[column])
		return ok && n > threshold
	})
}

// Gte matches rows whose numeric column is at least threshold.
func Gte(column string, threshold float64) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		n, ok := toFloat(row[column])
		return ok && n >= threshold
	})
}

// Lt matches rows whose numeric column is below threshold.
func Lt(column string, threshold float64) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		n, ok := toFloat(row[column])
		return ok && n < threshold
	})
}

// Lte matches rows whose numeric column is at most threshold.
func Lte(column string, threshold float64) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		n, ok := toFloat(row[column])
		return ok && n <= threshold
	})
}

// Eq matches rows whose column equals value.
func Eq(column string, value interface{}) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		v, ok := row[column]
		if !ok {
			return false
		}
		if nv, numOK := toFloat(value); numOK {
			if n, rowOK := toFloat(v); rowOK {
				return n == nv
			}
		}
		return reflect.DeepEqual(v, value)
	})
}

// NotNull matches rows whose column is present, non-nil, and not an
// empty string.
func NotNull(column string) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		v, ok := row[column]
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr && s == "" {
			return false
		}
		return true
	})
}

// Contains matches rows whose string column contains substr.
func Contains(column, substr string) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		s, ok := row[column].(string)
		return ok && strings.Contains(s, substr)
	})
}

// In matches rows whose column value is one of values.
func In(column string, values ...interface{}) Predicate {
	set := make(map[interface{}]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return PredicateFunc(func(row core.Row) bool {
		v, ok := row[column]
		return ok && set[v]
	})
}

// And requires every predicate to match.
func And(preds ...Predicate) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		for _, p := range preds {
			if !p.Match(row) {
				return false
			}
		}
		return true
	})
}

// Or requires at least one predicate to match.
func Or(preds ...Predicate) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		for _, p := range preds {
			if p.Match(row) {
				return true
			}
		}
		return false
	})
}

// Not negates a predicate.
func Not(pred Predicate) Predicate {
	return PredicateFunc(func(row core.Row) bool {
		return !pred.Match(row)
	})
}

// toFloat converts the numeric types a connector can produce to
// float64.
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
