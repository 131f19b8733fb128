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
	"sort"
	"strings"

	"github.com/markovalabs/flowline/core"
)

// AggFunc names an aggregation function applied to one column per
// group.
type AggFunc string

const (
	AggSum   AggFunc = "sum"
	AggCount AggFunc = "count"
	AggMean  AggFunc = "mean"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

func validAggFunc(fn AggFunc) bool {
	switch fn {
	case AggSum, AggCount, AggMean, AggMin, AggMax:
		return true
	default:
		return false
	}
}

// NewAggregate validates the group-by column set and aggregation
// config eagerly, returning the step or a validation error. Group keys
// appear in the output in first-seen input order; a nil group-key
// value forms its own group. Output columns are the group-by columns
// followed by the aggregated columns in sorted order.
func NewAggregate(groupBy []string, aggs map[string]AggFunc) (core.Step, error) {
	if len(groupBy) == 0 {
		return nil, core.Errorf(core.KindValidation, "aggregate", "group-by column set is empty")
	}
	seen := make(map[string]struct{}, len(groupBy))
	for _, c := range groupBy {
		if c == "" {
			return nil, core.Errorf(core.KindValidation, "aggregate", "empty group-by column name")
		}
		if _, dup := seen[c]; dup {
			return nil, core.Errorf(core.KindValidation, "aggregate", "duplicate group-by column %q", c)
		}
		seen[c] = struct{}{}
	}
	if len(aggs) == 0 {
		return nil, core.Errorf(core.KindValidation, "aggregate", "aggregation config is empty")
	}
	for col, fn := range aggs {
		if !validAggFunc(fn) {
			return nil, core.Errorf(core.KindValidation, "aggregate", "unknown aggregation function %q for column %q", fn, col)
		}
		if _, clash := seen[col]; clash {
			return nil, core.Errorf(core.KindValidation, "aggregate", "column %q cannot be both group key and aggregation target", col)
		}
	}

	group := make([]string, len(groupBy))
	copy(group, groupBy)
	aggCols := sortedAggColumns(aggs)

	return core.NewStep("aggregate", func(ds *core.Dataset) (*core.Dataset, error) {
		return aggregate(ds, group, aggCols, aggs)
	}), nil
}

// Aggregate is the panicking variant of NewAggregate for statically
// known configurations.
func Aggregate(groupBy []string, aggs map[string]AggFunc) core.Step {
	step, err := NewAggregate(groupBy, aggs)
	if err != nil {
		panic(err)
	}
	return step
}

type groupState struct {
	key   core.Row
	accum map[string]*accumulator
}

func aggregate(ds *core.Dataset, groupBy, aggCols []string, aggs map[string]AggFunc) (*core.Dataset, error) {
	for _, c := range groupBy {
		if !ds.HasColumn(c) {
			return nil, core.Errorf(core.KindTransformation, "aggregate", "group-by column %q not in dataset", c)
		}
	}
	for _, c := range aggCols {
		if !ds.HasColumn(c) {
			return nil, core.Errorf(core.KindTransformation, "aggregate", "aggregation column %q not in dataset", c)
		}
	}

	var order []string
	groups := make(map[string]*groupState)

	for _, row := range ds.Rows() {
		key := encodeGroupKey(row, groupBy)
		st, ok := groups[key]
		if !ok {
			st = &groupState{key: make(core.Row, len(groupBy)), accum: make(map[string]*accumulator, len(aggCols))}
			for _, c := range groupBy {
				st.key[c] = row[c]
			}
			for _, c := range aggCols {
				st.accum[c] = &accumulator{fn: aggs[c]}
			}
			groups[key] = st
			order = append(order, key)
		}
		for _, c := range aggCols {
			if err := st.accum[c].add(row[c]); err != nil {
				return nil, core.Errorf(core.KindTransformation, "aggregate", "column %q: %v", c, err)
			}
		}
	}

	columns := append(append([]string{}, groupBy...), aggCols...)
	b := core.NewBuilder(columns)
	for _, key := range order {
		st := groups[key]
		out := st.key.Clone()
		for _, c := range aggCols {
			out[c] = st.accum[c].result()
		}
		b.Append(out)
	}
	return b.Build()
}

// encodeGroupKey builds a collision-safe string key from the group-by
// values. Unit separator keeps ("a","b c") distinct from ("a b","c");
// the %T prefix keeps int(1) distinct from "1".
func encodeGroupKey(row core.Row, groupBy []string) string {
	var sb strings.Builder
	for i, c := range groupBy {
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

// accumulator folds one column of one group. Non-numeric values count
// toward row totals but are skipped by numeric functions, matching how
// the min/max pair falls back to ordered string comparison.
type accumulator struct {
	fn      AggFunc
	count   int64
	sum     float64
	numSeen int64
	minNum  float64
	maxNum  float64
	minStr  string
	maxStr  string
	strSeen bool
}

func (a *accumulator) add(v interface{}) error {
	a.count++
	if n, ok := toFloat(v); ok {
		if a.numSeen == 0 {
			a.minNum, a.maxNum = n, n
		} else {
			if n < a.minNum {
				a.minNum = n
			}
			if n > a.maxNum {
				a.maxNum = n
			}
		}
		a.numSeen++
		a.sum += n
		return nil
	}
	if s, ok := v.(string); ok {
		if !a.strSeen {
			a.minStr, a.maxStr = s, s
			a.strSeen = true
		} else {
			if s < a.minStr {
				a.minStr = s
			}
			if s > a.maxStr {
				a.maxStr = s
			}
		}
		return nil
	}
	if v == nil {
		return nil
	}
	if a.fn != AggCount {
		return fmt.Errorf("cannot aggregate value of type %T", v)
	}
	return nil
}

func (a *accumulator) result() interface{} {
	switch a.fn {
	case AggCount:
		return a.count
	case AggSum:
		return a.sum
	case AggMean:
		if a.numSeen == 0 {
			return nil
		}
		return a.sum / float64(a.numSeen)
	case AggMin:
		if a.numSeen > 0 {
			return a.minNum
		}
		if a.strSeen {
			return a.minStr
		}
		return nil
	case AggMax:
		if a.numSeen > 0 {
			return a.maxNum
		}
		if a.strSeen {
			return a.maxStr
		}
		return nil
	default:
		return nil
	}
}

func sortedAggColumns(aggs map[string]AggFunc) []string {
	cols := make([]string, 0, len(aggs))
	for c := range aggs {
		cols = append(cols, c)
	}
	// deterministic output column order
	sort.Strings(cols)
	return cols
}
