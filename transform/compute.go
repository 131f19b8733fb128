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

	"github.com/markovalabs/flowline/core"
)

// Expr evaluates to a scalar over one row. Expressions back the
// computed-column step; they are built from Col, Lit, and the
// arithmetic combinators so a pipeline definition stays inspectable
// instead of hiding logic in opaque closures.
type Expr interface {
	Eval(row core.Row) (interface{}, error)
}

type colExpr string

func (c colExpr) Eval(row core.Row) (interface{}, error) {
	v, ok := row[string(c)]
	if !ok {
		return nil, fmt.Errorf("column %q not present", string(c))
	}
	return v, nil
}

// Col references an existing column.
func Col(name string) Expr { return colExpr(name) }

type litExpr struct{ v interface{} }

func (l litExpr) Eval(core.Row) (interface{}, error) { return l.v, nil }

// Lit is a constant operand.
func Lit(v interface{}) Expr { return litExpr{v: v} }

type binExpr struct {
	op   byte
	l, r Expr
}

func (b binExpr) Eval(row core.Row) (interface{}, error) {
	lv, err := b.l.Eval(row)
	if err != nil {
		return nil, err
	}
	rv, err := b.r.Eval(row)
	if err != nil {
		return nil, err
	}
	ln, ok := toFloat(lv)
	if !ok {
		return nil, fmt.Errorf("operand %v (%T) is not numeric", lv, lv)
	}
	rn, ok := toFloat(rv)
	if !ok {
		return nil, fmt.Errorf("operand %v (%T) is not numeric", rv, rv)
	}
	switch b.op {
	case '+':
		return ln + rn, nil
	case '-':
		return ln - rn, nil
	case '*':
		return ln * rn, nil
	case '/':
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return ln / rn, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", string(b.op))
	}
}

// Add evaluates l + r over numeric operands.
func Add(l, r Expr) Expr { return binExpr{op: '+', l: l, r: r} }

// Sub evaluates l - r.
func Sub(l, r Expr) Expr { return binExpr{op: '-', l: l, r: r} }

// Mul evaluates l * r.
func Mul(l, r Expr) Expr { return binExpr{op: '*', l: l, r: r} }

// Div evaluates l / r; division by zero is a transformation failure.
func Div(l, r Expr) Expr { return binExpr{op: '/', l: l, r: r} }

// NewComputed adds (or overwrites) a column whose value is expr
// evaluated over the same row's existing columns. A reference to a
// missing column or a non-numeric operand aborts the run with a
// transformation error.
func NewComputed(name string, expr Expr) (core.Step, error) {
	if name == "" {
		return nil, core.Errorf(core.KindValidation, "computed", "column name is required")
	}
	if expr == nil {
		return nil, core.Errorf(core.KindValidation, "computed", "expression is required")
	}
	stepName := "computed:" + name
	return core.NewStep(stepName, func(ds *core.Dataset) (*core.Dataset, error) {
		columns := ds.Columns()
		if !ds.HasColumn(name) {
			columns = append(columns, name)
		}
		b := core.NewBuilder(columns)
		for i, row := range ds.Rows() {
			v, err := expr.Eval(row)
			if err != nil {
				return nil, core.Errorf(core.KindTransformation, stepName, "row %d: %v", i, err)
			}
			row[name] = v
			b.Append(row)
		}
		return b.Build()
	}), nil
}

// Computed is the panicking variant of NewComputed for statically
// known expressions.
func Computed(name string, expr Expr) core.Step {
	step, err := NewComputed(name, expr)
	if err != nil {
		panic(err)
	}
	return step
}

// Custom wraps a caller-supplied Dataset-to-Dataset function as a named
// step. The engine treats it as opaque: any failure is surfaced as a
// transformation error and never retried. Register custom steps with
// the framework before building pipelines that reference them.
func Custom(name string, fn func(*core.Dataset) (*core.Dataset, error)) core.Step {
	return core.NewStep(name, func(ds *core.Dataset) (*core.Dataset, error) {
		out, err := fn(ds)
		if err != nil {
			if core.IsKind(err, core.KindTransformation) {
				return nil, err
			}
			return nil, core.WrapError(core.KindTransformation, name, err)
		}
		if out == nil {
			return nil, core.Errorf(core.KindTransformation, name, "step returned a nil dataset")
		}
		return out, nil
	})
}
