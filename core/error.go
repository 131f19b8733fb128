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
	"errors"
	"fmt"
)

// Kind categorizes every error Flowline produces. The pipeline
// orchestrator decides retry behavior from the kind alone.
type Kind string

const (
	// KindValidation marks a bad configuration or pipeline definition.
	// Surfaced at build time, never retried.
	KindValidation Kind = "validation"
	// KindConnection marks an unreachable store or failed authentication.
	// Retryable.
	KindConnection Kind = "connection"
	// KindExtraction marks a missing or unparseable source object.
	// Retryable up to the attempt limit; some sources are eventually
	// consistent.
	KindExtraction Kind = "extraction"
	// KindTransformation marks a deterministic defect in a step or its
	// input. Never retried; aborts the run.
	KindTransformation Kind = "transformation"
	// KindLoad marks a destination write failure. Retryable.
	KindLoad Kind = "load"
	// KindCancelled marks cooperative cancellation observed between
	// stages.
	KindCancelled Kind = "cancelled"
)

// Error is the structured error type used across connectors, transform
// steps, and the pipeline. Op names the operation that failed
// (e.g. "connect", "extract", "aggregate").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps err with a kind and operation. A nil err yields nil;
// an err that already carries a kind is preserved as the cause.
func WrapError(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a new structured error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the pipeline may retry the operation that
// produced err. Only connector-boundary failures qualify;
// transformation and validation failures are deterministic.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindExtraction, KindLoad:
		return true
	default:
		return false
	}
}
