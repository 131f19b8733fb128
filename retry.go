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

import "time"

// RetryPolicy governs connector operations (connect, extract, load).
// Transformation steps are never retried; their failures are
// deterministic.
type RetryPolicy struct {
	// MaxAttempts caps the total tries per operation, first attempt
	// included.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; each further
	// attempt doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// OpTimeout bounds each individual connector operation. A timeout
	// counts as a transient failure.
	OpTimeout time.Duration
}

// DefaultRetryPolicy is used when a framework or pipeline is built
// without an explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		OpTimeout:   30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.OpTimeout <= 0 {
		p.OpTimeout = def.OpTimeout
	}
	return p
}

// Delay returns the backoff before attempt+1, given that attempt
// (1-based) just failed. Exponential, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}
