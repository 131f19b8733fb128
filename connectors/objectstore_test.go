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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markovalabs/flowline/core"
)

func TestNewObjectStore_ConfigValidation(t *testing.T) {
	_, err := NewObjectStore(ObjectStoreConfig{})
	assert.True(t, core.IsKind(err, core.KindValidation))

	_, err = NewObjectStore(ObjectStoreConfig{Bucket: "etl-staging"})
	assert.NoError(t, err)
}

func TestObjectStore_OpsRequireConnect(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(ObjectStoreConfig{Bucket: "etl-staging"})
	require.NoError(t, err)

	_, err = store.Extract(ctx, core.ExtractParams{Object: "daily/orders.jsonl"})
	assert.True(t, core.IsKind(err, core.KindExtraction))

	ds, err := core.NewDataset([]string{"id"}, []core.Row{{"id": 1}})
	require.NoError(t, err)
	_, err = store.Load(ctx, ds, core.LoadParams{Object: "daily/orders.jsonl"})
	assert.True(t, core.IsKind(err, core.KindLoad))

	assert.NoError(t, store.Disconnect())
}

func TestObjectStore_ParamValidationAfterConnect(t *testing.T) {
	// Connect only builds the client; it does not touch the network, so
	// parameter validation is testable without a bucket.
	ctx := context.Background()
	store, err := NewObjectStore(ObjectStoreConfig{
		Bucket:    "etl-staging",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect()

	_, err = store.Extract(ctx, core.ExtractParams{})
	assert.True(t, core.IsKind(err, core.KindValidation))

	_, err = store.Extract(ctx, core.ExtractParams{Object: "k", Query: "q"})
	assert.True(t, core.IsKind(err, core.KindValidation))

	ds, err := core.NewDataset([]string{"id"}, []core.Row{{"id": 1}})
	require.NoError(t, err)
	_, err = store.Load(ctx, ds, core.LoadParams{})
	assert.True(t, core.IsKind(err, core.KindValidation))
}
