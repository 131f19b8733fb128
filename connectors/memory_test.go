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

func usersDataset(t *testing.T) *core.Dataset {
	t.Helper()
	ds, err := core.NewDataset([]string{"id", "name", "age"}, []core.Row{
		{"id": int64(1), "name": "alice", "age": int64(31)},
		{"id": int64(2), "name": "bob", "age": int64(27)},
	})
	require.NoError(t, err)
	return ds
}

func TestMemory_ExtractRequiresConnect(t *testing.T) {
	mem := NewMemory()
	mem.Seed("users", usersDataset(t))

	_, err := mem.Extract(context.Background(), core.ExtractParams{Object: "users"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindExtraction))
}

func TestMemory_ExtractAndProjection(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Seed("users", usersDataset(t))
	require.NoError(t, mem.Connect(ctx))

	ds, err := mem.Extract(ctx, core.ExtractParams{Object: "users"})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NumRows())

	ds, err = mem.Extract(ctx, core.ExtractParams{Object: "users", Columns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, ds.Columns())

	_, err = mem.Extract(ctx, core.ExtractParams{Object: "users", Columns: []string{"ghost"}})
	assert.True(t, core.IsKind(err, core.KindValidation))

	_, err = mem.Extract(ctx, core.ExtractParams{Object: "absent"})
	assert.True(t, core.IsKind(err, core.KindExtraction))
}

func TestMemory_LoadModes(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Connect(ctx))

	users := usersDataset(t)
	n, err := mem.Load(ctx, users, core.LoadParams{Object: "users", Mode: core.WriteOverwrite})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = mem.Load(ctx, users, core.LoadParams{Object: "users", Mode: core.WriteAppend})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, mem.Table("users").NumRows())

	n, err = mem.Load(ctx, users, core.LoadParams{Object: "users", Mode: core.WriteOverwrite})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, mem.Table("users").NumRows())
}

func TestMemory_AppendColumnMismatch(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Connect(ctx))

	_, err := mem.Load(ctx, usersDataset(t), core.LoadParams{Object: "users"})
	require.NoError(t, err)

	other, err := core.NewDataset([]string{"sku"}, []core.Row{{"sku": "x1"}})
	require.NoError(t, err)
	_, err = mem.Load(ctx, other, core.LoadParams{Object: "users", Mode: core.WriteAppend})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindLoad))
}

func TestMemory_DisconnectBlocksFurtherOps(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Seed("users", usersDataset(t))
	require.NoError(t, mem.Connect(ctx))
	require.NoError(t, mem.Disconnect())

	_, err := mem.Extract(ctx, core.ExtractParams{Object: "users"})
	require.Error(t, err)
	_, err = mem.Load(ctx, usersDataset(t), core.LoadParams{Object: "users"})
	require.Error(t, err)

	// Reconnecting restores access; disconnect twice is harmless.
	require.NoError(t, mem.Disconnect())
	require.NoError(t, mem.Connect(ctx))
	_, err = mem.Extract(ctx, core.ExtractParams{Object: "users"})
	assert.NoError(t, err)
}
