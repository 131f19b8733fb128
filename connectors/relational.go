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
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/markovalabs/flowline/core"
)

// RelationalConfig configures a Relational connector.
type RelationalConfig struct {
	// Driver is the database/sql driver name: "postgres" or "sqlite3".
	// Left empty it is inferred from the DSN: postgres:// and
	// postgresql:// DSNs use lib/pq, everything else is treated as a
	// SQLite file path.
	Driver string
	// DSN is the connection string (PostgreSQL URL) or SQLite file path.
	DSN string
	// MaxOpenConns caps the pool; zero keeps the database/sql default.
	MaxOpenConns int
}

func (c RelationalConfig) withDefaults() RelationalConfig {
	if c.Driver == "" {
		if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
			c.Driver = "postgres"
		} else {
			c.Driver = "sqlite3"
		}
	}
	return c
}

// Relational reads and writes tables in a SQL database. Extract runs
// either a caller-supplied query or a generated SELECT over the object
// table; Load creates the table on demand from the dataset's shape and
// inserts inside a single transaction.
type Relational struct {
	cfg RelationalConfig
	db  *sql.DB
}

// NewRelational creates a relational connector. The configuration is
// validated here; the database is not touched until Connect.
func NewRelational(cfg RelationalConfig) (*Relational, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, core.Errorf(core.KindValidation, "relational", "DSN is required")
	}
	if cfg.Driver != "postgres" && cfg.Driver != "sqlite3" {
		return nil, core.Errorf(core.KindValidation, "relational", "unsupported driver %q", cfg.Driver)
	}
	return &Relational{cfg: cfg}, nil
}

func (r *Relational) Connect(ctx context.Context) error {
	if r.db != nil {
		return nil
	}
	db, err := sql.Open(r.cfg.Driver, r.cfg.DSN)
	if err != nil {
		return core.WrapError(core.KindConnection, "relational_connect", err)
	}
	if r.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(r.cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return core.WrapError(core.KindConnection, "relational_connect", err)
	}
	r.db = db
	return nil
}

func (r *Relational) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	if r.db == nil {
		return nil, core.Errorf(core.KindExtraction, "relational_extract", "not connected")
	}

	query := params.Query
	if query == "" {
		if params.Object == "" {
			return nil, core.Errorf(core.KindValidation, "relational_extract", "object or query is required")
		}
		cols := "*"
		if len(params.Columns) > 0 {
			quoted := make([]string, len(params.Columns))
			for i, c := range params.Columns {
				quoted[i] = quoteIdent(c)
			}
			cols = strings.Join(quoted, ", ")
		}
		query = fmt.Sprintf("SELECT %s FROM %s", cols, quoteIdent(params.Object))
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "relational_extract", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "relational_extract", err)
	}

	b := core.NewBuilder(columns)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.WrapError(core.KindExtraction, "relational_extract", err)
		}
		row := make(core.Row, len(columns))
		for i, c := range columns {
			row[c] = normalizeSQLValue(values[i])
		}
		b.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.KindExtraction, "relational_extract", err)
	}

	ds, err := b.Build()
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "relational_extract", err)
	}
	// A subset projection over a generated SELECT * still needs narrowing
	// when the caller combined Query with Columns.
	if params.Query != "" && len(params.Columns) > 0 {
		return projectColumns(ds, params.Columns)
	}
	return ds, nil
}

func (r *Relational) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	if r.db == nil {
		return 0, core.Errorf(core.KindLoad, "relational_load", "not connected")
	}
	if params.Object == "" {
		return 0, core.Errorf(core.KindValidation, "relational_load", "object is required")
	}

	columns := ds.Columns()
	if err := r.ensureTable(ctx, params.Object, ds); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.WrapError(core.KindLoad, "relational_load", err)
	}
	defer tx.Rollback()

	if params.Mode == core.WriteOverwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(params.Object)); err != nil {
			return 0, core.WrapError(core.KindLoad, "relational_load", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, r.insertStatement(params.Object, columns))
	if err != nil {
		return 0, core.WrapError(core.KindLoad, "relational_load", err)
	}
	defer stmt.Close()

	count := 0
	for _, row := range ds.Rows() {
		args := make([]interface{}, len(columns))
		for i, c := range columns {
			args[i] = row[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, core.WrapError(core.KindLoad, "relational_load", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, core.WrapError(core.KindLoad, "relational_load", err)
	}
	return count, nil
}

func (r *Relational) Disconnect() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	if err != nil {
		return core.WrapError(core.KindConnection, "relational_disconnect", err)
	}
	return nil
}

// ensureTable creates the destination table if it does not exist,
// inferring column types from the first row. SQLite's type affinity
// accepts the PostgreSQL names, so one mapping covers both drivers.
func (r *Relational) ensureTable(ctx context.Context, table string, ds *core.Dataset) error {
	columns := ds.Columns()
	var sample core.Row
	if ds.NumRows() > 0 {
		sample = ds.Row(0)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " " + sqlTypeOf(sample[c])
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return core.WrapError(core.KindLoad, "relational_load", err)
	}
	return nil
}

func (r *Relational) insertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	holders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		if r.cfg.Driver == "postgres" {
			holders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			holders[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(holders, ", "))
}

func sqlTypeOf(v interface{}) string {
	switch v.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
