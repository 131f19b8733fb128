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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/markovalabs/flowline/core"
)

// ColumnarConfig configures a Columnar connector.
type ColumnarConfig struct {
	// Dir is the directory holding the Parquet files. Created on
	// Connect if missing.
	Dir string
	// FileName, when set, is the file used whenever extract or load
	// parameters leave the object empty.
	FileName string
	// Compression selects the Parquet codec; the default is Snappy.
	Compression compress.Compression
}

func (c ColumnarConfig) withDefaults() ColumnarConfig {
	if c.Compression == 0 {
		c.Compression = compress.Codecs.Snappy
	}
	return c
}

// Columnar reads and writes Parquet files under a directory. The
// object in extract and load parameters names the file, falling back
// to the configured FileName when empty; a missing extension defaults
// to ".parquet". Append mode reads the existing
// file, concatenates, and rewrites it, since Parquet files cannot be
// appended to in place.
type Columnar struct {
	cfg       ColumnarConfig
	connected bool
}

// NewColumnar creates a Parquet file connector.
func NewColumnar(cfg ColumnarConfig) (*Columnar, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, core.Errorf(core.KindValidation, "columnar", "directory is required")
	}
	return &Columnar{cfg: cfg}, nil
}

func (c *Columnar) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.KindConnection, "columnar_connect", err)
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return core.WrapError(core.KindConnection, "columnar_connect", err)
	}
	c.connected = true
	return nil
}

func (c *Columnar) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	if !c.connected {
		return nil, core.Errorf(core.KindExtraction, "columnar_extract", "not connected")
	}
	object := params.Object
	if object == "" {
		object = c.cfg.FileName
	}
	if object == "" {
		return nil, core.Errorf(core.KindValidation, "columnar_extract", "object is required")
	}
	if params.Query != "" {
		return nil, core.Errorf(core.KindValidation, "columnar_extract", "queries are not supported for parquet files")
	}
	return c.readFile(ctx, c.path(object), params.Columns)
}

func (c *Columnar) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	if !c.connected {
		return 0, core.Errorf(core.KindLoad, "columnar_load", "not connected")
	}
	object := params.Object
	if object == "" {
		object = c.cfg.FileName
	}
	if object == "" {
		return 0, core.Errorf(core.KindValidation, "columnar_load", "object is required")
	}
	path := c.path(object)

	out := ds
	if params.Mode == core.WriteAppend {
		if _, err := os.Stat(path); err == nil {
			existing, err := c.readFile(ctx, path, nil)
			if err != nil {
				return 0, core.WrapError(core.KindLoad, "columnar_load", err)
			}
			merged, err := appendDatasets(existing, ds)
			if err != nil {
				return 0, core.WrapError(core.KindLoad, "columnar_load", err)
			}
			out = merged
		}
	}

	if err := c.writeFile(path, out); err != nil {
		return 0, err
	}
	return ds.NumRows(), nil
}

func (c *Columnar) Disconnect() error {
	c.connected = false
	return nil
}

func (c *Columnar) path(object string) string {
	if filepath.Ext(object) == "" {
		object += ".parquet"
	}
	return filepath.Join(c.cfg.Dir, object)
}

func (c *Columnar) readFile(ctx context.Context, path string, columns []string) (*core.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}
	schema, err := reader.Schema()
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}

	var indices []int
	names := make([]string, 0, len(schema.Fields()))
	if len(columns) > 0 {
		for _, want := range columns {
			found := -1
			for i, field := range schema.Fields() {
				if field.Name == want {
					found = i
					break
				}
			}
			if found < 0 {
				return nil, core.Errorf(core.KindExtraction, "columnar_extract", "column %q not in file schema", want)
			}
			indices = append(indices, found)
		}
		names = append(names, columns...)
	} else {
		for _, field := range schema.Fields() {
			names = append(names, field.Name)
		}
	}

	rr, err := reader.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}
	defer rr.Release()

	b := core.NewBuilder(names)
	for {
		rec, err := rr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
		}
		if rec == nil || rec.NumRows() == 0 {
			break
		}
		sch := rec.Schema()
		for pos := 0; pos < int(rec.NumRows()); pos++ {
			row := make(core.Row, int(rec.NumCols()))
			for i := 0; i < int(rec.NumCols()); i++ {
				row[sch.Field(i).Name] = arrowValue(rec.Column(i), pos)
			}
			b.Append(row)
		}
	}

	ds, err := b.Build()
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "columnar_extract", err)
	}
	return ds, nil
}

func (c *Columnar) writeFile(path string, ds *core.Dataset) error {
	columns := ds.Columns()
	var sample core.Row
	if ds.NumRows() > 0 {
		sample = ds.Row(0)
	}

	fields := make([]arrow.Field, len(columns))
	for i, name := range columns {
		fields[i] = arrow.Field{Name: name, Type: arrowTypeOf(sample[name]), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	f, err := os.Create(path)
	if err != nil {
		return core.WrapError(core.KindLoad, "columnar_load", err)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(c.cfg.Compression))
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return core.WrapError(core.KindLoad, "columnar_load", err)
	}

	if ds.NumRows() > 0 {
		rec, err := buildArrowRecord(schema, columns, ds)
		if err != nil {
			writer.Close()
			return err
		}
		werr := writer.Write(rec)
		rec.Release()
		if werr != nil {
			writer.Close()
			return core.WrapError(core.KindLoad, "columnar_load", werr)
		}
	}

	// pqarrow's Close also closes the underlying file.
	if err := writer.Close(); err != nil {
		return core.WrapError(core.KindLoad, "columnar_load", err)
	}
	return nil
}

func buildArrowRecord(schema *arrow.Schema, columns []string, ds *core.Dataset) (arrow.Record, error) {
	alloc := memory.NewGoAllocator()
	builders := make([]array.Builder, len(columns))
	for i, field := range schema.Fields() {
		builders[i] = array.NewBuilder(alloc, field.Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for _, row := range ds.Rows() {
		for i, name := range columns {
			if err := appendArrowValue(builders[i], row[name], name); err != nil {
				return nil, err
			}
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
	}
	rec := array.NewRecord(schema, arrays, int64(ds.NumRows()))
	for _, a := range arrays {
		a.Release()
	}
	return rec, nil
}

// arrowTypeOf maps a sample value to the Arrow type used for its
// column. Integers widen to int64; a nil sample falls back to string.
func arrowTypeOf(v interface{}) arrow.DataType {
	switch v.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int, int8, int16, int32, int64:
		return arrow.PrimitiveTypes.Int64
	case float32, float64:
		return arrow.PrimitiveTypes.Float64
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

func appendArrowValue(builder array.Builder, v interface{}, column string) error {
	if v == nil {
		builder.AppendNull()
		return nil
	}
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if val, ok := v.(bool); ok {
			b.Append(val)
			return nil
		}
	case *array.Int64Builder:
		switch val := v.(type) {
		case int:
			b.Append(int64(val))
			return nil
		case int8:
			b.Append(int64(val))
			return nil
		case int16:
			b.Append(int64(val))
			return nil
		case int32:
			b.Append(int64(val))
			return nil
		case int64:
			b.Append(val)
			return nil
		}
	case *array.Float64Builder:
		switch val := v.(type) {
		case float32:
			b.Append(float64(val))
			return nil
		case float64:
			b.Append(val)
			return nil
		}
	case *array.TimestampBuilder:
		if val, ok := v.(time.Time); ok {
			b.Append(arrow.Timestamp(val.UnixMicro()))
			return nil
		}
	case *array.StringBuilder:
		if val, ok := v.(string); ok {
			b.Append(val)
		} else {
			b.Append(stringify(v))
		}
		return nil
	}
	return core.Errorf(core.KindLoad, "columnar_load", "value %v does not fit column %q", v, column)
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func arrowValue(col arrow.Array, pos int) interface{} {
	if col.IsNull(pos) {
		return nil
	}
	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(pos)
	case *array.Int8:
		return int64(arr.Value(pos))
	case *array.Int16:
		return int64(arr.Value(pos))
	case *array.Int32:
		return int64(arr.Value(pos))
	case *array.Int64:
		return arr.Value(pos)
	case *array.Uint8:
		return int64(arr.Value(pos))
	case *array.Uint16:
		return int64(arr.Value(pos))
	case *array.Uint32:
		return int64(arr.Value(pos))
	case *array.Uint64:
		return int64(arr.Value(pos))
	case *array.Float32:
		return float64(arr.Value(pos))
	case *array.Float64:
		return arr.Value(pos)
	case *array.String:
		return arr.Value(pos)
	case *array.Binary:
		return string(arr.Value(pos))
	case *array.Timestamp:
		return arr.Value(pos).ToTime(arrow.Microsecond)
	default:
		return nil
	}
}
