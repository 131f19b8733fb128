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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markovalabs/flowline/core"
)

// DocumentConfig configures a Document connector. Exactly one of URI
// and Dir must be set: a mongodb:// URI selects a MongoDB deployment,
// Dir selects a directory of JSON array files with one file per
// collection.
type DocumentConfig struct {
	URI      string
	Database string
	Dir      string
}

// Document reads and writes collections of schemaless documents.
// Collections are addressed by the Object field of the extract and
// load parameters; in file mode a missing extension defaults to
// ".json".
type Document struct {
	cfg    DocumentConfig
	client *mongo.Client
	// connected only matters in file mode; mongo mode keys off client.
	connected bool
}

// NewDocument creates a document-store connector.
func NewDocument(cfg DocumentConfig) (*Document, error) {
	switch {
	case cfg.URI != "" && cfg.Dir != "":
		return nil, core.Errorf(core.KindValidation, "document", "URI and Dir are mutually exclusive")
	case cfg.URI == "" && cfg.Dir == "":
		return nil, core.Errorf(core.KindValidation, "document", "URI or Dir is required")
	case cfg.URI != "":
		if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
			return nil, core.Errorf(core.KindValidation, "document", "unsupported URI scheme in %q", cfg.URI)
		}
		if cfg.Database == "" {
			return nil, core.Errorf(core.KindValidation, "document", "database name is required with a URI")
		}
	}
	return &Document{cfg: cfg}, nil
}

func (d *Document) fileMode() bool { return d.cfg.Dir != "" }

func (d *Document) Connect(ctx context.Context) error {
	if d.fileMode() {
		if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
			return core.WrapError(core.KindConnection, "document_connect", err)
		}
		d.connected = true
		return nil
	}
	if d.client != nil {
		return nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.cfg.URI))
	if err != nil {
		return core.WrapError(core.KindConnection, "document_connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return core.WrapError(core.KindConnection, "document_connect", err)
	}
	d.client = client
	return nil
}

func (d *Document) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	if params.Object == "" {
		return nil, core.Errorf(core.KindValidation, "document_extract", "object is required")
	}
	var (
		docs []core.Row
		err  error
	)
	if d.fileMode() {
		if !d.connected {
			return nil, core.Errorf(core.KindExtraction, "document_extract", "not connected")
		}
		if params.Query != "" {
			return nil, core.Errorf(core.KindValidation, "document_extract", "queries are not supported in file mode")
		}
		docs, err = d.readJSONFile(params.Object)
	} else {
		if d.client == nil {
			return nil, core.Errorf(core.KindExtraction, "document_extract", "not connected")
		}
		docs, err = d.findDocuments(ctx, params.Object, params.Query)
	}
	if err != nil {
		return nil, err
	}

	ds, err := datasetFromDocuments(docs, params.Object)
	if err != nil {
		return nil, err
	}
	if len(params.Columns) > 0 {
		return projectColumns(ds, params.Columns)
	}
	return ds, nil
}

func (d *Document) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	if params.Object == "" {
		return 0, core.Errorf(core.KindValidation, "document_load", "object is required")
	}
	if d.fileMode() {
		if !d.connected {
			return 0, core.Errorf(core.KindLoad, "document_load", "not connected")
		}
		return d.writeJSONFile(ds, params)
	}
	if d.client == nil {
		return 0, core.Errorf(core.KindLoad, "document_load", "not connected")
	}

	coll := d.client.Database(d.cfg.Database).Collection(params.Object)
	if params.Mode == core.WriteOverwrite {
		if err := coll.Drop(ctx); err != nil {
			return 0, core.WrapError(core.KindLoad, "document_load", err)
		}
	}
	if ds.NumRows() == 0 {
		return 0, nil
	}
	docs := make([]interface{}, 0, ds.NumRows())
	for _, row := range ds.Rows() {
		docs = append(docs, bson.M(row))
	}
	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, core.WrapError(core.KindLoad, "document_load", err)
	}
	return len(res.InsertedIDs), nil
}

func (d *Document) Disconnect() error {
	if d.fileMode() {
		d.connected = false
		return nil
	}
	if d.client == nil {
		return nil
	}
	err := d.client.Disconnect(context.Background())
	d.client = nil
	if err != nil {
		return core.WrapError(core.KindConnection, "document_disconnect", err)
	}
	return nil
}

func (d *Document) findDocuments(ctx context.Context, collection, query string) ([]core.Row, error) {
	filter := bson.M{}
	if query != "" {
		if err := bson.UnmarshalExtJSON([]byte(query), true, &filter); err != nil {
			return nil, core.WrapError(core.KindValidation, "document_extract", err)
		}
	}

	coll := d.client.Database(d.cfg.Database).Collection(collection)
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "document_extract", err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, core.WrapError(core.KindExtraction, "document_extract", err)
	}

	docs := make([]core.Row, 0, len(raw))
	for _, doc := range raw {
		row := make(core.Row, len(doc))
		for k, v := range doc {
			if k == "_id" {
				continue
			}
			row[k] = v
		}
		docs = append(docs, row)
	}
	return docs, nil
}

func (d *Document) jsonPath(object string) string {
	if filepath.Ext(object) == "" {
		object += ".json"
	}
	return filepath.Join(d.cfg.Dir, object)
}

func (d *Document) readJSONFile(object string) ([]core.Row, error) {
	data, err := os.ReadFile(d.jsonPath(object))
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "document_extract", err)
	}
	var docs []core.Row
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, core.WrapError(core.KindExtraction, "document_extract", err)
	}
	return docs, nil
}

func (d *Document) writeJSONFile(ds *core.Dataset, params core.LoadParams) (int, error) {
	docs := ds.Rows()
	path := d.jsonPath(params.Object)

	if params.Mode == core.WriteAppend {
		if _, err := os.Stat(path); err == nil {
			existing, err := d.readJSONFile(params.Object)
			if err != nil {
				return 0, core.WrapError(core.KindLoad, "document_load", err)
			}
			docs = append(existing, docs...)
		}
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return 0, core.WrapError(core.KindLoad, "document_load", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, core.WrapError(core.KindLoad, "document_load", err)
	}
	return ds.NumRows(), nil
}

// datasetFromDocuments shapes schemaless documents into a Dataset: the
// column set is the sorted union of every document's keys, and keys a
// document lacks become nil. An empty collection has no derivable
// schema and reports an extraction error.
func datasetFromDocuments(docs []core.Row, object string) (*core.Dataset, error) {
	if len(docs) == 0 {
		return nil, core.Errorf(core.KindExtraction, "document_extract", "collection %q is empty, no schema to derive", object)
	}
	set := make(map[string]struct{})
	for _, doc := range docs {
		for k := range doc {
			set[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(set))
	for k := range set {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	b := core.NewBuilder(columns)
	for _, doc := range docs {
		b.Append(doc)
	}
	ds, err := b.Build()
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "document_extract", err)
	}
	return ds, nil
}
