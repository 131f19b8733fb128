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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/markovalabs/flowline/core"
)

// ObjectStoreConfig configures an ObjectStore connector.
type ObjectStoreConfig struct {
	Bucket string
	Region string
	// Endpoint points at an S3-compatible service (MinIO, LocalStack).
	// Empty means AWS proper.
	Endpoint string
	// AccessKey and SecretKey, when both set, override the ambient AWS
	// credential chain. Typical with a custom Endpoint.
	AccessKey string
	SecretKey string
}

// ObjectStore reads and writes JSON-lines objects in an S3 bucket: one
// JSON document per line, one object per dataset. The Object field of
// the extract and load parameters is the S3 key.
type ObjectStore struct {
	cfg    ObjectStoreConfig
	client *s3.Client
}

// NewObjectStore creates an S3 connector.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, core.Errorf(core.KindValidation, "objectstore", "bucket is required")
	}
	return &ObjectStore{cfg: cfg}, nil
}

func (o *ObjectStore) Connect(ctx context.Context) error {
	if o.client != nil {
		return nil
	}
	loadOpts := []func(*config.LoadOptions) error{}
	if o.cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return core.WrapError(core.KindConnection, "objectstore_connect", err)
	}
	if o.cfg.AccessKey != "" && o.cfg.SecretKey != "" {
		awsCfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(o.cfg.AccessKey, o.cfg.SecretKey, ""),
		)
	}
	o.client = s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.cfg.Endpoint)
			opts.UsePathStyle = true
		}
	})
	return nil
}

func (o *ObjectStore) Extract(ctx context.Context, params core.ExtractParams) (*core.Dataset, error) {
	if o.client == nil {
		return nil, core.Errorf(core.KindExtraction, "objectstore_extract", "not connected")
	}
	if params.Object == "" {
		return nil, core.Errorf(core.KindValidation, "objectstore_extract", "object key is required")
	}
	if params.Query != "" {
		return nil, core.Errorf(core.KindValidation, "objectstore_extract", "queries are not supported for object storage")
	}

	docs, err := o.readObject(ctx, params.Object)
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

func (o *ObjectStore) Load(ctx context.Context, ds *core.Dataset, params core.LoadParams) (int, error) {
	if o.client == nil {
		return 0, core.Errorf(core.KindLoad, "objectstore_load", "not connected")
	}
	if params.Object == "" {
		return 0, core.Errorf(core.KindValidation, "objectstore_load", "object key is required")
	}

	rows := ds.Rows()
	if params.Mode == core.WriteAppend {
		existing, err := o.readObject(ctx, params.Object)
		if err != nil {
			var kerr *core.Error
			// A missing object is a fresh append target, anything else
			// is a real failure.
			if !(errors.As(err, &kerr) && isMissingKey(kerr.Err)) {
				return 0, core.WrapError(core.KindLoad, "objectstore_load", err)
			}
		} else {
			rows = append(existing, rows...)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return 0, core.WrapError(core.KindLoad, "objectstore_load", err)
		}
	}

	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(params.Object),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return 0, core.WrapError(core.KindLoad, "objectstore_load", err)
	}
	return ds.NumRows(), nil
}

func (o *ObjectStore) Disconnect() error {
	o.client = nil
	return nil
}

func (o *ObjectStore) readObject(ctx context.Context, key string) ([]core.Row, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, core.WrapError(core.KindExtraction, "objectstore_extract", err)
	}
	defer out.Body.Close()

	var docs []core.Row
	scanner := bufio.NewScanner(out.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc core.Row
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, core.WrapError(core.KindExtraction, "objectstore_extract", err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, core.WrapError(core.KindExtraction, "objectstore_extract", err)
	}
	return docs, nil
}

func isMissingKey(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}
