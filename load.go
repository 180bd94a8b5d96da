/*
 * Copyright 2024 CometDB, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cometdb

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadStrategy selects how bulk data reaches the server.
type LoadStrategy int

const (
	// LoadStage uploads the payload to a server-side staging area, then
	// runs the INSERT with a stage attachment referencing it.
	LoadStage LoadStrategy = iota
	// LoadStreaming uploads the payload and the INSERT in a single
	// streaming request, bypassing the staging area.
	LoadStreaming
)

// LoadOptions configures a bulk load. The zero value picks the stage
// strategy with the default text format and a generated stage name.
type LoadOptions struct {
	Strategy  LoadStrategy
	Format    LoadFormatOptions
	StageName string
}

func (o *LoadOptions) normalized() *LoadOptions {
	out := LoadOptions{}
	if o != nil {
		out = *o
	}
	if out.Format.FieldDelimiter == 0 {
		out.Format = DefaultLoadFormat()
	}
	if out.StageName == "" {
		out.StageName = "~/cometdb-load/" + uuid.NewString()
	}
	return &out
}

// StreamLoad serializes rows in the configured text format and loads them
// through sql, an INSERT statement with a source placeholder understood by
// the server. Both strategies produce the same Progress for the same rows.
func (c *Connection) StreamLoad(ctx context.Context, sql string, rows [][]any, opts *LoadOptions) (*Progress, error) {
	opts = opts.normalized()
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	cw := &countingWriter{w: pw}
	var progress *Progress
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, row := range rows {
			values := make([]Value, len(row))
			for i, cell := range row {
				v, err := asValue(cell)
				if err != nil {
					pw.CloseWithError(err)
					return err
				}
				values[i] = v
			}
			if err := opts.Format.writeRow(cw, values); err != nil {
				return err
			}
		}
		return pw.Close()
	})
	g.Go(func() error {
		p, err := c.loadReader(gctx, sql, pr, opts)
		if err != nil {
			// Unblock the serializer if the upload died first.
			pr.CloseWithError(err)
			return err
		}
		progress = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if *progress != cw.progress {
		c.log.Warn("server-acknowledged load progress differs from serialized payload",
			zap.Uint64("rows_sent", cw.progress.RowsWritten),
			zap.Uint64("bytes_sent", cw.progress.BytesWritten),
			zap.Uint64("rows_acked", progress.RowsWritten),
			zap.Uint64("bytes_acked", progress.BytesWritten))
	}
	return progress, nil
}

// LoadFile loads a file from the local filesystem through sql. The file
// must already be in the configured text format.
func (c *Connection) LoadFile(ctx context.Context, sql string, path string, opts *LoadOptions) (*Progress, error) {
	opts = opts.normalized()
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer sneakyBodyClose(f)
	return c.loadReader(ctx, sql, f, opts)
}

func (c *Connection) loadReader(ctx context.Context, sql string, data io.Reader, opts *LoadOptions) (*Progress, error) {
	switch opts.Strategy {
	case LoadStreaming:
		resp, err := c.streamingLoad(ctx, sql, data)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lastQueryID = resp.ID
		c.mu.Unlock()
		return &Progress{
			RowsWritten:  resp.Stats.Rows,
			BytesWritten: resp.Stats.Bytes,
		}, nil
	default:
		return c.loadViaStage(ctx, sql, data, opts)
	}
}

func (c *Connection) loadViaStage(ctx context.Context, sql string, data io.Reader, opts *LoadOptions) (*Progress, error) {
	if err := c.uploadToStage(ctx, opts.StageName, data); err != nil {
		return nil, err
	}

	attachment := &stageAttachmentConfig{
		Location:          opts.StageName,
		FileFormatOptions: opts.Format.fileFormatOptions(),
	}
	resp, err := c.submitQuery(ctx, sql, attachment)
	if err != nil {
		return nil, err
	}
	iter, err := newRowIterator(c, resp)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if err := iter.Drain(ctx); err != nil {
		return nil, err
	}
	progress := iter.Progress()
	return &progress, nil
}

// asValue lifts a Go value into the driver's Value space for loading.
func asValue(arg any) (Value, error) {
	switch v := arg.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int64(v), nil
	case int8:
		return Int64(v), nil
	case int16:
		return Int64(v), nil
	case int32:
		return Int64(v), nil
	case int64:
		return Int64(v), nil
	case uint:
		return UInt64(v), nil
	case uint8:
		return UInt64(v), nil
	case uint16:
		return UInt64(v), nil
	case uint32:
		return UInt64(v), nil
	case uint64:
		return UInt64(v), nil
	case float32:
		return Float64(v), nil
	case float64:
		return Float64(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Binary(v), nil
	case time.Time:
		return Timestamp{Time: v}, nil
	}
	return nil, bindingErrorf("unsupported load value type %T", arg)
}
