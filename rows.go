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
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Row is one decoded result row. Values are positional and typed; Scan
// converts them into Go destinations.
type Row struct {
	schema Schema
	values []Value
}

// Schema returns the result schema the row was decoded against.
func (r *Row) Schema() Schema { return r.schema }

// Values returns the row's values in column order.
func (r *Row) Values() []Value { return r.values }

// Value returns the value of column i.
func (r *Row) Value(i int) Value { return r.values[i] }

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.values) }

// Scan copies the row's columns into dest, one destination per column.
// Supported destinations are *string, *bool, *int64, *uint64, *float64,
// *[]byte, *time.Time, **big.Int, *Value and *any. A Null column scanned
// into anything but *Value or *any yields a DecodeError.
func (r *Row) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return decodeErrorf("scan destinations", "",
			bindingErrorf("expected %d destinations, got %d", len(r.values), len(dest)))
	}
	for i, d := range dest {
		if err := scanValue(r.values[i], d); err != nil {
			return err
		}
	}
	return nil
}

func scanValue(v Value, dest any) error {
	switch d := dest.(type) {
	case *Value:
		*d = v
		return nil
	case *any:
		*d = v
		return nil
	}

	switch d := dest.(type) {
	case *string:
		switch v := v.(type) {
		case String:
			*d = string(v)
			return nil
		case Variant:
			*d = string(v)
			return nil
		case Interval:
			*d = string(v)
			return nil
		default:
			*d = v.String()
			return nil
		}
	case *bool:
		if v, ok := v.(Bool); ok {
			*d = bool(v)
			return nil
		}
	case *int64:
		switch v := v.(type) {
		case Int64:
			*d = int64(v)
			return nil
		case UInt64:
			if uint64(v) <= math.MaxInt64 {
				*d = int64(v)
				return nil
			}
		}
	case *uint64:
		switch v := v.(type) {
		case UInt64:
			*d = uint64(v)
			return nil
		case Int64:
			if v >= 0 {
				*d = uint64(v)
				return nil
			}
		}
	case *float64:
		if v, ok := v.(Float64); ok {
			*d = float64(v)
			return nil
		}
	case *[]byte:
		if v, ok := v.(Binary); ok {
			*d = []byte(v)
			return nil
		}
	case *time.Time:
		switch v := v.(type) {
		case Timestamp:
			*d = v.Time
			return nil
		case Date:
			*d = v.Time()
			return nil
		}
	case **big.Int:
		if v, ok := v.(Decimal); ok {
			*d = new(big.Int).Set(v.Unscaled)
			return nil
		}
	}
	return decodeErrorf("scannable destination", v.String(),
		bindingErrorf("cannot scan %T into %T", v, dest))
}

// RowScanner is implemented by types that populate themselves from a row.
type RowScanner interface {
	ScanRow(row *Row) error
}

// RowMarshaler is implemented by types that render themselves as a row of
// named values, for parameter binding and load serialization.
type RowMarshaler interface {
	FieldNames() []string
	Values() []Value
}

// RowIterator walks a query result page by page. Pages are fetched lazily
// and strictly in order from the node that ran the query; the iterator never
// buffers more than one page.
//
// Close must be called once iteration ends. Closing releases the
// server-side result handle; it is idempotent, and an exhausted iterator
// has already released the handle by the time Next returns io.EOF.
type RowIterator struct {
	conn    *Connection
	queryID string
	schema  Schema
	loc     *time.Location

	mu        sync.Mutex
	buf       []*Row
	nextURI   string
	finalURI  string
	progress  Progress
	finished  bool
	closed    bool
	finalized bool
}

func newRowIterator(c *Connection, resp *queryResponse) (*RowIterator, error) {
	schema := make(Schema, 0, len(resp.Schema))
	for _, f := range resp.Schema {
		typ, err := ParseDataType(f.Type)
		if err != nil {
			return nil, err
		}
		schema = append(schema, &Field{Name: f.Name, Type: typ})
	}

	loc := time.UTC
	if tz := c.sessionSnapshot().timezone(); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, decodeErrorf("timezone", tz, err)
		}
		loc = parsed
	}

	iter := &RowIterator{
		conn:    c,
		queryID: resp.ID,
		schema:  schema,
		loc:     loc,
	}
	if err := iter.ingest(resp); err != nil {
		return nil, err
	}
	return iter, nil
}

// QueryID returns the server-assigned id of the query behind this iterator.
func (it *RowIterator) QueryID() string { return it.queryID }

// Schema returns the result schema.
func (it *RowIterator) Schema() Schema { return it.schema }

// Progress returns the write-side progress reported so far. It is only
// meaningful for statements that write, such as an INSERT from a stage.
func (it *RowIterator) Progress() Progress {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.progress
}

// ingest decodes one response page into the row buffer and records the
// continuation URIs. Caller holds it.mu or has exclusive access.
func (it *RowIterator) ingest(resp *queryResponse) error {
	var rows []*Row
	var err error
	if resp.ArrowData != "" {
		rows, err = decodeArrowRows(resp.ArrowData, it.schema, it.loc)
	} else {
		rows, err = it.decodeJSONRows(resp.Data)
	}
	if err != nil {
		return err
	}
	it.buf = append(it.buf, rows...)
	it.nextURI = resp.NextURI
	if resp.FinalURI != "" {
		it.finalURI = resp.FinalURI
	}
	it.progress.update(resp.Stats)
	return nil
}

func (it *RowIterator) decodeJSONRows(data [][]*string) ([]*Row, error) {
	rows := make([]*Row, 0, len(data))
	for _, raw := range data {
		if len(raw) != len(it.schema) {
			return nil, decodeErrorf("row matching schema", "",
				bindingErrorf("row has %d cells, schema has %d fields", len(raw), len(it.schema)))
		}
		values := make([]Value, len(raw))
		for i, cell := range raw {
			v, err := DecodeValue(cell, it.schema[i].Type, it.loc)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		rows = append(rows, &Row{schema: it.schema, values: values})
	}
	return rows, nil
}

// Next returns the next row. Continuation pages are fetched on demand, in
// order. At the end of the result Next finalizes the server-side handle and
// returns io.EOF; after Close it returns ErrClosed.
func (it *RowIterator) Next(ctx context.Context) (*Row, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.nextLocked(ctx)
}

func (it *RowIterator) nextLocked(ctx context.Context) (*Row, error) {
	for {
		if it.closed {
			return nil, ErrClosed
		}
		if len(it.buf) > 0 {
			row := it.buf[0]
			it.buf = it.buf[1:]
			return row, nil
		}
		if it.finished {
			return nil, io.EOF
		}
		if it.nextURI == "" {
			it.finished = true
			it.finalizeLocked()
			return nil, io.EOF
		}
		resp, err := it.conn.fetchPage(ctx, it.queryID, it.nextURI)
		if err != nil {
			return nil, err
		}
		if err := it.ingest(resp); err != nil {
			return nil, err
		}
	}
}

// NextN returns up to n rows. It returns fewer only at the end of the
// result, and io.EOF only when no rows remain at all.
func (it *RowIterator) NextN(ctx context.Context, n int) ([]*Row, error) {
	rows := make([]*Row, 0, n)
	it.mu.Lock()
	defer it.mu.Unlock()
	for len(rows) < n {
		row, err := it.nextLocked(ctx)
		if err == io.EOF {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Drain consumes the rest of the result, discarding rows. It is how Exec
// waits for a statement to finish while keeping progress accounting.
func (it *RowIterator) Drain(ctx context.Context) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	for {
		_, err := it.nextLocked(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		it.buf = it.buf[:0]
	}
}

// Close releases the iterator and its server-side result handle. Closing an
// already closed or exhausted iterator is a no-op.
func (it *RowIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	it.buf = nil
	it.finalizeLocked()
	return nil
}

// finalizeLocked tells the node the handle is done and unregisters it from
// the connection. Safe to call more than once; only the first call acts.
func (it *RowIterator) finalizeLocked() {
	if it.finalized {
		return
	}
	it.finalized = true
	it.conn.releaseHandle(it.queryID)

	if it.finalURI == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := it.conn.endQuery(ctx, it.queryID, "final"); err != nil {
		// The handle may have already expired server-side.
		if _, ok := err.(*QueryNotFoundError); !ok {
			it.conn.log.Warn("finalize query failed",
				zap.String("query_id", it.queryID), zap.Error(err))
		}
	}
}
