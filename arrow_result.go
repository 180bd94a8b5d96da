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
	"math/big"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// decodeArrowRows converts a base64 Arrow IPC result page into rows carrying
// the same Values the JSON row encoding would produce. Numeric, temporal,
// and decimal columns travel as native Arrow types; container and variant
// columns travel as utf8 text and go through the text decoder.
func decodeArrowRows(data string, schema Schema, loc *time.Location) ([]*Row, error) {
	batches, err := decodeArrowBatches([]byte(data))
	if err != nil {
		return nil, decodeErrorf("arrow result page", snippet(data), err)
	}
	defer func() {
		for _, batch := range batches {
			batch.Release()
		}
	}()

	var rows []*Row
	for _, batch := range batches {
		if int(batch.NumCols()) != len(schema) {
			return nil, decodeErrorf("arrow batch matching schema", "",
				bindingErrorf("batch has %d columns, schema has %d fields", batch.NumCols(), len(schema)))
		}
		for i := 0; i < int(batch.NumRows()); i++ {
			values := make([]Value, len(schema))
			for j, field := range schema {
				v, err := arrowCell(batch.Column(j), i, field.Type, loc)
				if err != nil {
					return nil, err
				}
				values[j] = v
			}
			rows = append(rows, &Row{schema: schema, values: values})
		}
	}
	return rows, nil
}

func arrowCell(col arrow.Array, i int, typ *DataType, loc *time.Location) (Value, error) {
	if col.IsNull(i) {
		// Same nullability rules as a JSON null cell.
		return DecodeValue(nil, typ, loc)
	}

	effective := typ
	if typ.Kind == KindNullable {
		effective = typ.Elem()
	}

	switch col := col.(type) {
	case *array.Boolean:
		return Bool(col.Value(i)), nil
	case *array.Int8:
		return Int64(col.Value(i)), nil
	case *array.Int16:
		return Int64(col.Value(i)), nil
	case *array.Int32:
		return Int64(col.Value(i)), nil
	case *array.Int64:
		return Int64(col.Value(i)), nil
	case *array.Uint8:
		return UInt64(col.Value(i)), nil
	case *array.Uint16:
		return UInt64(col.Value(i)), nil
	case *array.Uint32:
		return UInt64(col.Value(i)), nil
	case *array.Uint64:
		return UInt64(col.Value(i)), nil
	case *array.Float32:
		return Float64(col.Value(i)), nil
	case *array.Float64:
		return Float64(col.Value(i)), nil
	case *array.Binary:
		return Binary(col.Value(i)), nil
	case *array.Date32:
		return Date(col.Value(i)), nil
	case *array.Timestamp:
		unit := col.DataType().(*arrow.TimestampType).Unit
		return Timestamp{Time: col.Value(i).ToTime(unit).In(loc)}, nil
	case *array.Decimal128:
		precision, scale := effective.Precision, effective.Scale
		if dt, ok := col.DataType().(*arrow.Decimal128Type); ok {
			precision, scale = uint8(dt.Precision), uint8(dt.Scale)
		}
		unscaled := new(big.Int).Set(col.Value(i).BigInt())
		return Decimal{Precision: precision, Scale: scale, Unscaled: unscaled}, nil
	case *array.String:
		// Containers, variants, and anything else shipped as text decode
		// exactly like a JSON cell.
		cell := col.Value(i)
		return DecodeValue(&cell, typ, loc)
	}
	return nil, decodeErrorf(effective.String(), col.String(),
		bindingErrorf("unsupported arrow column type %s", col.DataType()))
}
