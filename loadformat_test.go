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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func serializeRows(t *testing.T, format LoadFormatOptions, rows ...[]Value) (string, Progress) {
	t.Helper()
	var buf bytes.Buffer
	cw := &countingWriter{w: &buf}
	for _, row := range rows {
		require.NoError(t, format.writeRow(cw, row))
	}
	return buf.String(), cw.progress
}

func TestWriteRowDefaultFormat(t *testing.T) {
	out, progress := serializeRows(t, DefaultLoadFormat(),
		[]Value{Int64(1), String("alice"), Null{}},
		[]Value{Int64(2), String("bob,jr"), Float64(1.5)},
	)
	require.Equal(t, "1,alice,\\N\n2,\"bob,jr\",1.5\n", out)
	require.Equal(t, uint64(2), progress.RowsWritten)
	require.Equal(t, uint64(len(out)), progress.BytesWritten)
}

func TestWriteRowNullSentinel(t *testing.T) {
	format := DefaultLoadFormat()
	format.NullDisplay = "NULL"

	out, _ := serializeRows(t, format,
		[]Value{Null{}, String("NULL"), String("ok")},
	)
	// The literal string equal to the sentinel is quoted, NULL itself is not.
	require.Equal(t, "NULL,\"NULL\",ok\n", out)
}

func TestWriteRowQuoteAll(t *testing.T) {
	format := DefaultLoadFormat()
	format.QuoteMode = QuoteAll

	out, _ := serializeRows(t, format,
		[]Value{Int64(1), String(`say "hi"`), Null{}},
	)
	require.Equal(t, "\"1\",\"say \"\"hi\"\"\",\\N\n", out)
}

func TestWriteRowQuoteNone(t *testing.T) {
	format := DefaultLoadFormat()
	format.QuoteMode = QuoteNone

	out, _ := serializeRows(t, format,
		[]Value{String("a,b"), String("c\nd")},
	)
	require.Equal(t, "a\\,b,c\\\nd\n", out)
}

func TestWriteRowCustomDelimiters(t *testing.T) {
	format := DefaultLoadFormat()
	format.FieldDelimiter = '\t'
	format.RecordDelimiter = ';'

	out, progress := serializeRows(t, format,
		[]Value{Int64(1), String("a,b")},
	)
	// The comma is no longer special under a tab delimiter.
	require.Equal(t, "1\ta,b;", out)
	require.Equal(t, uint64(1), progress.RowsWritten)
	require.Equal(t, uint64(len(out)), progress.BytesWritten)
}

func TestFileFormatOptionsRoundTrip(t *testing.T) {
	format := DefaultLoadFormat()
	opts := format.fileFormatOptions()
	require.Equal(t, "CSV", opts["type"])
	require.Equal(t, ",", opts["field_delimiter"])
	require.Equal(t, "\n", opts["record_delimiter"])
	require.Equal(t, `\N`, opts["null_display"])
}
