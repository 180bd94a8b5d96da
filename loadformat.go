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
	"io"
	"strings"
)

// QuoteMode controls when the serializer wraps a field in quotes.
type QuoteMode int

const (
	// QuoteMinimal quotes only fields containing the delimiter, the quote
	// character, or a record separator.
	QuoteMinimal QuoteMode = iota
	// QuoteAll quotes every non-NULL field.
	QuoteAll
	// QuoteNone never quotes; special bytes are backslash-escaped instead.
	QuoteNone
)

// LoadFormatOptions describes the delimiter-separated text format used for
// bulk loads. The zero value is not usable; start from DefaultLoadFormat.
type LoadFormatOptions struct {
	FieldDelimiter  byte
	RecordDelimiter byte
	Quote           byte
	QuoteMode       QuoteMode
	// NullDisplay is the unquoted token representing NULL. A literal field
	// equal to it is quoted so the two never collide.
	NullDisplay string
}

// DefaultLoadFormat returns the format the server assumes when a load gives
// no explicit options.
func DefaultLoadFormat() LoadFormatOptions {
	return LoadFormatOptions{
		FieldDelimiter:  ',',
		RecordDelimiter: '\n',
		Quote:           '"',
		QuoteMode:       QuoteMinimal,
		NullDisplay:     `\N`,
	}
}

// fileFormatOptions renders the format as the option map of a stage
// attachment, so the server parses the uploaded bytes the same way the
// client wrote them.
func (o LoadFormatOptions) fileFormatOptions() map[string]string {
	return map[string]string{
		"type":             "CSV",
		"field_delimiter":  string(o.FieldDelimiter),
		"record_delimiter": string(o.RecordDelimiter),
		"quote":            string(o.Quote),
		"null_display":     o.NullDisplay,
	}
}

// countingWriter tracks exactly how many rows and bytes went out, so the
// client-side Progress matches the payload byte for byte.
type countingWriter struct {
	w        io.Writer
	progress Progress
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.progress.BytesWritten += uint64(n)
	return n, err
}

// writeRow serializes one row of values followed by the record delimiter.
func (o LoadFormatOptions) writeRow(cw *countingWriter, values []Value) error {
	var buf strings.Builder
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(o.FieldDelimiter)
		}
		o.writeField(&buf, v)
	}
	buf.WriteByte(o.RecordDelimiter)
	if _, err := io.WriteString(cw, buf.String()); err != nil {
		return err
	}
	cw.progress.RowsWritten++
	return nil
}

func (o LoadFormatOptions) writeField(buf *strings.Builder, v Value) {
	if _, isNull := v.(Null); isNull {
		buf.WriteString(o.NullDisplay)
		return
	}
	text := v.String()
	switch o.QuoteMode {
	case QuoteAll:
		o.writeQuoted(buf, text)
	case QuoteNone:
		o.writeEscaped(buf, text)
	default:
		if o.needsQuoting(text) {
			o.writeQuoted(buf, text)
		} else {
			buf.WriteString(text)
		}
	}
}

func (o LoadFormatOptions) needsQuoting(text string) bool {
	if text == o.NullDisplay {
		return true
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case o.FieldDelimiter, o.RecordDelimiter, o.Quote, '\r', '\n':
			return true
		}
	}
	return false
}

func (o LoadFormatOptions) writeQuoted(buf *strings.Builder, text string) {
	buf.WriteByte(o.Quote)
	for i := 0; i < len(text); i++ {
		if text[i] == o.Quote {
			buf.WriteByte(o.Quote)
		}
		buf.WriteByte(text[i])
	}
	buf.WriteByte(o.Quote)
}

func (o LoadFormatOptions) writeEscaped(buf *strings.Builder, text string) {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case o.FieldDelimiter, o.RecordDelimiter, '\\':
			buf.WriteByte('\\')
		}
		buf.WriteByte(text[i])
	}
}
