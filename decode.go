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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// valueDecoder turns wire cells into typed values. It is pure: no I/O, no
// mutable state beyond the session timezone used for timestamps.
type valueDecoder struct {
	loc *time.Location
}

func newValueDecoder(loc *time.Location) *valueDecoder {
	if loc == nil {
		loc = time.UTC
	}
	return &valueDecoder{loc: loc}
}

// DecodeValue decodes one wire cell as the declared column type. A nil cell
// is the wire encoding of NULL and is only legal for nullable columns.
func DecodeValue(cell *string, typ *DataType, loc *time.Location) (Value, error) {
	return newValueDecoder(loc).decode(cell, typ)
}

func (d *valueDecoder) decode(cell *string, typ *DataType) (Value, error) {
	if cell == nil {
		if typ.NullableKind() {
			return Null{}, nil
		}
		return nil, decodeErrorf(typ.String(), "<null>", fmt.Errorf("NULL value for non-nullable field"))
	}
	return d.decodeText(*cell, typ)
}

// decodeText decodes a top-level cell. Scalars arrive unquoted; container
// cells carry the nested rendering and go through the cursor reader.
func (d *valueDecoder) decodeText(raw string, typ *DataType) (Value, error) {
	switch typ.Kind {
	case KindNull:
		return Null{}, nil
	case KindBoolean:
		return decodeBool(raw, typ)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		v, err := strconv.ParseInt(raw, 10, intBits(typ.Kind))
		if err != nil {
			return nil, decodeErrorf(typ.String(), raw, err)
		}
		return Int64(v), nil
	case KindUInt8, KindUInt16, KindUInt32, KindUInt64:
		v, err := strconv.ParseUint(raw, 10, intBits(typ.Kind))
		if err != nil {
			return nil, decodeErrorf(typ.String(), raw, err)
		}
		return UInt64(v), nil
	case KindFloat32, KindFloat64:
		return decodeFloat(raw, typ)
	case KindDecimal:
		v, err := ParseDecimal(raw, typ.Precision, typ.Scale)
		if err != nil {
			return nil, decodeErrorf(typ.String(), raw, err)
		}
		return v, nil
	case KindString:
		return String(raw), nil
	case KindBinary:
		data, err := hex.DecodeString(raw)
		if err != nil {
			return nil, decodeErrorf(typ.String(), raw, err)
		}
		return Binary(data), nil
	case KindDate:
		return d.decodeDate(raw, typ)
	case KindTimestamp:
		return d.decodeTimestamp(raw, typ)
	case KindInterval:
		return Interval(raw), nil
	case KindVariant:
		return Variant(raw), nil
	case KindArray, KindMap, KindTuple:
		cur := &cursor{s: raw}
		v, err := d.readField(cur, typ)
		if err != nil {
			return nil, err
		}
		cur.skipSpaces()
		if !cur.eof() {
			return nil, decodeErrorf(typ.String(), raw, fmt.Errorf("trailing input at offset %d", cur.pos))
		}
		return v, nil
	case KindNullable:
		// A raw NULL token only reads as NULL for non-string inner types;
		// the string "NULL" is a legal string value.
		if typ.Elem().Kind == KindString {
			return String(raw), nil
		}
		if raw == nullToken {
			return Null{}, nil
		}
		return d.decodeText(raw, typ.Elem())
	default:
		return nil, decodeErrorf(typ.String(), raw, fmt.Errorf("unsupported type"))
	}
}

const nullToken = "NULL"

func intBits(k TypeKind) int {
	switch k {
	case KindInt8, KindUInt8:
		return 8
	case KindInt16, KindUInt16:
		return 16
	case KindInt32, KindUInt32:
		return 32
	default:
		return 64
	}
}

func decodeBool(raw string, typ *DataType) (Value, error) {
	switch raw {
	case "1", "true":
		return Bool(true), nil
	case "0", "false":
		return Bool(false), nil
	default:
		return nil, decodeErrorf(typ.String(), raw, fmt.Errorf("not a boolean"))
	}
}

func decodeFloat(raw string, typ *DataType) (Value, error) {
	bits := 64
	if typ.Kind == KindFloat32 {
		bits = 32
	}
	switch strings.ToLower(raw) {
	case "inf", "infinity":
		raw = "+Inf"
	case "-inf", "-infinity":
		raw = "-Inf"
	}
	v, err := strconv.ParseFloat(raw, bits)
	if err != nil {
		return nil, decodeErrorf(typ.String(), raw, err)
	}
	return Float64(v), nil
}

func (d *valueDecoder) decodeDate(raw string, typ *DataType) (Value, error) {
	t, err := time.ParseInLocation(dateFormat, raw, time.UTC)
	if err != nil {
		return nil, decodeErrorf(typ.String(), raw, err)
	}
	return Date(t.Unix() / 86400), nil
}

func (d *valueDecoder) decodeTimestamp(raw string, typ *DataType) (Value, error) {
	t, err := time.ParseInLocation(timestampFormat, raw, d.loc)
	if err != nil {
		return nil, decodeErrorf(typ.String(), raw, err)
	}
	return Timestamp{Time: t}, nil
}

// readField reads one nested value from the cursor. Inside containers,
// text-like values are single-quoted and scalars are bare tokens.
func (d *valueDecoder) readField(cur *cursor, typ *DataType) (Value, error) {
	switch typ.Kind {
	case KindNull:
		if !cur.ignoreToken(nullToken) {
			return nil, decodeErrorf(typ.String(), cur.rest(), fmt.Errorf("expected NULL"))
		}
		return Null{}, nil
	case KindNullable:
		if cur.ignoreToken(nullToken) {
			return Null{}, nil
		}
		return d.readField(cur, typ.Elem())
	case KindBoolean, KindInt8, KindInt16, KindInt32, KindInt64,
		KindUInt8, KindUInt16, KindUInt32, KindUInt64,
		KindFloat32, KindFloat64, KindDecimal, KindBinary:
		return d.decodeText(cur.readBare(), typ)
	case KindString, KindVariant, KindInterval, KindDate, KindTimestamp:
		quoted, err := cur.readQuoted()
		if err != nil {
			return nil, decodeErrorf(typ.String(), cur.rest(), err)
		}
		switch typ.Kind {
		case KindString:
			return String(quoted), nil
		case KindVariant:
			return Variant(quoted), nil
		case KindInterval:
			return Interval(quoted), nil
		case KindDate:
			return d.decodeDate(quoted, typ)
		default:
			return d.decodeTimestamp(quoted, typ)
		}
	case KindArray:
		return d.readArray(cur, typ)
	case KindMap:
		return d.readMap(cur, typ)
	case KindTuple:
		return d.readTuple(cur, typ)
	default:
		return nil, decodeErrorf(typ.String(), cur.rest(), fmt.Errorf("unsupported nested type"))
	}
}

func (d *valueDecoder) readArray(cur *cursor, typ *DataType) (Value, error) {
	if err := cur.mustByte('['); err != nil {
		return nil, decodeErrorf(typ.String(), cur.rest(), err)
	}
	var vals Array
	for i := 0; ; i++ {
		cur.skipSpaces()
		if cur.ignoreByte(']') {
			break
		}
		if i != 0 {
			if err := cur.mustByte(','); err != nil {
				return nil, decodeErrorf(typ.String(), cur.rest(), err)
			}
			cur.skipSpaces()
		}
		v, err := d.readField(cur, typ.Elem())
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if vals == nil {
		vals = Array{}
	}
	return vals, nil
}

func (d *valueDecoder) readMap(cur *cursor, typ *DataType) (Value, error) {
	if err := cur.mustByte('{'); err != nil {
		return nil, decodeErrorf(typ.String(), cur.rest(), err)
	}
	keyType, valType := typ.Inner[0], typ.Inner[1]
	var kvs Map
	for i := 0; ; i++ {
		cur.skipSpaces()
		if cur.ignoreByte('}') {
			break
		}
		if i != 0 {
			if err := cur.mustByte(','); err != nil {
				return nil, decodeErrorf(typ.String(), cur.rest(), err)
			}
			cur.skipSpaces()
		}
		key, err := d.readField(cur, keyType)
		if err != nil {
			return nil, err
		}
		cur.skipSpaces()
		if err := cur.mustByte(':'); err != nil {
			return nil, decodeErrorf(typ.String(), cur.rest(), err)
		}
		cur.skipSpaces()
		val, err := d.readField(cur, valType)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, KeyValue{Key: key, Value: val})
	}
	if kvs == nil {
		kvs = Map{}
	}
	return kvs, nil
}

func (d *valueDecoder) readTuple(cur *cursor, typ *DataType) (Value, error) {
	if err := cur.mustByte('('); err != nil {
		return nil, decodeErrorf(typ.String(), cur.rest(), err)
	}
	vals := make(Tuple, 0, len(typ.Inner))
	for i, elemType := range typ.Inner {
		cur.skipSpaces()
		if i != 0 {
			if err := cur.mustByte(','); err != nil {
				return nil, decodeErrorf(typ.String(), cur.rest(), err)
			}
			cur.skipSpaces()
		}
		v, err := d.readField(cur, elemType)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	cur.skipSpaces()
	if err := cur.mustByte(')'); err != nil {
		return nil, decodeErrorf(typ.String(), cur.rest(), err)
	}
	return vals, nil
}

// cursor walks the textual rendering of a nested value.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) eof() bool { return c.pos >= len(c.s) }

func (c *cursor) rest() string { return c.s[c.pos:] }

func (c *cursor) peek() (byte, bool) {
	if c.eof() {
		return 0, false
	}
	return c.s[c.pos], true
}

func (c *cursor) ignoreByte(b byte) bool {
	if v, ok := c.peek(); ok && v == b {
		c.pos++
		return true
	}
	return false
}

func (c *cursor) mustByte(b byte) error {
	if c.ignoreByte(b) {
		return nil
	}
	return fmt.Errorf("expected %q at offset %d", string(b), c.pos)
}

func (c *cursor) ignoreToken(token string) bool {
	if strings.HasPrefix(c.s[c.pos:], token) {
		c.pos += len(token)
		return true
	}
	return false
}

func (c *cursor) skipSpaces() {
	for {
		v, ok := c.peek()
		if !ok || (v != ' ' && v != '\t' && v != '\n' && v != '\r') {
			return
		}
		c.pos++
	}
}

// readBare reads an unquoted token up to a container delimiter.
func (c *cursor) readBare() string {
	start := c.pos
	for !c.eof() {
		switch c.s[c.pos] {
		case ',', ']', '}', ')', ':', ' ':
			return c.s[start:c.pos]
		}
		c.pos++
	}
	return c.s[start:]
}

// readQuoted reads a single-quoted text value. A quote is escaped either by
// doubling or by a backslash.
func (c *cursor) readQuoted() (string, error) {
	if err := c.mustByte('\''); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		v, ok := c.peek()
		if !ok {
			return "", fmt.Errorf("unterminated quoted value")
		}
		c.pos++
		switch v {
		case '\'':
			if next, ok := c.peek(); ok && next == '\'' {
				c.pos++
				b.WriteByte('\'')
				continue
			}
			return b.String(), nil
		case '\\':
			next, ok := c.peek()
			if !ok {
				return "", fmt.Errorf("unterminated escape in quoted value")
			}
			c.pos++
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			default:
				b.WriteByte(next)
			}
		default:
			b.WriteByte(v)
		}
	}
}
