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
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, s string) *DataType {
	t.Helper()
	typ, err := ParseDataType(s)
	require.NoError(t, err)
	return typ
}

func decodeCell(t *testing.T, cell, typeDesc string) Value {
	t.Helper()
	v, err := DecodeValue(&cell, mustType(t, typeDesc), time.UTC)
	require.NoError(t, err)
	return v
}

func TestDecodeScalars(t *testing.T) {
	require.Equal(t, Bool(true), decodeCell(t, "1", "Boolean"))
	require.Equal(t, Bool(true), decodeCell(t, "true", "Boolean"))
	require.Equal(t, Bool(false), decodeCell(t, "0", "Boolean"))
	require.Equal(t, Int64(-42), decodeCell(t, "-42", "Int64"))
	require.Equal(t, Int64(127), decodeCell(t, "127", "Int8"))
	require.Equal(t, UInt64(math.MaxUint64), decodeCell(t, "18446744073709551615", "UInt64"))
	require.Equal(t, Float64(1.5), decodeCell(t, "1.5", "Float64"))
	require.Equal(t, String("hello"), decodeCell(t, "hello", "String"))
	require.Equal(t, Variant(`{"a":1}`), decodeCell(t, `{"a":1}`, "Variant"))
	require.Equal(t, Interval("1 day 02:30:00"), decodeCell(t, "1 day 02:30:00", "Interval"))
	require.Equal(t, Binary{0xde, 0xad, 0xbe, 0xef}, decodeCell(t, "deadbeef", "Binary"))
}

func TestDecodeScalarBounds(t *testing.T) {
	_, err := DecodeValue(strPtr("128"), mustType(t, "Int8"), time.UTC)
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	_, err = DecodeValue(strPtr("-1"), mustType(t, "UInt8"), time.UTC)
	require.Error(t, err)

	_, err = DecodeValue(strPtr("maybe"), mustType(t, "Boolean"), time.UTC)
	require.Error(t, err)

	_, err = DecodeValue(strPtr("TRUE"), mustType(t, "Boolean"), time.UTC)
	require.Error(t, err)
}

func TestDecodeFloatSpecials(t *testing.T) {
	require.Equal(t, Float64(math.Inf(1)), decodeCell(t, "inf", "Float64"))
	require.Equal(t, Float64(math.Inf(-1)), decodeCell(t, "-inf", "Float64"))
	v := decodeCell(t, "NaN", "Float64")
	require.True(t, math.IsNaN(float64(v.(Float64))))
}

func TestDecodeDecimalCell(t *testing.T) {
	v := decodeCell(t, "15.7563", "Decimal(8, 4)")
	d, ok := v.(Decimal)
	require.True(t, ok)
	require.Equal(t, uint8(8), d.Precision)
	require.Equal(t, uint8(4), d.Scale)
	require.Equal(t, big.NewInt(157563), d.Unscaled)
	require.Equal(t, "15.7563", d.String())
}

func TestDecodeTemporal(t *testing.T) {
	require.Equal(t, Date(19723), decodeCell(t, "2024-01-01", "Date"))

	v := decodeCell(t, "2024-06-01 12:30:45.123456", "Timestamp")
	ts, ok := v.(Timestamp)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 6, 1, 12, 30, 45, 123456000, time.UTC), ts.Time)
}

func TestDecodeTimestampSessionTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	cell := "2024-06-01 12:30:45"
	v, err := DecodeValue(&cell, mustType(t, "Timestamp"), tokyo)
	require.NoError(t, err)
	ts := v.(Timestamp)
	require.Equal(t, time.Date(2024, 6, 1, 12, 30, 45, 0, tokyo), ts.Time)
}

func TestDecodeNullability(t *testing.T) {
	v, err := DecodeValue(nil, mustType(t, "Nullable(Int64)"), time.UTC)
	require.NoError(t, err)
	require.Equal(t, Null{}, v)

	_, err = DecodeValue(nil, mustType(t, "Int64"), time.UTC)
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	// A NULL token stands for NULL in non-string nullable cells.
	require.Equal(t, Null{}, decodeCell(t, "NULL", "Nullable(Int64)"))
	// But a nullable string cell with the text "NULL" is that string.
	require.Equal(t, String("NULL"), decodeCell(t, "NULL", "Nullable(String)"))
}

func TestDecodeArray(t *testing.T) {
	require.Equal(t, Array{Int64(1), Int64(2), Int64(3)}, decodeCell(t, "[1,2,3]", "Array(Int64)"))
	require.Equal(t, Array{}, decodeCell(t, "[]", "Array(Int64)"))
	require.Equal(t,
		Array{String("a"), String("b,c"), String("d'e")},
		decodeCell(t, `['a','b,c','d\'e']`, "Array(String)"))
	require.Equal(t,
		Array{Int64(1), Null{}, Int64(3)},
		decodeCell(t, "[1,NULL,3]", "Array(Nullable(Int64))"))
	require.Equal(t,
		Array{Array{Int64(1)}, Array{Int64(2), Int64(3)}},
		decodeCell(t, "[[1],[2,3]]", "Array(Array(Int64))"))
}

func TestDecodeArrayOfDecimal(t *testing.T) {
	v := decodeCell(t, "[15.7563,-0.0001]", "Array(Decimal(8, 4))")
	arr := v.(Array)
	require.Len(t, arr, 2)
	require.Equal(t, big.NewInt(157563), arr[0].(Decimal).Unscaled)
	require.Equal(t, big.NewInt(-1), arr[1].(Decimal).Unscaled)
}

func TestDecodeMap(t *testing.T) {
	require.Equal(t,
		Map{{Key: String("a"), Value: Int64(1)}, {Key: String("b"), Value: Int64(2)}},
		decodeCell(t, "{'a':1,'b':2}", "Map(String, Int64)"))
	require.Equal(t, Map{}, decodeCell(t, "{}", "Map(String, Int64)"))
}

func TestDecodeTuple(t *testing.T) {
	require.Equal(t,
		Tuple{String("x"), Int64(42), Null{}},
		decodeCell(t, "('x',42,NULL)", "Tuple(String, Int64, Nullable(Float64))"))
}

func TestDecodeNestedTemporal(t *testing.T) {
	v := decodeCell(t, "['2024-01-01','2024-01-02']", "Array(Date)")
	require.Equal(t, Array{Date(19723), Date(19724)}, v)
}

func TestDecodeQuoteEscapes(t *testing.T) {
	require.Equal(t,
		Array{String("it's"), String("a\nb"), String("t\tab")},
		decodeCell(t, `['it''s','a\nb','t\tab']`, "Array(String)"))
}

func TestDecodeTrailingInput(t *testing.T) {
	cell := "[1,2,3]x"
	_, err := DecodeValue(&cell, mustType(t, "Array(Int64)"), time.UTC)
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeMalformedContainers(t *testing.T) {
	for _, tc := range []struct{ cell, typ string }{
		{"[1,2", "Array(Int64)"},
		{"1,2]", "Array(Int64)"},
		{"{'a':}", "Map(String, Int64)"},
		{"{'a' 1}", "Map(String, Int64)"},
		{"('x')", "Tuple(String, Int64)"},
		{"[unquoted]", "Array(String)"},
	} {
		cell := tc.cell
		_, err := DecodeValue(&cell, mustType(t, tc.typ), time.UTC)
		require.Error(t, err, "%s as %s", tc.cell, tc.typ)
	}
}

func strPtr(s string) *string { return &s }
