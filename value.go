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
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Value is a single typed cell of a result row. The concrete types are
// Null, Bool, Int64, UInt64, Float64, String, Binary, Date, Timestamp,
// Interval, Decimal, Array, Map, Tuple, and Variant.
type Value interface {
	fmt.Stringer
	value()
}

// Null is the SQL NULL value.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Int64 holds any signed integer column value.
type Int64 int64

// UInt64 holds any unsigned integer column value.
type UInt64 uint64

// Float64 holds any floating point column value.
type Float64 float64

// String is a text value.
type String string

// Binary is a raw byte value.
type Binary []byte

// Date is a calendar date, stored as days since 1970-01-01.
type Date int32

// Timestamp is a point in time with microsecond precision. The location of
// Time carries the session timezone the server rendered the value in.
type Timestamp struct {
	Time time.Time
}

// Interval is a duration value in the server's textual rendering, e.g.
// "1 day 02:30:00".
type Interval string

// Decimal is an exact fixed-point number: the value equals
// Unscaled / 10^Scale. Precision and Scale are preserved exactly as the
// column type declares them.
type Decimal struct {
	Precision uint8
	Scale     uint8
	Unscaled  *big.Int
}

// Array is an ordered sequence of values of one element type.
type Array []Value

// KeyValue is one entry of a Map value.
type KeyValue struct {
	Key   Value
	Value Value
}

// Map is a collection of key/value entries. Entry order follows the wire
// encoding but carries no meaning.
type Map []KeyValue

// Tuple is an ordered heterogeneous sequence of values.
type Tuple []Value

// Variant is an opaque structured text value (JSON-like).
type Variant string

func (Null) value()      {}
func (Bool) value()      {}
func (Int64) value()     {}
func (UInt64) value()    {}
func (Float64) value()   {}
func (String) value()    {}
func (Binary) value()    {}
func (Date) value()      {}
func (Timestamp) value() {}
func (Interval) value()  {}
func (Decimal) value()   {}
func (Array) value()     {}
func (Map) value()       {}
func (Tuple) value()     {}
func (Variant) value()   {}

const (
	dateFormat      = "2006-01-02"
	timestampFormat = "2006-01-02 15:04:05.999999"
)

func (Null) String() string      { return "NULL" }
func (v Bool) String() string    { return strconv.FormatBool(bool(v)) }
func (v Int64) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v UInt64) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v Float64) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v String) String() string  { return string(v) }
func (v Binary) String() string  { return hex.EncodeToString(v) }
func (v Interval) String() string { return string(v) }
func (v Variant) String() string { return string(v) }

func (v Date) String() string {
	return v.Time().Format(dateFormat)
}

// Time converts the date to a time.Time at midnight UTC.
func (v Date) Time() time.Time {
	return time.Unix(int64(v)*86400, 0).UTC()
}

func (v Timestamp) String() string {
	return v.Time.Format(timestampFormat)
}

func (v Decimal) String() string {
	if v.Unscaled == nil {
		return "0"
	}
	digits := new(big.Int).Abs(v.Unscaled).String()
	scale := int(v.Scale)
	var b strings.Builder
	if v.Unscaled.Sign() < 0 {
		b.WriteByte('-')
	}
	if scale == 0 {
		b.WriteString(digits)
		return b.String()
	}
	if len(digits) <= scale {
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", scale-len(digits)))
		b.WriteString(digits)
	} else {
		b.WriteString(digits[:len(digits)-scale])
		b.WriteByte('.')
		b.WriteString(digits[len(digits)-scale:])
	}
	return b.String()
}

func (v Array) String() string {
	parts := make([]string, len(v))
	for i, elem := range v {
		parts[i] = elem.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (v Map) String() string {
	parts := make([]string, len(v))
	for i, kv := range v {
		parts[i] = kv.Key.String() + ":" + kv.Value.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (v Tuple) String() string {
	parts := make([]string, len(v))
	for i, elem := range v {
		parts[i] = elem.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// NewDecimal builds a Decimal from an unscaled magnitude.
func NewDecimal(unscaled *big.Int, precision, scale uint8) Decimal {
	return Decimal{Precision: precision, Scale: scale, Unscaled: unscaled}
}

// Equal reports whether two decimals have the same scale and value.
func (v Decimal) Equal(other Decimal) bool {
	if v.Scale != other.Scale {
		return false
	}
	if v.Unscaled == nil || other.Unscaled == nil {
		return v.Unscaled == other.Unscaled
	}
	return v.Unscaled.Cmp(other.Unscaled) == 0
}

var bigTen = big.NewInt(10)

// ParseDecimal parses a decimal literal into an exact unscaled magnitude at
// the declared scale. It never goes through binary floating point. The
// literal must be exactly representable at the declared scale.
func ParseDecimal(s string, precision, scale uint8) (Decimal, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Decimal{}, fmt.Errorf("empty decimal literal")
	}

	neg := false
	switch text[0] {
	case '-':
		neg = true
		text = text[1:]
	case '+':
		text = text[1:]
	}

	mantissa := text
	exp := 0
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		e, err := strconv.Atoi(text[i+1:])
		if err != nil {
			return Decimal{}, fmt.Errorf("invalid decimal exponent %q", s)
		}
		exp = e
		mantissa = text[:i]
	}

	intPart, fracPart := mantissa, ""
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		intPart, fracPart = mantissa[:i], mantissa[i+1:]
	}
	digits := intPart + fracPart
	if digits == "" {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q", s)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return Decimal{}, fmt.Errorf("invalid decimal literal %q", s)
		}
	}

	unscaled, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q", s)
	}

	// value = digits * 10^(exp - len(frac)); unscaled = value * 10^scale
	shift := int(scale) + exp - len(fracPart)
	if shift > 0 {
		unscaled.Mul(unscaled, new(big.Int).Exp(bigTen, big.NewInt(int64(shift)), nil))
	} else if shift < 0 {
		div := new(big.Int).Exp(bigTen, big.NewInt(int64(-shift)), nil)
		var rem big.Int
		unscaled.QuoRem(unscaled, div, &rem)
		if rem.Sign() != 0 {
			return Decimal{}, fmt.Errorf("decimal %q not representable at scale %d", s, scale)
		}
	}
	if neg {
		unscaled.Neg(unscaled)
	}
	return Decimal{Precision: precision, Scale: scale, Unscaled: unscaled}, nil
}
