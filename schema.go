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
	"fmt"
	"strconv"
	"strings"
)

// TypeKind enumerates the data types the server declares for result columns.
type TypeKind uint8

const (
	KindNull TypeKind = iota
	KindBoolean
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindBinary
	KindDate
	KindTimestamp
	KindInterval
	KindVariant
	KindArray
	KindMap
	KindTuple
	KindNullable
)

// DataType is a declared column type. Container kinds carry element types in
// Inner: one element for Array and Nullable, key then value for Map, and one
// per position for Tuple. Decimal carries Precision and Scale.
type DataType struct {
	Kind      TypeKind
	Inner     []*DataType
	Precision uint8
	Scale     uint8
}

func (t *DataType) String() string {
	switch t.Kind {
	case KindNull:
		return "NULL"
	case KindBoolean:
		return "Boolean"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUInt8:
		return "UInt8"
	case KindUInt16:
		return "UInt16"
	case KindUInt32:
		return "UInt32"
	case KindUInt64:
		return "UInt64"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindDecimal:
		return fmt.Sprintf("Decimal(%d, %d)", t.Precision, t.Scale)
	case KindString:
		return "String"
	case KindBinary:
		return "Binary"
	case KindDate:
		return "Date"
	case KindTimestamp:
		return "Timestamp"
	case KindInterval:
		return "Interval"
	case KindVariant:
		return "Variant"
	case KindArray:
		return fmt.Sprintf("Array(%s)", t.Inner[0])
	case KindMap:
		return fmt.Sprintf("Map(%s, %s)", t.Inner[0], t.Inner[1])
	case KindTuple:
		parts := make([]string, len(t.Inner))
		for i, inner := range t.Inner {
			parts[i] = inner.String()
		}
		return fmt.Sprintf("Tuple(%s)", strings.Join(parts, ", "))
	case KindNullable:
		return fmt.Sprintf("Nullable(%s)", t.Inner[0])
	default:
		return fmt.Sprintf("Unknown(%d)", t.Kind)
	}
}

// Nullable reports whether a NULL cell is legal for this type.
func (t *DataType) NullableKind() bool {
	return t.Kind == KindNullable || t.Kind == KindNull
}

// Elem returns the element type for Array and Nullable types.
func (t *DataType) Elem() *DataType {
	return t.Inner[0]
}

// Field describes a single result column.
type Field struct {
	Name string
	Type *DataType
}

// Schema describes the ordered columns of one result set. Column order is
// fixed for the lifetime of the result.
type Schema []*Field

var scalarKinds = map[string]TypeKind{
	"NULL":      KindNull,
	"Null":      KindNull,
	"Boolean":   KindBoolean,
	"Int8":      KindInt8,
	"Int16":     KindInt16,
	"Int32":     KindInt32,
	"Int64":     KindInt64,
	"UInt8":     KindUInt8,
	"UInt16":    KindUInt16,
	"UInt32":    KindUInt32,
	"UInt64":    KindUInt64,
	"Float32":   KindFloat32,
	"Float64":   KindFloat64,
	"String":    KindString,
	"Binary":    KindBinary,
	"Date":      KindDate,
	"Timestamp": KindTimestamp,
	"Interval":  KindInterval,
	"Variant":   KindVariant,
}

// ParseDataType parses a declared column type as sent by the server, e.g.
// "Nullable(Array(Decimal(8, 4)))".
func ParseDataType(s string) (*DataType, error) {
	desc, err := parseTypeDesc(s)
	if err != nil {
		return nil, err
	}
	return desc.toDataType()
}

// typeDesc is the raw parse tree of a type string: a name, optional
// arguments, and a trailing NULL marker ("Int64 NULL").
type typeDesc struct {
	name     string
	nullable bool
	args     []*typeDesc
}

func (d *typeDesc) toDataType() (*DataType, error) {
	if d.nullable {
		inner := *d
		inner.nullable = false
		elem, err := inner.toDataType()
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: KindNullable, Inner: []*DataType{elem}}, nil
	}

	if kind, ok := scalarKinds[d.name]; ok {
		if len(d.args) != 0 {
			return nil, fmt.Errorf("type %s takes no arguments", d.name)
		}
		return &DataType{Kind: kind}, nil
	}

	switch d.name {
	case "Decimal":
		if len(d.args) != 2 {
			return nil, fmt.Errorf("Decimal type must have two arguments")
		}
		precision, err := strconv.ParseUint(d.args[0].name, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid Decimal precision %q: %w", d.args[0].name, err)
		}
		scale, err := strconv.ParseUint(d.args[1].name, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid Decimal scale %q: %w", d.args[1].name, err)
		}
		return &DataType{Kind: KindDecimal, Precision: uint8(precision), Scale: uint8(scale)}, nil
	case "Nullable":
		if len(d.args) != 1 {
			return nil, fmt.Errorf("Nullable type must have one argument")
		}
		elem, err := d.args[0].toDataType()
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: KindNullable, Inner: []*DataType{elem}}, nil
	case "Array":
		if len(d.args) != 1 {
			return nil, fmt.Errorf("Array type must have one argument")
		}
		elem, err := d.args[0].toDataType()
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: KindArray, Inner: []*DataType{elem}}, nil
	case "Map":
		if len(d.args) != 2 {
			return nil, fmt.Errorf("Map type must have two arguments")
		}
		key, err := d.args[0].toDataType()
		if err != nil {
			return nil, err
		}
		val, err := d.args[1].toDataType()
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: KindMap, Inner: []*DataType{key, val}}, nil
	case "Tuple":
		if len(d.args) == 0 {
			return nil, fmt.Errorf("Tuple type must have at least one argument")
		}
		inner := make([]*DataType, 0, len(d.args))
		for _, arg := range d.args {
			elem, err := arg.toDataType()
			if err != nil {
				return nil, err
			}
			inner = append(inner, elem)
		}
		return &DataType{Kind: KindTuple, Inner: inner}, nil
	default:
		return nil, fmt.Errorf("unknown type: %s", d.name)
	}
}

func parseTypeDesc(s string) (*typeDesc, error) {
	var (
		name     string
		args     []*typeDesc
		nullable bool
	)
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			if depth == 0 {
				name = s[start:i]
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("invalid type desc: %s", s)
			}
			if depth == 0 {
				if arg := s[start:i]; arg != "" {
					parsed, err := parseTypeDesc(arg)
					if err != nil {
						return nil, err
					}
					args = append(args, parsed)
				}
				start = i + 1
			}
		case ',':
			if depth == 1 {
				parsed, err := parseTypeDesc(s[start:i])
				if err != nil {
					return nil, err
				}
				args = append(args, parsed)
				start = i + 1
			}
		case ' ':
			if depth == 0 {
				if part := s[start:i]; part != "" {
					name = part
				}
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("invalid type desc: %s", s)
	}
	if start < len(s) {
		switch rest := s[start:]; {
		case rest == "":
		case name == "":
			name = rest
		case rest == "NULL":
			nullable = true
		default:
			return nil, fmt.Errorf("invalid type arg for %s: %s", name, rest)
		}
	}
	if name == "" {
		return nil, fmt.Errorf("empty type desc: %q", s)
	}
	return &typeDesc{name: name, nullable: nullable, args: args}, nil
}
