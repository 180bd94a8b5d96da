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

// Named wraps a map of named parameter values for statements using :name
// placeholders. A statement uses either positional ? placeholders with
// plain args or a single Named set, never both.
type Named map[string]any

// bindParams substitutes placeholders in sql with SQL literals rendered
// from args. Placeholders inside quoted strings and comments are left
// alone. Binding failures are BindingErrors.
func bindParams(sql string, args []any) (string, error) {
	named, positional, err := splitArgs(args)
	if err != nil {
		return "", err
	}
	if named == nil && positional == nil {
		return sql, nil
	}

	var out strings.Builder
	out.Grow(len(sql) + 16*len(positional))
	nextPositional := 0
	sawPositional := false
	sawNamed := false

	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"':
			end, ok := skipQuoted(sql, i)
			if !ok {
				return "", bindingErrorf("unterminated %c-quoted literal at offset %d", ch, i)
			}
			out.WriteString(sql[i:end])
			i = end
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql)
			} else {
				end += i
			}
			out.WriteString(sql[i:end])
			i = end
		case ch == '?':
			sawPositional = true
			if sawNamed {
				return "", bindingErrorf("statement mixes positional and named placeholders")
			}
			if named != nil {
				return "", bindingErrorf("positional placeholder with named arguments")
			}
			if nextPositional >= len(positional) {
				return "", bindingErrorf("not enough arguments: statement has more than %d placeholders", len(positional))
			}
			lit, err := encodeParam(positional[nextPositional])
			if err != nil {
				return "", err
			}
			out.WriteString(lit)
			nextPositional++
			i++
		case ch == ':' && i+1 < len(sql) && isIdentByte(sql[i+1]):
			// "::" is a cast, not a placeholder.
			if i > 0 && sql[i-1] == ':' {
				out.WriteByte(ch)
				i++
				continue
			}
			sawNamed = true
			if sawPositional {
				return "", bindingErrorf("statement mixes positional and named placeholders")
			}
			if named == nil {
				return "", bindingErrorf("named placeholder with positional arguments")
			}
			j := i + 1
			for j < len(sql) && isIdentByte(sql[j]) {
				j++
			}
			name := sql[i+1 : j]
			val, ok := named[name]
			if !ok {
				return "", bindingErrorf("no argument bound for placeholder :%s", name)
			}
			lit, err := encodeParam(val)
			if err != nil {
				return "", err
			}
			out.WriteString(lit)
			i = j
		default:
			out.WriteByte(ch)
			i++
		}
	}

	if named == nil && nextPositional != len(positional) {
		return "", bindingErrorf("too many arguments: %d bound, %d placeholders", len(positional), nextPositional)
	}
	return out.String(), nil
}

func splitArgs(args []any) (Named, []any, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}
	if named, ok := args[0].(Named); ok {
		if len(args) > 1 {
			return nil, nil, bindingErrorf("named arguments must be the only argument")
		}
		return named, nil, nil
	}
	for _, a := range args {
		if _, ok := a.(Named); ok {
			return nil, nil, bindingErrorf("cannot mix named and positional arguments")
		}
	}
	return nil, args, nil
}

// skipQuoted returns the index just past the quoted literal starting at i.
// Quote doubling and backslash escapes both continue the literal.
func skipQuoted(sql string, i int) (int, bool) {
	quote := sql[i]
	j := i + 1
	for j < len(sql) {
		switch sql[j] {
		case '\\':
			j += 2
		case quote:
			if j+1 < len(sql) && sql[j+1] == quote {
				j += 2
				continue
			}
			return j + 1, true
		default:
			j++
		}
	}
	return 0, false
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
}

// encodeParam renders one Go value as a SQL literal.
func encodeParam(arg any) (string, error) {
	switch v := arg.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return quoteString(v), nil
	case []byte:
		return "FROM_HEX('" + hex.EncodeToString(v) + "')", nil
	case time.Time:
		return quoteString(v.Format(timestampFormat)), nil
	case *big.Int:
		return v.String(), nil
	case Value:
		return encodeValueParam(v), nil
	}
	return "", bindingErrorf("unsupported argument type %T", arg)
}

func encodeValueParam(v Value) string {
	switch v := v.(type) {
	case Null:
		return "NULL"
	case String:
		return quoteString(string(v))
	case Variant:
		return "PARSE_JSON(" + quoteString(string(v)) + ")"
	case Interval:
		return quoteString(string(v)) + "::INTERVAL"
	case Binary:
		return "FROM_HEX('" + hex.EncodeToString(v) + "')"
	case Date:
		return quoteString(v.Time().Format(dateFormat)) + "::DATE"
	case Timestamp:
		return quoteString(v.Time.Format(timestampFormat)) + "::TIMESTAMP"
	case Array:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = encodeValueParam(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Tuple:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = encodeValueParam(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case Map:
		parts := make([]string, len(v))
		for i, kv := range v {
			parts[i] = fmt.Sprintf("%s: %s", encodeValueParam(kv.Key), encodeValueParam(kv.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.String()
	}
}

// quoteString renders a single-quoted SQL string literal, escaping quotes
// and backslashes.
func quoteString(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 2)
	out.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			out.WriteString(`\'`)
		case '\\':
			out.WriteString(`\\`)
		default:
			out.WriteByte(s[i])
		}
	}
	out.WriteByte('\'')
	return out.String()
}
