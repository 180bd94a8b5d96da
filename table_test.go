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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableIdentifier(t *testing.T) {
	tbl := &Table{Table: "users"}
	require.Equal(t, "`users`", tbl.Identifier())

	tbl = &Table{Database: "analytics", Table: "users"}
	require.Equal(t, "`analytics`.`users`", tbl.Identifier())

	tbl = &Table{Table: "weird`name"}
	require.Equal(t, "`weird\\`name`", tbl.Identifier())

	tbl = &Table{Table: "tab\there"}
	require.Equal(t, "`tab\\there`", tbl.Identifier())
}

func TestTableSchemaIntrospection(t *testing.T) {
	node := newMockNode(t)
	node.servePages(queryResponse{
		ID:     "q-schema",
		NodeID: "node-a",
		Schema: []apiField{
			{Name: "column_name", Type: "String"},
			{Name: "data_type", Type: "String"},
		},
		Data: [][]*string{
			{strPtr("n"), strPtr("Int64")},
			{strPtr("name"), strPtr("Nullable(String)")},
			{strPtr("price"), strPtr("Decimal(8, 4)")},
		},
	})

	ctx := context.Background()
	conn, err := newTestClient(t, node).GetConn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	schema, err := conn.Table("items").TableSchema(ctx)
	require.NoError(t, err)
	require.Len(t, schema, 3)
	require.Equal(t, "n", schema[0].Name)
	require.Equal(t, KindInt64, schema[0].Type.Kind)
	require.Equal(t, KindNullable, schema[1].Type.Kind)
	require.Equal(t, "Decimal(8, 4)", schema[2].Type.String())
}

func TestTableCount(t *testing.T) {
	node := newMockNode(t)
	node.servePages(queryResponse{
		ID:     "q-count",
		NodeID: "node-a",
		Schema: []apiField{{Name: "count", Type: "UInt64"}},
		Data:   [][]*string{{strPtr("9")}},
	})

	ctx := context.Background()
	conn, err := newTestClient(t, node).GetConn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	n, err := conn.Table("items").Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9), n)
}
