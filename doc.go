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

/*
Package cometdb provides a lightweight and easy-to-use client for interacting with a CometDB cluster.

# Client and Connections

Use NewClient to create a client struct, then open connections from it. Each
connection is pinned to one cluster node and owns a server-side session there:

	client := cometdb.NewClient(&cometdb.Config{
		Nodes:    []string{"http://<cometdb-host>:<cometdb-port:-7070>"},
		Database: "analytics",
	})

	conn, err := client.GetConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

Closing the connection tears down the server-side session, including any
temporary tables it created.

# Query Data

Run a statement and walk its result rows. Results stream page by page; the
iterator must be closed:

	iter, err := conn.Query(ctx, `SELECT n, name FROM users WHERE n > ?`, 42)
	if err != nil {
		return err
	}
	defer iter.Close()

	for {
		row, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var n int64
		var name string
		if err := row.Scan(&n, &name); err != nil {
			return err
		}
	}

# Load Data

Bulk-load rows through the staging area or the streaming endpoint:

	progress, err := conn.StreamLoad(ctx, `INSERT INTO users VALUES`, rows, nil)
	if err != nil {
		return err
	}
	log.Printf("loaded %d rows (%d bytes)", progress.RowsWritten, progress.BytesWritten)
*/
package cometdb
