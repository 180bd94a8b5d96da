package cometdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

type Table struct {
	conn *Connection

	// Database is the name of the database.
	//
	// This is optional and may be empty; the session database applies then.
	Database string
	// Table is the name of the table.
	Table string
	// Temp marks the table as session-scoped. A temp table is visible only
	// to the connection that created it and dropped on logout.
	Temp bool
}

func (c *Connection) Table(tableName string) *Table {
	return &Table{
		conn:  c,
		Table: tableName,
	}
}

// TempTable names a session-scoped table on this connection.
func (c *Connection) TempTable(tableName string) *Table {
	return &Table{
		conn:  c,
		Table: tableName,
		Temp:  true,
	}
}

// Create creates the table with the given column definitions, for example
// "n INT64, name STRING".
func (t *Table) Create(ctx context.Context, columns string) error {
	kind := "TABLE"
	if t.Temp {
		kind = "TEMP TABLE"
	}
	_, err := t.conn.Exec(ctx, fmt.Sprintf(`CREATE %s %s (%s)`, kind, t.Identifier(), columns))
	return err
}

func (t *Table) Drop(ctx context.Context) error {
	_, err := t.conn.Exec(ctx, fmt.Sprintf(`DROP TABLE %s`, t.Identifier()))
	return err
}

// Count returns the number of rows in the table.
func (t *Table) Count(ctx context.Context) (int64, error) {
	row, err := t.conn.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.Identifier()))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// TableSchema introspects the table's columns from the system view.
func (t *Table) TableSchema(ctx context.Context) (Schema, error) {
	dbName := t.Database
	if dbName == "" {
		dbName = t.conn.Database()
	}

	iter, err := t.conn.Query(ctx, `
		SELECT column_name, data_type
		FROM system.columns
		WHERE table_name = ? AND database_name = ?
		ORDER BY ordinal_position
	`, t.Table, dbName)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var schema Schema
	for {
		row, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var name, dataType string
		if err := row.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		typ, err := ParseDataType(dataType)
		if err != nil {
			return nil, err
		}
		schema = append(schema, &Field{Name: name, Type: typ})
	}
	return schema, nil
}

// InsertValues inserts rows through the stage load path.
func (t *Table) InsertValues(ctx context.Context, rows [][]any) (*Progress, error) {
	sql := fmt.Sprintf(`INSERT INTO %s VALUES`, t.Identifier())
	return t.conn.StreamLoad(ctx, sql, rows, nil)
}

func (t *Table) Identifier() string {
	var b strings.Builder
	if t.Database != "" {
		b.WriteString(quoteIdent(t.Database, '`'))
		b.WriteByte('.')
	}
	b.WriteString(quoteIdent(t.Table, '`'))
	return b.String()
}

func quoteIdent(s string, r rune) string {
	var b bytes.Buffer
	b.WriteRune(r)
	for _, c := range s {
		switch c {
		case '\t':
			b.WriteString("\\t")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\\':
			b.WriteString("\\\\")
		default:
			if c == r {
				b.WriteRune('\\')
				b.WriteRune(c)
				break
			}

			if c < 0x20 {
				b.WriteString(fmt.Sprintf("\\x%02x", c))
				break
			}

			b.WriteRune(c)
		}
	}
	b.WriteRune(r)
	return b.String()
}
