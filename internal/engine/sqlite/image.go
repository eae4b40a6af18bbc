// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlite

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/util/fsql"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// ErrInvalidImage is returned by ImportDatabase for data that is not an SQLite database image.
var ErrInvalidImage = errors.New("not an SQLite database image")

// imageHeader is the first bytes of any SQLite database file.
const imageHeader = "SQLite format 3\x00"

// imageHeaderSize is the size of SQLite database file header.
const imageHeaderSize = 100

// importSchema is the name of the attached imported database.
const importSchema = "labdb_import"

// ExportDatabase implements engine.Connector interface.
func (c *Connector) ExportDatabase(ctx context.Context) ([]byte, error) {
	defer observability.FuncCall(ctx)()

	c.m.Lock()
	defer c.m.Unlock()

	db, err := c.database()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "labdb-export-")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer os.RemoveAll(dir) //nolint:errcheck // temporary directory

	f := filepath.Join(dir, "export.sqlite")

	if _, err = db.ExecContext(ctx, "VACUUM INTO ?", f); err != nil {
		return nil, lazyerrors.Error(err)
	}

	b, err := os.ReadFile(f)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	c.l.Debug("Database exported.", zap.Int("size", len(b)))

	return b, nil
}

// ImportDatabase implements engine.Connector interface.
//
// All existing tables, views, indexes and triggers are replaced by the imported ones
// in a single transaction.
func (c *Connector) ImportDatabase(ctx context.Context, data []byte) error {
	defer observability.FuncCall(ctx)()

	if len(data) < imageHeaderSize || !bytes.HasPrefix(data, []byte(imageHeader)) {
		return ErrInvalidImage
	}

	if c.readOnly {
		return lazyerrors.New("database is read-only")
	}

	c.m.Lock()
	defer c.m.Unlock()

	db, err := c.database()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "labdb-import-")
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer os.RemoveAll(dir) //nolint:errcheck // temporary directory

	f := filepath.Join(dir, "import.sqlite")

	if err = os.WriteFile(f, data, 0o600); err != nil {
		return lazyerrors.Error(err)
	}

	if _, err = db.ExecContext(ctx, "ATTACH DATABASE ? AS "+importSchema, f); err != nil {
		return lazyerrors.Error(err)
	}

	defer func() {
		if _, e := db.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE "+importSchema); e != nil {
			c.l.Warn("Failed to detach imported database.", zap.Error(e))
		}
	}()

	err = db.InTransaction(ctx, func(tx *fsql.Tx) error {
		if err := dropObjects(ctx, tx); err != nil {
			return err
		}

		return copyObjects(ctx, tx)
	})
	if err != nil {
		return err
	}

	c.l.Debug("Database imported.", zap.Int("size", len(data)))

	return nil
}

// schemaObject represents a row of sqlite_master table.
type schemaObject struct {
	typ  string
	name string
	sql  string
}

// listObjects returns user objects of the given schema.
//
// Tables go first, then views, indexes, and triggers.
func listObjects(ctx context.Context, tx *fsql.Tx, schema string) ([]schemaObject, error) {
	q := `SELECT type, name, coalesce(sql, '') FROM ` + schema + `.sqlite_master ` +
		`WHERE name NOT LIKE 'sqlite\_%' ESCAPE '\' ` +
		`ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'view' THEN 1 WHEN 'index' THEN 2 ELSE 3 END, rowid`

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []schemaObject

	for rows.Next() {
		var o schemaObject
		if err = rows.Scan(&o.typ, &o.name, &o.sql); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, o)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// dropObjects drops all user tables and views of the main schema.
// Indexes and triggers are dropped with them.
func dropObjects(ctx context.Context, tx *fsql.Tx) error {
	objects, err := listObjects(ctx, tx, "main")
	if err != nil {
		return err
	}

	// views first, they may depend on tables
	for i := len(objects) - 1; i >= 0; i-- {
		o := objects[i]

		var q string

		switch o.typ {
		case "view":
			q = "DROP VIEW IF EXISTS main." + quoteIdent(o.name)
		case "table":
			q = "DROP TABLE IF EXISTS main." + quoteIdent(o.name)
		default:
			continue
		}

		if _, err = tx.ExecContext(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// copyObjects recreates all user objects of the imported schema in the main schema, with data.
func copyObjects(ctx context.Context, tx *fsql.Tx) error {
	objects, err := listObjects(ctx, tx, importSchema)
	if err != nil {
		return err
	}

	var sequence bool

	for _, o := range objects {
		if o.sql == "" {
			// automatic indexes
			continue
		}

		if _, err = tx.ExecContext(ctx, o.sql); err != nil {
			return lazyerrors.Error(err)
		}

		if o.typ != "table" || strings.HasPrefix(strings.ToUpper(o.sql), "CREATE VIRTUAL") {
			continue
		}

		if strings.Contains(strings.ToUpper(o.sql), "AUTOINCREMENT") {
			sequence = true
		}

		q := "INSERT INTO main." + quoteIdent(o.name) + " SELECT * FROM " + importSchema + "." + quoteIdent(o.name)
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	if !sequence {
		return nil
	}

	for _, q := range []string{
		"DELETE FROM main.sqlite_sequence",
		"INSERT INTO main.sqlite_sequence SELECT * FROM " + importSchema + ".sqlite_sequence",
	} {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// quoteIdent returns SQL identifier in double quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
