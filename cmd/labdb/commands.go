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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ibilux/draft-lab-db/internal/client"
	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
)

// execute runs the command with the given name and flags, writing results to w.
func execute(ctx context.Context, w io.Writer, c *client.Client, cmd string, f *flags) error {
	switch cmd {
	case "query":
		recs, err := c.Query(ctx, f.Query.SQL, positional(f.Query.Args))
		if err != nil {
			return err
		}

		return writeJSON(w, recs)

	case "get":
		rec, err := c.Get(ctx, f.Get.SQL, positional(f.Get.Args))
		if err != nil {
			return err
		}

		return writeJSON(w, rec)

	case "run":
		res, err := c.Exec(ctx, f.Run.SQL, positional(f.Run.Args))
		if err != nil {
			return err
		}

		return writeJSON(w, map[string]int64{
			"rows_affected":  res.RowsAffected,
			"last_insert_id": res.LastInsertID,
		})

	case "batch":
		return record(ctx, w, c.Batch, f.Batch.SQL)

	case "transaction":
		return record(ctx, w, c.Transaction, f.Transaction.SQL)

	case "export":
		b, err := c.ExportDatabase(ctx)
		if err != nil {
			return err
		}

		if err = os.WriteFile(f.Export.File, b, 0o666); err != nil {
			return lazyerrors.Error(err)
		}

		_, err = fmt.Fprintf(w, "Exported %d bytes to %s.\n", len(b), f.Export.File)

		return err

	case "import":
		b, err := os.ReadFile(f.Import.File)
		if err != nil {
			return lazyerrors.Error(err)
		}

		if err = c.ImportDatabase(ctx, b); err != nil {
			return err
		}

		_, err = fmt.Fprintf(w, "Imported %d bytes from %s.\n", len(b), f.Import.File)

		return err

	case "status":
		s := c.Status()

		return writeJSON(w, map[string]bool{
			"ready":      s.Ready,
			"persistent": s.Persistent,
		})

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// sessionFunc is Client.Batch or Client.Transaction.
type sessionFunc func(ctx context.Context, f func(context.Context, *client.Session) error) error

// record records all statements in a single session and prints their number.
func record(ctx context.Context, w io.Writer, session sessionFunc, stmts []string) error {
	err := session(ctx, func(_ context.Context, s *client.Session) error {
		for _, sql := range stmts {
			if _, err := s.Run(sql, nil); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "Executed %d statements.\n", len(stmts))

	return err
}

// positional returns command-line arguments as statement parameters.
func positional(args []string) engine.Params {
	if len(args) == 0 {
		return nil
	}

	res := make(engine.Positional, len(args))
	for i, a := range args {
		res[i] = a
	}

	return res
}

// writeJSON writes v to w as indented JSON.
func writeJSON(w io.Writer, v any) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")

	if err := e.Encode(v); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}
