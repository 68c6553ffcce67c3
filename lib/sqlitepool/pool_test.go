// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatsync/lib/sqlitepool"
	"github.com/bureau-foundation/chatsync/lib/testutil"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id   INTEGER PRIMARY KEY,
	body TEXT NOT NULL
);
`

func openTestPool(t *testing.T, size int) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     testutil.DatabasePath(t),
		PoolSize: size,
		Schema:   testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, 1)
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	var foreignKeys int
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	err = sqlitex.Execute(conn, "PRAGMA foreign_keys", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			foreignKeys = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestSchemaSharedAcrossConnections(t *testing.T) {
	pool := openTestPool(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := pool.Take(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer pool.Put(conn)
			errs <- sqlitex.Execute(conn, "INSERT INTO notes (id, body) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{i, "note"}})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	count, err := sqlitex.ResultInt(conn.Prep("SELECT COUNT(*) FROM notes"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Fatalf("count = %d, want 8", count)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty path")
	}
}
