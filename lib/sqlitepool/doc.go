// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite with the pragmas
// and transaction helpers the vault store relies on.
//
// Every connection is prepared with WAL journaling, NORMAL synchronous
// mode, a five second busy timeout, enforced foreign keys, an 8 MB
// page cache, and in-memory temp storage. A caller-supplied schema
// script then runs on the connection.
//
// [Pool.Read] and [Pool.Write] cover the common cases: Write wraps the
// callback in an IMMEDIATE transaction so optimistic sequence checks
// performed inside it cannot interleave with another writer. Callers
// that need finer control use [Pool.Take] and [Pool.Put] directly.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/edv/vaults.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "UPDATE ...", nil)
//	})
package sqlitepool
