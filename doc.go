// Package qubedb is an embedded multi-model database engine: relational
// tables, JSON documents, property graphs and fixed-dimension float32
// vectors over one durable storage substrate.
//
// Features:
//   - SQL surface: CREATE/DROP/ALTER TABLE, INSERT, UPDATE, DELETE, SELECT
//     with joins, aggregates, ORDER BY and LIMIT
//   - MVCC snapshot isolation with first-committer-wins conflict detection
//   - Write-ahead log with sync, group-commit and async durability modes
//   - Copy-on-write B+Tree over a checksummed page store with an LRU
//     buffer pool
//   - Exact nearest-neighbor vector search per named collection
//   - Graph adjacency as prefix range scans, no materialized lists
//
// A database is a single directory:
//
//	db, err := qubedb.Open("/var/lib/myapp", func(o *qubedb.Options) {
//		o.Durability = wal.DurabilitySync
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	_, err = db.Execute(ctx, `CREATE TABLE users (id INT PRIMARY KEY, name STRING)`)
//	res, err := db.Execute(ctx, `SELECT * FROM users WHERE id = 1`)
//
// Explicit transactions group statements under one snapshot:
//
//	tx, err := db.Begin()
//	id, err := tx.Insert("users", value.Row{"name": value.String("alice")})
//	err = tx.Commit(ctx)
//
// Commit returns a conflict error when another transaction committed an
// overlapping write first; the caller retries the whole transaction.
package qubedb
