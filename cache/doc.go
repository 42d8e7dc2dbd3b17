// Package cache provides the fingerprint and cache layers used by the
// statement executor.
//
// # Overview
//
// The package exports three building blocks:
//
//   - Key: an order sensitive fingerprint over a statement's identity and
//     effective inputs (statement id, row bounds, SQL text, parameter values,
//     environment id)
//   - PerpetualCache: the unbounded store behind an executor's session cache
//   - TransactionalCache: a write buffer in front of a shared Cache that only
//     publishes on commit
//
// # Fingerprints
//
// Contributions are appended with Update and compared positionally:
//
//	key := cache.NewKey("blog.selectBlog", 0, math.MaxInt32, "SELECT * FROM blog WHERE id = ?", 5, "dev")
//	other := cache.NewKey("blog.selectBlog", 0, math.MaxInt32, "SELECT * FROM blog WHERE id = ?", int64(5), "dev")
//	key.Equal(other) // true
//
// Values are canonicalised with msgpack and hashed with xxhash. Functions
// and channels cannot be encoded and fall back to a textual form that is only
// stable within a process.
//
// NullKey is the degenerate fingerprint: row keys with fewer than two
// contributions collapse to it (see NullIfDegenerate) and Combine returns it
// whenever one side is degenerate.
//
// # Shared caches
//
// NewSharedCache returns a Cache backed by sturdyc. Wrap it with a
// TransactionalCache (usually through TransactionalCacheManager) so that
// uncommitted reads and writes stay private to a unit of work:
//
//	shared, _ := cache.NewSharedCache("blog", cache.DefaultConfig())
//	tx := cache.NewTransactionalCache(shared, logger)
//	tx.Put(key, rows)
//	_ = tx.Commit(ctx) // rows visible to other sessions from here on
//
// Keys that missed during the transaction are written as explicit nils on
// commit and removed on rollback, so a delegate that locks per key always
// gets a release.
package cache
