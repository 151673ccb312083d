// Package database provides SQLite connectivity for Relaybox's optional
// snapshot persistence.
//
// It manages:
//   - the connection (single writer, optional WAL, busy timeout)
//   - embedded schema migrations (YYYYMMDD_HHMMSS_name.up.sql / .down.sql)
//   - health checks and transactional helpers
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Persistence.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// A Path of ":memory:" opens a private in-memory database, which is what the
// tests use.
package database
