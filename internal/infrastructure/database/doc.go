// Package database provides the SQLite connection behind the account store.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Forward-only schema migrations tracked in schema_migrations
//   - Health checks
//
// Only accounts are persisted. Relay messages are never written to disk.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
