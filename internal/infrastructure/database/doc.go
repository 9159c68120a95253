// Package database provides SQLite connectivity for the identity store.
//
// This package manages:
//   - Opening the database file with foreign keys enforced and optional WAL mode
//   - Applying embedded schema migrations in version order
//   - Health checks and lifecycle management
//
// The device -> datapoint cascade on delete depends on foreign keys being
// enabled, which Open does on every connection through the DSN.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered by importing the
// top-level migrations package for its side effect.
package database
