// Package database provides the SQLite store behind registration requests,
// drones and the audit trail.
//
// Connections are opened with foreign keys enforced, an optional WAL journal
// and a single-connection pool. Schema changes are applied from embedded SQL
// files by Migrate; each file runs in its own transaction and is recorded in
// schema_migrations so that a restart resumes where the last run stopped.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
