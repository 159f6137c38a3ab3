// Package database provides the SQLite connection behind droidpanel's run
// history.
//
// The supervision core keeps no durable state apart from mirror files.
// This package backs the history store only: one file, WAL mode, a single
// writer, and forward migrations embedded into the binary by the
// top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
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
// optional matching .down.sql.
package database
