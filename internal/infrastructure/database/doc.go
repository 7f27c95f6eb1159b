// Package database provides SQLite connectivity for the bridge's state
// database.
//
// The database remembers which light entities have been announced for each
// OpenRGB server, so that entities that vanished while the bridge was down
// can still have their retained discovery topics cleared.
//
// This package manages:
//   - Connection with WAL mode and a single writer
//   - Embedded, versioned schema migrations
//   - Health checks and transaction helpers
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
