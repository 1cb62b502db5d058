// Package database provides SQLite connectivity for the mqttprobe event journal.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (normally the embedded migrations package)
//   - Single-connection pooling, since SQLite has one writer
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to owner read/write (0600)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Journal.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
