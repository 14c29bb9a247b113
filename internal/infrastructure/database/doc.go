// Package database provides the local SQLite store.
//
// The store keeps the last value seen on each topic and a short history of
// connection transitions, so the app can show something useful while the
// broker is unreachable.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be NULLABLE or have a DEFAULT,
// and every .up.sql should ship with a .down.sql.
package database
