// Package database provides SQLite connectivity for Gray Logic Rules.
//
// It opens the database holding automations and the execution log, applies
// the embedded schema migrations and offers a health check and online
// backup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
