// Package database opens the service's SQLite file and migrates its schema.
//
// The file holds the device table (including local keys, so it is created
// 0600), state history and the schema_migrations bookkeeping table. WAL
// mode lets API reads proceed while the bridge records history.
//
// Migrations are embedded by the top-level migrations package and named
// YYYYMMDD_HHMMSS_name.up.sql with an optional matching .down.sql:
//
//	import _ "github.com/nerrad567/gray-logic-tuya/migrations"
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Schema changes are additive: new columns are nullable or defaulted, so
// an older binary keeps working against a newer file.
package database
