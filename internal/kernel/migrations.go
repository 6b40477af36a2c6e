package kernel

import (
	"database/sql"
	"fmt"

	"explorer/internal/logging"
)

// Migration defines a column addition applied to ledgers created
// before the column existed.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations for existing ledgers.
var pendingMigrations = []Migration{
	// Phase stamping on versions, added alongside the sentinel so
	// snapshots record which regime produced them.
	{"versions", "phase", "TEXT NOT NULL DEFAULT ''"},
}

// runMigrations applies pending column additions. Unlike optional
// columns, everything here is load-bearing for Snapshot, so a failed
// ALTER aborts Open rather than deferring the breakage to the first
// write.
func runMigrations(db *sql.DB) error {
	applied := 0
	skipped := 0

	for _, m := range pendingMigrations {
		logging.KernelDebug("Checking migration: %s.%s", m.Table, m.Column)

		if !tableExists(db, m.Table) {
			logging.KernelDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			skipped++
			continue
		}

		if columnExists(db, m.Table, m.Column) {
			logging.KernelDebug("Column already exists, skipping: %s.%s", m.Table, m.Column)
			skipped++
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Kernel("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	if applied > 0 {
		logging.Kernel("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.KernelDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.KernelDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
