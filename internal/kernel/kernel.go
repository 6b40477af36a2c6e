// Package kernel is the certification ledger: an append-only, versioned
// record of which behavioral identities are certified. The working set
// holds the live records; Snapshot freezes it into an immutable version;
// Rollback repoints the latest pointer at an old version without deleting
// anything. One identity holds at most one live record; that rule is
// structural, and the kernel fails loudly if it ever observes it broken.
package kernel

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"explorer/internal/identity"
	"explorer/internal/logging"
)

var (
	// ErrUnknownVersion is returned by Rollback when the target version
	// does not exist. The kernel state is unchanged.
	ErrUnknownVersion = errors.New("unknown kernel version")

	// ErrNotFound is returned by Get for an identity with no live record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateIdentity means the dedup invariant was observed broken.
	// It should be unreachable; seeing it means a kernel bug, and the
	// operation that detected it refuses to continue.
	ErrDuplicateIdentity = errors.New("duplicate identity in ledger")
)

// Record is one certification decision for one behavioral identity.
type Record struct {
	Identity  identity.ID `json:"identity"`
	Module    string      `json:"module"`
	VP        float64     `json:"vp"`
	Certified bool        `json:"certified"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// VersionInfo describes one frozen ledger version.
type VersionInfo struct {
	Version   int64     `json:"version"`
	CycleID   string    `json:"cycle_id"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	Records   int       `json:"records"`
}

// Kernel owns the SQLite ledger and the in-memory working set. Safe for
// concurrent use; the single SQLite connection serializes writes.
type Kernel struct {
	mu      sync.RWMutex
	db      *sql.DB
	dbPath  string
	working map[identity.ID]Record
	latest  int64
}

// Open opens (or creates) the ledger database, applies migrations, and
// loads the latest version's records as the working set.
func Open(path string) (*Kernel, error) {
	timer := logging.StartTimer(logging.CategoryKernel, "Open ledger")
	defer timer.Stop()

	logging.Kernel("Opening certification ledger at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.KernelDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.KernelDebug("Failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.KernelDebug("Failed to set synchronous=NORMAL: %v", err)
	}

	k := &Kernel{
		db:      db,
		dbPath:  path,
		working: make(map[identity.ID]Record),
	}

	if err := k.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := k.loadWorkingSet(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Kernel("Ledger open: latest=%d, live records=%d", k.latest, len(k.working))
	return k, nil
}

// initialize creates the schema and applies column migrations.
func (k *Kernel) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS versions (
		version INTEGER PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		version INTEGER NOT NULL,
		identity TEXT NOT NULL,
		module TEXT NOT NULL,
		vp REAL NOT NULL,
		certified BOOLEAN NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (version, identity)
	);
	CREATE INDEX IF NOT EXISTS idx_records_identity ON records(identity);
	CREATE INDEX IF NOT EXISTS idx_records_module ON records(module);

	CREATE TABLE IF NOT EXISTS latest (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	`
	if _, err := k.db.Exec(schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}

	if err := runMigrations(k.db); err != nil {
		return fmt.Errorf("run ledger migrations: %w", err)
	}
	return nil
}

// loadWorkingSet reads the latest pointer and rehydrates that version's
// records as the live working set.
func (k *Kernel) loadWorkingSet() error {
	var version int64
	err := k.db.QueryRow(`SELECT version FROM latest WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		// Fresh ledger: no versions yet, empty working set.
		k.latest = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest pointer: %w", err)
	}

	records, err := k.readRecords(version)
	if err != nil {
		return err
	}

	k.latest = version
	k.working = make(map[identity.ID]Record, len(records))
	for _, rec := range records {
		k.working[rec.Identity] = rec
	}
	logging.KernelDebug("Working set rehydrated from version %d: %d records", version, len(records))
	return nil
}

// Certify records a certification decision for an identity in the
// working set. A record for an identity that already has one replaces it
// in place; the working set never holds two records for one identity.
func (k *Kernel) Certify(id identity.ID, module string, vp, threshold float64) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("certify: empty identity")
	}
	if module == "" {
		return Record{}, fmt.Errorf("certify: empty module name")
	}
	if vp < 0 {
		return Record{}, fmt.Errorf("certify: negative vp %v", vp)
	}

	rec := Record{
		Identity:  id,
		Module:    module,
		VP:        vp,
		Certified: vp <= threshold,
		UpdatedAt: time.Now().UTC(),
	}

	k.mu.Lock()
	prev, existed := k.working[id]
	k.working[id] = rec
	k.mu.Unlock()

	if existed {
		logging.KernelDebug("Record replaced in place: %s (%s) vp %.4f -> %.4f", id, module, prev.VP, vp)
	}
	logging.Kernel("Certify %s (%s): vp=%.4f threshold=%.4f certified=%v", id, module, vp, threshold, rec.Certified)
	logging.Audit().Certification(string(id), module, vp, rec.Certified)

	return rec, nil
}

// Get returns the live record for an identity.
func (k *Kernel) Get(id identity.ID) (Record, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	rec, ok := k.working[id]
	if !ok {
		return Record{}, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Live returns a copy of the working set, sorted by module then
// identity. Mirrors and the CLI read this; mutating the copy changes
// nothing.
func (k *Kernel) Live() []Record {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]Record, 0, len(k.working))
	for _, rec := range k.working {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// Latest returns the most recent frozen version, 0 when none exists.
func (k *Kernel) Latest() int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.latest
}

// Close closes the underlying database.
func (k *Kernel) Close() error {
	logging.Kernel("Closing certification ledger")
	return k.db.Close()
}

// sortRecords orders by module name, then identity for equal modules.
func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Module != recs[j].Module {
			return recs[i].Module < recs[j].Module
		}
		return recs[i].Identity < recs[j].Identity
	})
}

// isUniqueViolation detects SQLite unique constraint failures across
// driver error formats.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
