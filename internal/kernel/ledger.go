package kernel

import (
	"context"
	"fmt"
	"time"

	"explorer/internal/identity"
	"explorer/internal/logging"
)

// Snapshot freezes the working set as a new immutable version and
// advances the latest pointer, all inside one transaction. Version
// numbers continue from the historical maximum, so versions created
// after a rollback never collide with the ones rolled away from.
func (k *Kernel) Snapshot(ctx context.Context, cycleID, phase string) (int64, error) {
	timer := logging.StartTimer(logging.CategoryKernel, "Snapshot")
	defer timer.Stop()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM versions`,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("allocate version: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (version, cycle_id, phase, created_at) VALUES (?, ?, ?, ?)`,
		version, cycleID, phase, now.Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("insert version %d: %w", version, err)
	}

	// Plain INSERT, never OR REPLACE: a constraint hit here means the
	// one-record-per-identity invariant broke upstream, and silently
	// overwriting would bury a kernel bug.
	for id, rec := range k.working {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (version, identity, module, vp, certified, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			version, string(id), rec.Module, rec.VP, rec.Certified,
			rec.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			if isUniqueViolation(err) {
				logging.KernelError("Dedup invariant violated at version %d, identity %s", version, id)
				logging.Audit().Error(string(logging.CategoryKernel),
					fmt.Errorf("identity %s at version %d: %w", id, version, ErrDuplicateIdentity), true)
				return 0, fmt.Errorf("identity %s at version %d: %w", id, version, ErrDuplicateIdentity)
			}
			return 0, fmt.Errorf("insert record %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO latest (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`,
		version,
	); err != nil {
		return 0, fmt.Errorf("advance latest pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}

	k.latest = version
	logging.Kernel("Snapshot v%d frozen: cycle=%s phase=%s records=%d", version, cycleID, phase, len(k.working))
	logging.Audit().Snapshot(version, len(k.working))
	return version, nil
}

// Rollback repoints the latest pointer at an existing version and
// reloads the working set from it. The abandoned versions stay in
// history untouched. ErrUnknownVersion when the target does not exist;
// nothing changes in that case.
func (k *Kernel) Rollback(ctx context.Context, version int64) error {
	timer := logging.StartTimer(logging.CategoryKernel, "Rollback")
	defer timer.Stop()

	k.mu.Lock()
	defer k.mu.Unlock()

	var exists int
	if err := k.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM versions WHERE version = ?`, version,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check version %d: %w", version, err)
	}
	if exists == 0 {
		logging.KernelDebug("Rollback refused: version %d does not exist", version)
		logging.Audit().Rollback(version, false, ErrUnknownVersion.Error())
		return fmt.Errorf("version %d: %w", version, ErrUnknownVersion)
	}

	records, err := k.readRecords(version)
	if err != nil {
		return err
	}

	if _, err := k.db.ExecContext(ctx,
		`UPDATE latest SET version = ? WHERE id = 1`, version,
	); err != nil {
		return fmt.Errorf("repoint latest to %d: %w", version, err)
	}

	k.latest = version
	k.working = make(map[identity.ID]Record, len(records))
	for _, rec := range records {
		k.working[rec.Identity] = rec
	}

	logging.Kernel("Rolled back to v%d: %d live records", version, len(records))
	logging.Audit().Rollback(version, true, "")
	return nil
}

// Versions lists all frozen versions, oldest first, with record counts.
func (k *Kernel) Versions(ctx context.Context) ([]VersionInfo, error) {
	rows, err := k.db.QueryContext(ctx, `
		SELECT v.version, v.cycle_id, v.phase, v.created_at, COUNT(r.identity)
		FROM versions v
		LEFT JOIN records r ON r.version = v.version
		GROUP BY v.version
		ORDER BY v.version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var infos []VersionInfo
	for rows.Next() {
		var info VersionInfo
		var created string
		if err := rows.Scan(&info.Version, &info.CycleID, &info.Phase, &created, &info.Records); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Records returns the frozen records of one version, sorted.
// ErrUnknownVersion when the version does not exist.
func (k *Kernel) Records(ctx context.Context, version int64) ([]Record, error) {
	var exists int
	if err := k.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM versions WHERE version = ?`, version,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check version %d: %w", version, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("version %d: %w", version, ErrUnknownVersion)
	}
	return k.readRecords(version)
}

// readRecords loads one version's rows. Callers hold whatever lock the
// working set needs; this touches only the database.
func (k *Kernel) readRecords(version int64) ([]Record, error) {
	rows, err := k.db.Query(`
		SELECT identity, module, vp, certified, updated_at
		FROM records WHERE version = ?`, version)
	if err != nil {
		return nil, fmt.Errorf("read records of version %d: %w", version, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var id, updated string
		if err := rows.Scan(&id, &rec.Module, &rec.VP, &rec.Certified, &updated); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.Identity = identity.ID(id)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}
