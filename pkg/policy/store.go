package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists policy records, their bounded history, and the audit log
// using the global connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a policy Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LoadCurrent returns the current PolicyRecord for tenantID, or
// pgx.ErrNoRows if none is stored yet.
func (s *Store) LoadCurrent(ctx context.Context, tenantID string) (PolicyRecord, error) {
	const query = `SELECT policy_json, version, fingerprint, created_at, updated_at
	               FROM policy_records WHERE tenant_id = $1`
	row := s.pool.QueryRow(ctx, query, tenantID)
	return scanRecord(row)
}

// SaveCurrent upserts the current record for tenantID and pushes the
// previous current record (if any) into history, trimming history to
// maxHistory entries.
func (s *Store) SaveCurrent(ctx context.Context, tenantID string, rec PolicyRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning policy save transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := scanRecord(tx.QueryRow(ctx,
		`SELECT policy_json, version, fingerprint, created_at, updated_at FROM policy_records WHERE tenant_id = $1`,
		tenantID))
	if err == nil {
		if archiveErr := archiveHistory(ctx, tx, tenantID, prev); archiveErr != nil {
			return archiveErr
		}
	} else if err != pgx.ErrNoRows {
		return fmt.Errorf("loading previous policy record: %w", err)
	}

	policyJSON, err := json.Marshal(rec.Policy)
	if err != nil {
		return fmt.Errorf("marshalling policy: %w", err)
	}

	const upsert = `
	INSERT INTO policy_records (tenant_id, policy_json, version, fingerprint, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (tenant_id) DO UPDATE SET
		policy_json = EXCLUDED.policy_json,
		version = EXCLUDED.version,
		fingerprint = EXCLUDED.fingerprint,
		updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, tenantID, policyJSON, rec.Version, rec.Fingerprint, rec.CreatedAt, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upserting policy record: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM policy_history WHERE tenant_id = $1 AND version NOT IN (
			SELECT version FROM policy_history WHERE tenant_id = $1 ORDER BY version DESC LIMIT $2
		)`, tenantID, maxHistory); err != nil {
		return fmt.Errorf("trimming policy history: %w", err)
	}

	return tx.Commit(ctx)
}

func archiveHistory(ctx context.Context, tx pgx.Tx, tenantID string, rec PolicyRecord) error {
	policyJSON, err := json.Marshal(rec.Policy)
	if err != nil {
		return fmt.Errorf("marshalling archived policy: %w", err)
	}
	const insert = `INSERT INTO policy_history (tenant_id, policy_json, version, fingerprint, created_at)
	                VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, tenantID, policyJSON, rec.Version, rec.Fingerprint, rec.CreatedAt); err != nil {
		return fmt.Errorf("archiving policy history: %w", err)
	}
	return nil
}

// Delete removes a tenant's current policy record (history and audit
// entries are left in place, matching the audit log's append-only nature).
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policy_records WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("deleting policy record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// History returns up to maxHistory prior versions for tenantID, most
// recent first.
func (s *Store) History(ctx context.Context, tenantID string) ([]PolicyRecord, error) {
	const query = `SELECT policy_json, version, fingerprint, created_at, created_at
	               FROM policy_history WHERE tenant_id = $1 ORDER BY version DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, tenantID, maxHistory)
	if err != nil {
		return nil, fmt.Errorf("listing policy history: %w", err)
	}
	defer rows.Close()

	var out []PolicyRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (PolicyRecord, error) {
	var policyJSON []byte
	var rec PolicyRecord
	if err := row.Scan(&policyJSON, &rec.Version, &rec.Fingerprint, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return PolicyRecord{}, err
	}
	if err := json.Unmarshal(policyJSON, &rec.Policy); err != nil {
		return PolicyRecord{}, fmt.Errorf("unmarshalling policy: %w", err)
	}
	return rec, nil
}

func scanRecordRow(rows pgx.Rows) (PolicyRecord, error) {
	var policyJSON []byte
	var rec PolicyRecord
	if err := rows.Scan(&policyJSON, &rec.Version, &rec.Fingerprint, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return PolicyRecord{}, fmt.Errorf("scanning policy history row: %w", err)
	}
	if err := json.Unmarshal(policyJSON, &rec.Policy); err != nil {
		return PolicyRecord{}, fmt.Errorf("unmarshalling archived policy: %w", err)
	}
	return rec, nil
}

// AuditRow is a persisted audit entry with its database identity.
type AuditRow struct {
	ID        int64
	TenantID  string
	Action    string
	Timestamp time.Time
	Details   string
}

// InsertAuditEntries appends entries and trims the table to the most
// recent maxAuditLog rows globally (FIFO eviction), matching §4.4.
func (s *Store) InsertAuditEntries(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning audit insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO policy_audit_log (tenant_id, action, "timestamp", details) VALUES ($1, $2, $3, $4)`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insert, e.TenantID, e.Action, e.Timestamp, e.Details)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting audit entries: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM policy_audit_log WHERE id NOT IN (
			SELECT id FROM policy_audit_log ORDER BY id DESC LIMIT $1
		)`, maxAuditLog); err != nil {
		return fmt.Errorf("trimming audit log: %w", err)
	}

	return tx.Commit(ctx)
}

// AuditLog returns the most recent audit entries, newest first, bounded by
// limit (0 means maxAuditLog).
func (s *Store) AuditLog(ctx context.Context, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = maxAuditLog
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, action, "timestamp", details FROM policy_audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Action, &r.Timestamp, &r.Details); err != nil {
			return nil, fmt.Errorf("scanning audit log row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
