/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements identity.Store, ledger.Store, and review.Store over SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  identities:   Canonical employee records (optimistic version column)
  aliases:      Normalized spoken-name keys, PRIMARY KEY enforces
                one-owner-per-key at the database level
  entries:      Append-only payroll ledger, UNIQUE idempotency key
  review_items: Pending and resolved human decisions

ATOMIC WRITE CONTRACTS:
  CreateIdentity: identity + seed aliases in one transaction; any seed
                  collision rolls everything back
  UpdateIdentity: UPDATE ... WHERE version = ? (version CAS)
  Merge:          version-guarded tombstone + alias re-point in one tx
  Supersede:      status flip + replacement insert in one tx
  The entries table sees no UPDATE outside status fields and no DELETE.

WAL MODE:
  Opened with WAL so readers don't block the single writer.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - identity/store.go, ledger/store.go, review/store.go: Contracts
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/review"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops all stored data. Only demo scenario loading uses it;
// nothing in the request path does.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"review_items", "entries", "aliases", "identities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Canonical employee identities
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL,
		canonical_name_lower TEXT NOT NULL,
		employee_number TEXT NOT NULL DEFAULT '',
		hourly_rate TEXT,
		overtime_rate TEXT,
		status TEXT NOT NULL,
		merged_into TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_identities_name
		ON identities(canonical_name_lower);
	CREATE INDEX IF NOT EXISTS idx_identities_number
		ON identities(employee_number) WHERE employee_number != '';
	CREATE INDEX IF NOT EXISTS idx_identities_status
		ON identities(status);

	-- Alias bindings: the PRIMARY KEY is the uniqueness guard the
	-- concurrent-creation race safety is built on.
	CREATE TABLE IF NOT EXISTS aliases (
		key TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_aliases_identity
		ON aliases(identity_id);

	-- Payroll ledger (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		report_id TEXT NOT NULL,
		identity_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		date TEXT NOT NULL,
		seq INTEGER NOT NULL,
		regular_hours TEXT NOT NULL,
		overtime_hours TEXT NOT NULL,
		doubletime_hours TEXT NOT NULL,
		activities_json TEXT,
		rate_hourly TEXT NOT NULL,
		rate_overtime TEXT NOT NULL,
		total_pay TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT NOT NULL DEFAULT '',
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT NOT NULL DEFAULT '',
		original_entry_id TEXT NOT NULL DEFAULT '',
		correction_reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		status_changed_by TEXT NOT NULL DEFAULT '',
		status_changed_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_entries_report
		ON entries(report_id);
	CREATE INDEX IF NOT EXISTS idx_entries_identity_date
		ON entries(identity_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_project_date
		ON entries(project_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_date
		ON entries(date);

	-- Review queue
	CREATE TABLE IF NOT EXISTS review_items (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		spoken_name TEXT NOT NULL,
		candidates_json TEXT,
		report_id TEXT NOT NULL DEFAULT '',
		entry_id TEXT NOT NULL DEFAULT '',
		tuple_json TEXT,
		status TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		resolved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_review_items_status
		ON review_items(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// IDENTITY STORE (identity.Store interface)
// =============================================================================

const identityColumns = `id, canonical_name, employee_number, hourly_rate, overtime_rate,
	status, merged_into, version, created_at, updated_at`

func (s *Store) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id = ?", id)
	ident, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, identity.ErrIdentityNotFound
	}
	return ident, err
}

func (s *Store) FindByCanonicalName(ctx context.Context, name string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities
		 WHERE canonical_name_lower = lower(?) AND status != 'merged'
		 ORDER BY updated_at DESC LIMIT 1`, name)
	return noRowsIsNil(scanIdentity(row))
}

func (s *Store) FindByAlias(ctx context.Context, key string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+qualifiedIdentityColumns("i")+`
		 FROM aliases a JOIN identities i ON i.id = a.identity_id
		 WHERE a.key = ? AND i.status != 'merged'`, key)
	return noRowsIsNil(scanIdentity(row))
}

func (s *Store) FindByEmployeeNumber(ctx context.Context, number string) (*identity.Identity, error) {
	if number == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities
		 WHERE employee_number = ? AND status != 'merged' LIMIT 1`, number)
	return noRowsIsNil(scanIdentity(row))
}

func (s *Store) ListLive(ctx context.Context) ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryIdentities(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE status != 'merged' ORDER BY id")
}

func (s *Store) ListActive(ctx context.Context) ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryIdentities(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE status = 'active' ORDER BY id")
}

func (s *Store) ListAliases(ctx context.Context) ([]identity.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAliases(ctx,
		`SELECT a.key, a.identity_id, a.created_at
		 FROM aliases a JOIN identities i ON i.id = a.identity_id
		 WHERE i.status != 'merged'
		 ORDER BY a.key`)
}

func (s *Store) AliasesFor(ctx context.Context, identityID string) ([]identity.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAliases(ctx,
		"SELECT key, identity_id, created_at FROM aliases WHERE identity_id = ? ORDER BY key",
		identityID)
}

func (s *Store) CreateIdentity(ctx context.Context, ident *identity.Identity, aliasKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check every seed key before writing anything (all-or-nothing).
	for _, key := range aliasKeys {
		if err := s.aliasFree(ctx, tx, key, ident.ID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities
		 (id, canonical_name, canonical_name_lower, employee_number, hourly_rate, overtime_rate,
		  status, merged_into, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		ident.CanonicalName,
		strings.ToLower(ident.CanonicalName),
		ident.EmployeeNumber,
		nullDecimal(ident.HourlyRate),
		nullDecimal(ident.OvertimeRate),
		string(ident.Status),
		ident.MergedInto,
		ident.Version,
		ident.CreatedAt.Format(time.RFC3339Nano),
		ident.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, key := range aliasKeys {
		if err := upsertAlias(ctx, tx, key, ident.ID, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) BindAlias(ctx context.Context, identityID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM identities WHERE id = ?", identityID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return identity.ErrIdentityNotFound
	}
	if err := s.aliasFree(ctx, s.db, key, identityID); err != nil {
		return err
	}
	return upsertAlias(ctx, s.db, key, identityID, time.Now().UTC().Format(time.RFC3339Nano))
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// aliasFree returns an AliasCollisionError if key is bound to a live
// identity other than selfID. Bindings left on merged tombstones never
// block; they get overwritten.
func (s *Store) aliasFree(ctx context.Context, q querier, key, selfID string) error {
	var ownerID string
	err := q.QueryRowContext(ctx,
		`SELECT a.identity_id
		 FROM aliases a JOIN identities i ON i.id = a.identity_id
		 WHERE a.key = ? AND i.status != 'merged'`, key).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if ownerID == selfID {
		return nil
	}
	return &identity.AliasCollisionError{Key: key, ExistingID: ownerID}
}

func upsertAlias(ctx context.Context, db execer, key, identityID, now string) error {
	// The caller has verified the key is free or stale; a conflict here
	// can only be a same-identity re-bind or a stale binding takeover.
	_, err := db.ExecContext(ctx,
		`INSERT INTO aliases (key, identity_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			identity_id = excluded.identity_id`,
		key, identityID, now)
	if err != nil {
		return fmt.Errorf("failed to bind alias: %w", err)
	}
	return nil
}

func (s *Store) UpdateIdentity(ctx context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET
			canonical_name = ?,
			canonical_name_lower = ?,
			employee_number = ?,
			hourly_rate = ?,
			overtime_rate = ?,
			status = ?,
			merged_into = ?,
			version = version + 1,
			updated_at = ?
		 WHERE id = ? AND version = ?`,
		ident.CanonicalName,
		strings.ToLower(ident.CanonicalName),
		ident.EmployeeNumber,
		nullDecimal(ident.HourlyRate),
		nullDecimal(ident.OvertimeRate),
		string(ident.Status),
		ident.MergedInto,
		time.Now().UTC().Format(time.RFC3339Nano),
		ident.ID,
		ident.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return s.versionGuard(ctx, res, ident.ID)
}

func (s *Store) Merge(ctx context.Context, sourceID, targetID string, sourceVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var targetStatus string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM identities WHERE id = ?", targetID).Scan(&targetStatus)
	if err == sql.ErrNoRows {
		return identity.ErrIdentityNotFound
	}
	if err != nil {
		return err
	}
	if targetStatus == string(identity.StatusMerged) {
		return identity.ErrTargetMerged
	}

	var sourceStatus string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM identities WHERE id = ?", sourceID).Scan(&sourceStatus)
	if err == sql.ErrNoRows {
		return identity.ErrIdentityNotFound
	}
	if err != nil {
		return err
	}
	if sourceStatus == string(identity.StatusMerged) {
		return identity.ErrAlreadyMerged
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE identities SET
			status = 'merged',
			merged_into = ?,
			version = version + 1,
			updated_at = ?
		 WHERE id = ? AND version = ?`,
		targetID, time.Now().UTC().Format(time.RFC3339Nano), sourceID, sourceVersion)
	if err != nil {
		return fmt.Errorf("failed to tombstone identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrConcurrentModification
	}

	// Re-point every alias of the source at the target.
	if _, err := tx.ExecContext(ctx,
		"UPDATE aliases SET identity_id = ? WHERE identity_id = ?", targetID, sourceID); err != nil {
		return fmt.Errorf("failed to re-point aliases: %w", err)
	}
	return tx.Commit()
}

// versionGuard maps a zero-row UPDATE to the right error: the row is
// missing, or the version check lost a race.
func (s *Store) versionGuard(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM identities WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return identity.ErrIdentityNotFound
	}
	return identity.ErrConcurrentModification
}

func (s *Store) queryIdentities(ctx context.Context, query string, args ...any) ([]*identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var out []*identity.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

func (s *Store) queryAliases(ctx context.Context, query string, args ...any) ([]identity.Alias, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	var out []identity.Alias
	for rows.Next() {
		var a identity.Alias
		var createdAt string
		if err := rows.Scan(&a.Key, &a.IdentityID, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanIdentity(row rowScanner) (*identity.Identity, error) {
	var (
		ident                identity.Identity
		hourlyRate           sql.NullString
		overtimeRate         sql.NullString
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&ident.ID, &ident.CanonicalName, &ident.EmployeeNumber,
		&hourlyRate, &overtimeRate, &status, &ident.MergedInto,
		&ident.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ident.Status = identity.Status(status)
	ident.HourlyRate = parseNullDecimal(hourlyRate)
	ident.OvertimeRate = parseNullDecimal(overtimeRate)
	ident.CreatedAt = parseTime(createdAt)
	ident.UpdatedAt = parseTime(updatedAt)
	return &ident, nil
}

func qualifiedIdentityColumns(alias string) string {
	cols := strings.Split(identityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

const entryColumns = `id, report_id, identity_id, project_id, date, seq,
	regular_hours, overtime_hours, doubletime_hours, activities_json,
	rate_hourly, rate_overtime, total_pay,
	status, status_reason, needs_review, review_reason,
	original_entry_id, correction_reason,
	created_at, status_changed_by, status_changed_at`

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry, idemKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryTx(ctx, s.db, e, idemKey)
}

func (s *Store) appendEntryTx(ctx context.Context, db execer, e *ledger.Entry, idemKey string) error {
	activitiesJSON, _ := json.Marshal(e.Activities)

	_, err := db.ExecContext(ctx,
		`INSERT INTO entries
		 (id, report_id, identity_id, project_id, date, seq,
		  regular_hours, overtime_hours, doubletime_hours, activities_json,
		  rate_hourly, rate_overtime, total_pay,
		  status, status_reason, needs_review, review_reason,
		  original_entry_id, correction_reason,
		  idempotency_key, created_at, status_changed_by, status_changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReportID, e.IdentityID, e.ProjectID,
		e.Date.Format(time.RFC3339), e.Seq,
		e.Hours.Regular.String(), e.Hours.Overtime.String(), e.Hours.Doubletime.String(),
		string(activitiesJSON),
		e.Rate.Hourly.String(), e.Rate.Overtime.String(), e.TotalPay.String(),
		string(e.Status), e.StatusReason, e.NeedsReview, e.ReviewReason,
		e.OriginalEntryID, e.CorrectionReason,
		nullString(idemKey),
		e.CreatedAt.Format(time.RFC3339Nano),
		e.StatusChangedBy,
		formatTimeOrEmpty(e.StatusChangedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) FindByIdemKey(ctx context.Context, idemKey string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE idempotency_key = ?", idemKey)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to ledger.EntryStatus, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkStatus(ctx, tx, id, from); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET status = ?, status_reason = ?, status_changed_by = ?, status_changed_at = ?
		 WHERE id = ?`,
		string(to), reason, actor, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Supersede(ctx context.Context, originalID string, replacement *ledger.Entry, replacementKey, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM entries WHERE id = ?", originalID).Scan(&status)
	if err == sql.ErrNoRows {
		return ledger.ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	switch ledger.EntryStatus(status) {
	case ledger.StatusSuperseded:
		return ledger.ErrAlreadySuperseded
	case ledger.StatusRejected:
		return ledger.ErrEntryRejected
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET status = 'superseded', status_changed_by = ?, status_changed_at = ?
		 WHERE id = ?`,
		actor, time.Now().UTC().Format(time.RFC3339Nano), originalID)
	if err != nil {
		return fmt.Errorf("failed to supersede entry: %w", err)
	}
	if err := s.appendEntryTx(ctx, tx, replacement, replacementKey); err != nil {
		return err
	}
	return tx.Commit()
}

// checkStatus maps the stored status against the expected one.
func checkStatus(ctx context.Context, q querier, id string, from ledger.EntryStatus) error {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM entries WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ledger.ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	if ledger.EntryStatus(status) == ledger.StatusSuperseded {
		return ledger.ErrAlreadySuperseded
	}
	if ledger.EntryStatus(status) != from {
		return ledger.ErrNotPending
	}
	return nil
}

func (s *Store) EntriesByReport(ctx context.Context, reportID string) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE report_id = ?
		 ORDER BY identity_id ASC, seq ASC, created_at ASC`, reportID)
}

func (s *Store) EntriesByIdentity(ctx context.Context, identityID string, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE identity_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC`,
		identityID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) EntriesByProject(ctx context.Context, projectID string, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE project_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC`,
		projectID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) EntriesInRange(ctx context.Context, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC`,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) IdentityIDsForProject(ctx context.Context, projectID string, since, until time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT identity_id FROM entries
		 WHERE project_id = ? AND date >= ? AND date <= ?
		 ORDER BY identity_id ASC`,
		projectID, since.Format(time.RFC3339), until.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query project identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e                                        ledger.Entry
		date, regular, overtime, doubletime      string
		activitiesJSON                           sql.NullString
		rateHourly, rateOvertime, totalPay       string
		status                                   string
		createdAt, statusChangedAt               string
	)
	err := row.Scan(
		&e.ID, &e.ReportID, &e.IdentityID, &e.ProjectID, &date, &e.Seq,
		&regular, &overtime, &doubletime, &activitiesJSON,
		&rateHourly, &rateOvertime, &totalPay,
		&status, &e.StatusReason, &e.NeedsReview, &e.ReviewReason,
		&e.OriginalEntryID, &e.CorrectionReason,
		&createdAt, &e.StatusChangedBy, &statusChangedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Date = parseTime(date)
	e.Hours = ledger.Hours{
		Regular:    parseDecimal(regular),
		Overtime:   parseDecimal(overtime),
		Doubletime: parseDecimal(doubletime),
	}
	e.Rate = ledger.RateSnapshot{
		Hourly:   parseDecimal(rateHourly),
		Overtime: parseDecimal(rateOvertime),
	}
	e.TotalPay = parseDecimal(totalPay)
	e.Status = ledger.EntryStatus(status)
	e.CreatedAt = parseTime(createdAt)
	if statusChangedAt != "" {
		e.StatusChangedAt = parseTime(statusChangedAt)
	}
	if activitiesJSON.Valid && activitiesJSON.String != "" {
		json.Unmarshal([]byte(activitiesJSON.String), &e.Activities)
	}
	return &e, nil
}

// =============================================================================
// REVIEW STORE (review.Store interface)
// =============================================================================

const itemColumns = `id, subject, spoken_name, candidates_json, report_id, entry_id,
	tuple_json, status, resolution, resolved_by, resolved_at, created_at`

func (s *Store) AddItem(ctx context.Context, item *review.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidatesJSON, _ := json.Marshal(item.Candidates)
	var tupleJSON sql.NullString
	if item.Tuple != nil {
		b, _ := json.Marshal(item.Tuple)
		tupleJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_items
		 (id, subject, spoken_name, candidates_json, report_id, entry_id,
		  tuple_json, status, resolution, resolved_by, resolved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Subject), item.SpokenName, string(candidatesJSON),
		item.ReportID, item.EntryID, tupleJSON,
		string(item.Status), item.Resolution, item.ResolvedBy,
		nullTime(item.ResolvedAt),
		item.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*review.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM review_items WHERE id = ?", id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, review.ErrItemNotFound
	}
	return item, err
}

func (s *Store) ListItems(ctx context.Context, openOnly bool) ([]*review.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + itemColumns + " FROM review_items"
	var args []any
	if openOnly {
		query += " WHERE status = ?"
		args = append(args, string(review.StatusOpen))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	var out []*review.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) CloseItem(ctx context.Context, id, resolution, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE review_items SET status = ?, resolution = ?, resolved_by = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(review.StatusResolved), resolution, actor,
		time.Now().UTC().Format(time.RFC3339Nano),
		id, string(review.StatusOpen))
	if err != nil {
		return fmt.Errorf("failed to close review item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM review_items WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return review.ErrItemNotFound
	}
	return review.ErrAlreadyResolved
}

func scanItem(row rowScanner) (*review.Item, error) {
	var (
		item                       review.Item
		subject, status            string
		candidatesJSON, tupleJSON  sql.NullString
		resolvedAt                 sql.NullString
		createdAt                  string
	)
	err := row.Scan(
		&item.ID, &subject, &item.SpokenName, &candidatesJSON,
		&item.ReportID, &item.EntryID, &tupleJSON,
		&status, &item.Resolution, &item.ResolvedBy, &resolvedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	item.Subject = review.Subject(subject)
	item.Status = review.Status(status)
	item.CreatedAt = parseTime(createdAt)
	if candidatesJSON.Valid && candidatesJSON.String != "" {
		json.Unmarshal([]byte(candidatesJSON.String), &item.Candidates)
	}
	if tupleJSON.Valid && tupleJSON.String != "" {
		var t review.PendingTuple
		if json.Unmarshal([]byte(tupleJSON.String), &t) == nil {
			item.Tuple = &t
		}
	}
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		item.ResolvedAt = &t
	}
	return &item, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d := parseDecimal(s.String)
	return &d
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// noRowsIsNil converts sql.ErrNoRows into a (nil, nil) miss for the
// Find* lookups, which report "not found" as a nil identity.
func noRowsIsNil(ident *identity.Identity, err error) (*identity.Identity, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ident, err
}
