/*
Package sqlite provides a SQLite-backed consumption.TxStore.

PURPOSE:
  Persists configurations, month records, daily entries, completion
  snapshots, report snapshots and the audit trail. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  rice_configs:         one row per (school, year, month)
  amount_configs:       one row per (school, year, month); rates as JSON
  months:               lifecycle state, lock flag, carried opening
  daily_entries:        one row per (school, date); derived columns are
                        rewritten by every reconciliation
  completion_snapshots: append-only revisions, UNIQUE (school, month, revision)
  reports:              UNIQUE (school, year, month, kind), overwritten on
                        regeneration
  audit_log:            append-only, ordered by seq

NUMBERS:
  Decimals are stored as TEXT (decimal.Decimal.String) so no float rounding
  ever touches stored kg or ₹ values.

CONCURRENCY:
  The pool is limited to one connection. Writes go through WithTx; a
  transaction never reads through the pool, so it cannot deadlock itself.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/mdm.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := consumption.NewService(consumption.ServiceParam{Store: store})

SEE ALSO:
  - consumption/types.go: Store and TxStore contracts
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
)

// Store implements consumption.TxStore using SQLite.
type Store struct {
	db *sql.DB
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db}}
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rice_configs (
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		rate_primary TEXT NOT NULL,
		rate_middle TEXT NOT NULL,
		opening_primary TEXT NOT NULL,
		opening_middle TEXT NOT NULL,
		lifted_primary TEXT NOT NULL,
		lifted_middle TEXT NOT NULL,
		arranged_primary TEXT NOT NULL,
		arranged_middle TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (school_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS amount_configs (
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		primary_json TEXT NOT NULL,
		middle_json TEXT NOT NULL,
		salt_json TEXT NOT NULL,
		confirmed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (school_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS months (
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		state TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		lock_reason TEXT,
		locked_at TEXT,
		rice_config_completed INTEGER NOT NULL DEFAULT 0,
		amount_config_completed INTEGER NOT NULL DEFAULT 0,
		opening_primary TEXT NOT NULL,
		opening_middle TEXT NOT NULL,
		opening_carried INTEGER NOT NULL DEFAULT 0,
		closing_primary TEXT NOT NULL,
		closing_middle TEXT NOT NULL,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (school_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS daily_entries (
		school_id TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		served_primary INTEGER NOT NULL,
		served_middle INTEGER NOT NULL,
		remarks TEXT,
		rice_primary TEXT NOT NULL,
		rice_middle TEXT NOT NULL,
		balance_primary TEXT NOT NULL,
		balance_middle TEXT NOT NULL,
		amount_primary TEXT NOT NULL,
		amount_middle TEXT NOT NULL,
		amount_cumulative TEXT NOT NULL,
		stock_anomaly INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (school_id, entry_date)
	);

	CREATE TABLE IF NOT EXISTS completion_snapshots (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		completed_at TEXT NOT NULL,
		completed_by TEXT,
		notes TEXT,
		opening_primary TEXT NOT NULL,
		opening_middle TEXT NOT NULL,
		closing_primary TEXT NOT NULL,
		closing_middle TEXT NOT NULL,
		closing_amount TEXT NOT NULL,
		days_served INTEGER NOT NULL,
		students_primary INTEGER NOT NULL,
		students_middle INTEGER NOT NULL,
		rice_primary TEXT NOT NULL,
		rice_middle TEXT NOT NULL,
		amount_primary TEXT NOT NULL,
		amount_middle TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		UNIQUE (school_id, year, month, revision)
	);

	CREATE TABLE IF NOT EXISTS reports (
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		kind TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		completion_id TEXT NOT NULL,
		completion_revision INTEGER NOT NULL,
		opening_primary TEXT NOT NULL,
		opening_middle TEXT NOT NULL,
		closing_primary TEXT NOT NULL,
		closing_middle TEXT NOT NULL,
		unit TEXT NOT NULL,
		totals_json TEXT NOT NULL,
		salt_json TEXT,
		days_json TEXT NOT NULL,
		PRIMARY KEY (school_id, year, month, kind)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		school_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		actor TEXT,
		action TEXT NOT NULL,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_school_month
		ON audit_log(school_id, year, month, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (consumption.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store consumption.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements consumption.Store against either the pool or a
// transaction.
type queries struct {
	q querier
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (s queries) GetRiceConfig(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.RiceConfig, error) {
	var (
		cfg       = consumption.RiceConfig{School: school, Month: month}
		cols      [8]string
		updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT rate_primary, rate_middle, opening_primary, opening_middle,
		       lifted_primary, lifted_middle, arranged_primary, arranged_middle, updated_at
		FROM rice_configs WHERE school_id = ? AND year = ? AND month = ?`,
		school, month.Year, int(month.Month),
	).Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &cols[7], &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rice config: %w", err)
	}

	if cfg.Rate, err = parseBySegment(cols[0], cols[1], generic.UnitKilograms); err != nil {
		return nil, err
	}
	if cfg.Opening, err = parseBySegment(cols[2], cols[3], generic.UnitKilograms); err != nil {
		return nil, err
	}
	if cfg.Lifted, err = parseBySegment(cols[4], cols[5], generic.UnitKilograms); err != nil {
		return nil, err
	}
	if cfg.Arranged, err = parseBySegment(cols[6], cols[7], generic.UnitKilograms); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

func (s queries) SaveRiceConfig(ctx context.Context, cfg consumption.RiceConfig) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rice_configs (school_id, year, month, rate_primary, rate_middle,
			opening_primary, opening_middle, lifted_primary, lifted_middle,
			arranged_primary, arranged_middle, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, year, month) DO UPDATE SET
			rate_primary = excluded.rate_primary,
			rate_middle = excluded.rate_middle,
			opening_primary = excluded.opening_primary,
			opening_middle = excluded.opening_middle,
			lifted_primary = excluded.lifted_primary,
			lifted_middle = excluded.lifted_middle,
			arranged_primary = excluded.arranged_primary,
			arranged_middle = excluded.arranged_middle,
			updated_at = excluded.updated_at`,
		cfg.School, cfg.Month.Year, int(cfg.Month.Month),
		cfg.Rate.Primary.Value.String(), cfg.Rate.Middle.Value.String(),
		cfg.Opening.Primary.Value.String(), cfg.Opening.Middle.Value.String(),
		cfg.Lifted.Primary.Value.String(), cfg.Lifted.Middle.Value.String(),
		cfg.Arranged.Primary.Value.String(), cfg.Arranged.Middle.Value.String(),
		formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rice config: %w", err)
	}
	return nil
}

func (s queries) GetAmountConfig(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.AmountConfig, error) {
	var (
		cfg                               = consumption.AmountConfig{School: school, Month: month}
		primaryJSON, middleJSON, saltJSON string
		updatedAt                         string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT primary_json, middle_json, salt_json, confirmed, updated_at
		FROM amount_configs WHERE school_id = ? AND year = ? AND month = ?`,
		school, month.Year, int(month.Month),
	).Scan(&primaryJSON, &middleJSON, &saltJSON, &cfg.Confirmed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get amount config: %w", err)
	}

	if err := json.Unmarshal([]byte(primaryJSON), &cfg.Primary); err != nil {
		return nil, fmt.Errorf("failed to decode primary rates: %w", err)
	}
	if err := json.Unmarshal([]byte(middleJSON), &cfg.Middle); err != nil {
		return nil, fmt.Errorf("failed to decode middle rates: %w", err)
	}
	if err := json.Unmarshal([]byte(saltJSON), &cfg.Salt); err != nil {
		return nil, fmt.Errorf("failed to decode salt percentages: %w", err)
	}
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

func (s queries) SaveAmountConfig(ctx context.Context, cfg consumption.AmountConfig) error {
	primaryJSON, err := json.Marshal(cfg.Primary)
	if err != nil {
		return err
	}
	middleJSON, err := json.Marshal(cfg.Middle)
	if err != nil {
		return err
	}
	saltJSON, err := json.Marshal(cfg.Salt)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO amount_configs (school_id, year, month, primary_json, middle_json, salt_json, confirmed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, year, month) DO UPDATE SET
			primary_json = excluded.primary_json,
			middle_json = excluded.middle_json,
			salt_json = excluded.salt_json,
			confirmed = excluded.confirmed,
			updated_at = excluded.updated_at`,
		cfg.School, cfg.Month.Year, int(cfg.Month.Month),
		string(primaryJSON), string(middleJSON), string(saltJSON),
		cfg.Confirmed, formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save amount config: %w", err)
	}
	return nil
}

// =============================================================================
// MONTH RECORDS
// =============================================================================

func (s queries) GetMonth(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.MonthRecord, error) {
	var (
		rec                          = consumption.MonthRecord{School: school, Month: month}
		state                        string
		lockReason, lockedAt         sql.NullString
		completedAt                  sql.NullString
		openP, openM, closeP, closeM string
		updatedAt                    string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT state, locked, lock_reason, locked_at, rice_config_completed, amount_config_completed,
		       opening_primary, opening_middle, opening_carried, closing_primary, closing_middle,
		       completed_at, updated_at
		FROM months WHERE school_id = ? AND year = ? AND month = ?`,
		school, month.Year, int(month.Month),
	).Scan(&state, &rec.Locked, &lockReason, &lockedAt, &rec.RiceConfigCompleted, &rec.AmountConfigCompleted,
		&openP, &openM, &rec.OpeningCarried, &closeP, &closeM, &completedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get month: %w", err)
	}

	rec.State = consumption.MonthState(state)
	rec.LockReason = lockReason.String
	rec.LockedAt = parseNullTime(lockedAt)
	rec.CompletedAt = parseNullTime(completedAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if rec.Opening, err = parseBySegment(openP, openM, generic.UnitKilograms); err != nil {
		return nil, err
	}
	if rec.Closing, err = parseBySegment(closeP, closeM, generic.UnitKilograms); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s queries) SaveMonth(ctx context.Context, rec consumption.MonthRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO months (school_id, year, month, state, locked, lock_reason, locked_at,
			rice_config_completed, amount_config_completed, opening_primary, opening_middle,
			opening_carried, closing_primary, closing_middle, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, year, month) DO UPDATE SET
			state = excluded.state,
			locked = excluded.locked,
			lock_reason = excluded.lock_reason,
			locked_at = excluded.locked_at,
			rice_config_completed = excluded.rice_config_completed,
			amount_config_completed = excluded.amount_config_completed,
			opening_primary = excluded.opening_primary,
			opening_middle = excluded.opening_middle,
			opening_carried = excluded.opening_carried,
			closing_primary = excluded.closing_primary,
			closing_middle = excluded.closing_middle,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		rec.School, rec.Month.Year, int(rec.Month.Month), string(rec.State),
		rec.Locked, nullString(rec.LockReason), nullTime(rec.LockedAt),
		rec.RiceConfigCompleted, rec.AmountConfigCompleted,
		rec.Opening.Primary.Value.String(), rec.Opening.Middle.Value.String(),
		rec.OpeningCarried,
		rec.Closing.Primary.Value.String(), rec.Closing.Middle.Value.String(),
		nullTime(rec.CompletedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save month: %w", err)
	}
	return nil
}

// =============================================================================
// DAILY ENTRIES
// =============================================================================

const entryColumns = `school_id, entry_date, served_primary, served_middle, remarks,
	rice_primary, rice_middle, balance_primary, balance_middle,
	amount_primary, amount_middle, amount_cumulative, stock_anomaly, created_at, updated_at`

func (s queries) GetEntry(ctx context.Context, school generic.SchoolID, date generic.TimePoint) (*consumption.DailyEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM daily_entries WHERE school_id = ? AND entry_date = ?",
		school, date.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntries returns the month's entries in date order.
func (s queries) ListEntries(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.DailyEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+entryColumns+` FROM daily_entries
		 WHERE school_id = ? AND entry_date >= ? AND entry_date <= ?
		 ORDER BY entry_date ASC`,
		school, month.Start().String(), month.End().String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []consumption.DailyEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s queries) InsertEntry(ctx context.Context, e consumption.DailyEntry) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO daily_entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		entryArgs(e)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateEntryError{School: e.School, Date: e.Date}
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// UpdateEntries rewrites served counts, remarks and derived fields of
// existing entries.
func (s queries) UpdateEntries(ctx context.Context, entries []consumption.DailyEntry) error {
	for _, e := range entries {
		res, err := s.q.ExecContext(ctx, `
			UPDATE daily_entries SET
				served_primary = ?, served_middle = ?, remarks = ?,
				rice_primary = ?, rice_middle = ?, balance_primary = ?, balance_middle = ?,
				amount_primary = ?, amount_middle = ?, amount_cumulative = ?,
				stock_anomaly = ?, updated_at = ?
			WHERE school_id = ? AND entry_date = ?`,
			e.ServedPrimary, e.ServedMiddle, nullString(e.Remarks),
			decimalString(e.RiceConsumed.Primary), decimalString(e.RiceConsumed.Middle),
			decimalString(e.RiceBalanceAfter.Primary), decimalString(e.RiceBalanceAfter.Middle),
			decimalString(e.AmountConsumed.Primary), decimalString(e.AmountConsumed.Middle),
			decimalString(e.AmountCumulative),
			e.StockAnomaly, formatTime(e.UpdatedAt),
			e.School, e.Date.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update entry %s: %w", e.Date, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s %s", generic.ErrEntryNotFound, e.School, e.Date)
		}
	}
	return nil
}

func (s queries) DeleteEntry(ctx context.Context, school generic.SchoolID, date generic.TimePoint) error {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM daily_entries WHERE school_id = ? AND entry_date = ?",
		school, date.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", generic.ErrEntryNotFound, school, date)
	}
	return nil
}

func entryArgs(e consumption.DailyEntry) []any {
	return []any{
		e.School, e.Date.String(), e.ServedPrimary, e.ServedMiddle, nullString(e.Remarks),
		decimalString(e.RiceConsumed.Primary), decimalString(e.RiceConsumed.Middle),
		decimalString(e.RiceBalanceAfter.Primary), decimalString(e.RiceBalanceAfter.Middle),
		decimalString(e.AmountConsumed.Primary), decimalString(e.AmountConsumed.Middle),
		decimalString(e.AmountCumulative),
		e.StockAnomaly, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

func scanEntry(rows *sql.Rows) (consumption.DailyEntry, error) {
	var (
		e                    consumption.DailyEntry
		date                 string
		remarks              sql.NullString
		riceP, riceM         string
		balP, balM           string
		amtP, amtM, amtCum   string
		createdAt, updatedAt string
	)
	err := rows.Scan(&e.School, &date, &e.ServedPrimary, &e.ServedMiddle, &remarks,
		&riceP, &riceM, &balP, &balM, &amtP, &amtM, &amtCum,
		&e.StockAnomaly, &createdAt, &updatedAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	if e.Date, err = generic.ParseDate(date); err != nil {
		return e, err
	}
	e.Remarks = remarks.String
	if e.RiceConsumed, err = parseBySegment(riceP, riceM, generic.UnitKilograms); err != nil {
		return e, err
	}
	if e.RiceBalanceAfter, err = parseBySegment(balP, balM, generic.UnitKilograms); err != nil {
		return e, err
	}
	if e.AmountConsumed, err = parseBySegment(amtP, amtM, generic.UnitRupees); err != nil {
		return e, err
	}
	if e.AmountCumulative, err = parseAmount(amtCum, generic.UnitRupees); err != nil {
		return e, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// COMPLETION SNAPSHOTS (append-only)
// =============================================================================

const completionColumns = `id, school_id, year, month, revision, completed_at, completed_by, notes,
	opening_primary, opening_middle, closing_primary, closing_middle, closing_amount,
	days_served, students_primary, students_middle, rice_primary, rice_middle,
	amount_primary, amount_middle, stale`

func (s queries) AppendCompletion(ctx context.Context, c consumption.CompletionSnapshot) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO completion_snapshots ("+completionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.School, c.Month.Year, int(c.Month.Month), c.Revision,
		formatTime(c.CompletedAt), nullString(c.CompletedBy), nullString(c.Notes),
		decimalString(c.Opening.Primary), decimalString(c.Opening.Middle),
		decimalString(c.ClosingRice.Primary), decimalString(c.ClosingRice.Middle),
		decimalString(c.ClosingAmount),
		c.DaysServed, c.StudentsServed.Primary, c.StudentsServed.Middle,
		decimalString(c.RiceConsumed.Primary), decimalString(c.RiceConsumed.Middle),
		decimalString(c.AmountConsumed.Primary), decimalString(c.AmountConsumed.Middle),
		c.Stale,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: completion %s revision %d exists", generic.ErrInvalidTransition, c.Month, c.Revision)
		}
		return fmt.Errorf("failed to append completion: %w", err)
	}
	return nil
}

func (s queries) LatestCompletion(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.CompletionSnapshot, error) {
	all, err := s.queryCompletions(ctx,
		"SELECT "+completionColumns+` FROM completion_snapshots
		 WHERE school_id = ? AND year = ? AND month = ?
		 ORDER BY revision DESC LIMIT 1`,
		school, month.Year, int(month.Month),
	)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return &all[0], nil
}

func (s queries) ListCompletions(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.CompletionSnapshot, error) {
	return s.queryCompletions(ctx,
		"SELECT "+completionColumns+` FROM completion_snapshots
		 WHERE school_id = ? AND year = ? AND month = ?
		 ORDER BY revision ASC`,
		school, month.Year, int(month.Month),
	)
}

// MarkCompletionStale is the only update ever applied to a completion row.
func (s queries) MarkCompletionStale(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "UPDATE completion_snapshots SET stale = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark completion stale: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: completion %s", generic.ErrMonthNotFound, id)
	}
	return nil
}

func (s queries) queryCompletions(ctx context.Context, query string, args ...any) ([]consumption.CompletionSnapshot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []consumption.CompletionSnapshot
	for rows.Next() {
		var (
			c                      consumption.CompletionSnapshot
			year, month            int
			completedAt            string
			completedBy, notes     sql.NullString
			openP, openM           string
			closeP, closeM, closeA string
			riceP, riceM           string
			amtP, amtM             string
		)
		err := rows.Scan(&c.ID, &c.School, &year, &month, &c.Revision, &completedAt, &completedBy, &notes,
			&openP, &openM, &closeP, &closeM, &closeA,
			&c.DaysServed, &c.StudentsServed.Primary, &c.StudentsServed.Middle,
			&riceP, &riceM, &amtP, &amtM, &c.Stale)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		c.Month = generic.NewMonthKey(year, time.Month(month))
		c.CompletedAt = parseTime(completedAt)
		c.CompletedBy = completedBy.String
		c.Notes = notes.String
		if c.Opening, err = parseBySegment(openP, openM, generic.UnitKilograms); err != nil {
			return nil, err
		}
		if c.ClosingRice, err = parseBySegment(closeP, closeM, generic.UnitKilograms); err != nil {
			return nil, err
		}
		if c.ClosingAmount, err = parseAmount(closeA, generic.UnitRupees); err != nil {
			return nil, err
		}
		if c.RiceConsumed, err = parseBySegment(riceP, riceM, generic.UnitKilograms); err != nil {
			return nil, err
		}
		if c.AmountConsumed, err = parseBySegment(amtP, amtM, generic.UnitRupees); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// REPORT SNAPSHOTS
// =============================================================================

// SaveReport upserts by (school, month, kind).
func (s queries) SaveReport(ctx context.Context, r consumption.ReportSnapshot) error {
	totalsJSON, err := json.Marshal(r.Totals)
	if err != nil {
		return fmt.Errorf("failed to encode report totals: %w", err)
	}
	var saltJSON sql.NullString
	if r.SaltPercentages != nil {
		b, err := json.Marshal(r.SaltPercentages)
		if err != nil {
			return fmt.Errorf("failed to encode salt percentages: %w", err)
		}
		saltJSON = sql.NullString{String: string(b), Valid: true}
	}
	days := string(r.Days)
	if days == "" {
		days = "[]"
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO reports (school_id, year, month, kind, generated_at, completion_id, completion_revision,
			opening_primary, opening_middle, closing_primary, closing_middle, unit,
			totals_json, salt_json, days_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, year, month, kind) DO UPDATE SET
			generated_at = excluded.generated_at,
			completion_id = excluded.completion_id,
			completion_revision = excluded.completion_revision,
			opening_primary = excluded.opening_primary,
			opening_middle = excluded.opening_middle,
			closing_primary = excluded.closing_primary,
			closing_middle = excluded.closing_middle,
			unit = excluded.unit,
			totals_json = excluded.totals_json,
			salt_json = excluded.salt_json,
			days_json = excluded.days_json`,
		r.School, r.Month.Year, int(r.Month.Month), string(r.Kind), formatTime(r.GeneratedAt),
		r.CompletionID, r.CompletionRevision,
		decimalString(r.Opening.Primary), decimalString(r.Opening.Middle),
		decimalString(r.Closing.Primary), decimalString(r.Closing.Middle),
		string(r.Closing.Primary.Unit),
		string(totalsJSON), saltJSON, days,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (s queries) GetReport(ctx context.Context, school generic.SchoolID, month generic.MonthKey, kind consumption.ReportKind) (*consumption.ReportSnapshot, error) {
	var (
		r                            = consumption.ReportSnapshot{School: school, Month: month, Kind: kind}
		generatedAt                  string
		openP, openM, closeP, closeM string
		unit                         string
		totalsJSON, days             string
		saltJSON                     sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT generated_at, completion_id, completion_revision,
		       opening_primary, opening_middle, closing_primary, closing_middle, unit,
		       totals_json, salt_json, days_json
		FROM reports WHERE school_id = ? AND year = ? AND month = ? AND kind = ?`,
		school, month.Year, int(month.Month), string(kind),
	).Scan(&generatedAt, &r.CompletionID, &r.CompletionRevision,
		&openP, &openM, &closeP, &closeM, &unit, &totalsJSON, &saltJSON, &days)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	r.GeneratedAt = parseTime(generatedAt)
	if r.Opening, err = parseBySegment(openP, openM, generic.Unit(unit)); err != nil {
		return nil, err
	}
	if r.Closing, err = parseBySegment(closeP, closeM, generic.Unit(unit)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(totalsJSON), &r.Totals); err != nil {
		return nil, fmt.Errorf("failed to decode report totals: %w", err)
	}
	if saltJSON.Valid {
		var salt consumption.SaltPercentages
		if err := json.Unmarshal([]byte(saltJSON.String), &salt); err != nil {
			return nil, fmt.Errorf("failed to decode salt percentages: %w", err)
		}
		r.SaltPercentages = &salt
	}
	r.Days = json.RawMessage(days)
	return &r, nil
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

func (s queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, school_id, year, month, actor, action, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), e.School, e.Month.Year, int(e.Month.Month),
		nullString(e.Actor), string(e.Action), nullString(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s queries) ListAudit(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]generic.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, at, actor, action, detail FROM audit_log
		WHERE school_id = ? AND year = ? AND month = ?
		ORDER BY seq ASC`,
		school, month.Year, int(month.Month),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e             = generic.AuditEntry{School: school, Month: month}
			at, action    string
			actor, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &actor, &action, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = parseTime(at)
		e.Actor = actor.String
		e.Action = generic.AuditAction(action)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func decimalString(a generic.Amount) string {
	return a.Value.String()
}

func parseAmount(value string, unit generic.Unit) (generic.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("failed to parse stored decimal %q: %w", value, err)
	}
	return generic.NewAmountFromDecimal(d, unit), nil
}

func parseBySegment(primary, middle string, unit generic.Unit) (generic.BySegment, error) {
	p, err := parseAmount(primary, unit)
	if err != nil {
		return generic.BySegment{}, err
	}
	m, err := parseAmount(middle, unit)
	if err != nil {
		return generic.BySegment{}, err
	}
	return generic.BySegment{Primary: p, Middle: m}, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ consumption.TxStore = (*Store)(nil)
	_ consumption.Store   = queries{}
)
