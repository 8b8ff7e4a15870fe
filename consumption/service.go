/*
service.go - Engine facade

PURPOSE:
  Exposes the ledger operations to collaborators (HTTP API, dashboards,
  report rendering) and owns the cross-cutting rules:
    - single writer per (school, month), via generic.Locker
    - every write and its reconciliation commit atomically, via TxStore
    - structured logging, metrics and audit entries

REQUEST FLOW (write):
  1. Validate input
  2. Acquire the month lock(s), ascending month order
  3. In one store transaction: guard lifecycle, check configuration, write,
     replay the month
  4. Release, then log anomalies

Reconciliation is synchronous: a write returns only after its month has
been replayed. There is no background recomputation.

SEE ALSO:
  - reconcile.go, allocation.go, lifecycle.go, report.go: pure engine parts
  - store/sqlite, store/memory: TxStore implementations
*/
package consumption

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/meal-ledger/generic"
	"github.com/warp/meal-ledger/observability"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   TxStore
	locker  generic.Locker
	clock   generic.Clock
	log     *zap.Logger
	metrics *observability.Metrics
}

// ServiceParam wires the service's collaborators. Only Store is required.
type ServiceParam struct {
	Store   TxStore
	Locker  generic.Locker
	Clock   generic.Clock
	Log     *zap.Logger
	Metrics *observability.Metrics
}

func NewService(p ServiceParam) *Service {
	s := &Service{
		store:   p.Store,
		locker:  p.Locker,
		clock:   p.Clock,
		log:     p.Log,
		metrics: p.Metrics,
	}
	if s.locker == nil {
		s.locker = generic.NewKeyedMutex()
	}
	if s.clock == nil {
		s.clock = generic.SystemClock{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Clock returns the service's clock, used by callers for current-month defaults.
func (s *Service) Clock() generic.Clock { return s.clock }

func (s *Service) now(ctx context.Context) time.Time { return s.clock.Now(ctx).UTC() }

// withMonths holds the locks of every given month while fn runs. Months must
// be passed in ascending order so concurrent callers cannot deadlock.
func (s *Service) withMonths(ctx context.Context, school generic.SchoolID, months []generic.MonthKey, fn func() error) error {
	var releases []func(context.Context) error
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](context.Background()); err != nil {
				s.log.Warn("release month lock", zap.String("school", string(school)), zap.Error(err))
			}
		}
	}()
	for _, m := range months {
		release, err := s.locker.Acquire(ctx, generic.MonthLockKey(school, m))
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}
	return fn()
}

func (s *Service) loadMonth(ctx context.Context, tx Store, school generic.SchoolID, month generic.MonthKey) (MonthRecord, error) {
	rec, err := tx.GetMonth(ctx, school, month)
	if err != nil {
		return MonthRecord{}, err
	}
	if rec == nil {
		return newMonthRecord(school, month, s.now(ctx)), nil
	}
	return *rec, nil
}

func loadConfigs(ctx context.Context, tx Store, school generic.SchoolID, month generic.MonthKey) (*RiceConfig, *AmountConfig, error) {
	rice, err := tx.GetRiceConfig(ctx, school, month)
	if err != nil {
		return nil, nil, err
	}
	amount, err := tx.GetAmountConfig(ctx, school, month)
	if err != nil {
		return nil, nil, err
	}
	return rice, amount, nil
}

func (s *Service) audit(ctx context.Context, tx Store, school generic.SchoolID, month generic.MonthKey, actor string, action generic.AuditAction, detail string) error {
	return tx.AppendAudit(ctx, generic.AuditEntry{
		ID:     uuid.NewString(),
		At:     s.now(ctx),
		School: school,
		Month:  month,
		Actor:  actor,
		Action: action,
		Detail: detail,
	})
}

// reconcileTx replays the month inside tx and persists the derived fields
// and the month record. rice must not be nil.
func (s *Service) reconcileTx(ctx context.Context, tx Store, rec *MonthRecord, rice *RiceConfig, amount *AmountConfig) (*ReconcileResult, error) {
	start := time.Now()
	res, err := s.replay(ctx, tx, rec, rice, amount)
	s.metrics.ObserveReconcile(err, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.log.Debug("month reconciled",
		zap.String("school", string(rec.School)),
		zap.String("month", rec.Month.String()),
		zap.Int("entries", len(res.Entries)),
		zap.String("closing_kg", res.Closing.Total().Value.String()),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (s *Service) replay(ctx context.Context, tx Store, rec *MonthRecord, rice *RiceConfig, amount *AmountConfig) (*ReconcileResult, error) {
	entries, err := tx.ListEntries(ctx, rec.School, rec.Month)
	if err != nil {
		return nil, err
	}
	var amt *AmountConfig
	if amount != nil && amount.Confirmed {
		amt = amount
	}
	res := Reconcile(ReconcileInput{
		Available: rec.available(rice),
		Rate:      rice.Rate,
		Amount:    amt,
		Entries:   entries,
	})
	if len(res.Entries) > 0 {
		if err := tx.UpdateEntries(ctx, res.Entries); err != nil {
			return nil, err
		}
	}
	if !rec.OpeningCarried {
		rec.Opening = kg(rice.Opening)
	}
	rec.UpdatedAt = s.now(ctx)
	if err := tx.SaveMonth(ctx, *rec); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) reportAnomalies(school generic.SchoolID, anomalies []generic.NegativeStockAnomaly) {
	for _, a := range anomalies {
		s.metrics.NegativeStock(string(a.Segment))
		s.log.Warn("negative stock anomaly, balance clamped to zero",
			zap.String("school", string(school)),
			zap.String("date", a.Date.String()),
			zap.String("segment", string(a.Segment)),
			zap.String("available_kg", a.Available.Value.String()),
			zap.String("required_kg", a.Required.Value.String()),
			zap.String("shortfall_kg", a.Shortfall.Value.String()),
		)
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile replays a month on demand. It fails if the month is locked or
// completed, or if no rice configuration exists.
func (s *Service) Reconcile(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*ReconcileResult, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	var res *ReconcileResult
	err := s.withMonths(ctx, school, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, school, month)
			if err != nil {
				return err
			}
			if err := rec.guardWritable(); err != nil {
				return err
			}
			rice, amount, err := loadConfigs(ctx, tx, school, month)
			if err != nil {
				return err
			}
			if rice == nil {
				return &generic.ConfigurationIncompleteError{School: school, Month: month, Missing: []string{"rice configuration"}}
			}
			res, err = s.reconcileTx(ctx, tx, &rec, rice, amount)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.reportAnomalies(school, res.Anomalies)
	return res, nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SaveRiceConfig creates or replaces the month's rice configuration and
// re-runs reconciliation if the month has entries.
func (s *Service) SaveRiceConfig(ctx context.Context, cfg RiceConfig, actor string) (*RiceConfig, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var anomalies []generic.NegativeStockAnomaly
	err := s.withMonths(ctx, cfg.School, []generic.MonthKey{cfg.Month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, cfg.School, cfg.Month)
			if err != nil {
				return err
			}
			if err := rec.guardWritable(); err != nil {
				return err
			}
			cfg.UpdatedAt = s.now(ctx)
			if err := tx.SaveRiceConfig(ctx, cfg); err != nil {
				return err
			}
			rec.RiceConfigCompleted = true

			amount, err := tx.GetAmountConfig(ctx, cfg.School, cfg.Month)
			if err != nil {
				return err
			}
			res, err := s.reconcileTx(ctx, tx, &rec, &cfg, amount)
			if err != nil {
				return err
			}
			anomalies = res.Anomalies
			return s.audit(ctx, tx, cfg.School, cfg.Month, actor, generic.AuditConfigSaved, "rice")
		})
	})
	if err != nil {
		return nil, err
	}
	s.reportAnomalies(cfg.School, anomalies)
	return &cfg, nil
}

// SaveAmountConfig creates or replaces the month's amount configuration.
// A configuration whose salt percentages do not sum to 100 is stored as an
// unconfirmed draft while the month has no entries; once entries exist it is
// rejected with a ConfigurationIncompleteError.
func (s *Service) SaveAmountConfig(ctx context.Context, cfg AmountConfig, actor string) (*AmountConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Confirmed = cfg.Salt.Valid()

	var anomalies []generic.NegativeStockAnomaly
	err := s.withMonths(ctx, cfg.School, []generic.MonthKey{cfg.Month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, cfg.School, cfg.Month)
			if err != nil {
				return err
			}
			if err := rec.guardWritable(); err != nil {
				return err
			}
			entries, err := tx.ListEntries(ctx, cfg.School, cfg.Month)
			if err != nil {
				return err
			}
			if !cfg.Confirmed && len(entries) > 0 {
				if perr := cfg.Check(); perr != nil {
					return perr
				}
			}
			cfg.UpdatedAt = s.now(ctx)
			if err := tx.SaveAmountConfig(ctx, cfg); err != nil {
				return err
			}
			rec.AmountConfigCompleted = cfg.Confirmed

			rice, err := tx.GetRiceConfig(ctx, cfg.School, cfg.Month)
			if err != nil {
				return err
			}
			if rice != nil {
				res, err := s.reconcileTx(ctx, tx, &rec, rice, &cfg)
				if err != nil {
					return err
				}
				anomalies = res.Anomalies
			} else {
				rec.UpdatedAt = s.now(ctx)
				if err := tx.SaveMonth(ctx, rec); err != nil {
					return err
				}
			}
			return s.audit(ctx, tx, cfg.School, cfg.Month, actor, generic.AuditConfigSaved, "amount")
		})
	})
	if err != nil {
		return nil, err
	}
	s.reportAnomalies(cfg.School, anomalies)
	return &cfg, nil
}

// GetConfig returns the month's configurations; either may be nil.
func (s *Service) GetConfig(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*RiceConfig, *AmountConfig, error) {
	if err := validateKey(school, month); err != nil {
		return nil, nil, err
	}
	return loadConfigs(ctx, s.store, school, month)
}

// =============================================================================
// DAILY ENTRIES
// =============================================================================

// EntryInput is a daily entry write from a school user.
type EntryInput struct {
	School        generic.SchoolID
	Date          generic.TimePoint
	ServedPrimary int
	ServedMiddle  int
	Remarks       string
}

func (in EntryInput) validate() error {
	if in.School == "" {
		return fmt.Errorf("%w: school is required", generic.ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date is required", generic.ErrInvalidInput)
	}
	if in.ServedPrimary < 0 || in.ServedMiddle < 0 {
		return fmt.Errorf("%w: served counts must not be negative", generic.ErrInvalidInput)
	}
	return nil
}

// EntryResult is the saved entry with its freshly derived values, plus any
// stock anomalies found on that day.
type EntryResult struct {
	Entry     DailyEntry
	Anomalies []generic.NegativeStockAnomaly
}

func (r EntryResult) RiceConsumed() generic.Amount     { return r.Entry.RiceConsumedTotal() }
func (r EntryResult) RiceBalanceAfter() generic.Amount { return r.Entry.RiceBalanceAfterTotal() }
func (r EntryResult) AmountConsumed() generic.Amount   { return r.Entry.AmountConsumedTotal() }

type writeMode int

const (
	modeCreate writeMode = iota
	modeUpdate
	modeUpsert
)

// CreateDailyEntry fails with a DuplicateEntryError if the day exists.
func (s *Service) CreateDailyEntry(ctx context.Context, in EntryInput) (*EntryResult, error) {
	return s.writeEntry(ctx, in, modeCreate)
}

// UpdateDailyEntry fails with ErrEntryNotFound if the day does not exist.
func (s *Service) UpdateDailyEntry(ctx context.Context, in EntryInput) (*EntryResult, error) {
	return s.writeEntry(ctx, in, modeUpdate)
}

// CreateOrUpdateDailyEntry upserts the day.
func (s *Service) CreateOrUpdateDailyEntry(ctx context.Context, in EntryInput) (*EntryResult, error) {
	return s.writeEntry(ctx, in, modeUpsert)
}

func (s *Service) writeEntry(ctx context.Context, in EntryInput, mode writeMode) (*EntryResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	month := in.Date.MonthKey()

	var res *ReconcileResult
	err := s.withMonths(ctx, in.School, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, in.School, month)
			if err != nil {
				return err
			}
			if err := rec.guardWritable(); err != nil {
				return err
			}
			rice, amount, err := loadConfigs(ctx, tx, in.School, month)
			if err != nil {
				return err
			}
			if err := requireConfigs(in.School, month, rice, amount); err != nil {
				return err
			}

			existing, err := tx.GetEntry(ctx, in.School, in.Date)
			if err != nil {
				return err
			}
			now := s.now(ctx)
			switch {
			case existing != nil && mode == modeCreate:
				return &generic.DuplicateEntryError{School: in.School, Date: in.Date}
			case existing == nil && mode == modeUpdate:
				return fmt.Errorf("%w: %s", generic.ErrEntryNotFound, in.Date)
			case existing == nil:
				err = tx.InsertEntry(ctx, DailyEntry{
					School:        in.School,
					Date:          in.Date,
					ServedPrimary: in.ServedPrimary,
					ServedMiddle:  in.ServedMiddle,
					Remarks:       in.Remarks,
					CreatedAt:     now,
					UpdatedAt:     now,
				})
			default:
				e := *existing
				e.ServedPrimary = in.ServedPrimary
				e.ServedMiddle = in.ServedMiddle
				e.Remarks = in.Remarks
				e.UpdatedAt = now
				err = tx.UpdateEntries(ctx, []DailyEntry{e})
			}
			if err != nil {
				return err
			}

			res, err = s.reconcileTx(ctx, tx, &rec, rice, amount)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.reportAnomalies(in.School, res.Anomalies)

	entry, ok := res.Entry(in.Date)
	if !ok {
		return nil, fmt.Errorf("%w: %s missing after reconciliation", generic.ErrEntryNotFound, in.Date)
	}
	return &EntryResult{Entry: entry, Anomalies: res.AnomaliesOn(in.Date)}, nil
}

// DeleteDailyEntry removes a day and replays the remaining entries.
func (s *Service) DeleteDailyEntry(ctx context.Context, school generic.SchoolID, date generic.TimePoint) (*ReconcileResult, error) {
	if school == "" || date.IsZero() {
		return nil, fmt.Errorf("%w: school and date are required", generic.ErrInvalidInput)
	}
	month := date.MonthKey()

	var res *ReconcileResult
	err := s.withMonths(ctx, school, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, school, month)
			if err != nil {
				return err
			}
			if err := rec.guardWritable(); err != nil {
				return err
			}
			if err := tx.DeleteEntry(ctx, school, date); err != nil {
				return err
			}
			rice, amount, err := loadConfigs(ctx, tx, school, month)
			if err != nil {
				return err
			}
			if rice == nil {
				return &generic.ConfigurationIncompleteError{School: school, Month: month, Missing: []string{"rice configuration"}}
			}
			res, err = s.reconcileTx(ctx, tx, &rec, rice, amount)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.reportAnomalies(school, res.Anomalies)
	return res, nil
}

// =============================================================================
// MONTH LIFECYCLE
// =============================================================================

// CompleteInput is a request to complete a month.
type CompleteInput struct {
	School      generic.SchoolID
	Month       generic.MonthKey
	CompletedBy string
	Notes       string
}

// CompleteMonth freezes the month's closing balances into a new Completion
// Snapshot revision and carries the closing rice balance forward as the
// next month's opening. If the next month is open and configured it is
// reconciled against the new opening; a completed next month only has its
// opening replaced and keeps its entries until it is reopened.
func (s *Service) CompleteMonth(ctx context.Context, in CompleteInput) (*CompletionSnapshot, error) {
	if err := validateKey(in.School, in.Month); err != nil {
		return nil, err
	}
	next := in.Month.Next()

	var (
		snap      CompletionSnapshot
		anomalies []generic.NegativeStockAnomaly
		nextState MonthState
	)
	err := s.withMonths(ctx, in.School, []generic.MonthKey{in.Month, next}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := s.loadMonth(ctx, tx, in.School, in.Month)
			if err != nil {
				return err
			}
			if err := rec.guardComplete(); err != nil {
				return err
			}
			rice, amount, err := loadConfigs(ctx, tx, in.School, in.Month)
			if err != nil {
				return err
			}
			if err := requireConfigs(in.School, in.Month, rice, amount); err != nil {
				return err
			}
			res, err := s.reconcileTx(ctx, tx, &rec, rice, amount)
			if err != nil {
				return err
			}
			if len(res.Entries) == 0 {
				return fmt.Errorf("%w: %s %s", generic.ErrNoEntries, in.School, in.Month)
			}
			anomalies = res.Anomalies

			nextRec, err := s.loadMonth(ctx, tx, in.School, next)
			if err != nil {
				return err
			}
			if nextRec.Locked {
				return nextRec.lockedError()
			}

			revision := 1
			latest, err := tx.LatestCompletion(ctx, in.School, in.Month)
			if err != nil {
				return err
			}
			if latest != nil {
				revision = latest.Revision + 1
			}

			now := s.now(ctx)
			days, students := countTotals(res.Entries)
			snap = CompletionSnapshot{
				ID:             uuid.NewString(),
				School:         in.School,
				Month:          in.Month,
				Revision:       revision,
				CompletedAt:    now,
				CompletedBy:    in.CompletedBy,
				Notes:          in.Notes,
				Opening:        res.Available,
				ClosingRice:    res.Closing,
				ClosingAmount:  res.Cumulative,
				DaysServed:     days,
				StudentsServed: students,
				RiceConsumed:   res.Rice,
				AmountConsumed: res.Amount,
			}
			if err := tx.AppendCompletion(ctx, snap); err != nil {
				return err
			}
			rec.complete(res.Closing, now)
			if err := tx.SaveMonth(ctx, rec); err != nil {
				return err
			}
			if err := s.audit(ctx, tx, in.School, in.Month, in.CompletedBy, generic.AuditMonthCompleted,
				fmt.Sprintf("revision %d", revision)); err != nil {
				return err
			}

			carryInto(&nextRec, res.Closing, now)
			nextState = nextRec.State
			if err := s.settleNextMonth(ctx, tx, &nextRec); err != nil {
				return err
			}
			return s.audit(ctx, tx, in.School, next, in.CompletedBy, generic.AuditOpeningCarried,
				fmt.Sprintf("from %s: primary %s kg, middle %s kg", in.Month, res.Closing.Primary.Value, res.Closing.Middle.Value))
		})
	})
	if err != nil {
		return nil, err
	}

	s.reportAnomalies(in.School, anomalies)
	s.metrics.Transition("complete")
	s.log.Info("month completed",
		zap.String("school", string(in.School)),
		zap.String("month", in.Month.String()),
		zap.Int("revision", snap.Revision),
		zap.String("closing_primary_kg", snap.ClosingRice.Primary.Value.String()),
		zap.String("closing_middle_kg", snap.ClosingRice.Middle.Value.String()),
		zap.String("completed_by", in.CompletedBy),
	)
	if nextState == MonthCompleted {
		s.log.Warn("opening carried into a completed month; reopen and complete it to apply",
			zap.String("school", string(in.School)),
			zap.String("month", next.String()),
		)
	}
	return &snap, nil
}

// settleNextMonth persists a carried-forward opening and, when the month is
// open and has a rice configuration, replays it against the new opening.
func (s *Service) settleNextMonth(ctx context.Context, tx Store, next *MonthRecord) error {
	if next.State == MonthOpen {
		rice, amount, err := loadConfigs(ctx, tx, next.School, next.Month)
		if err != nil {
			return err
		}
		if rice != nil {
			_, err := s.reconcileTx(ctx, tx, next, rice, amount)
			return err
		}
	}
	return tx.SaveMonth(ctx, *next)
}

// ReopenMonth moves a completed month back to open and marks its latest
// Completion Snapshot stale. The opening already carried into the next month
// is left as is.
func (s *Service) ReopenMonth(ctx context.Context, school generic.SchoolID, month generic.MonthKey, actor, reason string) (*MonthRecord, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	var rec MonthRecord
	err := s.withMonths(ctx, school, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			stored, err := tx.GetMonth(ctx, school, month)
			if err != nil {
				return err
			}
			if stored == nil {
				return fmt.Errorf("%w: %s %s", generic.ErrMonthNotFound, school, month)
			}
			rec = *stored
			if err := rec.guardReopen(); err != nil {
				return err
			}
			latest, err := tx.LatestCompletion(ctx, school, month)
			if err != nil {
				return err
			}
			if latest != nil {
				if err := tx.MarkCompletionStale(ctx, latest.ID); err != nil {
					return err
				}
			}
			rec.reopen(s.now(ctx))
			if err := tx.SaveMonth(ctx, rec); err != nil {
				return err
			}
			return s.audit(ctx, tx, school, month, actor, generic.AuditMonthReopened, reason)
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition("reopen")
	s.log.Info("month reopened",
		zap.String("school", string(school)),
		zap.String("month", month.String()),
		zap.String("actor", actor),
	)
	return &rec, nil
}

// ToggleLock sets or clears the month's lock flag. Locking an already locked
// month replaces the reason.
func (s *Service) ToggleLock(ctx context.Context, school generic.SchoolID, month generic.MonthKey, lock bool, reason, actor string) (*MonthRecord, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	var rec MonthRecord
	err := s.withMonths(ctx, school, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			var err error
			rec, err = s.loadMonth(ctx, tx, school, month)
			if err != nil {
				return err
			}
			rec.setLock(lock, reason, s.now(ctx))
			if err := tx.SaveMonth(ctx, rec); err != nil {
				return err
			}
			action := generic.AuditMonthUnlocked
			if lock {
				action = generic.AuditMonthLocked
			}
			return s.audit(ctx, tx, school, month, actor, action, reason)
		})
	})
	if err != nil {
		return nil, err
	}
	transition := "unlock"
	if lock {
		transition = "lock"
	}
	s.metrics.Transition(transition)
	s.log.Info("month lock toggled",
		zap.String("school", string(school)),
		zap.String("month", month.String()),
		zap.Bool("locked", lock),
		zap.String("reason", reason),
	)
	return &rec, nil
}

// ListCompletions returns every Completion Snapshot revision, oldest first.
func (s *Service) ListCompletions(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]CompletionSnapshot, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	return s.store.ListCompletions(ctx, school, month)
}

// ListAudit returns the month's audit trail, oldest first.
func (s *Service) ListAudit(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]generic.AuditEntry, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, school, month)
}

// =============================================================================
// REPORTS
// =============================================================================

// GenerateReport builds the month's report of the given kind from current
// data and overwrites any stored report for the same key.
func (s *Service) GenerateReport(ctx context.Context, school generic.SchoolID, month generic.MonthKey, kind ReportKind, actor string) (*ReportSnapshot, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown report kind %q", generic.ErrInvalidInput, kind)
	}
	var report ReportSnapshot
	err := s.withMonths(ctx, school, []generic.MonthKey{month}, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			rec, err := tx.GetMonth(ctx, school, month)
			if err != nil {
				return err
			}
			if rec == nil {
				return &generic.StaleReportError{School: school, Month: month, State: "not started"}
			}
			if rec.State != MonthCompleted {
				return &generic.StaleReportError{School: school, Month: month, State: string(rec.State)}
			}
			completion, err := tx.LatestCompletion(ctx, school, month)
			if err != nil {
				return err
			}
			if completion == nil || completion.Stale {
				return &generic.StaleReportError{School: school, Month: month, State: "stale"}
			}
			entries, err := tx.ListEntries(ctx, school, month)
			if err != nil {
				return err
			}
			rice, amount, err := loadConfigs(ctx, tx, school, month)
			if err != nil {
				return err
			}
			report, err = BuildReport(kind, ReportInput{
				Completion:  *completion,
				Entries:     entries,
				Rice:        rice,
				Amount:      amount,
				GeneratedAt: s.now(ctx),
			})
			if err != nil {
				return err
			}
			if err := tx.SaveReport(ctx, report); err != nil {
				return err
			}
			return s.audit(ctx, tx, school, month, actor, generic.AuditReportGenerated, string(kind))
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ReportGenerated(string(kind))
	s.log.Info("report generated",
		zap.String("school", string(school)),
		zap.String("month", month.String()),
		zap.String("kind", string(kind)),
		zap.Int("completion_revision", report.CompletionRevision),
	)
	return &report, nil
}

// GetReport returns the stored report without recomputing it.
func (s *Service) GetReport(ctx context.Context, school generic.SchoolID, month generic.MonthKey, kind ReportKind) (*ReportSnapshot, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	r, err := s.store.GetReport(ctx, school, month, kind)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s %s %s", generic.ErrReportNotFound, school, month, kind)
	}
	return r, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// MonthSummary is the dashboard view of a month.
type MonthSummary struct {
	School generic.SchoolID
	Month  generic.MonthKey
	State  MonthState

	Locked     bool
	LockReason string

	RiceConfigured  bool
	AmountConfirmed bool

	Opening generic.BySegment
	Closing generic.BySegment
	Totals  SummaryTotals

	// Live salt split from the current amount configuration; nil when the
	// configuration is missing or unconfirmed.
	Salt *SegmentSaltSplit

	Days       []DailyEntry
	Completion *CompletionSnapshot
}

type SummaryTotals struct {
	DaysServed int
	Students   StudentCounts
	Rice       generic.BySegment
	Amount     generic.BySegment
	Cumulative generic.Amount
}

// GetMonthSummary reads the month as last reconciled. It never writes.
func (s *Service) GetMonthSummary(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*MonthSummary, error) {
	if err := validateKey(school, month); err != nil {
		return nil, err
	}
	rec, err := s.loadMonth(ctx, s.store, school, month)
	if err != nil {
		return nil, err
	}
	rice, amount, err := loadConfigs(ctx, s.store, school, month)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, school, month)
	if err != nil {
		return nil, err
	}
	completion, err := s.store.LatestCompletion(ctx, school, month)
	if err != nil {
		return nil, err
	}

	sum := &MonthSummary{
		School:          school,
		Month:           month,
		State:           rec.State,
		Locked:          rec.Locked,
		LockReason:      rec.LockReason,
		RiceConfigured:  rice != nil,
		AmountConfirmed: amount != nil && amount.Confirmed,
		Opening:         rec.available(rice),
		Days:            entries,
		Completion:      completion,
		Totals: SummaryTotals{
			Rice:       generic.NewBySegment(generic.UnitKilograms),
			Amount:     generic.NewBySegment(generic.UnitRupees),
			Cumulative: generic.ZeroAmount(generic.UnitRupees),
		},
	}
	sum.Closing = sum.Opening
	if n := len(entries); n > 0 {
		sum.Closing = entries[n-1].RiceBalanceAfter
		sum.Totals.Cumulative = entries[n-1].AmountCumulative
	}
	sum.Totals.DaysServed, sum.Totals.Students = countTotals(entries)

	var categories Allocation
	for _, e := range entries {
		sum.Totals.Rice = sum.Totals.Rice.Add(e.RiceConsumed)
		sum.Totals.Amount = sum.Totals.Amount.Add(e.AmountConsumed)
		if sum.AmountConfirmed {
			categories = categories.Add(allocate(e.ServedPrimary, e.ServedMiddle, *amount))
		}
	}
	if sum.AmountConfirmed {
		split := SplitAllocationSalt(categories, amount.Salt)
		sum.Salt = &split
	}
	return sum, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateKey(school generic.SchoolID, month generic.MonthKey) error {
	if school == "" {
		return fmt.Errorf("%w: school is required", generic.ErrInvalidInput)
	}
	if !month.Valid() {
		return fmt.Errorf("%w: invalid month %s", generic.ErrInvalidInput, month)
	}
	return nil
}
