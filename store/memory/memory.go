// Package memory provides an in-memory consumption.TxStore for tests and
// single-process development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type monthKey struct {
	School generic.SchoolID
	Month  generic.MonthKey
}

type entryKey struct {
	School generic.SchoolID
	Date   string
}

type reportKey struct {
	School generic.SchoolID
	Month  generic.MonthKey
	Kind   consumption.ReportKind
}

type state struct {
	rice        map[monthKey]consumption.RiceConfig
	amount      map[monthKey]consumption.AmountConfig
	months      map[monthKey]consumption.MonthRecord
	entries     map[entryKey]consumption.DailyEntry
	completions []consumption.CompletionSnapshot
	reports     map[reportKey]consumption.ReportSnapshot
	audit       []generic.AuditEntry
}

func newState() state {
	return state{
		rice:    make(map[monthKey]consumption.RiceConfig),
		amount:  make(map[monthKey]consumption.AmountConfig),
		months:  make(map[monthKey]consumption.MonthRecord),
		entries: make(map[entryKey]consumption.DailyEntry),
		reports: make(map[reportKey]consumption.ReportSnapshot),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.rice {
		c.rice[k] = v
	}
	for k, v := range s.amount {
		c.amount[k] = v
	}
	for k, v := range s.months {
		c.months[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	c.completions = append([]consumption.CompletionSnapshot{}, s.completions...)
	c.audit = append([]generic.AuditEntry{}, s.audit...)
	return c
}

// Memory is safe for concurrent use. Every method takes the store mutex.
type Memory struct {
	mu sync.RWMutex
	s  state
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(consumption.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.s.clone()
	if err := fn(&txView{s: &tm.s}); err != nil {
		tm.s = snapshot
		return err
	}
	return nil
}

// txView runs against the parent state while WithTx holds its lock.
type txView struct {
	s *state
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) getRiceConfig(school generic.SchoolID, month generic.MonthKey) *consumption.RiceConfig {
	cfg, ok := s.rice[monthKey{school, month}]
	if !ok {
		return nil
	}
	return &cfg
}

func (s *state) getAmountConfig(school generic.SchoolID, month generic.MonthKey) *consumption.AmountConfig {
	cfg, ok := s.amount[monthKey{school, month}]
	if !ok {
		return nil
	}
	return &cfg
}

func (s *state) getMonth(school generic.SchoolID, month generic.MonthKey) *consumption.MonthRecord {
	rec, ok := s.months[monthKey{school, month}]
	if !ok {
		return nil
	}
	return &rec
}

func (s *state) getEntry(school generic.SchoolID, date generic.TimePoint) *consumption.DailyEntry {
	e, ok := s.entries[entryKey{school, date.String()}]
	if !ok {
		return nil
	}
	return &e
}

func (s *state) listEntries(school generic.SchoolID, month generic.MonthKey) []consumption.DailyEntry {
	var out []consumption.DailyEntry
	for k, e := range s.entries {
		if k.School == school && e.Date.MonthKey() == month {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *state) insertEntry(e consumption.DailyEntry) error {
	k := entryKey{e.School, e.Date.String()}
	if _, ok := s.entries[k]; ok {
		return &generic.DuplicateEntryError{School: e.School, Date: e.Date}
	}
	s.entries[k] = e
	return nil
}

func (s *state) updateEntries(entries []consumption.DailyEntry) error {
	for _, e := range entries {
		if _, ok := s.entries[entryKey{e.School, e.Date.String()}]; !ok {
			return fmt.Errorf("%w: %s %s", generic.ErrEntryNotFound, e.School, e.Date)
		}
	}
	for _, e := range entries {
		s.entries[entryKey{e.School, e.Date.String()}] = e
	}
	return nil
}

func (s *state) deleteEntry(school generic.SchoolID, date generic.TimePoint) error {
	k := entryKey{school, date.String()}
	if _, ok := s.entries[k]; !ok {
		return fmt.Errorf("%w: %s %s", generic.ErrEntryNotFound, school, date)
	}
	delete(s.entries, k)
	return nil
}

func (s *state) listCompletions(school generic.SchoolID, month generic.MonthKey) []consumption.CompletionSnapshot {
	var out []consumption.CompletionSnapshot
	for _, c := range s.completions {
		if c.School == school && c.Month == month {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out
}

func (s *state) latestCompletion(school generic.SchoolID, month generic.MonthKey) *consumption.CompletionSnapshot {
	all := s.listCompletions(school, month)
	if len(all) == 0 {
		return nil
	}
	return &all[len(all)-1]
}

func (s *state) appendCompletion(snap consumption.CompletionSnapshot) error {
	for _, c := range s.completions {
		if c.ID == snap.ID || (c.School == snap.School && c.Month == snap.Month && c.Revision == snap.Revision) {
			return fmt.Errorf("%w: completion %s revision %d", generic.ErrInvalidTransition, snap.Month, snap.Revision)
		}
	}
	s.completions = append(s.completions, snap)
	return nil
}

func (s *state) markCompletionStale(id string) error {
	for i := range s.completions {
		if s.completions[i].ID == id {
			s.completions[i].Stale = true
			return nil
		}
	}
	return fmt.Errorf("%w: completion %s", generic.ErrMonthNotFound, id)
}

func (s *state) saveReport(r consumption.ReportSnapshot) {
	s.reports[reportKey{r.School, r.Month, r.Kind}] = cloneReport(r)
}

func (s *state) getReport(school generic.SchoolID, month generic.MonthKey, kind consumption.ReportKind) *consumption.ReportSnapshot {
	r, ok := s.reports[reportKey{school, month, kind}]
	if !ok {
		return nil
	}
	r = cloneReport(r)
	return &r
}

// cloneReport copies every pointer and slice of r so a stored report cannot
// be changed through a value handed to a caller.
func cloneReport(r consumption.ReportSnapshot) consumption.ReportSnapshot {
	r.Days = append([]byte(nil), r.Days...)
	r.SaltPercentages = clonePtr(r.SaltPercentages)
	r.Totals.Rice = clonePtr(r.Totals.Rice)
	r.Totals.Lifted = clonePtr(r.Totals.Lifted)
	r.Totals.Arranged = clonePtr(r.Totals.Arranged)
	r.Totals.Amount = clonePtr(r.Totals.Amount)
	r.Totals.Categories = clonePtr(r.Totals.Categories)
	r.Totals.Salt = clonePtr(r.Totals.Salt)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (s *state) listAudit(school generic.SchoolID, month generic.MonthKey) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if e.School == school && e.Month == month {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// MEMORY (locking wrappers)
// =============================================================================

func (m *Memory) GetRiceConfig(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.RiceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getRiceConfig(school, month), nil
}

func (m *Memory) SaveRiceConfig(_ context.Context, cfg consumption.RiceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.rice[monthKey{cfg.School, cfg.Month}] = cfg
	return nil
}

func (m *Memory) GetAmountConfig(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.AmountConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getAmountConfig(school, month), nil
}

func (m *Memory) SaveAmountConfig(_ context.Context, cfg consumption.AmountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.amount[monthKey{cfg.School, cfg.Month}] = cfg
	return nil
}

func (m *Memory) GetMonth(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.MonthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getMonth(school, month), nil
}

func (m *Memory) SaveMonth(_ context.Context, rec consumption.MonthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.months[monthKey{rec.School, rec.Month}] = rec
	return nil
}

func (m *Memory) GetEntry(_ context.Context, school generic.SchoolID, date generic.TimePoint) (*consumption.DailyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getEntry(school, date), nil
}

func (m *Memory) ListEntries(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.DailyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listEntries(school, month), nil
}

func (m *Memory) InsertEntry(_ context.Context, e consumption.DailyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.insertEntry(e)
}

func (m *Memory) UpdateEntries(_ context.Context, entries []consumption.DailyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.updateEntries(entries)
}

func (m *Memory) DeleteEntry(_ context.Context, school generic.SchoolID, date generic.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.deleteEntry(school, date)
}

func (m *Memory) AppendCompletion(_ context.Context, snap consumption.CompletionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.appendCompletion(snap)
}

func (m *Memory) LatestCompletion(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.CompletionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.latestCompletion(school, month), nil
}

func (m *Memory) ListCompletions(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.CompletionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listCompletions(school, month), nil
}

func (m *Memory) MarkCompletionStale(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.markCompletionStale(id)
}

func (m *Memory) SaveReport(_ context.Context, r consumption.ReportSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.saveReport(r)
	return nil
}

func (m *Memory) GetReport(_ context.Context, school generic.SchoolID, month generic.MonthKey, kind consumption.ReportKind) (*consumption.ReportSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getReport(school, month, kind), nil
}

func (m *Memory) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.audit = append(m.s.audit, e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listAudit(school, month), nil
}

// =============================================================================
// TX VIEW (lock already held by WithTx)
// =============================================================================

func (v *txView) GetRiceConfig(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.RiceConfig, error) {
	return v.s.getRiceConfig(school, month), nil
}

func (v *txView) SaveRiceConfig(_ context.Context, cfg consumption.RiceConfig) error {
	v.s.rice[monthKey{cfg.School, cfg.Month}] = cfg
	return nil
}

func (v *txView) GetAmountConfig(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.AmountConfig, error) {
	return v.s.getAmountConfig(school, month), nil
}

func (v *txView) SaveAmountConfig(_ context.Context, cfg consumption.AmountConfig) error {
	v.s.amount[monthKey{cfg.School, cfg.Month}] = cfg
	return nil
}

func (v *txView) GetMonth(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.MonthRecord, error) {
	return v.s.getMonth(school, month), nil
}

func (v *txView) SaveMonth(_ context.Context, rec consumption.MonthRecord) error {
	v.s.months[monthKey{rec.School, rec.Month}] = rec
	return nil
}

func (v *txView) GetEntry(_ context.Context, school generic.SchoolID, date generic.TimePoint) (*consumption.DailyEntry, error) {
	return v.s.getEntry(school, date), nil
}

func (v *txView) ListEntries(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.DailyEntry, error) {
	return v.s.listEntries(school, month), nil
}

func (v *txView) InsertEntry(_ context.Context, e consumption.DailyEntry) error {
	return v.s.insertEntry(e)
}

func (v *txView) UpdateEntries(_ context.Context, entries []consumption.DailyEntry) error {
	return v.s.updateEntries(entries)
}

func (v *txView) DeleteEntry(_ context.Context, school generic.SchoolID, date generic.TimePoint) error {
	return v.s.deleteEntry(school, date)
}

func (v *txView) AppendCompletion(_ context.Context, snap consumption.CompletionSnapshot) error {
	return v.s.appendCompletion(snap)
}

func (v *txView) LatestCompletion(_ context.Context, school generic.SchoolID, month generic.MonthKey) (*consumption.CompletionSnapshot, error) {
	return v.s.latestCompletion(school, month), nil
}

func (v *txView) ListCompletions(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]consumption.CompletionSnapshot, error) {
	return v.s.listCompletions(school, month), nil
}

func (v *txView) MarkCompletionStale(_ context.Context, id string) error {
	return v.s.markCompletionStale(id)
}

func (v *txView) SaveReport(_ context.Context, r consumption.ReportSnapshot) error {
	v.s.saveReport(r)
	return nil
}

func (v *txView) GetReport(_ context.Context, school generic.SchoolID, month generic.MonthKey, kind consumption.ReportKind) (*consumption.ReportSnapshot, error) {
	return v.s.getReport(school, month, kind), nil
}

func (v *txView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	v.s.audit = append(v.s.audit, e)
	return nil
}

func (v *txView) ListAudit(_ context.Context, school generic.SchoolID, month generic.MonthKey) ([]generic.AuditEntry, error) {
	return v.s.listAudit(school, month), nil
}

var (
	_ consumption.TxStore = (*TxMemory)(nil)
	_ consumption.Store   = (*txView)(nil)
)
