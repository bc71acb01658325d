// Package store holds the canonical record set for a reconciliation
// run. The run is the single source of truth: the matcher, the
// threshold reclassifier and the adjudicator mutate it through the
// operations below, presentation layers only read snapshots.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-reconciliation-backend/internal/models"
)

// ErrNotFound reports a record id that does not resolve within the run.
type ErrNotFound struct {
	RecordID uuid.UUID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("record %s not found", e.RecordID)
}

// ReconciliationRun owns the full record set for one bank/ledger pair.
//
// At most one structural mutation (match commit, threshold change,
// adjudication) is in flight at a time; concurrent readers always see
// the state before or entirely after a mutation, never a half-applied
// pairing.
type ReconciliationRun struct {
	id        uuid.UUID
	createdAt time.Time

	mu        sync.RWMutex
	records   map[uuid.UUID]*models.TransactionRecord
	order     []uuid.UUID
	threshold int
}

// NewRun creates an empty run with the given confidence threshold.
func NewRun(threshold int) *ReconciliationRun {
	return &ReconciliationRun{
		id:        uuid.New(),
		createdAt: time.Now(),
		records:   make(map[uuid.UUID]*models.TransactionRecord),
		threshold: threshold,
	}
}

func (r *ReconciliationRun) ID() uuid.UUID {
	return r.id
}

func (r *ReconciliationRun) CreatedAt() time.Time {
	return r.createdAt
}

// Threshold returns the current confidence threshold.
func (r *ReconciliationRun) Threshold() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threshold
}

// normalizeDate truncates to a calendar date; no time-of-day is kept.
func normalizeDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddRecords bulk-creates records from normalized input and assigns
// stable ids. All records start unmatched.
func (r *ReconciliationRun) AddRecords(in []models.NormalizedTransaction) ([]models.TransactionRecord, error) {
	for _, nt := range in {
		if !nt.Source.Valid() {
			return nil, &models.ContractViolationError{
				Reason: fmt.Sprintf("unknown source %q in normalized input", nt.Source),
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	created := make([]models.TransactionRecord, 0, len(in))
	now := time.Now()
	for _, nt := range in {
		rec := &models.TransactionRecord{
			ID:          uuid.New(),
			Date:        normalizeDate(nt.Date),
			Description: nt.Description,
			Amount:      nt.Amount,
			Source:      nt.Source,
			Category:    nt.Category,
			Status:      models.StatusUnmatched,
			CreatedAt:   now,
		}
		r.records[rec.ID] = rec
		r.order = append(r.order, rec.ID)
		created = append(created, *rec)
	}
	return created, nil
}

// Get returns a copy of one record.
func (r *ReconciliationRun) Get(id uuid.UUID) (models.TransactionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return models.TransactionRecord{}, false
	}
	return *rec, true
}

// Filter selects records for the listing endpoints.
type Filter struct {
	Status models.Status
	Source models.Source
	Search string
}

func (f Filter) matches(rec *models.TransactionRecord) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(rec.Description), q) &&
			!strings.Contains(rec.Amount.String(), f.Search) &&
			!strings.Contains(rec.Date.Format("2006-01-02"), f.Search) {
			return false
		}
	}
	return true
}

// List returns copies of matching records in insertion order.
func (r *ReconciliationRun) List(f Filter) []models.TransactionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TransactionRecord, 0, len(r.order))
	for _, id := range r.order {
		rec := r.records[id]
		if f.matches(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// UnmatchedBySource snapshots the current matching pool, split by feed.
func (r *ReconciliationRun) UnmatchedBySource() (bank, ledger []models.TransactionRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		rec := r.records[id]
		if rec.Status != models.StatusUnmatched {
			continue
		}
		if rec.Source == models.SourceBank {
			bank = append(bank, *rec)
		} else {
			ledger = append(ledger, *rec)
		}
	}
	return bank, ledger
}

// Pairing is one committed matcher result.
type Pairing struct {
	BankID     uuid.UUID
	LedgerID   uuid.UUID
	Confidence int
}

// CommitPairings applies matcher results in order. A pairing whose
// endpoints are no longer both unmatched is skipped, which keeps the
// matcher idempotent over already-paired records. Returns the number of
// pairings applied.
func (r *ReconciliationRun) CommitPairings(pairings []Pairing) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for _, p := range pairings {
		bank, ok := r.records[p.BankID]
		if !ok || bank.Status != models.StatusUnmatched {
			continue
		}
		ledger, ok := r.records[p.LedgerID]
		if !ok || ledger.Status != models.StatusUnmatched {
			continue
		}

		status := models.StatusReview
		if p.Confidence >= r.threshold {
			status = models.StatusMatched
		}
		conf := p.Confidence
		r.pair(bank, ledger, conf, status)
		applied++
	}
	return applied
}

// pair links both records. Caller holds the write lock.
func (r *ReconciliationRun) pair(a, b *models.TransactionRecord, confidence int, status models.Status) {
	aID, bID := a.ID, b.ID
	confA, confB := confidence, confidence
	a.MatchID = &bID
	b.MatchID = &aID
	a.Confidence = &confA
	b.Confidence = &confB
	a.Status = status
	b.Status = status
}

// unpair clears both sides. Caller holds the write lock.
func (r *ReconciliationRun) unpair(a, b *models.TransactionRecord) {
	a.MatchID, b.MatchID = nil, nil
	a.Confidence, b.Confidence = nil, nil
	a.Status = models.StatusUnmatched
	b.Status = models.StatusUnmatched
}

// ApplyThreshold re-derives matched vs review for every paired record
// under the new threshold. Pure reclassification: matchId and confidence
// are never touched, unmatched records are never touched. Idempotent.
func (r *ReconciliationRun) ApplyThreshold(newThreshold int) error {
	if newThreshold < 0 || newThreshold > 100 {
		return &models.ConfigurationError{
			Field:  "confidence_threshold",
			Reason: fmt.Sprintf("must be between 0 and 100, got %d", newThreshold),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.threshold = newThreshold
	for _, rec := range r.records {
		if rec.Confidence == nil {
			continue
		}
		if *rec.Confidence >= newThreshold {
			rec.Status = models.StatusMatched
		} else {
			rec.Status = models.StatusReview
		}
	}
	return nil
}

// counterpart resolves the paired record, or reports why it cannot.
// Caller holds the write lock.
func (r *ReconciliationRun) counterpart(op string, rec *models.TransactionRecord) (*models.TransactionRecord, error) {
	if rec.MatchID == nil {
		return nil, &models.InvalidOperationError{
			Op:       op,
			RecordID: rec.ID,
			Status:   rec.Status,
			Reason:   "record has no candidate pairing",
		}
	}
	other, ok := r.records[*rec.MatchID]
	if !ok {
		return nil, &models.ContractViolationError{
			Reason: fmt.Sprintf("record %s references missing counterpart %s", rec.ID, *rec.MatchID),
		}
	}
	return other, nil
}

// Confirm finalizes a proposed pairing. A human confirmation is
// authoritative: both records get confidence 100 and status matched,
// regardless of the computed score.
func (r *ReconciliationRun) Confirm(id uuid.UUID) (models.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return models.TransactionRecord{}, &ErrNotFound{RecordID: id}
	}
	other, err := r.counterpart("confirm", rec)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	r.pair(rec, other, 100, models.StatusMatched)
	return *rec, nil
}

// Reject dissolves a proposed pairing and returns both records to the
// matching pool, indistinguishable from never-matched records.
func (r *ReconciliationRun) Reject(id uuid.UUID) (models.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return models.TransactionRecord{}, &ErrNotFound{RecordID: id}
	}
	other, err := r.counterpart("reject", rec)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	r.unpair(rec, other)
	return *rec, nil
}

// ManualLink pairs two unmatched records of opposite sources at full
// confidence. All-or-nothing: any precondition failure leaves both
// records untouched.
func (r *ReconciliationRun) ManualLink(bankID, ledgerID uuid.UUID) (models.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bank, ok := r.records[bankID]
	if !ok {
		return models.TransactionRecord{}, &ErrNotFound{RecordID: bankID}
	}
	ledger, ok := r.records[ledgerID]
	if !ok {
		return models.TransactionRecord{}, &ErrNotFound{RecordID: ledgerID}
	}

	if bank.ID == ledger.ID {
		return models.TransactionRecord{}, &models.InvalidOperationError{
			Op:       "manual_link",
			RecordID: bank.ID,
			Status:   bank.Status,
			Reason:   "cannot link a record to itself",
		}
	}
	if bank.Source == ledger.Source {
		return models.TransactionRecord{}, &models.InvalidOperationError{
			Op:       "manual_link",
			RecordID: bank.ID,
			Status:   bank.Status,
			Reason:   fmt.Sprintf("both records are %s-sourced; links must cross sources", bank.Source),
		}
	}
	for _, rec := range []*models.TransactionRecord{bank, ledger} {
		if rec.Status != models.StatusUnmatched {
			return models.TransactionRecord{}, &models.InvalidOperationError{
				Op:       "manual_link",
				RecordID: rec.ID,
				Status:   rec.Status,
				Reason:   "record is already paired",
			}
		}
	}

	r.pair(bank, ledger, 100, models.StatusMatched)
	return *bank, nil
}

// BulkConfirm confirms every pairing currently in review. Returns the
// number of pairs confirmed.
func (r *ReconciliationRun) BulkConfirm() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pairs := 0
	for _, id := range r.order {
		rec := r.records[id]
		if rec.Status != models.StatusReview || rec.Source != models.SourceBank || rec.MatchID == nil {
			continue
		}
		other, ok := r.records[*rec.MatchID]
		if !ok {
			continue
		}
		r.pair(rec, other, 100, models.StatusMatched)
		pairs++
	}
	return pairs
}

// RunStats aggregates the run by status. Pair counts count a matched
// pair once; sums only include the bank side of a pair so a matched
// amount is never double-counted.
type RunStats struct {
	Total             int             `json:"total"`
	MatchedPairs      int             `json:"matched_pairs"`
	MatchedSum        decimal.Decimal `json:"matched_sum"`
	ReviewPairs       int             `json:"review_pairs"`
	ReviewSum         decimal.Decimal `json:"review_sum"`
	UnmatchedCount    int             `json:"unmatched_count"`
	UnmatchedSum      decimal.Decimal `json:"unmatched_sum"`
	CompletionPercent int             `json:"completion_percent"`
}

// Stats computes the dashboard aggregates for the run.
func (r *ReconciliationRun) Stats() RunStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RunStats{
		MatchedSum:   decimal.Zero,
		ReviewSum:    decimal.Zero,
		UnmatchedSum: decimal.Zero,
	}
	for _, rec := range r.records {
		stats.Total++
		bankSide := rec.Source == models.SourceBank
		switch rec.Status {
		case models.StatusMatched:
			if bankSide {
				stats.MatchedPairs++
				stats.MatchedSum = stats.MatchedSum.Add(rec.Amount)
			}
		case models.StatusReview:
			if bankSide {
				stats.ReviewPairs++
				stats.ReviewSum = stats.ReviewSum.Add(rec.Amount)
			}
		case models.StatusUnmatched:
			stats.UnmatchedCount++
			if bankSide {
				stats.UnmatchedSum = stats.UnmatchedSum.Add(rec.Amount)
			}
		}
	}

	units := stats.MatchedPairs + stats.ReviewPairs + stats.UnmatchedCount
	if units > 0 {
		stats.CompletionPercent = int(float64(stats.MatchedPairs)/float64(units)*100 + 0.5)
	}
	return stats
}

// Snapshot is the verbatim persistence shape of a run.
type Snapshot struct {
	ID        uuid.UUID
	Threshold int
	CreatedAt time.Time
	Records   []models.TransactionRecord
}

// Snapshot copies the full run state for the persistence adapter.
func (r *ReconciliationRun) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]models.TransactionRecord, 0, len(r.order))
	for _, id := range r.order {
		records = append(records, *r.records[id])
	}
	return Snapshot{
		ID:        r.id,
		Threshold: r.threshold,
		CreatedAt: r.createdAt,
		Records:   records,
	}
}

// Restore rebuilds a run from a persisted snapshot, verbatim.
func Restore(snap Snapshot) *ReconciliationRun {
	r := &ReconciliationRun{
		id:        snap.ID,
		createdAt: snap.CreatedAt,
		records:   make(map[uuid.UUID]*models.TransactionRecord, len(snap.Records)),
		threshold: snap.Threshold,
	}
	for i := range snap.Records {
		rec := snap.Records[i]
		r.records[rec.ID] = &rec
		r.order = append(r.order, rec.ID)
	}
	return r
}
