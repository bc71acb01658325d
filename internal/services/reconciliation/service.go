// Package reconciliation orchestrates runs: ingestion, matching,
// threshold changes and human adjudication all funnel through the
// Service so that only one structural mutation per run is in flight at
// a time.
package reconciliation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"ledger-reconciliation-backend/internal/config"
	"ledger-reconciliation-backend/internal/models"
	"ledger-reconciliation-backend/internal/services/matching"
	"ledger-reconciliation-backend/internal/store"
)

// Match lifecycle states reported through the progress cache.
const (
	MatchStatusProcessing = "processing"
	MatchStatusCompleted  = "completed"
	MatchStatusFailed     = "failed"
)

// ErrRunNotFound reports an unknown run id.
type ErrRunNotFound struct {
	RunID uuid.UUID
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run %s not found", e.RunID)
}

// Persistence is the external storage collaborator. It stores run
// snapshots verbatim and appends adjudication audit rows; the engine
// never queries through it.
type Persistence interface {
	SaveRun(snap store.Snapshot) error
	LoadRun(id uuid.UUID) (store.Snapshot, error)
	AppendAdjudication(entry models.AdjudicationLog) error
}

// MatchProgress is the poll-able view of an in-flight or finished match.
type MatchProgress struct {
	ScoredPairs int    `json:"scored_pairs"`
	TotalPairs  int    `json:"total_pairs"`
	Percent     int    `json:"percent"`
	Pairings    int    `json:"pairings"`
	Status      string `json:"status"`
}

// Candidate is one scored alternative for an unmatched record.
type Candidate struct {
	Record models.TransactionRecord `json:"record"`
	Score  matching.Score           `json:"score"`
}

// Service owns the live runs and the components that mutate them.
type Service struct {
	cfg     config.MatchingConfig
	scorer  *matching.Scorer
	matcher *matching.Matcher
	persist Persistence
	logger  *slog.Logger

	runs          sync.Map // uuid.UUID -> *store.ReconciliationRun
	runLocks      sync.Map // uuid.UUID -> *sync.Mutex
	progressCache sync.Map // uuid.UUID -> *MatchProgress
}

// NewService validates the matching configuration and wires the scorer
// and matcher. persist may be nil for a purely in-memory engine.
func NewService(cfg config.MatchingConfig, persist Persistence, logger *slog.Logger) (*Service, error) {
	scorer, err := matching.NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg.Clone(),
		scorer:  scorer,
		matcher: matching.NewMatcher(scorer),
		persist: persist,
		logger:  logger,
	}, nil
}

// mutationLock serializes structural mutations per run. Reads go
// straight to the store and see consistent snapshots.
func (s *Service) mutationLock(runID uuid.UUID) *sync.Mutex {
	mu, _ := s.runLocks.LoadOrStore(runID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateRun creates an empty run. A nil threshold uses the configured
// default.
func (s *Service) CreateRun(threshold *int) (*store.ReconciliationRun, error) {
	t := s.cfg.ConfidenceThreshold
	if threshold != nil {
		if *threshold < 0 || *threshold > 100 {
			return nil, &models.ConfigurationError{
				Field:  "confidence_threshold",
				Reason: fmt.Sprintf("must be between 0 and 100, got %d", *threshold),
			}
		}
		t = *threshold
	}

	run := store.NewRun(t)
	s.runs.Store(run.ID(), run)
	s.logger.Info("run created", "run_id", run.ID(), "threshold", t)
	return run, nil
}

// Run resolves a live run, loading it from persistence on a cache miss.
func (s *Service) Run(runID uuid.UUID) (*store.ReconciliationRun, error) {
	if v, ok := s.runs.Load(runID); ok {
		return v.(*store.ReconciliationRun), nil
	}
	if s.persist != nil {
		if snap, err := s.persist.LoadRun(runID); err == nil {
			run := store.Restore(snap)
			actual, _ := s.runs.LoadOrStore(runID, run)
			return actual.(*store.ReconciliationRun), nil
		}
	}
	return nil, &ErrRunNotFound{RunID: runID}
}

// Ingest bulk-creates records from normalized input.
func (s *Service) Ingest(runID uuid.UUID, in []models.NormalizedTransaction) ([]models.TransactionRecord, error) {
	run, err := s.Run(runID)
	if err != nil {
		return nil, err
	}

	mu := s.mutationLock(runID)
	mu.Lock()
	defer mu.Unlock()

	created, err := run.AddRecords(in)
	if err != nil {
		return nil, err
	}
	s.saveSnapshot(run)
	s.logger.Info("records ingested", "run_id", runID, "count", len(created))
	return created, nil
}

// StartMatch kicks off an asynchronous match and primes the progress
// cache. Progress milestones come straight from the matcher; there is
// no artificial delay.
func (s *Service) StartMatch(runID uuid.UUID) error {
	if _, err := s.Run(runID); err != nil {
		return err
	}
	s.progressCache.Store(runID, &MatchProgress{Status: MatchStatusProcessing})

	go func() {
		pairings, err := s.RunMatch(runID)
		if err != nil {
			s.logger.Error("match failed", "run_id", runID, "error", err)
			s.progressCache.Store(runID, &MatchProgress{Status: MatchStatusFailed})
			return
		}
		if v, ok := s.progressCache.Load(runID); ok {
			p := *v.(*MatchProgress)
			p.Status = MatchStatusCompleted
			p.Pairings = pairings
			s.progressCache.Store(runID, &p)
		}
	}()
	return nil
}

// RunMatch runs the matcher synchronously over the run's unmatched pool.
func (s *Service) RunMatch(runID uuid.UUID) (int, error) {
	run, err := s.Run(runID)
	if err != nil {
		return 0, err
	}

	mu := s.mutationLock(runID)
	mu.Lock()
	defer mu.Unlock()

	pairings, err := s.matcher.Match(run, func(p matching.Progress) {
		s.progressCache.Store(runID, &MatchProgress{
			ScoredPairs: p.ScoredPairs,
			TotalPairs:  p.TotalPairs,
			Percent:     p.Percent,
			Status:      MatchStatusProcessing,
		})
	})
	if err != nil {
		return 0, err
	}

	s.saveSnapshot(run)
	s.logger.Info("match completed", "run_id", runID, "pairings", pairings)
	return pairings, nil
}

// MatchProgress returns the latest milestone for a run, if any.
func (s *Service) MatchProgress(runID uuid.UUID) (MatchProgress, bool) {
	v, ok := s.progressCache.Load(runID)
	if !ok {
		return MatchProgress{}, false
	}
	return *v.(*MatchProgress), true
}

// ListTransactions returns filtered copies of the run's records.
func (s *Service) ListTransactions(runID uuid.UUID, f store.Filter) ([]models.TransactionRecord, error) {
	run, err := s.Run(runID)
	if err != nil {
		return nil, err
	}
	return run.List(f), nil
}

// Stats returns the dashboard aggregates for a run.
func (s *Service) Stats(runID uuid.UUID) (store.RunStats, error) {
	run, err := s.Run(runID)
	if err != nil {
		return store.RunStats{}, err
	}
	return run.Stats(), nil
}

// Threshold returns the run's current confidence threshold.
func (s *Service) Threshold(runID uuid.UUID) (int, error) {
	run, err := s.Run(runID)
	if err != nil {
		return 0, err
	}
	return run.Threshold(), nil
}

// SetThreshold reclassifies existing pairings under a new threshold.
// Never re-scores and never touches pairings or unmatched records.
func (s *Service) SetThreshold(runID uuid.UUID, threshold int) error {
	run, err := s.Run(runID)
	if err != nil {
		return err
	}

	mu := s.mutationLock(runID)
	mu.Lock()
	defer mu.Unlock()

	if err := run.ApplyThreshold(threshold); err != nil {
		return err
	}
	s.saveSnapshot(run)
	s.logger.Info("threshold applied", "run_id", runID, "threshold", threshold)
	return nil
}

// Candidates scores an unmatched record against every unmatched record
// of the opposite source and returns the ranked alternatives.
func (s *Service) Candidates(runID, recordID uuid.UUID, limit int) ([]Candidate, error) {
	run, err := s.Run(runID)
	if err != nil {
		return nil, err
	}
	rec, ok := run.Get(recordID)
	if !ok {
		return nil, &store.ErrNotFound{RecordID: recordID}
	}
	if rec.Status != models.StatusUnmatched {
		return nil, &models.InvalidOperationError{
			Op:       "candidates",
			RecordID: rec.ID,
			Status:   rec.Status,
			Reason:   "candidate lookup is only defined for unmatched records",
		}
	}

	bank, ledger := run.UnmatchedBySource()
	pool := ledger
	if rec.Source == models.SourceLedger {
		pool = bank
	}

	candidates := make([]Candidate, 0, len(pool))
	for i := range pool {
		sc, err := s.scorer.Score(&rec, &pool[i])
		if err != nil {
			return nil, err
		}
		if sc.Gated || sc.Confidence <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{Record: pool[i], Score: sc})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score.Confidence != candidates[j].Score.Confidence {
			return candidates[i].Score.Confidence > candidates[j].Score.Confidence
		}
		return candidates[i].Record.ID.String() < candidates[j].Record.ID.String()
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Confirm finalizes a proposed pairing at full confidence.
func (s *Service) Confirm(runID, recordID uuid.UUID, performedBy string) (models.TransactionRecord, error) {
	return s.adjudicate(runID, recordID, models.ActionConfirm, performedBy,
		func(run *store.ReconciliationRun) (models.TransactionRecord, error) {
			return run.Confirm(recordID)
		})
}

// Reject dissolves a proposed pairing and returns both records to the
// matching pool.
func (s *Service) Reject(runID, recordID uuid.UUID, performedBy string) (models.TransactionRecord, error) {
	return s.adjudicate(runID, recordID, models.ActionReject, performedBy,
		func(run *store.ReconciliationRun) (models.TransactionRecord, error) {
			return run.Reject(recordID)
		})
}

// ManualLink pairs two unmatched records at full confidence.
func (s *Service) ManualLink(runID, bankID, ledgerID uuid.UUID, performedBy string) (models.TransactionRecord, error) {
	return s.adjudicate(runID, bankID, models.ActionManualLink, performedBy,
		func(run *store.ReconciliationRun) (models.TransactionRecord, error) {
			return run.ManualLink(bankID, ledgerID)
		})
}

// BulkConfirm confirms every review pairing in the run.
func (s *Service) BulkConfirm(runID uuid.UUID, performedBy string) (int, error) {
	run, err := s.Run(runID)
	if err != nil {
		return 0, err
	}

	mu := s.mutationLock(runID)
	mu.Lock()
	defer mu.Unlock()

	pairs := run.BulkConfirm()
	s.audit(run, models.AdjudicationLog{
		RunID:       runID,
		Action:      models.ActionBulkConfirm,
		PerformedBy: performedBy,
		Reason:      fmt.Sprintf("%d review pairings confirmed", pairs),
	})
	s.saveSnapshot(run)
	return pairs, nil
}

// adjudicate wraps a human decision: serialize it, capture the pre-call
// context for the audit trail, apply it all-or-nothing, persist.
func (s *Service) adjudicate(
	runID, recordID uuid.UUID,
	action, performedBy string,
	apply func(*store.ReconciliationRun) (models.TransactionRecord, error),
) (models.TransactionRecord, error) {
	run, err := s.Run(runID)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	mu := s.mutationLock(runID)
	mu.Lock()
	defer mu.Unlock()

	before, _ := run.Get(recordID)

	rec, err := apply(run)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	entry := models.AdjudicationLog{
		RunID:         runID,
		RecordID:      recordID,
		CounterpartID: rec.MatchID,
		Action:        action,
		PerformedBy:   performedBy,
	}
	if details, err := json.Marshal(map[string]any{
		"prior_status":     before.Status,
		"prior_confidence": before.Confidence,
		"prior_match_id":   before.MatchID,
		"new_status":       rec.Status,
	}); err == nil {
		entry.Details = datatypes.JSON(details)
	}
	s.audit(run, entry)
	s.saveSnapshot(run)

	s.logger.Info("adjudication applied",
		"run_id", runID, "record_id", recordID, "action", action, "status", rec.Status)
	return rec, nil
}

func (s *Service) audit(run *store.ReconciliationRun, entry models.AdjudicationLog) {
	if s.persist == nil {
		return
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	if err := s.persist.AppendAdjudication(entry); err != nil {
		s.logger.Warn("audit append failed", "run_id", run.ID(), "error", err)
	}
}

func (s *Service) saveSnapshot(run *store.ReconciliationRun) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveRun(run.Snapshot()); err != nil {
		s.logger.Warn("snapshot save failed", "run_id", run.ID(), "error", err)
	}
}
