package matching

import (
	"bytes"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"ledger-reconciliation-backend/internal/store"
)

// Progress is one matcher milestone: how much of the candidate edge set
// has been scored.
type Progress struct {
	ScoredPairs int `json:"scored_pairs"`
	TotalPairs  int `json:"total_pairs"`
	Percent     int `json:"percent"`
}

// ProgressFunc receives milestones while a match runs. Calls are
// serialized and percentages are monotonically increasing.
type ProgressFunc func(Progress)

// Matcher proposes a one-to-one pairing set over the unmatched records
// of a run.
//
// Pair selection is greedy maximum-weight: repeatedly commit the
// highest-scoring remaining edge, ties broken by smaller date
// difference, then lower bank id, then lower ledger id. This is a
// deliberate approximation of optimal bipartite matching (Hungarian
// assignment): not guaranteed globally optimal, but deterministic and
// close to linear for the near-diagonal sets reconciliation produces.
type Matcher struct {
	scorer  *Scorer
	workers int
}

// NewMatcher builds a matcher that fans candidate scoring out across
// the available CPUs.
func NewMatcher(scorer *Scorer) *Matcher {
	return &Matcher{
		scorer:  scorer,
		workers: runtime.NumCPU(),
	}
}

type edge struct {
	bankIdx    int
	ledgerIdx  int
	confidence int
	dateDiff   int
}

// Match scores every unmatched cross-source pair whose hard gate passes,
// commits the greedy selection into the run and reports progress.
// Already-paired records are untouched; an empty bank or ledger side
// yields zero pairings and is not an error. Returns the number of
// pairings committed.
func (m *Matcher) Match(run *store.ReconciliationRun, onProgress ProgressFunc) (int, error) {
	bank, ledger := run.UnmatchedBySource()

	emit := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	total := len(bank) * len(ledger)
	if total == 0 {
		emit(Progress{Percent: 100})
		return 0, nil
	}
	emit(Progress{TotalPairs: total})

	// Scoring phase: embarrassingly parallel, one row of the candidate
	// matrix per task, no shared mutable state beyond the counters.
	rows := make([][]edge, len(bank))
	var scored atomic.Int64
	var scoreErr atomic.Value

	var progressMu sync.Mutex
	lastPercent := 0
	reportRow := func() {
		done := int(scored.Add(int64(len(ledger))))
		percent := done * 100 / total
		progressMu.Lock()
		defer progressMu.Unlock()
		if percent > lastPercent {
			lastPercent = percent
			emit(Progress{ScoredPairs: done, TotalPairs: total, Percent: percent})
		}
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < m.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if scoreErr.Load() != nil {
					continue
				}
				row := make([]edge, 0, 4)
				for j := range ledger {
					sc, err := m.scorer.Score(&bank[i], &ledger[j])
					if err != nil {
						scoreErr.Store(err)
						break
					}
					if sc.Gated || sc.Confidence <= 0 {
						continue
					}
					row = append(row, edge{
						bankIdx:    i,
						ledgerIdx:  j,
						confidence: sc.Confidence,
						dateDiff:   dateDiffDays(bank[i].Date, ledger[j].Date),
					})
				}
				rows[i] = row
				reportRow()
			}
		}()
	}
	for i := range bank {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	if err, ok := scoreErr.Load().(error); ok {
		return 0, err
	}

	edges := make([]edge, 0, total/4)
	for _, row := range rows {
		edges = append(edges, row...)
	}

	// The commit phase is serialized: the deterministic tie-break order
	// below defines which pairing wins a contested record.
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.dateDiff != b.dateDiff {
			return a.dateDiff < b.dateDiff
		}
		if c := bytes.Compare(bank[a.bankIdx].ID[:], bank[b.bankIdx].ID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(ledger[a.ledgerIdx].ID[:], ledger[b.ledgerIdx].ID[:]) < 0
	})

	usedBank := make(map[int]bool, len(bank))
	usedLedger := make(map[int]bool, len(ledger))
	pairings := make([]store.Pairing, 0, min(len(bank), len(ledger)))
	for _, e := range edges {
		if usedBank[e.bankIdx] || usedLedger[e.ledgerIdx] {
			continue
		}
		usedBank[e.bankIdx] = true
		usedLedger[e.ledgerIdx] = true
		pairings = append(pairings, store.Pairing{
			BankID:     bank[e.bankIdx].ID,
			LedgerID:   ledger[e.ledgerIdx].ID,
			Confidence: e.confidence,
		})
	}

	applied := run.CommitPairings(pairings)
	emit(Progress{ScoredPairs: total, TotalPairs: total, Percent: 100})
	return applied, nil
}
