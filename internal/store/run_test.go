package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-reconciliation-backend/internal/models"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func normalized(t *testing.T, source models.Source, day string, amount int64, desc string) models.NormalizedTransaction {
	t.Helper()
	return models.NormalizedTransaction{
		Date:        date(t, day),
		Description: desc,
		Amount:      decimal.NewFromInt(amount),
		Source:      source,
	}
}

// pairedRun builds a run with one committed pairing at the given
// confidence, plus an unmatched record on each side.
func pairedRun(t *testing.T, threshold, confidence int) (*ReconciliationRun, models.TransactionRecord, models.TransactionRecord) {
	t.Helper()

	run := NewRun(threshold)
	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-18", 1999, "PAYPAL *DESIGNTOOLS"),
		normalized(t, models.SourceLedger, "2025-04-17", 1999, "Design Software - Monthly"),
		normalized(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365"),
		normalized(t, models.SourceLedger, "2025-04-19", 4575, "Office Supplies"),
	})
	require.NoError(t, err)

	applied := run.CommitPairings([]Pairing{{
		BankID:     created[0].ID,
		LedgerID:   created[1].ID,
		Confidence: confidence,
	}})
	require.Equal(t, 1, applied)

	bank, _ := run.Get(created[0].ID)
	ledger, _ := run.Get(created[1].ID)
	return run, bank, ledger
}

func TestAddRecordsAssignsIDsAndStatus(t *testing.T) {
	run := NewRun(70)

	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-23", 12999, "Amazon Web Services"),
		normalized(t, models.SourceLedger, "2025-04-23", 12999, "AWS Monthly Subscription"),
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	seen := map[uuid.UUID]bool{}
	for _, rec := range created {
		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.False(t, seen[rec.ID])
		seen[rec.ID] = true
		assert.Equal(t, models.StatusUnmatched, rec.Status)
		assert.Nil(t, rec.MatchID)
		assert.Nil(t, rec.Confidence)
	}
}

func TestAddRecordsRejectsUnknownSource(t *testing.T) {
	run := NewRun(70)

	_, err := run.AddRecords([]models.NormalizedTransaction{
		{Date: date(t, "2025-04-23"), Amount: decimal.NewFromInt(1), Source: "cash"},
	})
	var violation *models.ContractViolationError
	require.ErrorAs(t, err, &violation)
	assert.Empty(t, run.List(Filter{}))
}

func TestCommitPairingsSymmetry(t *testing.T) {
	_, bank, ledger := pairedRun(t, 70, 95)

	require.NotNil(t, bank.MatchID)
	require.NotNil(t, ledger.MatchID)
	assert.Equal(t, ledger.ID, *bank.MatchID)
	assert.Equal(t, bank.ID, *ledger.MatchID)
	assert.Equal(t, *bank.Confidence, *ledger.Confidence)
	assert.Equal(t, bank.Status, ledger.Status)
	assert.Equal(t, models.StatusMatched, bank.Status)
}

func TestCommitPairingsClassifiesAgainstThreshold(t *testing.T) {
	_, bank, _ := pairedRun(t, 70, 62)
	assert.Equal(t, models.StatusReview, bank.Status)
	assert.Equal(t, 62, *bank.Confidence)
}

func TestCommitPairingsSkipsAlreadyPaired(t *testing.T) {
	run, bank, ledger := pairedRun(t, 70, 95)

	// A later pairing touching a committed endpoint is dropped.
	unmatchedLedger := run.List(Filter{Status: models.StatusUnmatched, Source: models.SourceLedger})
	require.Len(t, unmatchedLedger, 1)
	applied := run.CommitPairings([]Pairing{{
		BankID:     bank.ID,
		LedgerID:   unmatchedLedger[0].ID,
		Confidence: 99,
	}})
	assert.Equal(t, 0, applied)

	after, _ := run.Get(bank.ID)
	assert.Equal(t, ledger.ID, *after.MatchID)
	assert.Equal(t, 95, *after.Confidence)
}

func TestApplyThresholdCrossing(t *testing.T) {
	run, bank, _ := pairedRun(t, 70, 62)
	require.Equal(t, models.StatusReview, bank.Status)

	require.NoError(t, run.ApplyThreshold(60))

	after, _ := run.Get(bank.ID)
	assert.Equal(t, models.StatusMatched, after.Status)
	assert.Equal(t, 62, *after.Confidence, "reclassification must not re-score")
	assert.Equal(t, 60, run.Threshold())

	counterpart, _ := run.Get(*after.MatchID)
	assert.Equal(t, models.StatusMatched, counterpart.Status)
}

func TestApplyThresholdIdempotent(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 62)

	require.NoError(t, run.ApplyThreshold(60))
	snapshot := run.List(Filter{})

	require.NoError(t, run.ApplyThreshold(60))
	assert.Equal(t, snapshot, run.List(Filter{}))
}

func TestApplyThresholdLeavesUnmatchedAlone(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 62)

	require.NoError(t, run.ApplyThreshold(0))
	for _, rec := range run.List(Filter{Status: models.StatusUnmatched}) {
		assert.Nil(t, rec.MatchID)
		assert.Nil(t, rec.Confidence)
	}
}

func TestApplyThresholdRange(t *testing.T) {
	run := NewRun(70)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, run.ApplyThreshold(101), &cfgErr)
	require.ErrorAs(t, run.ApplyThreshold(-1), &cfgErr)
}

func TestConfirmOverridesComputedConfidence(t *testing.T) {
	run, bank, ledger := pairedRun(t, 70, 62)

	_, err := run.Confirm(bank.ID)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{bank.ID, ledger.ID} {
		rec, _ := run.Get(id)
		assert.Equal(t, models.StatusMatched, rec.Status)
		assert.Equal(t, 100, *rec.Confidence)
	}
}

func TestConfirmUnpairedIsInvalid(t *testing.T) {
	run := NewRun(70)
	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365"),
	})
	require.NoError(t, err)

	_, err = run.Confirm(created[0].ID)
	var invalidOp *models.InvalidOperationError
	require.ErrorAs(t, err, &invalidOp)
	assert.Equal(t, created[0].ID, invalidOp.RecordID)
	assert.Equal(t, models.StatusUnmatched, invalidOp.Status)
}

func TestRejectReturnsBothToPool(t *testing.T) {
	run, bank, ledger := pairedRun(t, 70, 95)

	_, err := run.Reject(ledger.ID)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{bank.ID, ledger.ID} {
		rec, _ := run.Get(id)
		assert.Equal(t, models.StatusUnmatched, rec.Status)
		assert.Nil(t, rec.MatchID)
		assert.Nil(t, rec.Confidence)
	}

	// A rejected record is indistinguishable from a never-matched one
	// and can be paired again.
	applied := run.CommitPairings([]Pairing{{BankID: bank.ID, LedgerID: ledger.ID, Confidence: 80}})
	assert.Equal(t, 1, applied)
}

func TestRejectUnpairedIsInvalid(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 95)
	unmatched := run.List(Filter{Status: models.StatusUnmatched, Source: models.SourceBank})
	require.Len(t, unmatched, 1)

	_, err := run.Reject(unmatched[0].ID)
	var invalidOp *models.InvalidOperationError
	require.ErrorAs(t, err, &invalidOp)
}

func TestAdjudicationUnknownRecord(t *testing.T) {
	run := NewRun(70)
	var notFound *ErrNotFound

	_, err := run.Confirm(uuid.New())
	require.ErrorAs(t, err, &notFound)
	_, err = run.Reject(uuid.New())
	require.ErrorAs(t, err, &notFound)
	_, err = run.ManualLink(uuid.New(), uuid.New())
	require.ErrorAs(t, err, &notFound)
}

func TestManualLink(t *testing.T) {
	run := NewRun(70)
	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365"),
		normalized(t, models.SourceLedger, "2025-04-19", 4575, "Office Supplies"),
	})
	require.NoError(t, err)

	// Amounts disagree, but a human link is authoritative.
	_, err = run.ManualLink(created[0].ID, created[1].ID)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{created[0].ID, created[1].ID} {
		rec, _ := run.Get(id)
		assert.Equal(t, models.StatusMatched, rec.Status)
		assert.Equal(t, 100, *rec.Confidence)
		require.NotNil(t, rec.MatchID)
	}
}

func TestManualLinkSameSourceIsInvalid(t *testing.T) {
	run := NewRun(70)
	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365"),
		normalized(t, models.SourceBank, "2025-04-21", 4575, "Adobe"),
	})
	require.NoError(t, err)

	_, err = run.ManualLink(created[0].ID, created[1].ID)
	var invalidOp *models.InvalidOperationError
	require.ErrorAs(t, err, &invalidOp)

	// All-or-nothing: both records untouched.
	for _, c := range created {
		rec, _ := run.Get(c.ID)
		assert.Equal(t, models.StatusUnmatched, rec.Status)
		assert.Nil(t, rec.MatchID)
	}
}

func TestManualLinkAlreadyPairedIsInvalid(t *testing.T) {
	run, bank, _ := pairedRun(t, 70, 95)
	unmatchedLedger := run.List(Filter{Status: models.StatusUnmatched, Source: models.SourceLedger})
	require.Len(t, unmatchedLedger, 1)

	_, err := run.ManualLink(bank.ID, unmatchedLedger[0].ID)
	var invalidOp *models.InvalidOperationError
	require.ErrorAs(t, err, &invalidOp)
}

func TestManualLinkSelfIsInvalid(t *testing.T) {
	run := NewRun(70)
	created, err := run.AddRecords([]models.NormalizedTransaction{
		normalized(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365"),
	})
	require.NoError(t, err)

	_, err = run.ManualLink(created[0].ID, created[0].ID)
	var invalidOp *models.InvalidOperationError
	require.ErrorAs(t, err, &invalidOp)
}

func TestBulkConfirm(t *testing.T) {
	run, bank, _ := pairedRun(t, 70, 62)
	require.Equal(t, models.StatusReview, bank.Status)

	pairs := run.BulkConfirm()
	assert.Equal(t, 1, pairs)

	after, _ := run.Get(bank.ID)
	assert.Equal(t, models.StatusMatched, after.Status)
	assert.Equal(t, 100, *after.Confidence)

	// Nothing left in review.
	assert.Equal(t, 0, run.BulkConfirm())
}

func TestListFilters(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 95)

	assert.Len(t, run.List(Filter{}), 4)
	assert.Len(t, run.List(Filter{Source: models.SourceBank}), 2)
	assert.Len(t, run.List(Filter{Status: models.StatusMatched}), 2)
	assert.Len(t, run.List(Filter{Search: "microsoft"}), 1)
	assert.Len(t, run.List(Filter{Search: "2025-04-19"}), 1)
	assert.Empty(t, run.List(Filter{Search: "no-such-description"}))
}

func TestStatsBankSideSums(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 95)

	stats := run.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.MatchedPairs)
	// Only the bank side of the pair is summed: 1999, not 3998.
	assert.True(t, stats.MatchedSum.Equal(decimal.NewFromInt(1999)), "got %s", stats.MatchedSum)
	assert.Equal(t, 0, stats.ReviewPairs)
	assert.Equal(t, 2, stats.UnmatchedCount)
	assert.True(t, stats.UnmatchedSum.Equal(decimal.NewFromInt(999)), "got %s", stats.UnmatchedSum)
	// 1 matched of 3 reconciliation units (1 pair + 2 unmatched).
	assert.Equal(t, 33, stats.CompletionPercent)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	run, _, _ := pairedRun(t, 70, 62)

	snap := run.Snapshot()
	restored := Restore(snap)

	assert.Equal(t, run.ID(), restored.ID())
	assert.Equal(t, run.Threshold(), restored.Threshold())
	assert.Equal(t, run.List(Filter{}), restored.List(Filter{}))
	assert.Equal(t, run.Stats(), restored.Stats())
}
