package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-reconciliation-backend/internal/config"
	"ledger-reconciliation-backend/internal/models"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func record(t *testing.T, source models.Source, day string, amount int64, desc string) models.TransactionRecord {
	t.Helper()
	return models.TransactionRecord{
		ID:          uuid.New(),
		Date:        date(t, day),
		Description: desc,
		Amount:      decimal.NewFromInt(amount),
		Source:      source,
		Status:      models.StatusUnmatched,
	}
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(config.DefaultMatching())
	require.NoError(t, err)
	return s
}

func TestScorerRejectsSameSource(t *testing.T) {
	s := newTestScorer(t)

	a := record(t, models.SourceBank, "2025-04-23", 12999, "Amazon Web Services")
	b := record(t, models.SourceBank, "2025-04-23", 12999, "AWS Monthly Subscription")

	_, err := s.Score(&a, &b)
	var violation *models.ContractViolationError
	require.ErrorAs(t, err, &violation)
}

func TestScorerExactMatchScenario(t *testing.T) {
	s := newTestScorer(t)

	bank := record(t, models.SourceBank, "2025-04-23", 12999, "Amazon Web Services")
	ledger := record(t, models.SourceLedger, "2025-04-23", 12999, "AWS Monthly Subscription")

	sc, err := s.Score(&bank, &ledger)
	require.NoError(t, err)

	assert.False(t, sc.Gated)
	assert.GreaterOrEqual(t, sc.Confidence, 90)
	assert.LessOrEqual(t, sc.Confidence, 100)
	assert.Equal(t, 1.0, sc.Amount)
	assert.Equal(t, 1.0, sc.Date)
}

func TestScorerAmountMismatchVeto(t *testing.T) {
	s := newTestScorer(t)

	bank := record(t, models.SourceBank, "2025-04-23", 999, "Amazon Web Services")
	ledger := record(t, models.SourceLedger, "2025-04-23", 4575, "Amazon Web Services")

	sc, err := s.Score(&bank, &ledger)
	require.NoError(t, err)

	assert.True(t, sc.Gated)
	assert.Equal(t, 0, sc.Confidence)
}

func TestScorerSymmetric(t *testing.T) {
	s := newTestScorer(t)

	bank := record(t, models.SourceBank, "2025-04-20", 2450, "UBER TRIP 5648")
	ledger := record(t, models.SourceLedger, "2025-04-22", 2450, "Uber - Airport Trip")

	ab, err := s.Score(&bank, &ledger)
	require.NoError(t, err)
	ba, err := s.Score(&ledger, &bank)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
}

func TestScorerDeterministic(t *testing.T) {
	s := newTestScorer(t)

	bank := record(t, models.SourceBank, "2025-04-18", 1999, "PAYPAL *DESIGNTOOLS")
	ledger := record(t, models.SourceLedger, "2025-04-17", 1999, "Design Software - Monthly")

	first, err := s.Score(&bank, &ledger)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Score(&bank, &ledger)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScorerDateDecay(t *testing.T) {
	s := newTestScorer(t)

	ledger := record(t, models.SourceLedger, "2025-04-20", 5000, "Payment")
	prev := 101
	for _, day := range []string{"2025-04-20", "2025-04-21", "2025-04-22", "2025-04-23", "2025-04-24"} {
		bank := record(t, models.SourceBank, day, 5000, "Payment")
		sc, err := s.Score(&bank, &ledger)
		require.NoError(t, err)
		assert.Less(t, sc.Confidence, prev, "confidence should decay with date distance (day %s)", day)
		prev = sc.Confidence
	}

	// Beyond the window the date signal is zero.
	far := record(t, models.SourceBank, "2025-05-20", 5000, "Payment")
	sc, err := s.Score(&far, &ledger)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sc.Date)
}

func TestScorerAmountToleranceDecay(t *testing.T) {
	s := newTestScorer(t)

	ledger := record(t, models.SourceLedger, "2025-04-20", 100000, "Invoice 42")

	// Within 1% tolerance: scored, amount signal below 1.
	near := record(t, models.SourceBank, "2025-04-20", 100050, "Invoice 42")
	sc, err := s.Score(&near, &ledger)
	require.NoError(t, err)
	assert.False(t, sc.Gated)
	assert.Greater(t, sc.Amount, 0.0)
	assert.Less(t, sc.Amount, 1.0)

	// Just beyond tolerance: gated.
	beyond := record(t, models.SourceBank, "2025-04-20", 101100, "Invoice 42")
	sc, err = s.Score(&beyond, &ledger)
	require.NoError(t, err)
	assert.True(t, sc.Gated)
}

func TestScorerSignAgnosticAmounts(t *testing.T) {
	s := newTestScorer(t)

	// Outflow on the bank side, inflow convention on the ledger side.
	bank := record(t, models.SourceBank, "2025-04-20", -3567, "AMZN MKT 56734")
	ledger := record(t, models.SourceLedger, "2025-04-20", 3567, "Amazon - Office Supplies")

	sc, err := s.Score(&bank, &ledger)
	require.NoError(t, err)
	assert.False(t, sc.Gated)
	assert.Equal(t, 1.0, sc.Amount)
}

func TestScorerDescriptionCaseInsensitive(t *testing.T) {
	s := newTestScorer(t)

	upper := record(t, models.SourceBank, "2025-04-20", 999, "MICROSOFT 365")
	lower := record(t, models.SourceLedger, "2025-04-20", 999, "microsoft 365")

	sc, err := s.Score(&upper, &lower)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sc.Description)
	assert.Equal(t, 100, sc.Confidence)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"paypal", "designtools"}, tokenize("PAYPAL *DESIGNTOOLS"))
	assert.Equal(t, []string{"uber", "trip", "5648"}, tokenize("UBER TRIP 5648"))
	assert.Empty(t, tokenize("  --- "))
}
