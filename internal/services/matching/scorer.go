package matching

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"ledger-reconciliation-backend/internal/config"
	"ledger-reconciliation-backend/internal/models"
)

// Scorer computes the similarity confidence for a (bank, ledger) pair.
// Pure and deterministic; symmetric under swapping the operands.
type Scorer struct {
	cfg config.MatchingConfig
}

// NewScorer validates the tunables and builds a scorer.
func NewScorer(cfg config.MatchingConfig) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg.Clone()}, nil
}

// Score is the full breakdown for one candidate pair. Component signals
// are normalized to [0,1]; Confidence is the weighted combination scaled
// to [0,100]. Gated pairs scored 0 by the amount hard gate: mismatched
// amounts are never a valid match, whatever the text says.
type Score struct {
	Confidence  int     `json:"confidence"`
	Amount      float64 `json:"amount_score"`
	Date        float64 `json:"date_score"`
	Description float64 `json:"description_score"`
	Gated       bool    `json:"gated"`
}

// Score computes the confidence for a cross-source pair. Scoring two
// records of the same source is a contract violation.
func (s *Scorer) Score(a, b *models.TransactionRecord) (Score, error) {
	if a.Source == b.Source {
		return Score{}, &models.ContractViolationError{
			Reason: fmt.Sprintf("cannot score two %s-sourced records (%s, %s)", a.Source, a.ID, b.ID),
		}
	}

	amount, ok := s.amountSignal(a.Amount, b.Amount)
	if !ok {
		return Score{Gated: true}, nil
	}

	date := s.dateSignal(a.Date, b.Date)
	desc := descriptionSignal(a.Description, b.Description)

	w := s.cfg.Weights
	conf := int(math.Round(100 * (w.Amount*amount + w.Date*date + w.Description*desc)))
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}
	return Score{
		Confidence:  conf,
		Amount:      amount,
		Date:        date,
		Description: desc,
	}, nil
}

// amountSignal compares absolute values. Exact equality scores 1; inside
// the tolerance the score decays linearly; beyond it the pair is gated.
func (s *Scorer) amountSignal(a, b decimal.Decimal) (float64, bool) {
	absA, absB := a.Abs(), b.Abs()
	if absA.Equal(absB) {
		return 1.0, true
	}

	tolerance := s.cfg.AmountTolerancePercent / 100.0
	if tolerance == 0 {
		return 0, false
	}

	larger := absA
	if absB.GreaterThan(larger) {
		larger = absB
	}
	relDiff := absA.Sub(absB).Abs().Div(larger).InexactFloat64()
	if relDiff > tolerance {
		return 0, false
	}
	return 1.0 - relDiff/tolerance, true
}

// dateSignal is 1 for identical dates and decays linearly to 0 at the
// configured window.
func (s *Scorer) dateSignal(a, b time.Time) float64 {
	days := dateDiffDays(a, b)
	if days == 0 {
		return 1.0
	}
	window := s.cfg.DateWindowDays
	if window == 0 || days >= window {
		return 0
	}
	return 1.0 - float64(days)/float64(window)
}

// dateDiffDays returns the absolute calendar-day difference. Record
// dates are normalized to midnight UTC at ingestion.
func dateDiffDays(a, b time.Time) int {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// descriptionSignal is a token-overlap similarity: each token is
// credited with its best normalized Levenshtein match on the other side,
// and the two directional means are averaged so the signal is symmetric.
func descriptionSignal(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return (directionalSimilarity(ta, tb) + directionalSimilarity(tb, ta)) / 2
}

func directionalSimilarity(from, to []string) float64 {
	total := 0.0
	for _, tok := range from {
		best := 0.0
		for _, other := range to {
			if sim := tokenSimilarity(tok, other); sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(from))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	dist := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// tokenize lowercases and splits on non-alphanumeric boundaries.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
