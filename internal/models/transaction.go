package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source identifies which feed a record came from. It never changes
// after the record is created.
type Source string

const (
	SourceBank   Source = "bank"
	SourceLedger Source = "ledger"
)

func (s Source) Valid() bool {
	return s == SourceBank || s == SourceLedger
}

// Opposite returns the other feed. Records are only ever paired across
// sources.
func (s Source) Opposite() Source {
	if s == SourceBank {
		return SourceLedger
	}
	return SourceBank
}

type Status string

const (
	StatusUnmatched Status = "unmatched"
	StatusReview    Status = "review"
	StatusMatched   Status = "matched"
)

// NormalizedTransaction is the handoff shape from the ingestion adapter.
// Currency parsing, encoding and raw-row de-duplication happen upstream;
// the engine assigns ids on creation.
type NormalizedTransaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      Source          `json:"source"`
	Category    string          `json:"category,omitempty"`
}

// TransactionRecord is one row of a reconciliation run. Status, MatchID
// and Confidence are the only fields mutated after creation.
//
// Invariants: Status == StatusUnmatched iff MatchID is nil; Confidence
// is present iff MatchID is present; paired records reference each
// other and share Status and Confidence.
type TransactionRecord struct {
	ID          uuid.UUID       `json:"id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      Source          `json:"source"`
	Category    string          `json:"category,omitempty"`
	MatchID     *uuid.UUID      `json:"match_id,omitempty"`
	Confidence  *int            `json:"confidence,omitempty"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Paired reports whether the record currently references a counterpart.
func (t *TransactionRecord) Paired() bool {
	return t.MatchID != nil
}
