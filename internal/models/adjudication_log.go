package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Adjudication actions recorded in the audit trail.
const (
	ActionConfirm     = "confirm"
	ActionReject      = "reject"
	ActionManualLink  = "manual_link"
	ActionBulkConfirm = "bulk_confirm"
)

// AdjudicationLog is one human decision applied to a run. Details holds
// the pre-call context (counterpart id, prior status and confidence) so
// a rejected pairing can be reconstructed later.
type AdjudicationLog struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID         uuid.UUID `gorm:"index"`
	RecordID      uuid.UUID `gorm:"index"`
	CounterpartID *uuid.UUID
	Action        string
	PerformedBy   string
	Reason        string
	Details       datatypes.JSON
	CreatedAt     time.Time
}
