// Package repository is the storage collaborator of the engine: it
// saves and loads run snapshots verbatim and appends adjudication audit
// rows. The engine never queries through it.
package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ledger-reconciliation-backend/internal/models"
	"ledger-reconciliation-backend/internal/store"
)

type ReconciliationRunRow struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConfidenceThreshold int
	CreatedAt           time.Time
}

func (ReconciliationRunRow) TableName() string { return "reconciliation_runs" }

type TransactionRecordRow struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID       uuid.UUID `gorm:"index"`
	Position    int
	Date        time.Time
	Description string
	Amount      decimal.Decimal `gorm:"type:numeric"`
	Source      string          `gorm:"index"`
	Category    string
	MatchID     *uuid.UUID
	Confidence  *int
	Status      string `gorm:"index"`
	CreatedAt   time.Time
}

func (TransactionRecordRow) TableName() string { return "transaction_records" }

// Migrate creates the persistence schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ReconciliationRunRow{},
		&TransactionRecordRow{},
		&models.AdjudicationLog{},
	)
}

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun upserts the run and every record in one transaction. Position
// preserves the store's insertion order across a reload.
func (r *RunRepository) SaveRun(snap store.Snapshot) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		runRow := ReconciliationRunRow{
			ID:                  snap.ID,
			ConfidenceThreshold: snap.Threshold,
			CreatedAt:           snap.CreatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&runRow).Error; err != nil {
			return err
		}

		if len(snap.Records) == 0 {
			return nil
		}
		rows := make([]TransactionRecordRow, 0, len(snap.Records))
		for i, rec := range snap.Records {
			rows = append(rows, TransactionRecordRow{
				ID:          rec.ID,
				RunID:       snap.ID,
				Position:    i,
				Date:        rec.Date,
				Description: rec.Description,
				Amount:      rec.Amount,
				Source:      string(rec.Source),
				Category:    rec.Category,
				MatchID:     rec.MatchID,
				Confidence:  rec.Confidence,
				Status:      string(rec.Status),
				CreatedAt:   rec.CreatedAt,
			})
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

// LoadRun rebuilds a snapshot, records in their original order.
func (r *RunRepository) LoadRun(id uuid.UUID) (store.Snapshot, error) {
	var runRow ReconciliationRunRow
	if err := r.db.First(&runRow, "id = ?", id).Error; err != nil {
		return store.Snapshot{}, err
	}

	var rows []TransactionRecordRow
	if err := r.db.Where("run_id = ?", id).Order("position ASC").Find(&rows).Error; err != nil {
		return store.Snapshot{}, err
	}

	snap := store.Snapshot{
		ID:        runRow.ID,
		Threshold: runRow.ConfidenceThreshold,
		CreatedAt: runRow.CreatedAt,
		Records:   make([]models.TransactionRecord, 0, len(rows)),
	}
	for _, row := range rows {
		snap.Records = append(snap.Records, models.TransactionRecord{
			ID:          row.ID,
			Date:        row.Date,
			Description: row.Description,
			Amount:      row.Amount,
			Source:      models.Source(row.Source),
			Category:    row.Category,
			MatchID:     row.MatchID,
			Confidence:  row.Confidence,
			Status:      models.Status(row.Status),
			CreatedAt:   row.CreatedAt,
		})
	}
	return snap, nil
}

// AppendAdjudication records one human decision.
func (r *RunRepository) AppendAdjudication(entry models.AdjudicationLog) error {
	return r.db.Create(&entry).Error
}
