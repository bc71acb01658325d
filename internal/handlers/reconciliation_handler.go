package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-reconciliation-backend/internal/models"
	service "ledger-reconciliation-backend/internal/services/reconciliation"
	"ledger-reconciliation-backend/internal/store"
)

type ReconciliationHandler struct {
	service *service.Service
}

func NewReconciliationHandler(s *service.Service) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// writeError maps the engine's error taxonomy to HTTP statuses. Invalid
// operations carry enough context (record id, current status) for the
// caller to understand the rejection.
func writeError(c *gin.Context, err error) {
	var invalidOp *models.InvalidOperationError
	var cfgErr *models.ConfigurationError
	var notFound *store.ErrNotFound
	var runNotFound *service.ErrRunNotFound

	switch {
	case errors.As(err, &invalidOp):
		c.JSON(http.StatusConflict, gin.H{"error": invalidOp.Error(), "record_id": invalidOp.RecordID, "status": invalidOp.Status})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &runNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": runNotFound.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func performedBy(c *gin.Context) string {
	if by := c.GetHeader("X-Performed-By"); by != "" {
		return by
	}
	return "api"
}

// CreateRun starts an empty reconciliation run.
func (h *ReconciliationHandler) CreateRun(c *gin.Context) {
	var payload struct {
		Threshold *int `json:"threshold"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	run, err := h.service.CreateRun(payload.Threshold)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run_id": run.ID(), "threshold": run.Threshold()})
}

type ingestTransaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      models.Source   `json:"source"`
	Category    string          `json:"category"`
}

// IngestTransactions bulk-loads normalized transactions into a run.
func (h *ReconciliationHandler) IngestTransactions(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}

	var payload struct {
		Transactions []ingestTransaction `json:"transactions"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(payload.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no transactions provided"})
		return
	}

	normalized := make([]models.NormalizedTransaction, 0, len(payload.Transactions))
	for _, t := range payload.Transactions {
		date, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected yyyy-mm-dd: " + t.Date})
			return
		}
		if !t.Source.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source, expected bank or ledger"})
			return
		}
		normalized = append(normalized, models.NormalizedTransaction{
			Date:        date,
			Description: t.Description,
			Amount:      t.Amount,
			Source:      t.Source,
			Category:    t.Category,
		})
	}

	created, err := h.service.Ingest(runID, normalized)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(created), "transactions": created})
}

// StartMatch kicks off the matcher; progress is polled separately.
func (h *ReconciliationHandler) StartMatch(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	if err := h.service.StartMatch(runID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "matching started"})
}

// GetProgress returns the latest match milestone for a run.
func (h *ReconciliationHandler) GetProgress(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	progress, ok := h.service.MatchProgress(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no match has run for this run"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// ListTransactions returns run records, filterable by status, source
// and a search term.
func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}

	f := store.Filter{Search: c.Query("search")}
	if status := c.Query("status"); status != "" && status != "all" {
		f.Status = models.Status(status)
	}
	if source := c.Query("source"); source != "" {
		f.Source = models.Source(source)
	}

	records, err := h.service.ListTransactions(runID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": records, "count": len(records)})
}

// GetCandidates returns the ranked alternatives for an unmatched record.
func (h *ReconciliationHandler) GetCandidates(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	recordID, ok := parseID(c, "id")
	if !ok {
		return
	}

	limit := 10
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	candidates, err := h.service.Candidates(runID, recordID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// GetStats returns counts and bank-side sums grouped by status.
func (h *ReconciliationHandler) GetStats(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	stats, err := h.service.Stats(runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SetThreshold reclassifies existing pairings under a new threshold.
func (h *ReconciliationHandler) SetThreshold(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}

	var payload struct {
		Threshold int `json:"threshold"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.service.SetThreshold(runID, payload.Threshold); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "threshold applied", "threshold": payload.Threshold})
}

// ConfirmTransaction finalizes a proposed pairing.
func (h *ReconciliationHandler) ConfirmTransaction(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	recordID, ok := parseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.service.Confirm(runID, recordID, performedBy(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match confirmed", "transaction": rec})
}

// RejectTransaction dissolves a proposed pairing.
func (h *ReconciliationHandler) RejectTransaction(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	recordID, ok := parseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.service.Reject(runID, recordID, performedBy(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match rejected", "transaction": rec})
}

// ManualLink pairs two unmatched records chosen by a human.
func (h *ReconciliationHandler) ManualLink(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}

	var payload struct {
		BankID   string `json:"bank_id"`
		LedgerID string `json:"ledger_id"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	bankID, err := uuid.Parse(payload.BankID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bank_id"})
		return
	}
	ledgerID, err := uuid.Parse(payload.LedgerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ledger_id"})
		return
	}

	rec, err := h.service.ManualLink(runID, bankID, ledgerID, performedBy(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "records linked", "transaction": rec})
}

// BulkConfirm confirms every review pairing in a run.
func (h *ReconciliationHandler) BulkConfirm(c *gin.Context) {
	runID, ok := parseID(c, "runId")
	if !ok {
		return
	}
	pairs, err := h.service.BulkConfirm(runID, performedBy(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "review pairings confirmed", "confirmed_pairs": pairs})
}
