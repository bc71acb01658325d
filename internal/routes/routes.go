package routes

import (
	"github.com/gin-gonic/gin"

	handler "ledger-reconciliation-backend/internal/handlers"
	service "ledger-reconciliation-backend/internal/services/reconciliation"
)

func RegisterRoutes(r *gin.Engine, reconService *service.Service) {
	reconHandler := handler.NewReconciliationHandler(reconService)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	runs := api.Group("/runs")
	runs.POST("", reconHandler.CreateRun)
	runs.POST("/:runId/transactions", reconHandler.IngestTransactions)
	runs.POST("/:runId/match", reconHandler.StartMatch)
	runs.GET("/:runId/progress", reconHandler.GetProgress)
	runs.GET("/:runId/transactions", reconHandler.ListTransactions)
	runs.GET("/:runId/transactions/:id/candidates", reconHandler.GetCandidates)
	runs.GET("/:runId/stats", reconHandler.GetStats)
	runs.PUT("/:runId/threshold", reconHandler.SetThreshold)
	runs.POST("/:runId/bulk-confirm", reconHandler.BulkConfirm)
	runs.POST("/:runId/link", reconHandler.ManualLink)

	// Adjudication on individual pairings
	runs.POST("/:runId/transactions/:id/confirm", reconHandler.ConfirmTransaction)
	runs.POST("/:runId/transactions/:id/reject", reconHandler.RejectTransaction)
}
