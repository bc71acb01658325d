package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"ledger-reconciliation-backend/internal/config"
	"ledger-reconciliation-backend/internal/observability"
	"ledger-reconciliation-backend/internal/repository"
	"ledger-reconciliation-backend/internal/routes"
	service "ledger-reconciliation-backend/internal/services/reconciliation"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger(cfg.Logging)

	var persist service.Persistence
	db, err := config.InitDB()
	if err != nil {
		log.Fatal(err)
	}
	if db != nil {
		if err := repository.Migrate(db); err != nil {
			log.Fatal(err)
		}
		persist = repository.NewRunRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, running in-memory without persistence")
	}

	reconService, err := service.NewService(cfg.Matching, persist, logger)
	if err != nil {
		log.Fatal(err)
	}

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Performed-By"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, reconService)

	logger.Info("server starting", "addr", cfg.Server.Addr)
	if err := r.Run(cfg.Server.Addr); err != nil {
		log.Fatal(err)
	}
}
