package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/config"
	handler "bank-reconciliation-backend/internal/handlers"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/scheduler"
	"bank-reconciliation-backend/internal/services/classification"
	"bank-reconciliation-backend/internal/services/importer"
	"bank-reconciliation-backend/internal/services/ledgersync"
	"bank-reconciliation-backend/internal/services/matching"
	"bank-reconciliation-backend/internal/services/patterns"
	service "bank-reconciliation-backend/internal/services/reconciliation"
)

// Services is the wired engine shared by the HTTP surface, the CLI and the
// scheduler.
type Services struct {
	Reconciliation *service.ReconciliationService
	Importer       *importer.Importer
	Classifier     *classification.Classifier
	Matcher        *matching.Matcher
	Detector       *patterns.Detector
	Sync           *ledgersync.Orchestrator
	Refresher      *scheduler.SuggestionRefresher
}

func NewServices(db *gorm.DB, engine config.Engine, newClient ledgersync.ClientFactory) *Services {
	transactionRepo := repository.NewBankTransactionRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	syncRepo := repository.NewSyncTaskRepository(db)

	classifier := classification.NewClassifier(transactionRepo, expenseRepo, categoryRepo, engine.Classification)
	matcher := matching.NewMatcher(transactionRepo, expenseRepo, engine.Matching)
	imp := importer.New(transactionRepo)

	reconService := service.NewReconciliationService(
		transactionRepo,
		expenseRepo,
		categoryRepo,
		auditRepo,
		classifier,
		engine.Bulk,
	)

	return &Services{
		Reconciliation: reconService,
		Importer:       imp,
		Classifier:     classifier,
		Matcher:        matcher,
		Detector:       patterns.NewDetector(transactionRepo, categoryRepo, engine.Patterns),
		Sync: ledgersync.NewOrchestrator(
			syncRepo,
			transactionRepo,
			imp,
			reconService,
			classifier,
			engine.Sync,
			engine.Classification,
			newClient,
		),
		Refresher: scheduler.NewSuggestionRefresher(transactionRepo, classifier, matcher, engine.Scheduler.BatchSize),
	}
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(log zerolog.Logger, corsOrigins []string, svc *Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestLogger(log))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowHeaders:     []string{"Origin", "Content-Type", handler.UserIDHeader, handler.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(handler.Actor())

	RegisterRoutes(r, svc)
	return r
}

func RegisterRoutes(r *gin.Engine, svc *Services) {
	reconHandler := handler.NewReconciliationHandler(
		svc.Reconciliation,
		svc.Importer,
		svc.Matcher,
		svc.Classifier,
		svc.Detector,
		svc.Sync,
	)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tx := api.Group("/transactions")
	tx.GET("", reconHandler.ListTransactions)
	tx.GET("/stats", reconHandler.Stats)
	tx.GET("/analytics", reconHandler.Analytics)
	tx.GET("/patterns", reconHandler.Patterns)

	tx.POST("/import/preview", reconHandler.PreviewImport)
	tx.POST("/import", reconHandler.Import)

	tx.POST("/sync", reconHandler.StartSync)
	tx.GET("/sync/:taskId", reconHandler.SyncStatus)

	bulk := tx.Group("/bulk")
	{
		bulk.POST("/categorize", reconHandler.BulkCategorize)
		bulk.POST("/status", reconHandler.BulkUpdateStatus)
		bulk.POST("/delete", reconHandler.BulkDelete)
	}

	// Transaction-level routes
	tx.GET("/:id", reconHandler.GetTransaction)
	tx.PATCH("/:id", reconHandler.UpdateTransaction)
	tx.DELETE("/:id", reconHandler.DeleteTransaction)
	tx.POST("/:id/categorize", reconHandler.Categorize)
	tx.POST("/:id/apply-suggestion", reconHandler.ApplySuggestion)
	tx.POST("/:id/link", reconHandler.Link)
	tx.POST("/:id/unlink", reconHandler.Unlink)
	tx.POST("/:id/approve", reconHandler.Approve)
	tx.POST("/:id/review", reconHandler.Review)
	tx.POST("/:id/ignore", reconHandler.Ignore)
	tx.GET("/:id/matches", reconHandler.Matches)
	tx.GET("/:id/category-suggestions", reconHandler.CategorySuggestions)
	tx.GET("/:id/history", reconHandler.History)

	expenses := api.Group("/expenses")
	{
		expenses.GET("", reconHandler.ListExpenses)
		expenses.POST("", reconHandler.CreateExpense)
		expenses.POST("/upload", reconHandler.UploadExpenses)
	}

	categories := api.Group("/categories")
	{
		categories.GET("", reconHandler.ListCategories)
		categories.POST("", reconHandler.CreateCategory)
	}
}
