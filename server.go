package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/middlewares"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("ledger-backend")

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// renderError maps the error taxonomy onto HTTP statuses. Anything that is
// not an AppError is surfaced as INTERNAL without leaking its message.
func renderError(c *gin.Context, err error) {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "NOT_FOUND", "message": "resource not found"}})
		return
	}
	appErr := utils.AsAppError(err)
	status := http.StatusInternalServerError
	switch appErr.Kind {
	case utils.ErrorKindValidation:
		status = http.StatusBadRequest
	case utils.ErrorKindConflict:
		status = http.StatusConflict
	case utils.ErrorKindLockDate, utils.ErrorKindMultiCurrency, utils.ErrorKindNegativeStock:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logger := config.GetLogger()
		config.LogError(logger, "server.go", "renderError", "unhandled error", c.FullPath(), err)
		c.JSON(status, gin.H{"error": gin.H{"kind": utils.ErrorKindInternal, "message": "internal error"}})
		return
	}
	c.JSON(status, gin.H{"error": appErr})
}

func requestContext(c *gin.Context) (context.Context, string) {
	ctx := c.Request.Context()
	organizationId, _ := utils.GetOrganizationIdFromContext(ctx)
	return ctx, organizationId
}

func pathId(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, utils.Validationf("invalid %s", name)
	}
	return id, nil
}

func createOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrganization
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		org, err := models.CreateOrganization(c.Request.Context(), &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, org)
	}
}

func updateOrganizationSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewOrganizationSettings
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		org, err := models.UpdateOrganizationSettings(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

func createAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		account, err := models.CreateAccount(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	}
}

func createItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewItem
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		item, err := models.CreateItem(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func updateItemStandardCostHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		var input struct {
			StandardCost string `json:"standard_cost" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		cost, err := utils.ParseDecimal(input.StandardCost)
		if err != nil {
			renderError(c, utils.Validationf("invalid standard cost"))
			return
		}
		item, err := models.UpdateItemStandardCost(ctx, organizationId, id, cost)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func createNumberSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewNumberSeries
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		series, err := models.CreateNumberSeries(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, series)
	}
}

func createDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewDocument
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		doc, err := models.CreateDraftDocument(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

func getDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		doc, err := models.GetDocument(ctx, organizationId, id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func getJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		journal, err := models.GetJournal(ctx, organizationId, id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, journal)
	}
}

// runIdempotent wraps a mutation in the per-organization posting lock, a DB
// transaction, and (when the client sends x-idempotency-key) the idempotency
// resolver. A replayed response is returned verbatim with the stored bytes.
func runIdempotent(c *gin.Context, route string, exec func(tx *gorm.DB) (interface{}, error)) {
	ctx, organizationId := requestContext(c)
	ctx, span := tracer.Start(ctx, route)
	defer span.End()
	logger := config.GetLogger()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, utils.Validationf("could not read request body"))
		return
	}
	c.Request.Body = io.NopCloser(strings.NewReader(string(body)))

	release, err := utils.OrganizationLock(ctx, organizationId, "posting", "server.go", route)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"kind": utils.ErrorKindInternal, "message": err.Error()}})
		return
	}
	defer release()

	idempotencyKey := c.GetHeader("x-idempotency-key")
	var result interface{}
	var replayed []byte

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireOrgPostingLock(tx, organizationId); err != nil {
			return err
		}
		defer workflow.ReleaseOrgPostingLock(tx, organizationId)

		var record *models.IdempotencyRecord
		if idempotencyKey != "" {
			var rerr error
			record, replayed, rerr = workflow.BeginIdempotent(tx, organizationId, route, idempotencyKey, body)
			if rerr != nil {
				return rerr
			}
			if record == nil {
				return nil
			}
		}

		r, err := exec(tx)
		if err != nil {
			return err
		}
		result = r

		if record != nil {
			response, err := json.Marshal(r)
			if err != nil {
				config.LogError(logger, "server.go", "runIdempotent", "Marshal response", route, err)
				return err
			}
			return workflow.CompleteIdempotent(tx, record, response)
		}
		return nil
	})
	if err != nil {
		renderError(c, err)
		return
	}
	if result == nil && replayed != nil {
		c.Data(http.StatusOK, "application/json", replayed)
		return
	}
	c.JSON(http.StatusOK, result)
}

func postDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		logger := config.GetLogger()
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		var opts workflow.PostDocumentOptions
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&opts); err != nil {
				renderError(c, utils.Validationf("%s", err.Error()))
				return
			}
		}
		// Body was consumed by binding; re-serialize the parsed options so
		// the idempotency hash sees the same canonical payload every retry.
		optsJson, _ := json.Marshal(opts)
		c.Request.Body = io.NopCloser(strings.NewReader(string(optsJson)))

		runIdempotent(c, fmt.Sprintf("documents/%d/post", id), func(tx *gorm.DB) (interface{}, error) {
			return workflow.PostDocument(ctx, tx, logger, organizationId, id, &opts)
		})
	}
}

func voidDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		logger := config.GetLogger()
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		var input struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				renderError(c, utils.Validationf("%s", err.Error()))
				return
			}
		}
		inputJson, _ := json.Marshal(input)
		c.Request.Body = io.NopCloser(strings.NewReader(string(inputJson)))

		runIdempotent(c, fmt.Sprintf("documents/%d/void", id), func(tx *gorm.DB) (interface{}, error) {
			return workflow.VoidDocument(ctx, tx, logger, organizationId, id, input.Reason)
		})
	}
}

func createReconciliationSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		var input models.NewReconciliationSession
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}
		session, err := models.CreateReconciliationSession(ctx, organizationId, &input)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func getReconciliationSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		session, err := models.GetReconciliationSession(ctx, organizationId, id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func matchBankTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		logger := config.GetLogger()
		var input workflow.MatchBankTransactionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			renderError(c, utils.Validationf("%s", err.Error()))
			return
		}

		var result *workflow.MatchBankTransactionResult
		db := config.GetDB()
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r, err := workflow.MatchBankTransaction(tx, logger, organizationId, &input)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func unmatchBankTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		logger := config.GetLogger()
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}

		var bankTxn *models.BankTransaction
		db := config.GetDB()
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t, err := workflow.UnmatchBankTransaction(tx, logger, organizationId, id)
			if err != nil {
				return err
			}
			bankTxn = t
			return nil
		})
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, bankTxn)
	}
}

func getItemStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		level, err := models.GetItemStockLevel(ctx, organizationId, id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, level)
	}
}

func listItemMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		id, err := pathId(c, "id")
		if err != nil {
			renderError(c, err)
			return
		}
		movements, err := models.ListItemMovements(ctx, organizationId, id)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, movements)
	}
}

func listAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, organizationId := requestContext(c)
		referenceType := models.DocumentType(c.Query("reference_type"))
		if !referenceType.Valid() {
			renderError(c, utils.Validationf("invalid reference_type"))
			return
		}
		referenceId, err := strconv.Atoi(c.Query("reference_id"))
		if err != nil || referenceId <= 0 {
			renderError(c, utils.Validationf("invalid reference_id"))
			return
		}
		entries, err := models.ListAuditLogs(ctx, organizationId, referenceType, referenceId)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("doctype", func(fl validator.FieldLevel) bool {
			return models.DocumentType(fl.Field().String()).Valid()
		})
	}

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		"x-organization-id", "x-user-id", "x-user-name", "x-idempotency-key", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	r.POST("/organizations", createOrganizationHandler())

	tenant := r.Group("/", middlewares.SessionMiddleware())
	tenant.PUT("/organizations/settings", updateOrganizationSettingsHandler())
	tenant.POST("/accounts", createAccountHandler())
	tenant.POST("/items", createItemHandler())
	tenant.PUT("/items/:id/standard-cost", updateItemStandardCostHandler())
	tenant.GET("/items/:id/stock", getItemStockHandler())
	tenant.GET("/items/:id/movements", listItemMovementsHandler())
	tenant.POST("/number-series", createNumberSeriesHandler())
	tenant.POST("/documents", createDocumentHandler())
	tenant.GET("/documents/:id", getDocumentHandler())
	tenant.POST("/documents/:id/post", postDocumentHandler())
	tenant.POST("/documents/:id/void", voidDocumentHandler())
	tenant.GET("/journals/:id", getJournalHandler())
	tenant.POST("/reconciliation/sessions", createReconciliationSessionHandler())
	tenant.GET("/reconciliation/sessions/:id", getReconciliationSessionHandler())
	tenant.POST("/reconciliation/matches", matchBankTransactionHandler())
	tenant.DELETE("/reconciliation/matches/:id", unmatchBankTransactionHandler())
	tenant.GET("/audit-logs", listAuditLogsHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "NOT_FOUND", "message": "route not found"}})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("shutdown error: " + err.Error())
	}
}
