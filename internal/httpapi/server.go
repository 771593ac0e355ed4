// Package httpapi is the JSON read surface consumed by the page-rendering
// frontend: balance, minutes, eligibility gates, and the transaction audit
// trail.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/speakspace/credits/pkg/credits"
	"go.uber.org/zap"
)

// LedgerService is the slice of the credits service the read API needs.
type LedgerService interface {
	Balance(ctx context.Context, userID credits.UserID) (credits.Balance, error)
	CanStart(ctx context.Context, userID credits.UserID, kind credits.ActivityKind) (bool, error)
	History(ctx context.Context, userID credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error)
	Policy() credits.EligibilityPolicy
}

// WebhookRegistrar mounts provider webhook routes on the router.
type WebhookRegistrar interface {
	Register(router gin.IRouter)
}

// Run boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, service LedgerService, webhooks WebhookRegistrar) error {
	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router := setupRouter(cfg, handler, webhooks)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, webhooks WebhookRegistrar) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if webhooks != nil {
		webhooks.Register(router)
	}

	api := router.Group("/api")
	api.Use(authMiddleware([]byte(cfg.JWTSigningKey)))

	api.GET("/credits", handler.handleCredits)
	api.GET("/minutes", handler.handleMinutes)
	api.GET("/eligibility", handler.handleEligibility)
	api.GET("/transactions", handler.handleTransactions)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service LedgerService
	cfg     Config
}

func (handler *httpHandler) handleCredits(ctx *gin.Context) {
	balance, ok := handler.fetchBalance(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": balance.Credits})
}

func (handler *httpHandler) handleMinutes(ctx *gin.Context) {
	balance, ok := handler.fetchBalance(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"minutes": balance.Minutes})
}

func (handler *httpHandler) handleEligibility(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	kind, err := credits.ParseActivityKind(ctx.Query("kind"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_kind", "unknown activity kind"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()

	eligible, err := handler.service.CanStart(requestCtx, userID, kind)
	if err != nil {
		handler.logger.Error("eligibility check failed", zap.String("kind", kind.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "eligibility unavailable"))
		return
	}
	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	threshold, err := handler.service.Policy().Threshold(kind)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_kind", "unknown activity kind"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"eligible":          eligible,
		"threshold_minutes": threshold,
		"credits":           balance.Credits,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}
	before := int64(0)
	if rawBefore := ctx.Query("before"); rawBefore != "" {
		parsed, err := strconv.ParseInt(rawBefore, 10, 64)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()

	history, err := handler.service.History(requestCtx, userID, before, limit)
	if err != nil {
		handler.logger.Error("history fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "history unavailable"))
		return
	}

	payload := make([]transactionPayload, 0, len(history))
	for _, transaction := range history {
		payload = append(payload, transactionPayload{
			TransactionID:     transaction.TransactionID,
			Type:              transaction.Type.String(),
			Amount:            transaction.Amount,
			CreditsAfter:      transaction.CreditsAfter,
			ExternalReference: transaction.ExternalReference,
			PackageName:       transaction.PackageName,
			PriceCents:        transaction.PriceCents,
			Currency:          transaction.Currency,
			Status:            transaction.Status.String(),
			CreatedUnixUTC:    transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) fetchBalance(ctx *gin.Context) (credits.Balance, bool) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return credits.Balance{}, false
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()

	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "balance unavailable"))
		return credits.Balance{}, false
	}
	return balance, true
}

func (handler *httpHandler) callerUserID(ctx *gin.Context) (credits.UserID, bool) {
	raw := userIDFromContext(ctx)
	userID, err := credits.NewUserID(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return credits.UserID{}, false
	}
	return userID, true
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type transactionPayload struct {
	TransactionID     string `json:"transaction_id"`
	Type              string `json:"type"`
	Amount            int64  `json:"amount"`
	CreditsAfter      int64  `json:"credits_after"`
	ExternalReference string `json:"external_reference,omitempty"`
	PackageName       string `json:"package_name,omitempty"`
	PriceCents        int64  `json:"price_cents,omitempty"`
	Currency          string `json:"currency,omitempty"`
	Status            string `json:"status"`
	CreatedUnixUTC    int64  `json:"created_unix_utc"`
}
