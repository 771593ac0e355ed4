// Package checkout receives payment-provider webhooks and turns completed
// checkout sessions into ledger settlements.
package checkout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/speakspace/credits/pkg/credits"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = int64(65536)

	eventCheckoutCompleted = "checkout.session.completed"

	metadataKeyUserID      = "userId"
	metadataKeyCredits     = "credits"
	metadataKeyPackageName = "packageName"
)

// Settler is the slice of the ledger service the webhook needs.
type Settler interface {
	Settle(ctx context.Context, event credits.SettlementEvent) (credits.SettlementResult, error)
}

// Handler verifies and processes Stripe webhook deliveries.
type Handler struct {
	logger        *zap.Logger
	settler       Settler
	catalog       Catalog
	webhookSecret string
	settleTimeout time.Duration
}

// NewHandler wires a webhook handler.
func NewHandler(logger *zap.Logger, settler Settler, catalog Catalog, webhookSecret string, settleTimeout time.Duration) *Handler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if settleTimeout <= 0 {
		settleTimeout = 5 * time.Second
	}
	return &Handler{
		logger:        logger,
		settler:       settler,
		catalog:       catalog,
		webhookSecret: webhookSecret,
		settleTimeout: settleTimeout,
	}
}

// Register mounts the webhook route. It stays outside any auth middleware;
// authenticity comes from the signature check.
func (handler *Handler) Register(router gin.IRouter) {
	router.POST("/webhooks/stripe", handler.handleStripeWebhook)
}

func (handler *Handler) handleStripeWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxBodyBytes))
	if err != nil {
		handler.logger.Warn("webhook body read failed", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		ctx.GetHeader("Stripe-Signature"),
		handler.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		handler.logger.Warn("webhook signature verification failed", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	if event.Type != eventCheckoutCompleted {
		// Acknowledged but ignored; a non-2xx would make the provider retry
		// events this service never handles.
		ctx.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		handler.logger.Warn("checkout session unmarshal failed", zap.String("event_id", event.ID), zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
		return
	}

	settlementEvent, err := handler.settlementEventFromSession(event.ID, session)
	if err != nil {
		handler.logger.Warn("checkout session rejected",
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session metadata"})
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.settleTimeout)
	defer cancel()

	result, err := handler.settler.Settle(settleCtx, settlementEvent)
	if err != nil {
		if credits.IsPermanent(err) {
			handler.logger.Warn("settlement rejected",
				zap.String("session_id", session.ID),
				zap.Error(err))
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "settlement rejected"})
			return
		}
		handler.logger.Error("settlement failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "settlement failed"})
		return
	}

	if result.AlreadyProcessed {
		ctx.JSON(http.StatusOK, gin.H{"success": true, "alreadyProcessed": true})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (handler *Handler) settlementEventFromSession(eventID string, session stripe.CheckoutSession) (credits.SettlementEvent, error) {
	reference, err := credits.NewExternalReference(session.ID)
	if err != nil {
		return credits.SettlementEvent{}, err
	}
	userID, err := credits.NewUserID(session.Metadata[metadataKeyUserID])
	if err != nil {
		return credits.SettlementEvent{}, err
	}

	packageName := session.Metadata[metadataKeyPackageName]
	creditCount, known := handler.catalog.CreditsFor(packageName)
	if !known {
		creditCount, err = strconv.ParseInt(session.Metadata[metadataKeyCredits], 10, 64)
		if err != nil {
			return credits.SettlementEvent{}, credits.ErrMalformedEvent
		}
		handler.logger.Warn("unknown package, using metadata credits",
			zap.String("session_id", session.ID),
			zap.String("package_name", packageName),
			zap.Int64("credits", creditCount))
	}
	amount, err := credits.NewCreditAmount(creditCount)
	if err != nil {
		return credits.SettlementEvent{}, err
	}

	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}
	metadata, err := credits.NewMetadataJSON(marshalMetadata(map[string]string{
		"eventId":       eventID,
		"packageName":   packageName,
		"paymentIntent": paymentIntentID,
	}))
	if err != nil {
		return credits.SettlementEvent{}, err
	}

	return credits.SettlementEvent{
		ExternalReference: reference,
		UserID:            userID,
		Credits:           amount,
		PackageName:       packageName,
		PriceCents:        session.AmountTotal,
		Currency:          string(session.Currency),
		Metadata:          metadata,
	}, nil
}

func marshalMetadata(metadata any) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
