package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/auth"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
)

type PaymentService interface {
	CreatePackOrder(ctx context.Context, packID, userID string) (*services.PackOrder, error)
	CapturePackOrder(ctx context.Context, orderID string) (*services.CaptureResult, error)
	CreateSubscriptionOrder(ctx context.Context, planID string, cycle model.BillingCycle, userID string) (*services.SubscriptionOrder, error)
	CaptureSubscriptionOrder(ctx context.Context, orderID, planID string, cycle model.BillingCycle) (*services.CaptureResult, error)
	CreateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error)
	HandleWebhookEvent(ctx context.Context, ev *services.WebhookEvent) error
}

type PaymentHandler struct {
	svc PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// RegisterPayPalRoutes mounts the pack and subscription order endpoints. The caller is optional:
// a signed-in user takes precedence over a userId in the body.
func RegisterPayPalRoutes(g *router.Group, h *PaymentHandler, optional xhttp.MiddlewareFunc) {
	g.POST("/paypal/create-order", optional(h.CreatePackOrder))
	g.POST("/paypal/capture-order", optional(h.CapturePackOrder))
	g.POST("/subscription/create-order", optional(h.CreateSubscriptionOrder))
	g.POST("/subscription/capture-order", optional(h.CaptureSubscriptionOrder))
}

type createPackOrderRequest struct {
	PackID string `json:"packId"`
	UserID string `json:"userId"`
}

type captureOrderRequest struct {
	OrderID      string `json:"orderId"`
	PlanID       string `json:"planId"`
	BillingCycle string `json:"billingCycle"`
}

type createSubscriptionRequest struct {
	PlanID       string `json:"planId"`
	BillingCycle string `json:"billingCycle"`
	UserID       string `json:"userId"`
}

func callerID(ctx *xhttp.RequestCtx, fallback string) string {
	if u, ok := auth.UserFromCtx(ctx); ok {
		return u.ID
	}
	return fallback
}

func (h *PaymentHandler) CreatePackOrder(ctx *xhttp.RequestCtx) {
	var req createPackOrderRequest
	_ = readJSON(ctx, &req)

	res, err := h.svc.CreatePackOrder(ctx, req.PackID, callerID(ctx, req.UserID))
	if err != nil {
		writePaymentError(ctx, err, "Failed to create PayPal order")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *PaymentHandler) CapturePackOrder(ctx *xhttp.RequestCtx) {
	var req captureOrderRequest
	_ = readJSON(ctx, &req)

	res, err := h.svc.CapturePackOrder(ctx, req.OrderID)
	if err != nil {
		writePaymentError(ctx, err, "Failed to capture PayPal order")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *PaymentHandler) CreateSubscriptionOrder(ctx *xhttp.RequestCtx) {
	req := createSubscriptionRequest{BillingCycle: string(model.BillingYearly)}
	_ = readJSON(ctx, &req)

	res, err := h.svc.CreateSubscriptionOrder(ctx, req.PlanID, model.BillingCycle(req.BillingCycle), callerID(ctx, req.UserID))
	if err != nil {
		writePaymentError(ctx, err, "Failed to create subscription order")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *PaymentHandler) CaptureSubscriptionOrder(ctx *xhttp.RequestCtx) {
	var req captureOrderRequest
	_ = readJSON(ctx, &req)

	res, err := h.svc.CaptureSubscriptionOrder(ctx, req.OrderID, req.PlanID, model.BillingCycle(req.BillingCycle))
	if err != nil {
		writePaymentError(ctx, err, "Failed to capture subscription order")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

var badRequestErrors = []error{
	services.ErrMissingOrderID,
	services.ErrMissingPackID,
	services.ErrMissingPlanID,
	services.ErrMissingPlanParams,
	services.ErrUnknownPack,
	services.ErrUnknownPlan,
	services.ErrInvalidBillingCycle,
	services.ErrInvalidBillingPeriod,
	services.ErrMissingUser,
	services.ErrNoCapture,
	services.ErrNoProduct,
}

// writePaymentError maps payment failures to the documented responses; anything unexpected answers 500 with fallback.
func writePaymentError(ctx *xhttp.RequestCtx, err error, fallback string) {
	var (
		notCompleted *services.NotCompletedError
		productErr   *services.ProductError
		providerErr  *gateway.ProviderError
	)

	switch {
	case errors.Is(err, services.ErrPayPalNotConfigured), errors.Is(err, services.ErrCreemNotConfigured):
		writeError(ctx, xhttp.StatusServiceUnavailable, err.Error())
	case errors.Is(err, services.ErrCreditsNotApplied):
		writeError(ctx, xhttp.StatusInternalServerError, services.ErrCreditsNotApplied.Error())
	case errors.Is(err, services.ErrLoginRequired):
		writeError(ctx, xhttp.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrPaymentInProgress):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.As(err, &notCompleted):
		writeJSON(ctx, xhttp.StatusBadRequest, map[string]string{"error": notCompleted.Error(), "status": notCompleted.Status})
	case errors.As(err, &productErr):
		writeJSON(ctx, xhttp.StatusForbidden, map[string]any{
			"error":         "Payment configuration error: the product id is not valid. Create the product in the Creem dashboard and update the environment.",
			"productId":     productErr.ProductID,
			"planId":        productErr.PlanID,
			"billingPeriod": productErr.BillingPeriod,
			"details":       productErr.Cause.Message,
		})
	case errors.As(err, &providerErr):
		body := map[string]any{"error": providerErr.Message}
		if len(providerErr.Details) > 0 {
			body["details"] = json.RawMessage(providerErr.Details)
		}
		writeJSON(ctx, providerErr.HTTPStatus(), body)
	case isBadRequest(err):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, fallback)
	}
}

func isBadRequest(err error) bool {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
