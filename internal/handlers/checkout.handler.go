package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/auth"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

const signatureHeader = "x-creem-signature"

type CheckoutHandler struct {
	svc           PaymentService
	webhookSecret []byte
}

// NewCheckoutHandler serves Creem checkout and webhooks. An empty secret disables signature checks.
func NewCheckoutHandler(svc PaymentService, webhookSecret string) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, webhookSecret: []byte(webhookSecret)}
}

func RegisterCheckoutRoutes(g *router.Group, h *CheckoutHandler, optional xhttp.MiddlewareFunc) {
	g.POST("/checkout", optional(h.CreateCheckout))
	g.POST("/webhooks/creem", h.Webhook)
}

type checkoutRequest struct {
	PlanID        string         `json:"planId"`
	BillingPeriod string         `json:"billingPeriod"`
	UserEmail     string         `json:"userEmail"`
	Metadata      map[string]any `json:"metadata"`
}

func (h *CheckoutHandler) CreateCheckout(ctx *xhttp.RequestCtx) {
	req := checkoutRequest{BillingPeriod: string(model.BillingYearly)}
	_ = readJSON(ctx, &req)

	if u, ok := auth.UserFromCtx(ctx); ok {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["userId"] = u.ID
		if req.UserEmail == "" {
			req.UserEmail = u.Email
		}
	}

	res, err := h.svc.CreateCheckout(ctx, services.CheckoutRequest{
		PlanID:         req.PlanID,
		BillingPeriod:  model.BillingCycle(req.BillingPeriod),
		UserEmail:      req.UserEmail,
		Metadata:       req.Metadata,
		SuccessBaseURL: origin(ctx),
	})
	if err != nil {
		writePaymentError(ctx, err, "Failed to create checkout session")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *CheckoutHandler) Webhook(ctx *xhttp.RequestCtx) {
	body := ctx.PostBody()

	if len(h.webhookSecret) > 0 {
		sig := ctx.Request.Header.Peek(signatureHeader)
		if len(sig) == 0 {
			logger.Warn("[webhook] signature missing")
			writeError(ctx, xhttp.StatusUnauthorized, "Signature missing")
			return
		}
		if !verifySignature(body, sig, h.webhookSecret) {
			logger.Warn("[webhook] signature mismatch")
			writeError(ctx, xhttp.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	ev, err := services.ParseWebhookEvent(body)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, services.ErrInvalidPayload.Error())
		return
	}

	if err := h.svc.HandleWebhookEvent(ctx, ev); err != nil {
		logger.Error("[webhook] processing failed", "event", ev.Event, "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, "Webhook processing failed")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]bool{"received": true})
}

// verifySignature compares the hex HMAC-SHA256 of the raw body in constant time.
func verifySignature(body, signature, secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := make([]byte, hex.EncodedLen(mac.Size()))
	hex.Encode(expected, mac.Sum(nil))
	return hmac.Equal(expected, signature)
}

// SignWebhook returns the signature header value for body. Used by tooling and tests.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func origin(ctx *xhttp.RequestCtx) string {
	scheme := "http"
	if ctx.IsTLS() || string(ctx.Request.Header.Peek("X-Forwarded-Proto")) == "https" {
		scheme = "https"
	}
	return scheme + "://" + string(ctx.Host())
}
