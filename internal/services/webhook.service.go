package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

const (
	EventCheckoutCompleted     = "checkout.completed"
	EventOrderPaid             = "order.paid"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// ErrInvalidPayload is returned for webhook bodies that are not JSON.
var ErrInvalidPayload = errors.New("Invalid JSON payload")

// WebhookMetadata holds the string-or-number metadata Creem echoes back.
type WebhookMetadata map[string]any

func (m WebhookMetadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

type WebhookObject struct {
	ID       string          `json:"id"`
	Product  string          `json:"product"`
	Status   string          `json:"status,omitempty"`
	Customer string          `json:"customer,omitempty"`
	Amount   float64         `json:"amount,omitempty"`
	Metadata WebhookMetadata `json:"metadata,omitempty"`
}

type WebhookEvent struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event"`
	Data  struct {
		Checkout     *WebhookObject `json:"checkout,omitempty"`
		Subscription *WebhookObject `json:"subscription,omitempty"`
		Order        *WebhookObject `json:"order,omitempty"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a verified webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ev, nil
}

// HandleWebhookEvent fulfils paid checkouts and orders. Events that cannot be fulfilled are logged and
// acknowledged; only unexpected failures are returned.
func (s *PaymentService) HandleWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	prom.IncWebhookEvent(ev.Event)

	switch ev.Event {
	case EventCheckoutCompleted:
		return s.fulfilWebhookObject(ctx, ev.Event, ev.Data.Checkout, "checkoutId")
	case EventOrderPaid:
		return s.fulfilWebhookObject(ctx, ev.Event, ev.Data.Order, "orderId")
	case EventSubscriptionCreated, EventSubscriptionCancelled:
		if sub := ev.Data.Subscription; sub != nil {
			logger.Info("[webhook] subscription event", "event", ev.Event, "subscription_id", sub.ID, "status", sub.Status)
		} else {
			logger.Info("[webhook] subscription event without subscription", "event", ev.Event)
		}
	default:
		logger.Info("[webhook] unhandled event", "event", ev.Event)
	}
	return nil
}

func (s *PaymentService) fulfilWebhookObject(ctx context.Context, event string, obj *WebhookObject, idKey string) error {
	if obj == nil {
		logger.Warn("[webhook] event without payload", "event", event)
		return nil
	}

	planID := obj.Metadata.String("planId")
	cycle := model.BillingCycle(obj.Metadata.String("billingPeriod"))
	if planID == "" || !cycle.Valid() {
		logger.Warn("[webhook] no plan info in metadata", "event", event, "id", obj.ID)
		return nil
	}
	userID := obj.Metadata.String("userId")
	if userID == "" {
		logger.Warn("[webhook] no user in metadata", "event", event, "id", obj.ID)
		return nil
	}
	plan, tier, err := resolvePlan(planID, cycle)
	if err != nil {
		logger.Warn("[webhook] unknown plan", "event", event, "id", obj.ID, "plan_id", planID)
		return nil
	}
	if obj.ID == "" {
		logger.Warn("[webhook] object without id", "event", event, "plan_id", planID)
		return nil
	}

	packID := model.PlanPackID(plan.ID, cycle)
	product, err := s.webhookProduct(ctx, event, obj)
	if err != nil {
		return err
	}
	if want := s.config.CreemProducts[packID]; want != "" && product != want {
		logger.Warn("[webhook] product does not match plan",
			"event", event, "id", obj.ID, "pack_id", packID, "product", product, "expected", want)
		return nil
	}

	_, err = s.fulfil(ctx, fulfilment{
		provider:   model.ProviderCreem,
		externalID: obj.ID,
		userID:     userID,
		credits:    tier.Credits,
		amount:     formatAmount(obj.Amount),
		opts: model.CreditOptions{
			ReferenceID: obj.ID,
			Description: fmt.Sprintf("%s plan (%s)", plan.ID, cycle),
			PackID:      packID,
			Metadata: map[string]any{
				"planId":        plan.ID,
				"billingPeriod": string(cycle),
				idKey:           obj.ID,
			},
		},
		skipProcessed: true,
	})
	switch {
	case err == nil:
	case errors.Is(err, errAlreadyFulfilled):
		logger.Info("[webhook] duplicate delivery", "event", event, "id", obj.ID)
	case errors.Is(err, ErrCreditsNotApplied), errors.Is(err, ErrPaymentInProgress):
		// already published for reconciliation or being handled by a concurrent delivery
		logger.Warn("[webhook] credits not applied", "event", event, "id", obj.ID, "error", err)
	default:
		return err
	}
	return nil
}

// webhookProduct is the product that was paid for. Completed checkouts are looked up at Creem
// when the client is configured.
func (s *PaymentService) webhookProduct(ctx context.Context, event string, obj *WebhookObject) (string, error) {
	if event != EventCheckoutCompleted || s.creem == nil {
		return obj.Product, nil
	}
	checkout, err := s.creem.GetCheckout(ctx, obj.ID)
	if err != nil {
		logger.Error("[webhook] checkout lookup failed", "id", obj.ID, "error", err)
		return "", err
	}
	return checkout.Product, nil
}

func formatAmount(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
