package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

var (
	ErrPayPalNotConfigured  = errors.New("PayPal is not configured")
	ErrCreemNotConfigured   = errors.New("Payment service is not configured")
	ErrMissingOrderID       = errors.New("Missing required parameter: orderId")
	ErrMissingPackID        = errors.New("Missing required parameter: packId")
	ErrMissingPlanID        = errors.New("Missing required parameter: planId")
	ErrMissingPlanParams    = errors.New("Missing required parameters: planId or billingCycle")
	ErrLoginRequired        = errors.New("Missing required parameter: userId. Please login first.")
	ErrUnknownPack          = errors.New("Invalid packId")
	ErrUnknownPlan          = errors.New("Invalid planId")
	ErrInvalidBillingCycle  = errors.New("Invalid billingCycle")
	ErrInvalidBillingPeriod = errors.New(`Invalid billingPeriod. Must be "monthly" or "yearly"`)
	ErrMissingUser          = errors.New("No user ID found in order")
	ErrNoCapture            = errors.New("No capture data found")
	ErrPaymentNotCompleted  = errors.New("Payment not completed")
	ErrApproveLinkMissing   = errors.New("No approve link found in PayPal order response")
	ErrNoProduct            = errors.New("No product configured for plan")
	ErrPaymentInProgress    = errors.New("Payment is already being processed")
	// ErrCreditsNotApplied means the provider took the money but the ledger did not record the credits.
	ErrCreditsNotApplied = errors.New("Payment successful but failed to add credits. Please contact support.")
)

// NotCompletedError carries the order status PayPal answered with.
type NotCompletedError struct {
	Status string
}

func (e *NotCompletedError) Error() string {
	return ErrPaymentNotCompleted.Error()
}

func (e *NotCompletedError) Is(target error) bool {
	return target == ErrPaymentNotCompleted
}

type CreditsAdder interface {
	AddCredits(ctx context.Context, userID string, amount int64, txType model.TransactionType, opts model.CreditOptions) (model.MutationResult, error)
}

type PayPalGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*gateway.Order, error)
	GetOrder(ctx context.Context, orderID string) (*gateway.Order, error)
}

type CreemGateway interface {
	CreateCheckout(ctx context.Context, req gateway.CreateCheckoutRequest) (*gateway.Checkout, error)
	GetCheckout(ctx context.Context, checkoutID string) (*gateway.Checkout, error)
}

type FulfilmentGuard interface {
	Acquire(ctx context.Context, key string) (*idempotency.Claim, error)
	Complete(ctx context.Context, c *idempotency.Claim) error
	Fail(ctx context.Context, c *idempotency.Claim, reason error)
}

// FailurePublisher hands failed credits to the reconciliation stream.
type FailurePublisher interface {
	PublishJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error)
}

type PaymentConfig struct {
	AppURL        string
	BrandName     string
	CreemProducts map[string]string
}

type PaymentService struct {
	ledger    CreditsAdder
	paypal    PayPalGateway
	creem     CreemGateway
	guard     FulfilmentGuard
	publisher FailurePublisher
	config    PaymentConfig
	now       func() time.Time
}

// NewPaymentService wires the payment flows. paypal or creem may be nil when the provider is not configured;
// guard and publisher are optional.
func NewPaymentService(ledger CreditsAdder, paypal PayPalGateway, creem CreemGateway, guard FulfilmentGuard, publisher FailurePublisher, config PaymentConfig) *PaymentService {
	return &PaymentService{
		ledger:    ledger,
		paypal:    paypal,
		creem:     creem,
		guard:     guard,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

func (s *PaymentService) PayPalEnabled() bool {
	return s.paypal != nil
}

func (s *PaymentService) CreemEnabled() bool {
	return s.creem != nil
}

type PackOrder struct {
	Success bool    `json:"success"`
	OrderID string  `json:"orderId"`
	PackID  string  `json:"packId"`
	Credits int64   `json:"credits"`
	Amount  float64 `json:"amount"`
}

// CreatePackOrder opens a PayPal order for a credit pack.
func (s *PaymentService) CreatePackOrder(ctx context.Context, packID, userID string) (*PackOrder, error) {
	if s.paypal == nil {
		return nil, ErrPayPalNotConfigured
	}
	if packID == "" {
		return nil, ErrMissingPackID
	}
	pack, ok := model.GetCreditsPack(packID)
	if !ok {
		return nil, fmt.Errorf("%w. Must be one of: %s", ErrUnknownPack, strings.Join(model.CreditsPackIDs(), ", "))
	}

	ref := fmt.Sprintf("%s-%d", pack.ID, s.now().UnixMilli())
	order, err := s.paypal.CreateOrder(ctx, gateway.NewCaptureOrder(ref, pack.Description, userID, pack.Price))
	if err != nil {
		logger.Error("[payments] create pack order failed", "pack_id", packID, "user_id", userID, "error", err)
		return nil, err
	}

	logger.Info("[payments] pack order created", "order_id", order.ID, "pack_id", packID, "user_id", userID)
	return &PackOrder{
		Success: true,
		OrderID: order.ID,
		PackID:  pack.ID,
		Credits: pack.Credits,
		Amount:  pack.Price.InexactFloat64(),
	}, nil
}

type CaptureResult struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"orderId"`
	CaptureID    string `json:"captureId"`
	PackID       string `json:"packId,omitempty"`
	PlanID       string `json:"planId,omitempty"`
	BillingCycle string `json:"billingCycle,omitempty"`
	UserID       string `json:"userId"`
	Credits      int64  `json:"credits"`
	NewBalance   int64  `json:"newBalance"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// CapturePackOrder captures an approved pack order and credits the buyer.
func (s *PaymentService) CapturePackOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	order, unit, capture, err := s.capture(ctx, orderID)
	if err != nil {
		return nil, err
	}

	userID := unit.CustomID
	if userID == "" {
		userID = capture.CustomID
	}
	if userID == "" {
		logger.Error("[payments] captured order has no user", "order_id", order.ID)
		return nil, ErrMissingUser
	}

	packID, _, _ := strings.Cut(unit.ReferenceID, "-")
	pack, ok := model.GetCreditsPack(packID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPack, packID)
	}

	res, err := s.fulfil(ctx, fulfilment{
		provider:   model.ProviderPayPal,
		externalID: order.ID,
		userID:     userID,
		credits:    pack.Credits,
		amount:     capture.Amount.Value,
		currency:   capture.Amount.CurrencyCode,
		opts: model.CreditOptions{
			ReferenceID: order.ID,
			Description: "Purchased " + pack.Name,
			PackID:      pack.ID,
			Metadata: map[string]any{
				"paypalOrderId":   order.ID,
				"paypalCaptureId": capture.ID,
				"amount":          capture.Amount.Value,
				"currency":        capture.Amount.CurrencyCode,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &CaptureResult{
		Success:    true,
		OrderID:    order.ID,
		CaptureID:  capture.ID,
		PackID:     pack.ID,
		UserID:     userID,
		Credits:    pack.Credits,
		NewBalance: res.Balance,
		Amount:     capture.Amount.Value,
		Currency:   capture.Amount.CurrencyCode,
		Status:     capture.Status,
	}, nil
}

type SubscriptionOrder struct {
	Success      bool    `json:"success"`
	OrderID      string  `json:"orderId"`
	ApproveURL   string  `json:"approveUrl"`
	PlanID       string  `json:"planId"`
	BillingCycle string  `json:"billingCycle"`
	Price        float64 `json:"price"`
	Credits      int64   `json:"credits"`
}

type subscriptionCustomID struct {
	UserID       string `json:"userId"`
	PlanID       string `json:"planId"`
	BillingCycle string `json:"billingCycle"`
}

// CreateSubscriptionOrder opens a PayPal order for one billing period of a plan.
func (s *PaymentService) CreateSubscriptionOrder(ctx context.Context, planID string, cycle model.BillingCycle, userID string) (*SubscriptionOrder, error) {
	if s.paypal == nil {
		return nil, ErrPayPalNotConfigured
	}
	if planID == "" {
		return nil, ErrMissingPlanID
	}
	if userID == "" {
		return nil, ErrLoginRequired
	}
	plan, ok := model.GetSubscriptionPlan(planID)
	if !ok {
		return nil, fmt.Errorf("%w. Must be one of: %s", ErrUnknownPlan, strings.Join(model.SubscriptionPlanIDs(), ", "))
	}
	if !cycle.Valid() {
		return nil, fmt.Errorf(`%w. Must be "monthly" or "yearly"`, ErrInvalidBillingCycle)
	}
	tier := plan.Tier(cycle)

	customID, err := json.Marshal(subscriptionCustomID{UserID: userID, PlanID: plan.ID, BillingCycle: string(cycle)})
	if err != nil {
		return nil, err
	}

	req := gateway.NewCaptureOrder(
		fmt.Sprintf("%s-%s-%d", plan.ID, cycle, s.now().UnixMilli()),
		fmt.Sprintf("%s Plan (%s) - %d credits", plan.Name, cycle, tier.Credits),
		string(customID),
		tier.Price,
	)
	appURL := strings.TrimRight(s.config.AppURL, "/")
	req.ApplicationContext = &gateway.ApplicationContext{
		ReturnURL:   appURL + "/subscription/return",
		CancelURL:   appURL + "/subscription-pricing",
		BrandName:   s.config.BrandName,
		UserAction:  "PAY_NOW",
		LandingPage: "BILLING",
	}

	order, err := s.paypal.CreateOrder(ctx, req)
	if err != nil {
		logger.Error("[payments] create subscription order failed", "plan_id", planID, "cycle", cycle, "user_id", userID, "error", err)
		return nil, err
	}
	approve := order.ApproveURL()
	if approve == "" {
		return nil, ErrApproveLinkMissing
	}

	logger.Info("[payments] subscription order created", "order_id", order.ID, "plan_id", plan.ID, "cycle", cycle, "user_id", userID)
	return &SubscriptionOrder{
		Success:      true,
		OrderID:      order.ID,
		ApproveURL:   approve,
		PlanID:       plan.ID,
		BillingCycle: string(cycle),
		Price:        tier.Price.InexactFloat64(),
		Credits:      tier.Credits,
	}, nil
}

// CaptureSubscriptionOrder captures a subscription order and credits the plan's credits for the period.
// The user comes from the JSON custom_id written at order creation.
func (s *PaymentService) CaptureSubscriptionOrder(ctx context.Context, orderID, planID string, cycle model.BillingCycle) (*CaptureResult, error) {
	if s.paypal == nil {
		return nil, ErrPayPalNotConfigured
	}
	if orderID == "" {
		return nil, ErrMissingOrderID
	}
	if planID == "" || cycle == "" {
		return nil, ErrMissingPlanParams
	}

	order, _, capture, err := s.capture(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var custom subscriptionCustomID
	if capture.CustomID != "" {
		if err := json.Unmarshal([]byte(capture.CustomID), &custom); err != nil {
			logger.Warn("[payments] custom_id is not json", "order_id", order.ID, "error", err)
		}
	}
	if custom.UserID == "" {
		logger.Error("[payments] captured subscription has no user", "order_id", order.ID)
		return nil, ErrMissingUser
	}

	plan, tier, err := resolvePlan(planID, cycle)
	if err != nil {
		return nil, err
	}

	res, err := s.fulfil(ctx, fulfilment{
		provider:   model.ProviderPayPal,
		externalID: order.ID,
		userID:     custom.UserID,
		credits:    tier.Credits,
		amount:     capture.Amount.Value,
		currency:   capture.Amount.CurrencyCode,
		opts: model.CreditOptions{
			ReferenceID: order.ID,
			Description: fmt.Sprintf("Subscribed to %s Plan (%s)", plan.Name, cycle),
			PackID:      model.PlanPackID(plan.ID, cycle),
			Metadata: map[string]any{
				"type":            "subscription",
				"planId":          plan.ID,
				"billingCycle":    string(cycle),
				"paypalOrderId":   order.ID,
				"paypalCaptureId": capture.ID,
				"amount":          capture.Amount.Value,
				"currency":        capture.Amount.CurrencyCode,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &CaptureResult{
		Success:      true,
		OrderID:      order.ID,
		CaptureID:    capture.ID,
		PlanID:       plan.ID,
		BillingCycle: string(cycle),
		UserID:       custom.UserID,
		Credits:      tier.Credits,
		NewBalance:   res.Balance,
		Amount:       capture.Amount.Value,
		Currency:     capture.Amount.CurrencyCode,
		Status:       capture.Status,
	}, nil
}

func (s *PaymentService) capture(ctx context.Context, orderID string) (*gateway.Order, *gateway.PurchaseUnit, *gateway.Capture, error) {
	if s.paypal == nil {
		return nil, nil, nil, ErrPayPalNotConfigured
	}
	if orderID == "" {
		return nil, nil, nil, ErrMissingOrderID
	}

	order, err := s.paypal.CaptureOrder(ctx, orderID)
	if gateway.IsAlreadyCaptured(err) {
		// a retried capture: the ledger dedupes on the order id
		logger.Info("[payments] order already captured, loading it", "order_id", orderID)
		order, err = s.paypal.GetOrder(ctx, orderID)
	}
	if err != nil {
		logger.Error("[payments] capture failed", "order_id", orderID, "error", err)
		return nil, nil, nil, err
	}
	if order.Status != gateway.OrderStatusCompleted {
		logger.Warn("[payments] order not completed", "order_id", orderID, "status", order.Status)
		return nil, nil, nil, &NotCompletedError{Status: order.Status}
	}

	unit, capture := order.FirstCapture()
	if capture == nil {
		return nil, nil, nil, ErrNoCapture
	}
	return order, unit, capture, nil
}

type CheckoutRequest struct {
	PlanID        string
	BillingPeriod model.BillingCycle
	UserEmail     string
	Metadata      map[string]any
	// SuccessBaseURL is scheme://host of the incoming request.
	SuccessBaseURL string
}

type CheckoutSession struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkoutUrl"`
	CheckoutID  string `json:"checkoutId"`
}

// ProductError is a Creem rejection of the configured product (HTTP 403).
type ProductError struct {
	ProductID     string
	PlanID        string
	BillingPeriod string
	Cause         *gateway.ProviderError
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("creem rejected product %s: %v", e.ProductID, e.Cause)
}

func (e *ProductError) Unwrap() error {
	return e.Cause
}

func (s *PaymentService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.creem == nil {
		return nil, ErrCreemNotConfigured
	}
	if req.PlanID == "" {
		return nil, ErrMissingPlanID
	}
	if !req.BillingPeriod.Valid() {
		return nil, ErrInvalidBillingPeriod
	}

	key := model.PlanPackID(req.PlanID, req.BillingPeriod)
	productID := s.config.CreemProducts[key]
	if productID == "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoProduct, req.PlanID, req.BillingPeriod)
	}

	metadata := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// the webhook credits whatever plan the metadata names
	metadata["planId"] = req.PlanID
	metadata["billingPeriod"] = string(req.BillingPeriod)

	checkoutReq := gateway.CreateCheckoutRequest{
		ProductID:  productID,
		RequestID:  fmt.Sprintf("checkout_%d_%s", s.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:13]),
		Units:      1,
		SuccessURL: strings.TrimRight(req.SuccessBaseURL, "/") + "/pricing?success=true&session={checkout_id}",
		Metadata:   metadata,
	}
	if req.UserEmail != "" {
		checkoutReq.Customer = &gateway.CheckoutCustomer{Email: req.UserEmail}
	}

	checkout, err := s.creem.CreateCheckout(ctx, checkoutReq)
	if err != nil {
		var perr *gateway.ProviderError
		if errors.As(err, &perr) && perr.StatusCode == 403 {
			return nil, &ProductError{ProductID: productID, PlanID: req.PlanID, BillingPeriod: string(req.BillingPeriod), Cause: perr}
		}
		logger.Error("[payments] create checkout failed", "plan_id", req.PlanID, "period", req.BillingPeriod, "error", err)
		return nil, err
	}

	logger.Info("[payments] checkout created", "checkout_id", checkout.ID, "plan_id", req.PlanID, "period", req.BillingPeriod)
	return &CheckoutSession{
		Success:     true,
		CheckoutURL: checkout.CheckoutURL,
		CheckoutID:  checkout.ID,
	}, nil
}

func resolvePlan(planID string, cycle model.BillingCycle) (model.SubscriptionPlan, model.PlanTier, error) {
	plan, ok := model.GetSubscriptionPlan(planID)
	if !ok {
		return model.SubscriptionPlan{}, model.PlanTier{}, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	if !cycle.Valid() {
		return model.SubscriptionPlan{}, model.PlanTier{}, fmt.Errorf("%w: %s", ErrInvalidBillingCycle, cycle)
	}
	return plan, plan.Tier(cycle), nil
}

type fulfilment struct {
	provider   string
	externalID string
	userID     string
	credits    int64
	amount     string
	currency   string
	opts       model.CreditOptions
	// skipProcessed acknowledges an already fulfilled reference without calling the ledger.
	skipProcessed bool
}

var errAlreadyFulfilled = errors.New("already fulfilled")

// fulfil credits a captured payment once. When the ledger refuses, the payment is published
// for reconciliation and ErrCreditsNotApplied is returned.
func (s *PaymentService) fulfil(ctx context.Context, f fulfilment) (model.MutationResult, error) {
	key := f.provider + ":" + f.externalID

	var claim *idempotency.Claim
	if s.guard != nil {
		var err error
		claim, err = s.guard.Acquire(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, idempotency.ErrAlreadyProcessed):
			if f.skipProcessed {
				return model.MutationResult{}, errAlreadyFulfilled
			}
			// the ledger dedupes on reference id and answers with the original transaction
		case errors.Is(err, idempotency.ErrInProgress):
			return model.MutationResult{}, ErrPaymentInProgress
		case errors.Is(err, idempotency.ErrMaxAttemptsReached):
			s.reportNotApplied(ctx, f, err)
			return model.MutationResult{}, fmt.Errorf("%w: %w", ErrCreditsNotApplied, err)
		default:
			logger.Warn("[payments] idempotency unavailable, continuing", "key", key, "error", err)
		}
	}

	res, err := s.ledger.AddCredits(ctx, f.userID, f.credits, model.TransactionTypePurchase, f.opts)
	if err != nil {
		if claim != nil {
			s.guard.Fail(ctx, claim, err)
		}
		s.reportNotApplied(ctx, f, err)
		return res, fmt.Errorf("%w: %w", ErrCreditsNotApplied, err)
	}

	if claim != nil {
		if err := s.guard.Complete(ctx, claim); err != nil {
			logger.Warn("[payments] mark fulfilled failed", "key", key, "error", err)
		}
	}
	prom.IncPaymentCaptured(f.provider)
	logger.Info("[payments] credits applied",
		"provider", f.provider,
		"external_id", f.externalID,
		"user_id", f.userID,
		"credits", f.credits,
		"balance", res.Balance,
	)
	return res, nil
}

func (s *PaymentService) reportNotApplied(ctx context.Context, f fulfilment, cause error) {
	prom.IncCreditsNotApplied(f.provider)
	failed := model.FailedCredit{
		Provider:   f.provider,
		ExternalID: f.externalID,
		UserID:     f.userID,
		Credits:    f.credits,
		Type:       model.TransactionTypePurchase,
		PackID:     f.opts.PackID,
		Amount:     f.amount,
		Currency:   f.currency,
		Reason:     cause.Error(),
		OccurredAt: s.now().UTC(),
	}
	logger.Error("[payments] credits not applied, needs reconciliation",
		"provider", f.provider,
		"external_id", f.externalID,
		"user_id", f.userID,
		"credits", f.credits,
		"error", cause,
	)

	if s.publisher == nil {
		return
	}
	// the request may already be cancelled, the record must still go out
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.publisher.PublishJSON(pubCtx, failed, map[string]string{"provider": f.provider}); err != nil {
		logger.Error("[payments] publish failed credit failed",
			"provider", f.provider,
			"external_id", f.externalID,
			"error", err,
		)
	}
}
