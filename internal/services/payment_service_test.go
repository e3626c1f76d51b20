package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPayPal struct {
	mock.Mock
}

func (m *MockPayPal) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *MockPayPal) CaptureOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *MockPayPal) GetOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

type MockCreem struct {
	mock.Mock
}

func (m *MockCreem) CreateCheckout(ctx context.Context, req gateway.CreateCheckoutRequest) (*gateway.Checkout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Checkout), args.Error(1)
}

func (m *MockCreem) GetCheckout(ctx context.Context, checkoutID string) (*gateway.Checkout, error) {
	args := m.Called(ctx, checkoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Checkout), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, v, metadata)
	return args.String(0), args.Error(1)
}

type paymentFixture struct {
	svc       *PaymentService
	store     *memoryStore
	ledger    *LedgerService
	paypal    *MockPayPal
	creem     *MockCreem
	publisher *MockPublisher
	guard     *idempotency.Guard
	mr        *miniredis.Miniredis
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &paymentFixture{
		store:     newMemoryStore(),
		paypal:    new(MockPayPal),
		creem:     new(MockCreem),
		publisher: new(MockPublisher),
		guard:     idempotency.NewGuard(redis.NewFromClient("test:", client), idempotency.DefaultConfig()),
		mr:        mr,
	}
	f.ledger = NewLedgerService(f.store)
	f.svc = NewPaymentService(f.ledger, f.paypal, f.creem, f.guard, f.publisher, PaymentConfig{
		AppURL:    "https://app.example.com/",
		BrandName: "Example",
		CreemProducts: map[string]string{
			"pro_yearly": "prod_pro_yearly",
		},
	})
	f.svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return f
}

func completedOrder(id, referenceID, customID string) *gateway.Order {
	unit := gateway.PurchaseUnit{ReferenceID: referenceID, CustomID: customID}
	unit.Payments = &struct {
		Captures []gateway.Capture `json:"captures"`
	}{Captures: []gateway.Capture{{
		ID:     "CAP-" + id,
		Status: "COMPLETED",
		Amount: gateway.Money{CurrencyCode: "USD", Value: "9.99"},
	}}}
	return &gateway.Order{ID: id, Status: gateway.OrderStatusCompleted, PurchaseUnits: []gateway.PurchaseUnit{unit}}
}

func TestPaymentService_CreatePackOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("builds a USD capture order", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CreateOrder", ctx, mock.MatchedBy(func(req gateway.CreateOrderRequest) bool {
			u := req.PurchaseUnits[0]
			return req.Intent == "CAPTURE" &&
				u.ReferenceID == "small-1700000000000" &&
				u.CustomID == "u1" &&
				u.Amount.Value == "9.99" &&
				u.Amount.CurrencyCode == "USD"
		})).Return(&gateway.Order{ID: "ORDER-1", Status: "CREATED"}, nil)

		res, err := f.svc.CreatePackOrder(ctx, "small", "u1")
		require.NoError(t, err)
		assert.Equal(t, &PackOrder{Success: true, OrderID: "ORDER-1", PackID: "small", Credits: 500, Amount: 9.99}, res)
		f.paypal.AssertExpectations(t)
	})

	t.Run("missing and unknown pack", func(t *testing.T) {
		f := newPaymentFixture(t)

		_, err := f.svc.CreatePackOrder(ctx, "", "u1")
		assert.ErrorIs(t, err, ErrMissingPackID)

		_, err = f.svc.CreatePackOrder(ctx, "huge", "u1")
		assert.ErrorIs(t, err, ErrUnknownPack)
		assert.EqualError(t, err, "Invalid packId. Must be one of: small, medium, large, ultra")
		f.paypal.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("not configured", func(t *testing.T) {
		svc := NewPaymentService(NewLedgerService(newMemoryStore()), nil, nil, nil, nil, PaymentConfig{})
		_, err := svc.CreatePackOrder(ctx, "small", "u1")
		assert.ErrorIs(t, err, ErrPayPalNotConfigured)
	})

	t.Run("provider error passes through", func(t *testing.T) {
		f := newPaymentFixture(t)
		perr := &gateway.ProviderError{Provider: "paypal", Message: "UNPROCESSABLE_ENTITY", StatusCode: 422}
		f.paypal.On("CreateOrder", ctx, mock.Anything).Return(nil, perr)

		_, err := f.svc.CreatePackOrder(ctx, "small", "u1")
		var got *gateway.ProviderError
		require.ErrorAs(t, err, &got)
		assert.Equal(t, 422, got.StatusCode)
	})
}

func TestPaymentService_CapturePackOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the buyer once", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CaptureOrder", ctx, "ORDER-1").Return(completedOrder("ORDER-1", "small-1700000000000", "u1"), nil)

		res, err := f.svc.CapturePackOrder(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", res.UserID)
		assert.Equal(t, "small", res.PackID)
		assert.Equal(t, int64(500), res.Credits)
		assert.Equal(t, int64(500), res.NewBalance)
		assert.Equal(t, "CAP-ORDER-1", res.CaptureID)
		assert.Equal(t, "9.99", res.Amount)
		assert.Equal(t, "USD", res.Currency)

		txs, err := f.ledger.ListTransactions(ctx, "u1", 10, 0)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, model.TransactionTypePurchase, txs[0].Type)
		require.NotNil(t, txs[0].ReferenceID)
		assert.Equal(t, "ORDER-1", *txs[0].ReferenceID)
		require.NotNil(t, txs[0].Description)
		assert.Equal(t, "Purchased Starter Pack", *txs[0].Description)
		assert.Equal(t, "CAP-ORDER-1", txs[0].Metadata["paypalCaptureId"])

		done, err := f.guard.IsProcessed(ctx, "paypal:ORDER-1")
		require.NoError(t, err)
		assert.True(t, done)

		// a replayed capture answers with the original transaction
		res, err = f.svc.CapturePackOrder(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.NewBalance)
		f.publisher.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("user id from the capture", func(t *testing.T) {
		f := newPaymentFixture(t)
		order := completedOrder("ORDER-2", "medium-1", "")
		order.PurchaseUnits[0].Payments.Captures[0].CustomID = "u2"
		f.paypal.On("CaptureOrder", ctx, "ORDER-2").Return(order, nil)

		res, err := f.svc.CapturePackOrder(ctx, "ORDER-2")
		require.NoError(t, err)
		assert.Equal(t, "u2", res.UserID)
		assert.Equal(t, int64(2000), res.NewBalance)
	})

	t.Run("rejections", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CaptureOrder", ctx, "PENDING").Return(&gateway.Order{ID: "PENDING", Status: "APPROVED"}, nil)
		f.paypal.On("CaptureOrder", ctx, "EMPTY").Return(&gateway.Order{ID: "EMPTY", Status: "COMPLETED"}, nil)
		f.paypal.On("CaptureOrder", ctx, "NOUSER").Return(completedOrder("NOUSER", "small-1", ""), nil)
		f.paypal.On("CaptureOrder", ctx, "BADPACK").Return(completedOrder("BADPACK", "giant-1", "u1"), nil)

		_, err := f.svc.CapturePackOrder(ctx, "")
		assert.ErrorIs(t, err, ErrMissingOrderID)

		_, err = f.svc.CapturePackOrder(ctx, "PENDING")
		var nc *NotCompletedError
		require.ErrorAs(t, err, &nc)
		assert.Equal(t, "APPROVED", nc.Status)
		assert.ErrorIs(t, err, ErrPaymentNotCompleted)

		_, err = f.svc.CapturePackOrder(ctx, "EMPTY")
		assert.ErrorIs(t, err, ErrNoCapture)

		_, err = f.svc.CapturePackOrder(ctx, "NOUSER")
		assert.ErrorIs(t, err, ErrMissingUser)

		_, err = f.svc.CapturePackOrder(ctx, "BADPACK")
		assert.EqualError(t, err, "Invalid packId: giant")
	})

	t.Run("ledger failure is published for reconciliation", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CaptureOrder", ctx, "ORDER-3").Return(completedOrder("ORDER-3", "large-1", "u3"), nil)
		f.publisher.On("PublishJSON", mock.Anything, mock.MatchedBy(func(v interface{}) bool {
			fc, ok := v.(model.FailedCredit)
			return ok && fc.Provider == model.ProviderPayPal &&
				fc.ExternalID == "ORDER-3" &&
				fc.UserID == "u3" &&
				fc.Credits == 10000 &&
				fc.PackID == "large" &&
				fc.Amount == "9.99" &&
				fc.Reason != ""
		}), map[string]string{"provider": "paypal"}).Return("1-0", nil).Once()
		f.store.failNext = errors.New("connection reset")

		_, err := f.svc.CapturePackOrder(ctx, "ORDER-3")
		assert.ErrorIs(t, err, ErrCreditsNotApplied)
		assert.ErrorIs(t, err, ErrStorage)
		f.publisher.AssertExpectations(t)

		attempts, err := f.guard.Attempts(ctx, "paypal:ORDER-3")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)

		// the lock was released so a retry can succeed
		res, err := f.svc.CapturePackOrder(ctx, "ORDER-3")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), res.NewBalance)
	})

	t.Run("already captured order is loaded and credited once", func(t *testing.T) {
		f := newPaymentFixture(t)
		captured := &gateway.ProviderError{
			Provider:   "paypal",
			Op:         "capture_order",
			StatusCode: 422,
			Details:    json.RawMessage(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`),
		}
		f.paypal.On("CaptureOrder", ctx, "ORDER-6").Return(nil, captured)
		f.paypal.On("GetOrder", ctx, "ORDER-6").Return(completedOrder("ORDER-6", "small-1", "u6"), nil)

		res, err := f.svc.CapturePackOrder(ctx, "ORDER-6")
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.NewBalance)

		res, err = f.svc.CapturePackOrder(ctx, "ORDER-6")
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.NewBalance)
		f.paypal.AssertNumberOfCalls(t, "GetOrder", 2)
	})

	t.Run("other provider rejections are returned", func(t *testing.T) {
		f := newPaymentFixture(t)
		perr := &gateway.ProviderError{Provider: "paypal", StatusCode: 422, Details: json.RawMessage(`{"details":[{"issue":"ORDER_NOT_APPROVED"}]}`)}
		f.paypal.On("CaptureOrder", ctx, "ORDER-7").Return(nil, perr)

		_, err := f.svc.CapturePackOrder(ctx, "ORDER-7")
		assert.ErrorIs(t, err, perr)
		f.paypal.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
	})

	t.Run("concurrent capture in progress", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CaptureOrder", ctx, "ORDER-4").Return(completedOrder("ORDER-4", "small-1", "u4"), nil)
		claim, err := f.guard.Acquire(ctx, "paypal:ORDER-4")
		require.NoError(t, err)
		defer f.guard.Release(ctx, claim)

		_, err = f.svc.CapturePackOrder(ctx, "ORDER-4")
		assert.ErrorIs(t, err, ErrPaymentInProgress)
	})

	t.Run("redis down does not block the credit", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CaptureOrder", ctx, "ORDER-5").Return(completedOrder("ORDER-5", "small-1", "u5"), nil)
		f.mr.Close()

		res, err := f.svc.CapturePackOrder(ctx, "ORDER-5")
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.NewBalance)
	})
}

func TestPaymentService_CreateSubscriptionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("order carries plan and return urls", func(t *testing.T) {
		f := newPaymentFixture(t)
		var sent gateway.CreateOrderRequest
		f.paypal.On("CreateOrder", ctx, mock.Anything).Run(func(args mock.Arguments) {
			sent = args.Get(1).(gateway.CreateOrderRequest)
		}).Return(&gateway.Order{ID: "SUB-1", Links: []gateway.Link{
			{Href: "https://paypal.test/self", Rel: "self"},
			{Href: "https://paypal.test/approve", Rel: "approve"},
		}}, nil)

		res, err := f.svc.CreateSubscriptionOrder(ctx, "pro", model.BillingYearly, "u1")
		require.NoError(t, err)
		assert.Equal(t, &SubscriptionOrder{
			Success:      true,
			OrderID:      "SUB-1",
			ApproveURL:   "https://paypal.test/approve",
			PlanID:       "pro",
			BillingCycle: "yearly",
			Price:        234,
			Credits:      9600,
		}, res)

		unit := sent.PurchaseUnits[0]
		assert.Equal(t, "Pro Plan (yearly) - 9600 credits", unit.Description)
		assert.Equal(t, "234.00", unit.Amount.Value)
		assert.JSONEq(t, `{"userId":"u1","planId":"pro","billingCycle":"yearly"}`, unit.CustomID)
		require.NotNil(t, sent.ApplicationContext)
		assert.Equal(t, "https://app.example.com/subscription/return", sent.ApplicationContext.ReturnURL)
		assert.Equal(t, "https://app.example.com/subscription-pricing", sent.ApplicationContext.CancelURL)
		assert.Equal(t, "PAY_NOW", sent.ApplicationContext.UserAction)
		assert.Equal(t, "BILLING", sent.ApplicationContext.LandingPage)
		assert.Equal(t, "Example", sent.ApplicationContext.BrandName)
	})

	t.Run("validation", func(t *testing.T) {
		f := newPaymentFixture(t)

		_, err := f.svc.CreateSubscriptionOrder(ctx, "pro", model.BillingYearly, "")
		assert.ErrorIs(t, err, ErrLoginRequired)

		_, err = f.svc.CreateSubscriptionOrder(ctx, "", model.BillingYearly, "u1")
		assert.ErrorIs(t, err, ErrMissingPlanID)

		_, err = f.svc.CreateSubscriptionOrder(ctx, "gold", model.BillingYearly, "u1")
		assert.EqualError(t, err, "Invalid planId. Must be one of: basic, pro, max")

		_, err = f.svc.CreateSubscriptionOrder(ctx, "pro", "weekly", "u1")
		assert.EqualError(t, err, `Invalid billingCycle. Must be "monthly" or "yearly"`)
	})

	t.Run("missing approve link", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.paypal.On("CreateOrder", ctx, mock.Anything).Return(&gateway.Order{ID: "SUB-2"}, nil)

		_, err := f.svc.CreateSubscriptionOrder(ctx, "basic", model.BillingMonthly, "u1")
		assert.ErrorIs(t, err, ErrApproveLinkMissing)
	})
}

func TestPaymentService_CaptureSubscriptionOrder(t *testing.T) {
	ctx := context.Background()
	customID, _ := json.Marshal(map[string]string{"userId": "u9", "planId": "max", "billingCycle": "monthly"})

	t.Run("credits plan credits for the period", func(t *testing.T) {
		f := newPaymentFixture(t)
		order := completedOrder("SUB-1", "max-monthly-1", "")
		order.PurchaseUnits[0].Payments.Captures[0].CustomID = string(customID)
		f.paypal.On("CaptureOrder", ctx, "SUB-1").Return(order, nil)

		res, err := f.svc.CaptureSubscriptionOrder(ctx, "SUB-1", "max", model.BillingMonthly)
		require.NoError(t, err)
		assert.Equal(t, "u9", res.UserID)
		assert.Equal(t, "max", res.PlanID)
		assert.Equal(t, "monthly", res.BillingCycle)
		assert.Equal(t, int64(4600), res.Credits)
		assert.Equal(t, int64(4600), res.NewBalance)

		txs, err := f.ledger.ListTransactions(ctx, "u9", 10, 0)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.NotNil(t, txs[0].PackID)
		assert.Equal(t, "max_monthly", *txs[0].PackID)
		assert.Equal(t, "subscription", txs[0].Metadata["type"])
	})

	t.Run("validation", func(t *testing.T) {
		f := newPaymentFixture(t)

		_, err := f.svc.CaptureSubscriptionOrder(ctx, "", "max", model.BillingMonthly)
		assert.ErrorIs(t, err, ErrMissingOrderID)

		_, err = f.svc.CaptureSubscriptionOrder(ctx, "SUB-2", "", model.BillingMonthly)
		assert.ErrorIs(t, err, ErrMissingPlanParams)

		_, err = f.svc.CaptureSubscriptionOrder(ctx, "SUB-2", "max", "")
		assert.ErrorIs(t, err, ErrMissingPlanParams)
		f.paypal.AssertNotCalled(t, "CaptureOrder", mock.Anything, mock.Anything)
	})

	t.Run("plan checked after capture", func(t *testing.T) {
		f := newPaymentFixture(t)
		order := completedOrder("SUB-3", "x", "")
		order.PurchaseUnits[0].Payments.Captures[0].CustomID = string(customID)
		f.paypal.On("CaptureOrder", ctx, "SUB-3").Return(order, nil)

		_, err := f.svc.CaptureSubscriptionOrder(ctx, "SUB-3", "gold", model.BillingMonthly)
		assert.EqualError(t, err, "Invalid planId: gold")

		_, err = f.svc.CaptureSubscriptionOrder(ctx, "SUB-3", "max", "daily")
		assert.EqualError(t, err, "Invalid billingCycle: daily")
	})

	t.Run("custom id without user", func(t *testing.T) {
		f := newPaymentFixture(t)
		order := completedOrder("SUB-4", "x", "")
		order.PurchaseUnits[0].Payments.Captures[0].CustomID = "not-json"
		f.paypal.On("CaptureOrder", ctx, "SUB-4").Return(order, nil)

		_, err := f.svc.CaptureSubscriptionOrder(ctx, "SUB-4", "max", model.BillingMonthly)
		assert.ErrorIs(t, err, ErrMissingUser)
	})
}

func TestPaymentService_CreateCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a session for the configured product", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.creem.On("CreateCheckout", ctx, mock.MatchedBy(func(req gateway.CreateCheckoutRequest) bool {
			return req.ProductID == "prod_pro_yearly" &&
				req.Units == 1 &&
				req.SuccessURL == "https://shop.test/pricing?success=true&session={checkout_id}" &&
				req.Customer != nil && req.Customer.Email == "a@b.c" &&
				req.Metadata["planId"] == "pro" &&
				req.Metadata["billingPeriod"] == "yearly" &&
				req.Metadata["userId"] == "u1" &&
				len(req.RequestID) > len("checkout_1700000000000_")
		})).Return(&gateway.Checkout{ID: "ch_1", CheckoutURL: "https://creem.test/ch_1"}, nil)

		res, err := f.svc.CreateCheckout(ctx, CheckoutRequest{
			PlanID:         "pro",
			BillingPeriod:  model.BillingYearly,
			UserEmail:      "a@b.c",
			Metadata:       map[string]any{"userId": "u1"},
			SuccessBaseURL: "https://shop.test/",
		})
		require.NoError(t, err)
		assert.Equal(t, &CheckoutSession{Success: true, CheckoutURL: "https://creem.test/ch_1", CheckoutID: "ch_1"}, res)
		f.creem.AssertExpectations(t)
	})

	t.Run("caller metadata cannot change the plan", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.creem.On("CreateCheckout", ctx, mock.MatchedBy(func(req gateway.CreateCheckoutRequest) bool {
			return req.ProductID == "prod_pro_yearly" &&
				req.Metadata["planId"] == "pro" &&
				req.Metadata["billingPeriod"] == "yearly" &&
				req.Metadata["campaign"] == "spring"
		})).Return(&gateway.Checkout{ID: "ch_2", CheckoutURL: "https://creem.test/ch_2"}, nil)

		_, err := f.svc.CreateCheckout(ctx, CheckoutRequest{
			PlanID:        "pro",
			BillingPeriod: model.BillingYearly,
			Metadata: map[string]any{
				"planId":        "max",
				"billingPeriod": "monthly",
				"campaign":      "spring",
			},
			SuccessBaseURL: "https://shop.test",
		})
		require.NoError(t, err)
		f.creem.AssertExpectations(t)
	})

	t.Run("validation", func(t *testing.T) {
		f := newPaymentFixture(t)

		_, err := f.svc.CreateCheckout(ctx, CheckoutRequest{BillingPeriod: model.BillingYearly})
		assert.ErrorIs(t, err, ErrMissingPlanID)

		_, err = f.svc.CreateCheckout(ctx, CheckoutRequest{PlanID: "pro", BillingPeriod: "weekly"})
		assert.ErrorIs(t, err, ErrInvalidBillingPeriod)

		_, err = f.svc.CreateCheckout(ctx, CheckoutRequest{PlanID: "basic", BillingPeriod: model.BillingMonthly})
		assert.EqualError(t, err, "No product configured for plan: basic (monthly)")
	})

	t.Run("product rejected", func(t *testing.T) {
		f := newPaymentFixture(t)
		perr := &gateway.ProviderError{Provider: "creem", Message: "Forbidden", StatusCode: 403}
		f.creem.On("CreateCheckout", ctx, mock.Anything).Return(nil, perr)

		_, err := f.svc.CreateCheckout(ctx, CheckoutRequest{PlanID: "pro", BillingPeriod: model.BillingYearly})
		var pe *ProductError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "prod_pro_yearly", pe.ProductID)
		assert.Equal(t, "pro", pe.PlanID)
		assert.Equal(t, "yearly", pe.BillingPeriod)
	})

	t.Run("not configured", func(t *testing.T) {
		svc := NewPaymentService(NewLedgerService(newMemoryStore()), nil, nil, nil, nil, PaymentConfig{})
		_, err := svc.CreateCheckout(ctx, CheckoutRequest{PlanID: "pro", BillingPeriod: model.BillingYearly})
		assert.ErrorIs(t, err, ErrCreemNotConfigured)
	})
}
