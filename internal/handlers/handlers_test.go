package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimasrn/credits-gateway/internal/auth"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const testJWTSecret = "handler-test-secret"

var testAuth = auth.NewAuthenticator(testJWTSecret, "sb-access-token")

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

// serveAs runs h behind the optional auth middleware, signed in as userID unless it is empty.
func serveAs(t *testing.T, h xhttp.RequestHandler, ctx *xhttp.RequestCtx, userID string) {
	t.Helper()
	if userID != "" {
		tok, err := testAuth.Sign(auth.User{ID: userID, Email: userID + "@example.com"}, time.Hour)
		require.NoError(t, err)
		ctx.Request.Header.Set("Authorization", "Bearer "+tok)
	}
	testAuth.Optional(h)(ctx)
}

func decodeBody(t *testing.T, ctx *xhttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

type MockCreditsService struct {
	mock.Mock
}

func (m *MockCreditsService) GetBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountBalance), args.Error(1)
}

func (m *MockCreditsService) GetOrCreateBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountBalance), args.Error(1)
}

func (m *MockCreditsService) DeductCredits(ctx context.Context, userID string, amount int64, opts model.CreditOptions) (model.MutationResult, error) {
	args := m.Called(ctx, userID, amount, opts)
	return args.Get(0).(model.MutationResult), args.Error(1)
}

func (m *MockCreditsService) AddCredits(ctx context.Context, userID string, amount int64, txType model.TransactionType, opts model.CreditOptions) (model.MutationResult, error) {
	args := m.Called(ctx, userID, amount, txType, opts)
	return args.Get(0).(model.MutationResult), args.Error(1)
}

func (m *MockCreditsService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockCreditsService) GetTransactionStats(ctx context.Context, userID string) (model.TransactionStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.TransactionStats), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePackOrder(ctx context.Context, packID, userID string) (*services.PackOrder, error) {
	args := m.Called(ctx, packID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PackOrder), args.Error(1)
}

func (m *MockPaymentService) CapturePackOrder(ctx context.Context, orderID string) (*services.CaptureResult, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CaptureResult), args.Error(1)
}

func (m *MockPaymentService) CreateSubscriptionOrder(ctx context.Context, planID string, cycle model.BillingCycle, userID string) (*services.SubscriptionOrder, error) {
	args := m.Called(ctx, planID, cycle, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubscriptionOrder), args.Error(1)
}

func (m *MockPaymentService) CaptureSubscriptionOrder(ctx context.Context, orderID, planID string, cycle model.BillingCycle) (*services.CaptureResult, error) {
	args := m.Called(ctx, orderID, planID, cycle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CaptureResult), args.Error(1)
}

func (m *MockPaymentService) CreateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckoutSession), args.Error(1)
}

func (m *MockPaymentService) HandleWebhookEvent(ctx context.Context, ev *services.WebhookEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockReconciliationStore struct {
	mock.Mock
}

func (m *MockReconciliationStore) ListOpen(ctx context.Context, limit int) ([]*model.ReconciliationItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ReconciliationItem), args.Error(1)
}

func (m *MockReconciliationStore) Resolve(ctx context.Context, id string) (*model.ReconciliationItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationItem), args.Error(1)
}
