package helpers

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/nimasrn/credits-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens an in-memory sqlite database with the ledger and reconciliation tables.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&repository.BalanceEntity{},
		&repository.TransactionEntity{},
		&repository.ReconciliationEntity{},
	)
	require.NoError(t, err)

	return pg.NewDB(db, db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()

	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(context.Background(), "test:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// TestServer serves an engine over an in-memory listener.
type TestServer struct {
	client *fasthttp.Client
}

func StartTestServer(t *testing.T, engine *xhttp.Engine) *TestServer {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: engine.WrappedHandler()}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})

	return &TestServer{
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

// Do sends one request and returns the status and body.
func (s *TestServer) Do(t *testing.T, method, path string, headers map[string]string, body []byte) (int, []byte) {
	t.Helper()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://test" + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	require.NoError(t, s.client.DoTimeout(req, resp, 5*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

// RecordingLedger records AddCredits calls and fails while a failure is set.
type RecordingLedger struct {
	mu      sync.Mutex
	fail    error
	balance map[string]int64
	calls   []LedgerCall
}

type LedgerCall struct {
	TransactionID string
	UserID        string
	Amount        int64
	Type          model.TransactionType
	Opts          model.CreditOptions
}

func NewRecordingLedger() *RecordingLedger {
	return &RecordingLedger{balance: make(map[string]int64)}
}

func (l *RecordingLedger) SetFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

func (l *RecordingLedger) AddCredits(_ context.Context, userID string, amount int64, txType model.TransactionType, opts model.CreditOptions) (model.MutationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return model.MutationResult{Success: false, Error: l.fail.Error()}, l.fail
	}
	// same reference, same answer, like add_credits
	for _, c := range l.calls {
		if opts.ReferenceID != "" && c.Type == txType && c.Opts.ReferenceID == opts.ReferenceID {
			return model.MutationResult{Success: true, TransactionID: c.TransactionID, Balance: l.balance[userID]}, nil
		}
	}
	call := LedgerCall{TransactionID: uuid.NewString(), UserID: userID, Amount: amount, Type: txType, Opts: opts}
	l.calls = append(l.calls, call)
	l.balance[userID] += amount
	return model.MutationResult{Success: true, TransactionID: call.TransactionID, Balance: l.balance[userID]}, nil
}

func (l *RecordingLedger) Calls() []LedgerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerCall(nil), l.calls...)
}

// FakePayPal answers captures from a prepared set of orders. Like PayPal it refuses to
// capture an order twice.
type FakePayPal struct {
	mu       sync.Mutex
	orders   map[string]*gateway.Order
	captured map[string]bool
}

func NewFakePayPal() *FakePayPal {
	return &FakePayPal{orders: make(map[string]*gateway.Order), captured: make(map[string]bool)}
}

func (p *FakePayPal) AddOrder(o *gateway.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[o.ID] = o
}

func (p *FakePayPal) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	o := &gateway.Order{
		ID:            uuid.NewString(),
		Status:        "CREATED",
		PurchaseUnits: req.PurchaseUnits,
		Links:         []gateway.Link{{Rel: "approve", Href: "https://paypal.test/approve"}},
	}
	p.AddOrder(o)
	return o, nil
}

func (p *FakePayPal) CaptureOrder(_ context.Context, orderID string) (*gateway.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, &gateway.ProviderError{Provider: model.ProviderPayPal, Op: "capture_order", Message: "RESOURCE_NOT_FOUND", StatusCode: fasthttp.StatusNotFound}
	}
	if p.captured[orderID] {
		return nil, &gateway.ProviderError{
			Provider:   model.ProviderPayPal,
			Op:         "capture_order",
			Message:    "UNPROCESSABLE_ENTITY",
			StatusCode: fasthttp.StatusUnprocessableEntity,
			Details:    []byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`),
		}
	}
	if o.Status == gateway.OrderStatusCompleted {
		p.captured[orderID] = true
	}
	return o, nil
}

func (p *FakePayPal) GetOrder(_ context.Context, orderID string) (*gateway.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, &gateway.ProviderError{Provider: model.ProviderPayPal, Op: "get_order", Message: "RESOURCE_NOT_FOUND", StatusCode: fasthttp.StatusNotFound}
	}
	return o, nil
}

var ErrLedgerDown = errors.New("storage error: connection refused")

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
