package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveURL    = "https://api-m.paypal.com"

	OrderStatusCompleted = "COMPLETED"

	IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

	// refresh the token a bit before PayPal expires it
	tokenExpirySkew = time.Minute
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id,omitempty"`
	Amount   Money  `json:"amount"`
}

type PurchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Description string `json:"description,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      *Money `json:"amount,omitempty"`
	Payments    *struct {
		Captures []Capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type ApplicationContext struct {
	ReturnURL   string `json:"return_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
	BrandName   string `json:"brand_name,omitempty"`
	UserAction  string `json:"user_action,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
}

type CreateOrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *ApplicationContext `json:"application_context,omitempty"`
}

// NewCaptureOrder builds a one-unit CAPTURE order in USD.
func NewCaptureOrder(referenceID, description, customID string, amount decimal.Decimal) CreateOrderRequest {
	return CreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			ReferenceID: referenceID,
			Description: description,
			CustomID:    customID,
			Amount:      &Money{CurrencyCode: "USD", Value: amount.StringFixed(2)},
		}},
	}
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Links         []Link         `json:"links"`
}

// ApproveURL is the buyer-facing link PayPal returns with rel=approve.
func (o *Order) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

// FirstCapture returns the first purchase unit and its first capture, if any.
func (o *Order) FirstCapture() (*PurchaseUnit, *Capture) {
	if len(o.PurchaseUnits) == 0 {
		return nil, nil
	}
	unit := &o.PurchaseUnits[0]
	if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
		return unit, nil
	}
	return unit, &unit.Payments.Captures[0]
}

type PayPalClient struct {
	config PayPalConfig
	http   *httpClient

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPalClient(config PayPalConfig) *PayPalClient {
	if config.BaseURL == "" {
		config.BaseURL = PayPalSandboxURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &PayPalClient{
		config: config,
		http:   newHTTPClient(model.ProviderPayPal, config.Timeout, "message", "error", "error_description"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached client_credentials token, fetching a new one when it is about to expire.
func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.config.ClientID == "" || c.config.ClientSecret == "" {
		return "", &ProviderError{Provider: model.ProviderPayPal, Op: "token", Message: "PayPal credentials are not configured"}
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.config.ClientID + ":" + c.config.ClientSecret))
	form := url.Values{"grant_type": {"client_credentials"}}

	var tok tokenResponse
	err := c.http.do(ctx, request{
		op:          "token",
		method:      fasthttp.MethodPost,
		url:         c.config.BaseURL + "/v1/oauth2/token",
		contentType: "application/x-www-form-urlencoded",
		headers:     map[string]string{"Authorization": "Basic " + basic},
		body:        []byte(form.Encode()),
	}, &tok)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", &ProviderError{Provider: model.ProviderPayPal, Op: "token", Message: "empty access token"}
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew)
	return c.token, nil
}

func (c *PayPalClient) authorized(ctx context.Context, op, method, path string, body any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var raw []byte
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "paypal %s: encode request", op)
		}
	}

	return c.http.do(ctx, request{
		op:      op,
		method:  method,
		url:     c.config.BaseURL + path,
		headers: map[string]string{"Authorization": "Bearer " + token},
		body:    raw,
	}, out)
}

func (c *PayPalClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.authorized(ctx, "create_order", fasthttp.MethodPost, "/v2/checkout/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.authorized(ctx, "capture_order", fasthttp.MethodPost, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID)
	if err := c.authorized(ctx, "get_order", fasthttp.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// IsAlreadyCaptured reports whether err is PayPal refusing to capture an order a second time.
func IsAlreadyCaptured(err error) bool {
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != fasthttp.StatusUnprocessableEntity {
		return false
	}
	var body struct {
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if json.Unmarshal(perr.Details, &body) != nil {
		return false
	}
	for _, d := range body.Details {
		if d.Issue == IssueOrderAlreadyCaptured {
			return true
		}
	}
	return false
}
