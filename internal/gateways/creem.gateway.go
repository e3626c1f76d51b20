package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const CreemDefaultURL = "https://api.creem.io/v1"

type CreemConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type CheckoutCustomer struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

type CreateCheckoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id,omitempty"`
	Units      int               `json:"units,omitempty"`
	Customer   *CheckoutCustomer `json:"customer,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

type CheckoutOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type Checkout struct {
	ID          string         `json:"id"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	Product     string         `json:"product"`
	RequestID   string         `json:"request_id,omitempty"`
	Units       int            `json:"units"`
	CheckoutURL string         `json:"checkout_url"`
	SuccessURL  string         `json:"success_url,omitempty"`
	Order       *CheckoutOrder `json:"order,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreemClient struct {
	config CreemConfig
	http   *httpClient
}

func NewCreemClient(config CreemConfig) *CreemClient {
	if config.BaseURL == "" {
		config.BaseURL = CreemDefaultURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &CreemClient{
		config: config,
		http:   newHTTPClient(model.ProviderCreem, config.Timeout, "error", "message"),
	}
}

func (c *CreemClient) call(ctx context.Context, op, method, path string, body any, out any) error {
	if c.config.APIKey == "" {
		return &ProviderError{Provider: model.ProviderCreem, Op: op, Message: "Creem API key is not configured"}
	}

	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "creem %s: encode request", op)
		}
	}

	return c.http.do(ctx, request{
		op:      op,
		method:  method,
		url:     c.config.BaseURL + path,
		headers: map[string]string{"x-api-key": c.config.APIKey},
		body:    raw,
	}, out)
}

func (c *CreemClient) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*Checkout, error) {
	var out Checkout
	if err := c.call(ctx, "create_checkout", fasthttp.MethodPost, "/checkouts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CreemClient) GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error) {
	var out Checkout
	path := "/checkouts/" + url.PathEscape(checkoutID)
	if err := c.call(ctx, "get_checkout", fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
