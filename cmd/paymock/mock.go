package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Provider fakes the PayPal Orders API and the Creem checkout API in memory.
type Provider struct {
	mu        sync.Mutex
	orders    map[string]*order
	checkouts map[string]*checkout

	captureFailRate float64
	apiKey          string
	webhookURL      string
	webhookSecret   string
	publicURL       string
	rng             *rand.Rand
	client          *http.Client
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Description string `json:"description,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      *money `json:"amount,omitempty"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id,omitempty"`
	Amount   money  `json:"amount"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []link         `json:"links"`
}

type checkout struct {
	ID          string         `json:"id"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	Product     string         `json:"product"`
	RequestID   string         `json:"request_id,omitempty"`
	Units       int            `json:"units"`
	CheckoutURL string         `json:"checkout_url"`
	SuccessURL  string         `json:"success_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent" binding:"required"`
	PurchaseUnits []purchaseUnit `json:"purchase_units" binding:"required,min=1"`
}

type createCheckoutRequest struct {
	ProductID  string         `json:"product_id" binding:"required"`
	RequestID  string         `json:"request_id"`
	Units      int            `json:"units"`
	SuccessURL string         `json:"success_url"`
	Metadata   map[string]any `json:"metadata"`
}

func NewProvider(captureFailRate float64, apiKey, webhookURL, webhookSecret, publicURL string) *Provider {
	return &Provider{
		orders:          make(map[string]*order),
		checkouts:       make(map[string]*checkout),
		captureFailRate: captureFailRate,
		apiKey:          apiKey,
		webhookURL:      webhookURL,
		webhookSecret:   webhookSecret,
		publicURL:       strings.TrimRight(publicURL, "/"),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		client:          &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *Provider) Token(c *gin.Context) {
	if _, _, ok := c.Request.BasicAuth(); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "Client Authentication failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": "mock-" + uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   32400,
	})
}

func (p *Provider) CreateOrder(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"name": "AUTHENTICATION_FAILURE", "message": "Authentication failed due to invalid authentication credentials"})
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"name": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
	o := &order{
		ID:            id,
		Status:        "CREATED",
		PurchaseUnits: req.PurchaseUnits,
		Links: []link{
			{Href: p.publicURL + "/v2/checkout/orders/" + id, Rel: "self", Method: "GET"},
			{Href: p.publicURL + "/checkoutnow?token=" + id, Rel: "approve", Method: "GET"},
			{Href: p.publicURL + "/v2/checkout/orders/" + id + "/capture", Rel: "capture", Method: "POST"},
		},
	}

	p.mu.Lock()
	p.orders[id] = o
	p.mu.Unlock()

	log.Info().Str("order_id", id).Int("units", len(req.PurchaseUnits)).Msg("order created")
	c.JSON(http.StatusCreated, o)
}

func (p *Provider) GetOrder(c *gin.Context) {
	p.mu.Lock()
	o, ok := p.orders[c.Param("id")]
	p.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "RESOURCE_NOT_FOUND", "message": "The specified resource does not exist."})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (p *Provider) CaptureOrder(c *gin.Context) {
	id := c.Param("id")

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "RESOURCE_NOT_FOUND", "message": "The specified resource does not exist."})
		return
	}
	if o.Status == "COMPLETED" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"name":    "UNPROCESSABLE_ENTITY",
			"message": "The requested action could not be performed, semantically incorrect, or failed business validation.",
			"details": []gin.H{{"issue": "ORDER_ALREADY_CAPTURED", "description": "Order already captured."}},
		})
		return
	}

	status := "COMPLETED"
	if p.rng.Float64() < p.captureFailRate {
		status = "DECLINED"
	}

	for i := range o.PurchaseUnits {
		u := &o.PurchaseUnits[i]
		amount := money{CurrencyCode: "USD", Value: "0.00"}
		if u.Amount != nil {
			amount = *u.Amount
		}
		u.Payments = &struct {
			Captures []capture `json:"captures"`
		}{Captures: []capture{{ID: uuid.NewString(), Status: status, CustomID: u.CustomID, Amount: amount}}}
	}
	o.Status = status

	log.Info().Str("order_id", id).Str("status", status).Msg("order captured")
	c.JSON(http.StatusCreated, o)
}

func (p *Provider) CreateCheckout(c *gin.Context) {
	if p.apiKey != "" && c.GetHeader("x-api-key") != p.apiKey {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden", "message": "invalid api key"})
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": err.Error()})
		return
	}
	if req.Units <= 0 {
		req.Units = 1
	}

	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	ch := &checkout{
		ID:          id,
		Mode:        "test",
		Status:      "pending",
		Product:     req.ProductID,
		RequestID:   req.RequestID,
		Units:       req.Units,
		CheckoutURL: p.publicURL + "/test/checkout/" + id,
		SuccessURL:  req.SuccessURL,
		Metadata:    req.Metadata,
	}

	p.mu.Lock()
	p.checkouts[id] = ch
	p.mu.Unlock()

	log.Info().Str("checkout_id", id).Str("product", req.ProductID).Msg("checkout created")
	c.JSON(http.StatusOK, ch)
}

func (p *Provider) GetCheckout(c *gin.Context) {
	p.mu.Lock()
	ch, ok := p.checkouts[c.Query("checkout_id")]
	if !ok {
		ch, ok = p.checkouts[c.Param("id")]
	}
	p.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "checkout not found"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// CompleteCheckout marks the checkout paid and delivers a signed checkout.completed webhook.
func (p *Provider) CompleteCheckout(c *gin.Context) {
	p.mu.Lock()
	ch, ok := p.checkouts[c.Param("id")]
	if ok {
		ch.Status = "completed"
	}
	p.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found", "message": "checkout not found"})
		return
	}

	if p.webhookURL == "" {
		c.JSON(http.StatusOK, gin.H{"checkout": ch, "webhook": "skipped"})
		return
	}

	status, err := p.deliver("checkout.completed", gin.H{
		"id":       ch.ID,
		"product":  ch.Product,
		"status":   ch.Status,
		"metadata": ch.Metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("checkout_id", ch.ID).Msg("webhook delivery failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "webhook delivery failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout": ch, "webhook": status})
}

func (p *Provider) deliver(event string, object gin.H) (int, error) {
	body, err := json.Marshal(gin.H{
		"id":    "evt_" + uuid.NewString(),
		"event": event,
		"data":  gin.H{"checkout": object},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-creem-signature", sign(body, p.webhookSecret))

	res, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return res.StatusCode, fmt.Errorf("webhook answered %d", res.StatusCode)
	}
	log.Info().Str("event", event).Int("status", res.StatusCode).Msg("webhook delivered")
	return res.StatusCode, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
