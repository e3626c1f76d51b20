package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

var ErrCircuitOpen = errors.New("provider temporarily unavailable")

const (
	defaultTimeout          = 15 * time.Second
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 30 * time.Second
)

// ProviderError is a non-2xx answer (or a transport failure, StatusCode 0) from a payment provider.
type ProviderError struct {
	Provider   string
	Op         string
	Message    string
	StatusCode int
	Details    json.RawMessage
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %s (status %d)", e.Provider, e.Op, e.Message, e.StatusCode)
}

// HTTPStatus is the status the API should answer with, the provider's own or 500.
func (e *ProviderError) HTTPStatus() int {
	if e.StatusCode >= 400 {
		return e.StatusCode
	}
	return fasthttp.StatusInternalServerError
}

type request struct {
	op          string
	method      string
	url         string
	contentType string
	headers     map[string]string
	body        []byte
}

// httpClient is the fasthttp transport shared by the provider clients. It opens a short
// circuit after consecutive transport failures so a dead provider fails fast.
type httpClient struct {
	provider    string
	client      *fasthttp.Client
	timeout     time.Duration
	messageKeys []string

	consecutiveFails atomic.Int32
	openUntil        atomic.Int64
}

func newHTTPClient(provider string, timeout time.Duration, messageKeys ...string) *httpClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpClient{
		provider:    provider,
		timeout:     timeout,
		messageKeys: messageKeys,
		client: &fasthttp.Client{
			Name:                "credits-gateway",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
			MaxConnsPerHost:     64,
		},
	}
}

func (c *httpClient) available() bool {
	until := c.openUntil.Load()
	return until == 0 || time.Now().UnixNano() > until
}

func (c *httpClient) recordSuccess() {
	c.consecutiveFails.Store(0)
	c.openUntil.Store(0)
}

func (c *httpClient) recordFailure() {
	fails := c.consecutiveFails.Add(1)
	if fails >= circuitBreakerThreshold {
		c.openUntil.Store(time.Now().Add(circuitBreakerTimeout).UnixNano())
		logger.Warn("[gateway] circuit opened", "provider", c.provider, "consecutive_fails", fails)
	}
}

// do sends r and decodes a 2xx JSON body into out (when out is not nil).
func (c *httpClient) do(ctx context.Context, r request, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.available() {
		return &ProviderError{Provider: c.provider, Op: r.op, Message: ErrCircuitOpen.Error(), StatusCode: fasthttp.StatusServiceUnavailable}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(r.method)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.SetContentType(r.contentType)
	} else {
		req.Header.SetContentType("application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.body != nil {
		req.SetBody(r.body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	start := time.Now()
	err := c.client.DoDeadline(req, resp, deadline)
	prom.AddProviderRequestDuration(time.Since(start).Seconds(), c.provider, r.op)
	if err != nil {
		c.recordFailure()
		logger.Warn("[gateway] request failed", "provider", c.provider, "op", r.op, "error", err)
		return &ProviderError{
			Provider: c.provider,
			Op:       r.op,
			Message:  errors.Wrap(err, "request failed").Error(),
		}
	}

	status := resp.StatusCode()
	body := resp.Body()
	if status >= fasthttp.StatusInternalServerError {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}

	if status < 200 || status >= 300 {
		perr := &ProviderError{
			Provider:   c.provider,
			Op:         r.op,
			StatusCode: status,
			Message:    c.errorMessage(status, body),
			Details:    details(body),
		}
		logger.Warn("[gateway] provider rejected request",
			"provider", c.provider,
			"op", r.op,
			"status", status,
			"message", perr.Message,
		)
		return perr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "%s %s: decode response", c.provider, r.op)
	}
	return nil
}

func (c *httpClient) errorMessage(status int, body []byte) string {
	var fields map[string]any
	if json.Unmarshal(body, &fields) == nil {
		for _, k := range c.messageKeys {
			if s, ok := fields[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("%s API error: %d", c.provider, status)
}

func details(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
