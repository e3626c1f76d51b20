package handlers

import (
	"context"
	"errors"
	"testing"

	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestAuthHandler_GetUser(t *testing.T) {
	h := NewAuthHandler()

	ctx := setupTestContext("GET", "/api/auth/user", nil)
	serveAs(t, h.GetUser, ctx, "u1")
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"user":{"id":"u1","email":"u1@example.com"}}`, string(ctx.Response.Body()))

	ctx = setupTestContext("GET", "/api/auth/user", nil)
	serveAs(t, h.GetUser, ctx, "")
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"user":null}`, string(ctx.Response.Body()))
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }

	ctx := setupTestContext("GET", "/health", nil)
	NewHealthHandler(map[string]HealthCheck{"postgres": ok}).GetHealth(ctx)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))

	ctx = setupTestContext("GET", "/health", nil)
	NewHealthHandler(map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("down") },
	}).GetHealth(ctx)
	assert.Equal(t, xhttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"unavailable","failed":"redis"}`, string(ctx.Response.Body()))
}

func TestValidator_TransactionType(t *testing.T) {
	assert.NoError(t, validate.Var("bonus", "txtype"))
	assert.NoError(t, validate.Var("refund", "txtype"))
	assert.Error(t, validate.Var("gift", "txtype"))
	assert.Error(t, validate.Var("", "txtype"))
}
