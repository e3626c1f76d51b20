package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

type CreditGranter interface {
	AddCredits(ctx context.Context, userID string, amount int64, txType model.TransactionType, opts model.CreditOptions) (model.MutationResult, error)
}

type ReconciliationStore interface {
	ListOpen(ctx context.Context, limit int) ([]*model.ReconciliationItem, error)
	Resolve(ctx context.Context, id string) (*model.ReconciliationItem, error)
}

type AdminHandler struct {
	ledger         CreditGranter
	reconciliation ReconciliationStore
	token          []byte
}

// NewAdminHandler guards every admin route with a static bearer token. Without a token the routes answer 404.
func NewAdminHandler(ledger CreditGranter, reconciliation ReconciliationStore, token string) *AdminHandler {
	return &AdminHandler{ledger: ledger, reconciliation: reconciliation, token: []byte(token)}
}

func RegisterAdminRoutes(g *router.Group, h *AdminHandler) {
	g.POST("/admin/credits", h.guard(h.GrantCredits))
	g.GET("/admin/reconciliations", h.guard(h.ListReconciliations))
	g.POST("/admin/reconciliations/{id}/resolve", h.guard(h.ResolveReconciliation))
}

func (h *AdminHandler) guard(next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		if len(h.token) == 0 {
			xhttp.NotFoundHandler(ctx)
			return
		}
		scheme, tok, _ := strings.Cut(string(ctx.Request.Header.Peek("Authorization")), " ")
		if !strings.EqualFold(scheme, "Bearer") || subtle.ConstantTimeCompare([]byte(tok), h.token) != 1 {
			writeError(ctx, xhttp.StatusUnauthorized, "Unauthorized")
			return
		}
		next(ctx)
	}
}

type grantRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Type        string `json:"type" validate:"omitempty,txtype"`
	Description string `json:"description" validate:"max=500"`
}

type grantResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Balance       int64  `json:"balance"`
	Added         int64  `json:"added"`
}

func (h *AdminHandler) GrantCredits(ctx *xhttp.RequestCtx) {
	var req grantRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "Invalid or missing field: "+firstInvalidField(err))
		return
	}

	txType := model.TransactionTypeBonus
	if req.Type != "" {
		txType = model.TransactionType(req.Type)
	}
	desc := req.Description
	if desc == "" {
		desc = "Manual credit grant"
	}

	res, err := h.ledger.AddCredits(ctx, req.UserID, req.Amount, txType, model.CreditOptions{
		Description: desc,
		Metadata:    map[string]any{"source": "admin_manual"},
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidArgument) {
			writeError(ctx, xhttp.StatusBadRequest, res.Error)
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to add credits")
		return
	}

	logger.Info("[admin] credits granted", "user_id", req.UserID, "amount", req.Amount, "type", txType)
	writeJSON(ctx, xhttp.StatusOK, grantResponse{
		Success:       true,
		TransactionID: res.TransactionID,
		Balance:       res.Balance,
		Added:         req.Amount,
	})
}

type reconciliationListResponse struct {
	Success bool                        `json:"success"`
	Items   []*model.ReconciliationItem `json:"items"`
	Count   int                         `json:"count"`
}

func (h *AdminHandler) ListReconciliations(ctx *xhttp.RequestCtx) {
	items, err := h.reconciliation.ListOpen(ctx, queryInt(ctx, "limit", 0))
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to list reconciliation items")
		return
	}
	if items == nil {
		items = []*model.ReconciliationItem{}
	}
	writeJSON(ctx, xhttp.StatusOK, reconciliationListResponse{Success: true, Items: items, Count: len(items)})
}

func (h *AdminHandler) ResolveReconciliation(ctx *xhttp.RequestCtx) {
	item, err := h.reconciliation.Resolve(ctx, pathParam(ctx, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrReconciliationNotFound) {
			writeError(ctx, xhttp.StatusNotFound, "Reconciliation item not found")
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to resolve reconciliation item")
		return
	}
	logger.Info("[admin] reconciliation resolved", "id", item.ID, "provider", item.Provider, "external_id", item.ExternalID)
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"success": true, "item": item})
}
