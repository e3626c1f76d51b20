package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

type CreditsService interface {
	GetBalance(ctx context.Context, userID string) (*model.AccountBalance, error)
	GetOrCreateBalance(ctx context.Context, userID string) (*model.AccountBalance, error)
	DeductCredits(ctx context.Context, userID string, amount int64, opts model.CreditOptions) (model.MutationResult, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error)
	GetTransactionStats(ctx context.Context, userID string) (model.TransactionStats, error)
}

type CreditsHandler struct {
	svc CreditsService
}

func NewCreditsHandler(svc CreditsService) *CreditsHandler {
	return &CreditsHandler{svc: svc}
}

// RegisterCreditsRoutes mounts the credit endpoints behind the required-auth middleware.
func RegisterCreditsRoutes(g *router.Group, h *CreditsHandler, required xhttp.MiddlewareFunc) {
	g.GET("/credits/balance", required(h.GetBalance))
	g.POST("/credits/deduct", required(h.Deduct))
	g.GET("/credits/transactions", required(h.ListTransactions))
	g.GET("/credits/stats", required(h.GetStats))
}

type balanceResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	UserID  string `json:"userId"`
}

type deductRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type deductResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Balance       int64  `json:"balance"`
	Deducted      int64  `json:"deducted"`
}

type insufficientResponse struct {
	Error          string `json:"error"`
	CurrentBalance int64  `json:"currentBalance"`
	Required       int64  `json:"required"`
}

type transactionView struct {
	ID           string                `json:"id"`
	Amount       int64                 `json:"amount"`
	BalanceAfter int64                 `json:"balanceAfter"`
	Type         model.TransactionType `json:"type"`
	Description  *string               `json:"description"`
	PackID       *string               `json:"packId"`
	CreatedAt    time.Time             `json:"createdAt"`
}

type transactionsResponse struct {
	Success      bool              `json:"success"`
	Transactions []transactionView `json:"transactions"`
	Count        int               `json:"count"`
}

type statsResponse struct {
	Success bool `json:"success"`
	model.TransactionStats
}

func (h *CreditsHandler) GetBalance(ctx *xhttp.RequestCtx) {
	user, ok := requireUser(ctx)
	if !ok {
		return
	}

	b, err := h.svc.GetOrCreateBalance(ctx, user.ID)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to get credits balance")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, balanceResponse{Success: true, Balance: b.Balance, UserID: user.ID})
}

func (h *CreditsHandler) Deduct(ctx *xhttp.RequestCtx) {
	user, ok := requireUser(ctx)
	if !ok {
		return
	}

	var req deductRequest
	if err := readJSON(ctx, &req); err != nil || validate.Struct(req) != nil {
		writeError(ctx, xhttp.StatusBadRequest, "Invalid amount. Must be a positive number.")
		return
	}

	var current int64
	b, err := h.svc.GetBalance(ctx, user.ID)
	switch {
	case err == nil:
		current = b.Balance
	case errors.Is(err, services.ErrNotFound):
	default:
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to deduct credits")
		return
	}
	if current < req.Amount {
		writeJSON(ctx, xhttp.StatusBadRequest, insufficientResponse{Error: "Insufficient credits", CurrentBalance: current, Required: req.Amount})
		return
	}

	res, err := h.svc.DeductCredits(ctx, user.ID, req.Amount, model.CreditOptions{
		Description: "Image generation",
		Metadata:    map[string]any{"source": "web"},
	})
	if err != nil {
		if errors.Is(err, services.ErrInsufficientCredits) {
			// balance moved between the check and the procedure
			writeJSON(ctx, xhttp.StatusBadRequest, insufficientResponse{Error: "Insufficient credits", CurrentBalance: current, Required: req.Amount})
			return
		}
		logger.Error("[credits] deduct failed", "user_id", user.ID, "amount", req.Amount, "error", err)
		msg := res.Error
		if msg == "" {
			msg = "Failed to deduct credits"
		}
		writeError(ctx, xhttp.StatusInternalServerError, msg)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, deductResponse{
		Success:       true,
		TransactionID: res.TransactionID,
		Balance:       res.Balance,
		Deducted:      req.Amount,
	})
}

func (h *CreditsHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	user, ok := requireUser(ctx)
	if !ok {
		return
	}
	limit := queryInt(ctx, "limit", model.DefaultTransactionsLimit)
	offset := queryInt(ctx, "offset", 0)

	txs, err := h.svc.ListTransactions(ctx, user.ID, limit, offset)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to get transaction history")
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ID:           tx.ID,
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Type:         tx.Type,
			Description:  tx.Description,
			PackID:       tx.PackID,
			CreatedAt:    tx.CreatedAt,
		})
	}
	writeJSON(ctx, xhttp.StatusOK, transactionsResponse{Success: true, Transactions: views, Count: len(views)})
}

func (h *CreditsHandler) GetStats(ctx *xhttp.RequestCtx) {
	user, ok := requireUser(ctx)
	if !ok {
		return
	}

	stats, err := h.svc.GetTransactionStats(ctx, user.ID)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to get transaction stats")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, statsResponse{Success: true, TransactionStats: stats})
}
