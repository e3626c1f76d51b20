package handlers

import (
	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/auth"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
)

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

func RegisterAuthRoutes(g *router.Group, h *AuthHandler, optional xhttp.MiddlewareFunc) {
	g.GET("/auth/user", optional(h.GetUser))
}

type userResponse struct {
	User *auth.User `json:"user"`
}

// GetUser never fails: an anonymous caller gets {"user":null}.
func (h *AuthHandler) GetUser(ctx *xhttp.RequestCtx) {
	u, _ := auth.UserFromCtx(ctx)
	writeJSON(ctx, xhttp.StatusOK, userResponse{User: u})
}
