package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

const userKey = "auth.user"

var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)

// User is the authenticated caller taken from the access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 access tokens from the Authorization header or the session cookie.
type Authenticator struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

func NewAuthenticator(secret, cookieName string) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		cookieName: cookieName,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second)),
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Verify parses a token and returns its user. The subject claim is required.
func (a *Authenticator) Verify(token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if !a.Enabled() {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &User{ID: claims.Subject, Email: claims.Email}, nil
}

// Sign issues a token for the user. Used by tooling and tests.
func (a *Authenticator) Sign(u User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) token(ctx *xhttp.RequestCtx) string {
	if h := string(ctx.Request.Header.Peek("Authorization")); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if a.cookieName != "" {
		return string(ctx.Request.Header.Cookie(a.cookieName))
	}
	return ""
}

func (a *Authenticator) authenticate(ctx *xhttp.RequestCtx) *User {
	u, err := a.Verify(a.token(ctx))
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			logger.Debug("[auth] token rejected", "path", string(ctx.Path()), "error", err)
		}
		return nil
	}
	ctx.SetUserValue(userKey, u)
	return u
}

// Required rejects unauthenticated requests with 401 {"error":"Unauthorized"}.
func (a *Authenticator) Required(next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		if a.authenticate(ctx) == nil {
			xhttp.WriteError(ctx, xhttp.StatusUnauthorized, "Unauthorized")
			return
		}
		next(ctx)
	}
}

// Optional attaches the user when the token is valid and never rejects.
func (a *Authenticator) Optional(next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		a.authenticate(ctx)
		next(ctx)
	}
}

// UserFromCtx returns the user attached by Required or Optional.
func UserFromCtx(ctx *xhttp.RequestCtx) (*User, bool) {
	u, ok := ctx.UserValue(userKey).(*User)
	return u, ok && u != nil
}
