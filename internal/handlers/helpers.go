package handlers

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nimasrn/credits-gateway/internal/auth"
	"github.com/nimasrn/credits-gateway/internal/model"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("txtype", func(fl validator.FieldLevel) bool {
		return model.TransactionType(fl.Field().String()).Valid()
	})
	if err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// firstInvalidField names the first field that failed validation, using its json name.
func firstInvalidField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	xhttp.WriteJSON(ctx, status, v)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	xhttp.WriteError(ctx, status, msg)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

// queryInt returns the parsed parameter or def when missing or not a number.
func queryInt(ctx *xhttp.RequestCtx, key string, def int) int {
	v := query(ctx, key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

// requireUser returns the authenticated user or answers 401.
func requireUser(ctx *xhttp.RequestCtx) (*auth.User, bool) {
	u, ok := auth.UserFromCtx(ctx)
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return u, true
}
