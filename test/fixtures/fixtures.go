package fixtures

import (
	"encoding/json"

	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
)

const (
	TestUserID        = "user-1"
	TestWebhookSecret = "whsec_test"
	TestAdminToken    = "admin-token"
	TestJWTSecret     = "jwt-secret"
)

// CompletedPackOrder is a captured PayPal order for packID paid by userID.
func CompletedPackOrder(orderID, packID, userID, amount string) *gateway.Order {
	unit := gateway.PurchaseUnit{
		ReferenceID: packID + "-1700000000000",
		CustomID:    userID,
		Amount:      &gateway.Money{CurrencyCode: "USD", Value: amount},
	}
	unit.Payments = &struct {
		Captures []gateway.Capture `json:"captures"`
	}{Captures: []gateway.Capture{{
		ID:       "CAP-" + orderID,
		Status:   gateway.OrderStatusCompleted,
		CustomID: userID,
		Amount:   gateway.Money{CurrencyCode: "USD", Value: amount},
	}}}

	return &gateway.Order{
		ID:            orderID,
		Status:        gateway.OrderStatusCompleted,
		PurchaseUnits: []gateway.PurchaseUnit{unit},
	}
}

// CheckoutCompletedBody is a checkout.completed webhook body for a plan purchase.
func CheckoutCompletedBody(checkoutID, userID, planID, period string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":    "evt_" + checkoutID,
		"event": "checkout.completed",
		"data": map[string]any{
			"checkout": map[string]any{
				"id":      checkoutID,
				"product": "prod_" + planID + "_" + period,
				"status":  "completed",
				"metadata": map[string]any{
					"userId":        userID,
					"planId":        planID,
					"billingPeriod": period,
				},
			},
		},
	})
	return b
}

func JSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
