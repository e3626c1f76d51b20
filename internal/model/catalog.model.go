package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CreditsPerImage is the cost of one generated image.
const CreditsPerImage = 2

type CreditsPack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Credits     int64           `json:"credits"`
	Price       decimal.Decimal `json:"price"`
}

// Images is the number of generations the pack pays for.
func (p CreditsPack) Images() int64 {
	return p.Credits / CreditsPerImage
}

var creditsPacks = map[string]CreditsPack{
	"small":  newPack("small", "Starter Pack", 500, "9.99"),
	"medium": newPack("medium", "Standard Pack", 2000, "29.99"),
	"large":  newPack("large", "Pro Pack", 10000, "99.99"),
	"ultra":  newPack("ultra", "Ultimate Pack", 50000, "399.99"),
}

var packOrder = []string{"small", "medium", "large", "ultra"}

func newPack(id, name string, credits int64, price string) CreditsPack {
	return CreditsPack{
		ID:          id,
		Name:        name,
		Description: fmt.Sprintf("%d credits - about %d images", credits, credits/CreditsPerImage),
		Credits:     credits,
		Price:       decimal.RequireFromString(price),
	}
}

func GetCreditsPack(id string) (CreditsPack, bool) {
	p, ok := creditsPacks[id]
	return p, ok
}

func CreditsPackIDs() []string {
	return append([]string(nil), packOrder...)
}

type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == BillingMonthly || c == BillingYearly
}

type PlanTier struct {
	Price   decimal.Decimal `json:"price"`
	Credits int64           `json:"credits"`
}

type SubscriptionPlan struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Monthly PlanTier `json:"monthly"`
	Yearly  PlanTier `json:"yearly"`
}

// Tier returns the price/credits pair of the given billing cycle.
func (p SubscriptionPlan) Tier(cycle BillingCycle) PlanTier {
	if cycle == BillingMonthly {
		return p.Monthly
	}
	return p.Yearly
}

var subscriptionPlans = map[string]SubscriptionPlan{
	"basic": {
		ID:      "basic",
		Name:    "Basic",
		Monthly: PlanTier{Price: decimal.RequireFromString("12"), Credits: 150},
		Yearly:  PlanTier{Price: decimal.RequireFromString("144"), Credits: 1800},
	},
	"pro": {
		ID:      "pro",
		Name:    "Pro",
		Monthly: PlanTier{Price: decimal.RequireFromString("19.5"), Credits: 800},
		Yearly:  PlanTier{Price: decimal.RequireFromString("234"), Credits: 9600},
	},
	"max": {
		ID:      "max",
		Name:    "Max",
		Monthly: PlanTier{Price: decimal.RequireFromString("80"), Credits: 4600},
		Yearly:  PlanTier{Price: decimal.RequireFromString("960"), Credits: 55200},
	},
}

var planOrder = []string{"basic", "pro", "max"}

func GetSubscriptionPlan(id string) (SubscriptionPlan, bool) {
	p, ok := subscriptionPlans[id]
	return p, ok
}

func SubscriptionPlanIDs() []string {
	return append([]string(nil), planOrder...)
}

// PlanPackID is the pack id recorded for subscription credits, e.g. "pro_yearly".
func PlanPackID(planID string, cycle BillingCycle) string {
	return planID + "_" + string(cycle)
}
