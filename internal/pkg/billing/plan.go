package billing

import (
	"fmt"
	"strings"
)

const (
	PlanCodeMonthly     = "PLN_fjbbz7v33d9wus0"
	PlanCodeSixMonth    = "PLN_0arepng99m7gwm9"
	PlanCodeTwelveMonth = "PLN_bwbwt5rtd3o8s7s"

	// PlanCodeManual marks a charge that carried no plan reference.
	PlanCodeManual = "manual"
)

// Plan describes a sellable billing plan. Amount is in the minor currency unit.
type Plan struct {
	Code     string
	Name     string
	Amount   int64
	Currency string
	Months   int
}

var plans = map[string]Plan{
	PlanCodeMonthly: {
		Code:     PlanCodeMonthly,
		Name:     "Monthly VD Capital Subscription",
		Amount:   45000,
		Currency: "ZAR",
		Months:   1,
	},
	PlanCodeSixMonth: {
		Code:     PlanCodeSixMonth,
		Name:     "6 Month VD Capital Subscription",
		Amount:   247500,
		Currency: "ZAR",
		Months:   6,
	},
	PlanCodeTwelveMonth: {
		Code:     PlanCodeTwelveMonth,
		Name:     "12 Month VD Capital Subscription",
		Amount:   450000,
		Currency: "ZAR",
		Months:   12,
	},
}

// LookupPlan returns the catalog entry for a plan code.
func LookupPlan(code string) (Plan, bool) {
	p, ok := plans[strings.TrimSpace(code)]
	return p, ok
}

// FormatAmount renders a minor-unit amount as a decimal string ("450.00").
func (p Plan) FormatAmount() string {
	return fmt.Sprintf("%d.%02d", p.Amount/100, p.Amount%100)
}
