package billing

import "time"

// Activation is the provider-neutral result of a successful payment, used to
// upsert the user's subscription row.
type Activation struct {
	UserID                 string
	Provider               string
	PlanCode               string
	PlanName               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderPaymentID      string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	UserID          string
	Payload         []byte
	SignatureValid  bool
}

// Outcome describes what a verified webhook did to the subscription store.
type Outcome string

const (
	OutcomeActivated Outcome = "activated"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePastDue   Outcome = "past_due"
	OutcomeNoRecord  Outcome = "no_record"
	OutcomeIgnored   Outcome = "ignored"
)

// SweepResult summarises one run of the upgrade sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

// UpgradeWindow is the subscription period written by an applied upgrade.
type UpgradeWindow struct {
	Start time.Time
	End   time.Time
}
