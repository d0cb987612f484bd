package billing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	PaystackSignatureHeader = "x-paystack-signature"

	PaystackEventChargeSuccess        = "charge.success"
	PaystackEventSubscriptionCreate   = "subscription.create"
	PaystackEventSubscriptionDisable  = "subscription.disable"
	PaystackEventInvoicePaymentFailed = "invoice.payment_failed"

	defaultPaystackPlanName = "Unknown Plan"
)

// PaystackEvent is the webhook envelope. Paystack sends "" instead of an
// object for empty metadata/plan/customer, so those stay raw until read.
type PaystackEvent struct {
	Event string       `json:"event"`
	Data  PaystackData `json:"data"`
}

type PaystackData struct {
	ID               json.Number     `json:"id"`
	Reference        string          `json:"reference"`
	Status           string          `json:"status"`
	SubscriptionCode string          `json:"subscription_code"`
	Metadata         json.RawMessage `json:"metadata"`
	Customer         json.RawMessage `json:"customer"`
	Plan             json.RawMessage `json:"plan"`
	Subscription     json.RawMessage `json:"subscription"`
}

type PaystackMetadata struct {
	UserID   string `json:"user_id"`
	PlanName string `json:"plan_name"`
	PlanCode string `json:"plan_code"`
}

type paystackCustomer struct {
	ID           json.Number `json:"id"`
	CustomerCode string      `json:"customer_code"`
}

type paystackPlan struct {
	PlanCode string `json:"plan_code"`
}

type paystackSubscription struct {
	SubscriptionCode string `json:"subscription_code"`
}

// PaystackSignature returns the lowercase hex HMAC-SHA512 of the raw body.
func PaystackSignature(rawBody []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaystackSignature checks the signature header against the raw request
// body. The body must be the exact bytes received; re-encoded JSON will not
// verify.
func VerifyPaystackSignature(rawBody []byte, signatureHeader, secret string) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return ErrSignatureMissing
	}
	if secret == "" {
		return ErrSignatureInvalid
	}
	expected := PaystackSignature(rawBody, secret)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

// ParsePaystackEvent decodes a verified webhook body.
func ParsePaystackEvent(rawBody []byte) (*PaystackEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	var ev PaystackEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to decode paystack event: %w", err)
	}
	if strings.TrimSpace(ev.Event) == "" {
		return nil, errors.New("paystack event missing event name")
	}
	return &ev, nil
}

// Metadata returns the checkout metadata, or an empty value when Paystack sent
// none or sent a non-object.
func (e *PaystackEvent) Metadata() PaystackMetadata {
	var m struct {
		UserID   json.RawMessage `json:"user_id"`
		PlanName string          `json:"plan_name"`
		PlanCode string          `json:"plan_code"`
	}
	if !decodeObject(e.Data.Metadata, &m) {
		return PaystackMetadata{}
	}
	return PaystackMetadata{
		UserID:   scalarString(m.UserID),
		PlanName: strings.TrimSpace(m.PlanName),
		PlanCode: strings.TrimSpace(m.PlanCode),
	}
}

// UserID returns the correlation id from metadata.
func (e *PaystackEvent) UserID() string {
	return e.Metadata().UserID
}

// PlanCode prefers the checkout metadata, then the charge's plan, then "manual".
func (e *PaystackEvent) PlanCode() string {
	if code := e.Metadata().PlanCode; code != "" {
		return code
	}
	var p paystackPlan
	if decodeObject(e.Data.Plan, &p) && strings.TrimSpace(p.PlanCode) != "" {
		return strings.TrimSpace(p.PlanCode)
	}
	return PlanCodeManual
}

func (e *PaystackEvent) PlanName() string {
	if name := e.Metadata().PlanName; name != "" {
		return name
	}
	return defaultPaystackPlanName
}

// SubscriptionRef is the subscription code, falling back to the charge
// reference for one-off charges.
func (e *PaystackEvent) SubscriptionRef() string {
	if code := strings.TrimSpace(e.Data.SubscriptionCode); code != "" {
		return code
	}
	var s paystackSubscription
	if decodeObject(e.Data.Subscription, &s) && strings.TrimSpace(s.SubscriptionCode) != "" {
		return strings.TrimSpace(s.SubscriptionCode)
	}
	return strings.TrimSpace(e.Data.Reference)
}

func (e *PaystackEvent) CustomerRef() string {
	var c paystackCustomer
	if !decodeObject(e.Data.Customer, &c) {
		return ""
	}
	if code := strings.TrimSpace(c.CustomerCode); code != "" {
		return code
	}
	return c.ID.String()
}

// EventID identifies a delivery for the webhook log.
func (e *PaystackEvent) EventID() string {
	ref := strings.TrimSpace(e.Data.Reference)
	if ref == "" {
		ref = strings.TrimSpace(e.Data.SubscriptionCode)
	}
	if ref == "" {
		ref = e.Data.ID.String()
	}
	if ref == "" {
		return ""
	}
	return e.Event + ":" + ref
}

func decodeObject(raw json.RawMessage, dst interface{}) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	return dec.Decode(dst) == nil
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return ""
	}
	return string(trimmed)
}
