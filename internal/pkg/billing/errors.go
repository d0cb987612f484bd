package billing

import "errors"

var (
	ErrSignatureMissing     = errors.New("webhook signature missing")
	ErrSignatureInvalid     = errors.New("webhook signature invalid")
	ErrCorrelationMissing   = errors.New("webhook payload missing user id")
	ErrPersistence          = errors.New("billing store write failed")
	ErrUnknownDiscriminator = errors.New("unhandled webhook event")

	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrUpgradeAlreadyProcessed = errors.New("pending upgrade already processed")
	ErrSweepInProgress         = errors.New("upgrade sweep already running")
)
