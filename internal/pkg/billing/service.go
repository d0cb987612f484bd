package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vdcapital/billing/app/models"
)

// Service applies verified payment events and scheduled upgrades to the
// subscription store.
type Service struct {
	repo        Repository
	locker      Locker
	now         func() time.Time
	concurrency int
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:        repo,
		now:         time.Now,
		concurrency: 1,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithLocker sets the lock used to keep upgrade sweeps from overlapping.
func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

// WithClock replaces time.Now, mainly for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithSweepConcurrency bounds how many users the sweep works on at once.
func (s *Service) WithSweepConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// ActivateSubscription upserts the user's subscription as active with a new
// period starting now. Replaying the same activation leaves one row holding
// the latest values.
func (s *Service) ActivateSubscription(ctx context.Context, in Activation) (*models.Subscription, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, ErrCorrelationMissing
	}
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, errors.New("provider is required")
	}

	now := s.now().UTC()
	end := PeriodEnd(in.PlanCode, now)
	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               provider,
		Status:                 models.SubscriptionStatusActive,
		PlanCode:               strings.TrimSpace(in.PlanCode),
		PlanName:               strings.TrimSpace(in.PlanName),
		ProviderSubscriptionID: strings.TrimSpace(in.ProviderSubscriptionID),
		ProviderCustomerID:     strings.TrimSpace(in.ProviderCustomerID),
		ProviderPaymentID:      strings.TrimSpace(in.ProviderPaymentID),
		CurrentPeriodStart:     &now,
		CurrentPeriodEnd:       &end,
		UpdatedAt:              now,
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	log.Infof("[Billing] Subscription activated for user %s (provider=%s plan=%s until %s)",
		userID, provider, sub.PlanCode, end.Format(time.RFC3339))
	return sub, nil
}

// CancelSubscription marks the user's subscription cancelled. Period fields
// are left untouched. It reports whether a row was changed.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrCorrelationMissing
	}
	n, err := s.repo.UpdateStatusByUserID(ctx, userID, models.SubscriptionStatusCancelled, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if n == 0 {
		log.Warnf("[Billing] Cancellation for user %s matched no subscription", userID)
	}
	return n > 0, nil
}

// SetStatusByProviderSubscription updates the status of the subscription
// identified by a provider-side subscription reference.
func (s *Service) SetStatusByProviderSubscription(ctx context.Context, provider, providerSubscriptionID, status string) (bool, error) {
	ref := strings.TrimSpace(providerSubscriptionID)
	if ref == "" {
		return false, ErrCorrelationMissing
	}
	p := strings.ToLower(strings.TrimSpace(provider))
	n, err := s.repo.UpdateStatusByProviderSubscriptionID(ctx, p, ref, status, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if n == 0 {
		log.Warnf("[Billing] Status %s for %s subscription %s matched no row", status, p, ref)
	}
	return n > 0, nil
}

// GetSubscription returns the user's subscription or ErrSubscriptionNotFound.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.repo.GetSubscriptionByUserID(ctx, strings.TrimSpace(userID))
}

// ProcessPayFastITN applies a signature-verified PayFast notification.
// Statuses other than COMPLETE and CANCELLED return ErrUnknownDiscriminator,
// which callers acknowledge without retrying.
func (s *Service) ProcessPayFastITN(ctx context.Context, itn *PayFastITN) (Outcome, error) {
	userID := itn.UserID()
	if userID == "" {
		return OutcomeIgnored, ErrCorrelationMissing
	}

	switch strings.ToUpper(strings.TrimSpace(itn.PaymentStatus)) {
	case PayFastStatusComplete:
		planCode := strings.TrimSpace(itn.CustomStr2)
		planName := strings.TrimSpace(itn.ItemName)
		if p, ok := LookupPlan(planCode); ok && planName == "" {
			planName = p.Name
		}
		if _, err := s.ActivateSubscription(ctx, Activation{
			UserID:                 userID,
			Provider:               models.BillingProviderPayFast,
			PlanCode:               planCode,
			PlanName:               planName,
			ProviderSubscriptionID: itn.Token,
			ProviderPaymentID:      itn.PfPaymentID,
		}); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeActivated, nil
	case PayFastStatusCancelled:
		changed, err := s.CancelSubscription(ctx, userID)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !changed {
			return OutcomeNoRecord, nil
		}
		return OutcomeCancelled, nil
	default:
		log.Infof("[Billing] Ignoring PayFast payment_status %q for user %s", itn.PaymentStatus, userID)
		return OutcomeIgnored, ErrUnknownDiscriminator
	}
}

// ProcessPaystackEvent applies a signature-verified Paystack event.
func (s *Service) ProcessPaystackEvent(ctx context.Context, ev *PaystackEvent) (Outcome, error) {
	switch ev.Event {
	case PaystackEventChargeSuccess:
		userID := ev.UserID()
		if userID == "" {
			return OutcomeIgnored, ErrCorrelationMissing
		}
		if _, err := s.ActivateSubscription(ctx, Activation{
			UserID:                 userID,
			Provider:               models.BillingProviderPaystack,
			PlanCode:               ev.PlanCode(),
			PlanName:               ev.PlanName(),
			ProviderSubscriptionID: ev.SubscriptionRef(),
			ProviderCustomerID:     ev.CustomerRef(),
			ProviderPaymentID:      ev.Data.Reference,
		}); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeActivated, nil

	case PaystackEventSubscriptionDisable:
		var (
			changed bool
			err     error
		)
		if userID := ev.UserID(); userID != "" {
			changed, err = s.CancelSubscription(ctx, userID)
		} else {
			changed, err = s.SetStatusByProviderSubscription(ctx, models.BillingProviderPaystack,
				ev.SubscriptionRef(), models.SubscriptionStatusCancelled)
		}
		if err != nil {
			return OutcomeIgnored, err
		}
		if !changed {
			return OutcomeNoRecord, nil
		}
		return OutcomeCancelled, nil

	case PaystackEventInvoicePaymentFailed:
		var sub paystackSubscription
		if !decodeObject(ev.Data.Subscription, &sub) || strings.TrimSpace(sub.SubscriptionCode) == "" {
			log.Warnf("[Billing] Paystack %s without subscription code", ev.Event)
			return OutcomeIgnored, nil
		}
		changed, err := s.SetStatusByProviderSubscription(ctx, models.BillingProviderPaystack,
			sub.SubscriptionCode, models.SubscriptionStatusPastDue)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !changed {
			return OutcomeNoRecord, nil
		}
		return OutcomePastDue, nil

	case PaystackEventSubscriptionCreate:
		// charge.success carries the metadata needed to target a user.
		log.Infof("[Billing] Paystack subscription created, waiting for charge.success")
		return OutcomeIgnored, nil

	default:
		log.Infof("[Billing] Ignoring Paystack event %q", ev.Event)
		return OutcomeIgnored, ErrUnknownDiscriminator
	}
}

// RecordWebhookEvent persists a webhook delivery. Redeliveries of the same
// provider event id bump the delivery counter and report created=false.
// Deliveries that failed verification are keyed by their payload only, so a
// forged event id can never claim the row of the genuine delivery.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	switch {
	case !in.SignatureValid:
		eventID = "unverified:" + payloadID(in.Payload)
	case eventID == "":
		// Same payload, same id, so byte-identical redeliveries still dedupe.
		eventID = "payload:" + payloadID(in.Payload)
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		UserID:          strings.TrimSpace(in.UserID),
		PayloadRaw:      string(in.Payload),
		SignatureValid:  in.SignatureValid,
		Deliveries:      1,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

func payloadID(payload []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, payload).String()
}
