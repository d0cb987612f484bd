package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vdcapital/billing/app/models"
	"github.com/vdcapital/billing/internal/pkg/archive"
	"github.com/vdcapital/billing/internal/pkg/billing"
)

const (
	defaultCheckoutAmount   = "25.00"
	defaultCheckoutItemName = "Monthly Subscription"

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// BillingController serves the payment provider webhooks, the PayFast
// checkout link and the upgrade sweep trigger.
type BillingController struct {
	svc      *billing.Service
	cfg      *billing.Config
	archiver archive.Archiver
	validate *validator.Validate
}

func NewBillingController(svc *billing.Service, cfg *billing.Config, archiver archive.Archiver) *BillingController {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &BillingController{
		svc:      svc,
		cfg:      cfg,
		archiver: archiver,
		validate: validator.New(),
	}
}

type initiateRequest struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	PlanCode string `json:"planCode" validate:"max=64"`
}

// HandlePayFastInitiate returns a signed PayFast subscription checkout URL.
func (bc *BillingController) HandlePayFastInitiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.PlanCode = strings.TrimSpace(req.PlanCode)
	if err := bc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id_missing"})
	}
	if bc.cfg.PayFastMerchantID == "" {
		log.Errorf("[Billing] PayFast checkout requested but PAYFAST_MERCHANT_ID is not configured")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payfast_not_configured"})
	}

	amount, itemName := defaultCheckoutAmount, defaultCheckoutItemName
	if plan, ok := billing.LookupPlan(req.PlanCode); ok {
		amount, itemName = plan.FormatAmount(), plan.Name
	}

	params := billing.Params{}.
		Add("merchant_id", bc.cfg.PayFastMerchantID).
		Add("merchant_key", bc.cfg.PayFastMerchantKey).
		Add("return_url", bc.cfg.ReturnURL()).
		Add("cancel_url", bc.cfg.CancelURL()).
		Add("notify_url", bc.cfg.NotifyURL()).
		Add("amount", amount).
		Add("item_name", itemName).
		Add("custom_str1", req.UserID).
		Add("custom_str2", req.PlanCode).
		Add("subscription_type", "1").
		Add("frequency", "3").
		Add("cycles", "0")

	url, err := billing.BuildPayFastCheckoutURL(bc.cfg.PayFastProcessURL, params, bc.cfg.PayFastPassphrase)
	if err != nil {
		log.Errorf("[Billing] Failed to build PayFast checkout URL: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": url})
}

// HandlePayFastNotify processes a PayFast ITN.
func (bc *BillingController) HandlePayFastNotify(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	itn, values, err := billing.ParsePayFastITN(rawBody)
	if err != nil {
		log.Warnf("[Billing] Rejecting unparseable PayFast ITN: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), bc.cfg.WebhookTimeout)
	defer cancel()

	sigErr := billing.CheckPayFastSignature(values, bc.cfg.PayFastPassphrase)
	stored := bc.recordEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderPayFast,
		ProviderEventID: itn.EventID(),
		EventType:       strings.ToUpper(strings.TrimSpace(itn.PaymentStatus)),
		UserID:          itn.UserID(),
		Payload:         rawBody,
		SignatureValid:  sigErr == nil,
	})

	if sigErr != nil {
		log.Warnf("[Billing] PayFast ITN for user %q rejected: %v", itn.UserID(), sigErr)
		bc.markProcessed(ctx, stored, sigErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": signatureErrorCode(sigErr)})
	}
	bc.archiveAsync(models.BillingProviderPayFast, eventIDOf(stored, itn.EventID()), contentTypeForm, rawBody)

	outcome, err := bc.svc.ProcessPayFastITN(ctx, itn)
	bc.markProcessed(ctx, stored, ignoreUnknown(err))
	switch {
	case errors.Is(err, billing.ErrCorrelationMissing):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id_missing"})
	case errors.Is(err, billing.ErrUnknownDiscriminator):
	case err != nil:
		log.Errorf("[Billing] PayFast ITN for user %s failed: %v", itn.UserID(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database_error"})
	}

	log.Infof("[Billing] PayFast ITN %s for user %s: %s", itn.PaymentStatus, itn.UserID(), outcome)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandlePaystackWebhook processes a Paystack event. The signature covers the
// exact request bytes, so the body is copied before anything decodes it.
func (bc *BillingController) HandlePaystackWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(billing.PaystackSignatureHeader)

	ctx, cancel := context.WithTimeout(context.Background(), bc.cfg.WebhookTimeout)
	defer cancel()

	sigErr := billing.VerifyPaystackSignature(rawBody, signature, bc.cfg.PaystackSecretKey)
	ev, parseErr := billing.ParsePaystackEvent(rawBody)

	input := billing.WebhookEventInput{
		Provider:       models.BillingProviderPaystack,
		Payload:        rawBody,
		SignatureValid: sigErr == nil,
		EventType:      "unknown",
	}
	if parseErr == nil {
		input.ProviderEventID = ev.EventID()
		input.EventType = ev.Event
		input.UserID = ev.UserID()
	}
	stored := bc.recordEvent(ctx, input)

	if sigErr != nil {
		log.Warnf("[Billing] Paystack webhook rejected: %v", sigErr)
		bc.markProcessed(ctx, stored, sigErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": signatureErrorCode(sigErr)})
	}
	if parseErr != nil {
		log.Warnf("[Billing] Paystack webhook with valid signature could not be decoded: %v", parseErr)
		bc.markProcessed(ctx, stored, parseErr)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}
	bc.archiveAsync(models.BillingProviderPaystack, eventIDOf(stored, ev.EventID()), contentTypeJSON, rawBody)

	outcome, err := bc.svc.ProcessPaystackEvent(ctx, ev)
	bc.markProcessed(ctx, stored, ignoreUnknown(err))
	switch {
	case errors.Is(err, billing.ErrCorrelationMissing):
		log.Warnf("[Billing] Paystack %s without metadata.user_id", ev.Event)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id_missing"})
	case errors.Is(err, billing.ErrUnknownDiscriminator):
	case err != nil:
		// Acknowledged anyway; the event log keeps the error for reconciliation.
		log.Errorf("[Billing] Paystack %s failed: %v", ev.Event, err)
	default:
		log.Infof("[Billing] Paystack %s: %s", ev.Event, outcome)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleProcessUpgrades runs one upgrade sweep.
func (bc *BillingController) HandleProcessUpgrades(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), bc.cfg.SweepTimeout)
	defer cancel()

	result, err := bc.svc.ProcessDueUpgrades(ctx)
	if errors.Is(err, billing.ErrSweepInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sweep_in_progress"})
	}
	if err != nil {
		log.Errorf("[Billing] Upgrade sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":   "Upgrade sweep completed",
		"processed": result.Processed,
		"errors":    result.Errors,
		"skipped":   result.Skipped,
		"total":     result.Total,
	})
}

// recordEvent writes the delivery log. Failures are logged and never block
// processing.
func (bc *BillingController) recordEvent(ctx context.Context, in billing.WebhookEventInput) *models.BillingWebhookEvent {
	created, stored, err := bc.svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		log.Errorf("[Billing] Failed to record %s webhook event: %v", in.Provider, err)
		return nil
	}
	if !created {
		log.Infof("[Billing] Duplicate %s delivery %s (delivery #%d), processing again",
			in.Provider, stored.ProviderEventID, stored.Deliveries)
	}
	return stored
}

func (bc *BillingController) markProcessed(ctx context.Context, stored *models.BillingWebhookEvent, processingErr error) {
	if stored == nil {
		return
	}
	if err := bc.svc.MarkWebhookProcessed(ctx, stored.ID, processingErr); err != nil {
		log.Warnf("[Billing] Failed to mark webhook event %d processed: %v", stored.ID, err)
	}
}

func (bc *BillingController) archiveAsync(provider, eventID, contentType string, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bc.cfg.WebhookTimeout)
		defer cancel()
		if err := bc.archiver.Archive(ctx, provider, eventID, contentType, payload); err != nil {
			log.Warnf("[Billing] Failed to archive %s payload: %v", provider, err)
		}
	}()
}

// eventIDOf prefers the id the delivery log settled on, which is derived from
// the payload when the provider sent none.
func eventIDOf(stored *models.BillingWebhookEvent, fallback string) string {
	if stored != nil && stored.ProviderEventID != "" {
		return stored.ProviderEventID
	}
	return fallback
}

func signatureErrorCode(err error) string {
	if errors.Is(err, billing.ErrSignatureMissing) {
		return "signature_missing"
	}
	return "signature_invalid"
}

func ignoreUnknown(err error) error {
	if errors.Is(err, billing.ErrUnknownDiscriminator) {
		return nil
	}
	return err
}
