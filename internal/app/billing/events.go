package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
)

// ProcessWebhook проверяет подпись, сохраняет событие и обрабатывает его один раз.
// duplicate=true - событие уже было успешно обработано раньше.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signature string) (duplicate bool, err error) {
	if s.gateway == nil {
		return false, ErrNotConfigured
	}
	event, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	record, duplicate, err := s.store.RecordWebhookEvent(ctx, ds.ProviderStripe, event.ID, string(event.Type), payload)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	if duplicate {
		logrus.Infof("stripe event %s already processed", event.ID)
		return true, nil
	}

	procErr := s.HandleEvent(ctx, event)
	if err := s.store.FinishWebhookEvent(ctx, record.ID, procErr); err != nil {
		logrus.Errorf("finish webhook event %s: %v", event.ID, err)
	}
	return false, procErr
}

// HandleEvent применяет событие Stripe к локальному состоянию. Неизвестные типы игнорируются.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	log := logrus.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.onCheckoutCompleted(ctx, &session)

	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		changed, err := s.store.MarkSessionFailed(ctx, session.ID)
		if err == nil && changed {
			log.Infof("payment for session %s marked failed", session.ID)
		}
		return err

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		failure := repository.IntentFailure{IntentID: intent.ID, Type: ds.PaymentType(intent.Metadata[metaPaymentType])}
		if id, err := parseID(intent.Metadata[metaProjectID]); err == nil {
			failure.ProjectID = &id
		}
		if id, err := parseID(intent.Metadata[metaAddOnID]); err == nil {
			failure.AddOnID = &id
		}
		changed, err := s.store.MarkIntentFailed(ctx, failure)
		if err == nil && changed {
			log.Infof("payment for intent %s marked failed", intent.ID)
		}
		return err

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return nil
		}
		if !charge.Refunded {
			// частичный возврат: сумма платежа не меняется, фиксируем в логе
			log.Warnf("partial refund %d of intent %s", charge.AmountRefunded, charge.PaymentIntent.ID)
			return nil
		}
		_, err := s.store.RefundPayment(ctx, charge.PaymentIntent.ID)
		if errors.Is(err, repository.ErrPaymentNotFound) {
			log.Warnf("refund for unknown intent %s", charge.PaymentIntent.ID)
			return nil
		}
		return err

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed, stripe.EventTypeInvoiceFinalized:
		var invoice invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.onInvoice(ctx, invoice)

	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.onSubscription(ctx, sub)

	default:
		log.Debug("stripe event ignored")
		return nil
	}
}

func (s *Service) onCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	meta := session.Metadata
	userID, err := parseID(meta[metaUserID])
	if err != nil {
		return fmt.Errorf("session %s: bad %s: %w", session.ID, metaUserID, err)
	}

	res := repository.CheckoutResult{
		SessionID: session.ID,
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Amount:    session.AmountTotal,
		Currency:  string(session.Currency),
		UserID:    userID,
		Type:      ds.PaymentType(meta[metaPaymentType]),
	}
	if session.PaymentIntent != nil {
		res.PaymentIntentID = session.PaymentIntent.ID
	}
	if id, err := parseID(meta[metaProjectID]); err == nil {
		res.ProjectID = &id
	}
	if id, err := parseID(meta[metaAddOnID]); err == nil {
		res.AddOnID = &id
	}
	if !res.Type.Valid() {
		if session.Mode == stripe.CheckoutSessionModeSubscription {
			res.Type = ds.PaymentSubscription
		} else {
			res.Type = ds.PaymentFull
		}
	}

	payment, err := s.store.ApplyCheckout(ctx, res)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"session":    session.ID,
		"payment_id": payment.ID,
		"status":     payment.Status,
	}).Info("checkout session applied")

	if session.Customer != nil && session.Customer.ID != "" {
		if err := s.store.SetStripeCustomerID(ctx, userID, session.Customer.ID); err != nil {
			logrus.Warnf("save stripe customer for user %d: %v", userID, err)
		}
	}

	if session.Mode == stripe.CheckoutSessionModeSubscription && session.Subscription != nil && session.Subscription.ID != "" {
		sub := ds.Subscription{
			UserID:               userID,
			StripeSubscriptionID: session.Subscription.ID,
			Status:               "incomplete",
		}
		if session.Subscription.Status != "" {
			sub.Status = string(session.Subscription.Status)
		} else if res.Paid {
			sub.Status = "active"
		}
		if id, err := parseID(meta[metaServiceID]); err == nil {
			sub.ServiceID = &id
		}
		return s.store.UpsertSubscription(ctx, &sub)
	}
	return nil
}

// invoicePayload - поля счёта из вебхука. Связь с подпиской читается и из старого
// поля subscription, и из parent.subscription_details, чтобы не зависеть от версии API аккаунта.
type invoicePayload struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	Customer         json.RawMessage   `json:"customer"`
	AmountDue        int64             `json:"amount_due"`
	AmountPaid       int64             `json:"amount_paid"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	InvoicePDF       string            `json:"invoice_pdf"`
	DueDate          int64             `json:"due_date"`
	Metadata         map[string]string `json:"metadata"`
	Subscription     json.RawMessage   `json:"subscription"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

func (p invoicePayload) subscriptionID() string {
	if id := expandableID(p.Subscription); id != "" {
		return id
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return expandableID(p.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (p invoicePayload) metadata(key string) string {
	if v := p.Metadata[key]; v != "" {
		return v
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return p.Parent.SubscriptionDetails.Metadata[key]
	}
	return ""
}

func (s *Service) onInvoice(ctx context.Context, p invoicePayload) error {
	invoice := ds.Invoice{
		StripeInvoiceID: p.ID,
		Number:          p.Number,
		AmountDue:       p.AmountDue,
		AmountPaid:      p.AmountPaid,
		Currency:        p.Currency,
		Status:          p.Status,
		HostedURL:       p.HostedInvoiceURL,
		PDFURL:          p.InvoicePDF,
		DueDate:         unixTime(p.DueDate),
		PaidAt:          unixTime(p.StatusTransitions.PaidAt),
	}

	userID, err := s.resolveUser(ctx, expandableID(p.Customer), p.metadata(metaUserID))
	if err != nil {
		return fmt.Errorf("invoice %s: %w", p.ID, err)
	}
	invoice.UserID = userID

	if id, err := parseID(p.metadata(metaProjectID)); err == nil {
		invoice.ProjectID = &id
	}
	if stripeSubID := p.subscriptionID(); stripeSubID != "" {
		sub, err := s.store.GetSubscriptionByStripeID(ctx, stripeSubID)
		switch {
		case err == nil:
			invoice.SubscriptionID = &sub.ID
		case !errors.Is(err, repository.ErrSubscriptionNotFound):
			return err
		}
	}
	return s.store.UpsertInvoice(ctx, &invoice)
}

type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           json.RawMessage   `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s *Service) onSubscription(ctx context.Context, p subscriptionPayload) error {
	userID, err := s.resolveUser(ctx, expandableID(p.Customer), p.Metadata[metaUserID])
	if err != nil {
		return fmt.Errorf("subscription %s: %w", p.ID, err)
	}

	start, end := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if start == 0 && len(p.Items.Data) > 0 {
		start, end = p.Items.Data[0].CurrentPeriodStart, p.Items.Data[0].CurrentPeriodEnd
	}

	sub := ds.Subscription{
		UserID:               userID,
		StripeSubscriptionID: p.ID,
		Status:               p.Status,
		CurrentPeriodStart:   unixTime(start),
		CurrentPeriodEnd:     unixTime(end),
		CancelAtPeriodEnd:    p.CancelAtPeriodEnd,
		CanceledAt:           unixTime(p.CanceledAt),
	}
	if id, err := parseID(p.Metadata[metaServiceID]); err == nil {
		sub.ServiceID = &id
	}
	return s.store.UpsertSubscription(ctx, &sub)
}

// resolveUser находит пользователя по Stripe customer, иначе по user_id из метаданных
func (s *Service) resolveUser(ctx context.Context, customerID, metaUser string) (uint, error) {
	if customerID != "" {
		user, err := s.store.GetUserByStripeCustomerID(ctx, customerID)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return 0, err
		}
	}
	id, err := parseID(metaUser)
	if err != nil {
		return 0, fmt.Errorf("%w: customer %q", repository.ErrUserNotFound, customerID)
	}
	if customerID != "" {
		if err := s.store.SetStripeCustomerID(ctx, id, customerID); err != nil {
			logrus.Warnf("save stripe customer for user %d: %v", id, err)
		}
	}
	return id, nil
}

// expandableID достаёт id из поля, которое Stripe присылает строкой или объектом
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func parseID(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("zero id")
	}
	return uint(v), nil
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
