// Package billing выставляет оплату через Stripe Checkout и сверяет состояние по вебхукам.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/pricing"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrForbidden          = errors.New("нет доступа")
	ErrInvalidPaymentType = errors.New("неизвестный тип платежа")
	ErrNotPayable         = errors.New("проект сейчас нельзя оплатить")
	ErrNothingToPay       = errors.New("нечего оплачивать")
	ErrAlreadyPaid        = errors.New("по проекту уже есть оплата")
	ErrAddOnNotApplicable = errors.New("дополнение не относится к услугам проекта")
	ErrAddOnAlreadyAdded  = errors.New("дополнение уже добавлено")
	ErrNotSubscribable    = errors.New("на услугу нельзя оформить подписку")
	ErrGateway            = errors.New("ошибка платёжного провайдера")
	ErrInvalidSignature   = errors.New("неверная подпись вебхука")
	ErrNotConfigured      = errors.New("платёжный провайдер не настроен")

	// ErrCheckoutInProgress - по проекту уже открыта оплата того же назначения
	ErrCheckoutInProgress = repository.ErrCheckoutInProgress
)

const (
	// sessionLifetime - максимальный срок жизни Checkout Session в Stripe
	sessionLifetime = 24 * time.Hour
	// reservationTimeout - резерв без сессии старше этого считается брошенным
	reservationTimeout = time.Minute
)

// Store - то, что billing использует из репозитория
type Store interface {
	GetProject(ctx context.Context, id uint) (*ds.Project, error)
	GetServiceByID(ctx context.Context, id uint) (*ds.Service, error)
	GetAddOn(ctx context.Context, id uint) (*ds.ServiceAddOn, error)
	FindProjectService(ctx context.Context, projectID, serviceID uint) (*ds.ProjectService, error)
	HasProjectAddOn(ctx context.Context, projectServiceID, addOnID uint) (bool, error)

	CreatePayment(ctx context.Context, payment *ds.Payment) error
	ReservePayment(ctx context.Context, projectID uint, build func(project ds.Project) (*ds.Payment, error)) (*ds.Payment, error)
	AttachSession(ctx context.Context, paymentID uint, sessionID string) error
	ReleasePayment(ctx context.Context, paymentID uint) error
	OpenCheckouts(ctx context.Context, projectID uint, since time.Time) ([]ds.Payment, error)
	ApplyCheckout(ctx context.Context, res repository.CheckoutResult) (*ds.Payment, error)
	MarkSessionFailed(ctx context.Context, sessionID string) (bool, error)
	MarkIntentFailed(ctx context.Context, f repository.IntentFailure) (bool, error)
	RefundPayment(ctx context.Context, intentID string) (*ds.Payment, error)

	UpsertInvoice(ctx context.Context, invoice *ds.Invoice) error
	UpsertSubscription(ctx context.Context, sub *ds.Subscription) error
	GetSubscription(ctx context.Context, id uint) (*ds.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*ds.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id uint, cancel bool) error

	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*ds.User, error)
	SetStripeCustomerID(ctx context.Context, userID uint, customerID string) error

	RecordWebhookEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (*ds.WebhookEvent, bool, error)
	FinishWebhookEvent(ctx context.Context, id uint, procErr error) error
}

type Options struct {
	Currency string
	// BaseURL сайта, от него строятся success/cancel URL
	BaseURL string
}

type Service struct {
	store   Store
	gateway Gateway
	opts    Options
}

func NewService(store Store, gateway Gateway, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	return &Service{store: store, gateway: gateway, opts: opts}
}

// Метаданные Checkout Session
const (
	metaProjectID   = "project_id"
	metaUserID      = "user_id"
	metaPaymentType = "payment_type"
	metaAddOnID     = "add_on_id"
	metaServiceID   = "service_id"
)

// CheckoutAmount считает сумму к оплате по типу платежа
func CheckoutAmount(project ds.Project, typ ds.PaymentType) (int64, error) {
	if !project.Status.IsPayable() {
		return 0, fmt.Errorf("%w: статус %s", ErrNotPayable, project.Status)
	}

	var amount int64
	switch typ {
	case ds.PaymentFull:
		if project.PaidAmount > 0 {
			return 0, ErrAlreadyPaid
		}
		amount = project.TotalAmount
	case ds.PaymentDeposit:
		if project.PaidAmount > 0 {
			return 0, ErrAlreadyPaid
		}
		amount = project.DepositAmount()
	case ds.PaymentRemaining:
		amount = project.Balance()
	default:
		return 0, ErrInvalidPaymentType
	}

	if amount <= 0 || amount > project.Balance() {
		return 0, ErrNothingToPay
	}
	return amount, nil
}

func canPayFor(user *ds.User, project *ds.Project) bool {
	return project.UserID == user.ID || user.Role == role.Admin
}

// CheckoutProject создаёт сессию оплаты проекта (полная, предоплата или остаток).
// По проекту одновременно открыта не больше одной такой сессии.
func (s *Service) CheckoutProject(ctx context.Context, user *ds.User, projectID uint, typ ds.PaymentType) (*CheckoutSession, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !canPayFor(user, project) {
		return nil, ErrForbidden
	}
	if _, err := CheckoutAmount(*project, typ); err != nil {
		return nil, err
	}

	if err := s.closeOpenCheckouts(ctx, ds.Payment{ProjectID: &project.ID, Type: typ}); err != nil {
		return nil, err
	}
	payment, err := s.store.ReservePayment(ctx, project.ID, func(locked ds.Project) (*ds.Payment, error) {
		amount, err := CheckoutAmount(locked, typ)
		if err != nil {
			return nil, err
		}
		return &ds.Payment{
			UserID:      locked.UserID,
			ProjectID:   &locked.ID,
			Amount:      amount,
			Currency:    s.opts.Currency,
			Status:      ds.PaymentPending,
			Type:        typ,
			Description: fmt.Sprintf("%s: %s", typ, locked.Title),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		metaProjectID:   strconv.FormatUint(uint64(project.ID), 10),
		metaUserID:      strconv.FormatUint(uint64(project.UserID), 10),
		metaPaymentType: string(typ),
	}
	return s.openReserved(ctx, user, payment, CheckoutParams{
		Mode:        ModePayment,
		Amount:      payment.Amount,
		ProductName: project.Title,
		Description: payment.Description,
		Metadata:    meta,
	}, fmt.Sprintf("/dashboard/projects/%d", project.ID))
}

// CheckoutAddOn - докупка дополнения к уже идущему проекту
func (s *Service) CheckoutAddOn(ctx context.Context, user *ds.User, projectID, addOnID uint) (*CheckoutSession, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !canPayFor(user, project) {
		return nil, ErrForbidden
	}
	if !project.Status.IsPayable() {
		return nil, fmt.Errorf("%w: статус %s", ErrNotPayable, project.Status)
	}

	addOn, err := s.store.GetAddOn(ctx, addOnID)
	if err != nil {
		return nil, err
	}
	if !addOn.IsActive {
		return nil, repository.ErrAddOnNotFound
	}
	ps, err := s.store.FindProjectService(ctx, project.ID, addOn.ServiceID)
	if errors.Is(err, repository.ErrServiceNotFound) {
		return nil, ErrAddOnNotApplicable
	}
	if err != nil {
		return nil, err
	}
	exists, err := s.store.HasProjectAddOn(ctx, ps.ID, addOn.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAddOnAlreadyAdded
	}

	price, err := pricing.AddOnPrice(*addOn, ps.CustomPrice)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, ErrNothingToPay
	}

	if err := s.closeOpenCheckouts(ctx, ds.Payment{ProjectID: &project.ID, AddOnID: &addOn.ID, Type: ds.PaymentAddOn}); err != nil {
		return nil, err
	}
	payment, err := s.store.ReservePayment(ctx, project.ID, func(locked ds.Project) (*ds.Payment, error) {
		if !locked.Status.IsPayable() {
			return nil, fmt.Errorf("%w: статус %s", ErrNotPayable, locked.Status)
		}
		return &ds.Payment{
			UserID:      locked.UserID,
			ProjectID:   &locked.ID,
			AddOnID:     &addOn.ID,
			Amount:      price,
			Currency:    s.opts.Currency,
			Status:      ds.PaymentPending,
			Type:        ds.PaymentAddOn,
			Description: fmt.Sprintf("%s: %s", locked.Title, addOn.Name),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		metaProjectID:   strconv.FormatUint(uint64(project.ID), 10),
		metaUserID:      strconv.FormatUint(uint64(project.UserID), 10),
		metaPaymentType: string(ds.PaymentAddOn),
		metaAddOnID:     strconv.FormatUint(uint64(addOn.ID), 10),
	}
	return s.openReserved(ctx, user, payment, CheckoutParams{
		Mode:        ModePayment,
		Amount:      price,
		ProductName: addOn.Name,
		Description: payment.Description,
		Metadata:    meta,
	}, fmt.Sprintf("/dashboard/projects/%d", project.ID))
}

// closeOpenCheckouts закрывает в Stripe незавершённые сессии с тем же назначением, что и target.
// Сессия, которая уже принимает оплату, даёт ErrCheckoutInProgress.
func (s *Service) closeOpenCheckouts(ctx context.Context, target ds.Payment) error {
	open, err := s.store.OpenCheckouts(ctx, *target.ProjectID, time.Now().Add(-sessionLifetime))
	if err != nil {
		return err
	}
	for _, p := range open {
		if !p.SameTarget(target) {
			continue
		}
		if p.StripeSessionID == nil {
			if time.Since(p.CreatedAt) < reservationTimeout {
				// резерв соседнего запроса, сессия ещё создаётся
				return fmt.Errorf("%w: платёж %d", ErrCheckoutInProgress, p.ID)
			}
			if err := s.store.ReleasePayment(ctx, p.ID); err != nil {
				return err
			}
			continue
		}

		status, err := s.gateway.ExpireCheckoutSession(ctx, *p.StripeSessionID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"session": *p.StripeSessionID}).Errorf("expire checkout session: %v", err)
			return fmt.Errorf("%w: %v", ErrGateway, err)
		}
		if status != stripe.CheckoutSessionStatusExpired {
			return fmt.Errorf("%w: сессия %s в статусе %s", ErrCheckoutInProgress, *p.StripeSessionID, status)
		}
		if _, err := s.store.MarkSessionFailed(ctx, *p.StripeSessionID); err != nil {
			return err
		}
		logrus.Infof("project %d: checkout session %s expired before a new one", *target.ProjectID, *p.StripeSessionID)
	}
	return nil
}

// openReserved открывает сессию для зарезервированного платежа; при ошибке провайдера резерв снимается
func (s *Service) openReserved(ctx context.Context, user *ds.User, payment *ds.Payment, params CheckoutParams, returnPath string) (*CheckoutSession, error) {
	session, err := s.openSession(ctx, user, params, returnPath)
	if err != nil {
		if releaseErr := s.store.ReleasePayment(ctx, payment.ID); releaseErr != nil {
			logrus.Errorf("release payment %d: %v", payment.ID, releaseErr)
		}
		return nil, err
	}
	if err := s.store.AttachSession(ctx, payment.ID, session.ID); err != nil {
		return nil, fmt.Errorf("attach session %s: %w", session.ID, err)
	}
	payment.StripeSessionID = &session.ID
	return session, nil
}

// Subscribe оформляет подписку на RECURRING-услугу
func (s *Service) Subscribe(ctx context.Context, user *ds.User, serviceID uint) (*CheckoutSession, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	service, err := s.store.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !service.IsActive || service.PriceType != ds.PriceTypeRecurring || service.StripePriceID == "" {
		return nil, ErrNotSubscribable
	}

	meta := map[string]string{
		metaUserID:      strconv.FormatUint(uint64(user.ID), 10),
		metaServiceID:   strconv.FormatUint(uint64(service.ID), 10),
		metaPaymentType: string(ds.PaymentSubscription),
	}
	session, err := s.openSession(ctx, user, CheckoutParams{
		Mode:     ModeSubscription,
		PriceID:  service.StripePriceID,
		Metadata: meta,
	}, "/dashboard/subscriptions")
	if err != nil {
		return nil, err
	}

	err = s.store.CreatePayment(ctx, &ds.Payment{
		UserID:          user.ID,
		Amount:          service.BasePrice,
		Currency:        s.opts.Currency,
		Status:          ds.PaymentPending,
		Type:            ds.PaymentSubscription,
		StripeSessionID: &session.ID,
		Description:     "Подписка: " + service.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("save pending payment: %w", err)
	}
	return session, nil
}

// CancelSubscription отменяет подписку в конце оплаченного периода
func (s *Service) CancelSubscription(ctx context.Context, user *ds.User, subscriptionID uint) (*ds.Subscription, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != user.ID && user.Role != role.Admin {
		return nil, ErrForbidden
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if err := s.gateway.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		logrus.WithFields(logrus.Fields{"subscription": sub.StripeSubscriptionID}).Errorf("cancel subscription: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if err := s.store.SetCancelAtPeriodEnd(ctx, sub.ID, true); err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

func (s *Service) openSession(ctx context.Context, user *ds.User, params CheckoutParams, returnPath string) (*CheckoutSession, error) {
	params.Currency = s.opts.Currency
	params.SuccessURL = s.opts.BaseURL + returnPath + "?checkout=success&session_id={CHECKOUT_SESSION_ID}"
	params.CancelURL = s.opts.BaseURL + returnPath + "?checkout=cancelled"
	params.IdempotencyKey = uuid.New().String()
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		params.CustomerID = *user.StripeCustomerID
	} else {
		params.CustomerEmail = user.Email
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": user.ID,
			"mode":    params.Mode,
			"amount":  params.Amount,
		}).Errorf("checkout session: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return session, nil
}
