package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/pricing"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckoutResult - итог завершённой Checkout Session, уже разобранный из вебхука
type CheckoutResult struct {
	SessionID       string
	PaymentIntentID string
	Paid            bool
	Amount          int64
	Currency        string
	UserID          uint
	ProjectID       *uint
	AddOnID         *uint
	Type            ds.PaymentType
	Description     string
}

// PaidRecompute - значения paid_amount до и после пересчёта
type PaidRecompute struct {
	ProjectID uint
	Before    int64
	After     int64
	Total     int64
}

func (r *Repository) CreatePayment(ctx context.Context, payment *ds.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// ReservePayment блокирует проект и сохраняет PENDING-платёж без сессии, собранный build
// по свежему состоянию проекта. Если по проекту уже есть PENDING-платёж с тем же назначением,
// возвращает ErrCheckoutInProgress.
func (r *Repository) ReservePayment(ctx context.Context, projectID uint, build func(project ds.Project) (*ds.Payment, error)) (*ds.Payment, error) {
	var payment *ds.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project ds.Project
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&project, projectID).Error
		if err != nil {
			return notFound(err, ErrProjectNotFound)
		}

		payment, err = build(project)
		if err != nil {
			return err
		}

		var pending []ds.Payment
		err = tx.Where("project_id = ? AND status = ?", projectID, ds.PaymentPending).Find(&pending).Error
		if err != nil {
			return err
		}
		for _, p := range pending {
			if p.SameTarget(*payment) {
				return fmt.Errorf("%w: платёж %d", ErrCheckoutInProgress, p.ID)
			}
		}
		return tx.Create(payment).Error
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// AttachSession привязывает созданную Checkout Session к зарезервированному платежу
func (r *Repository) AttachSession(ctx context.Context, paymentID uint, sessionID string) error {
	return r.db.WithContext(ctx).Model(&ds.Payment{}).
		Where("id = ?", paymentID).
		Update("stripe_session_id", sessionID).Error
}

// ReleasePayment удаляет резерв, для которого так и не открылась сессия
func (r *Repository) ReleasePayment(ctx context.Context, paymentID uint) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND stripe_session_id IS NULL", paymentID, ds.PaymentPending).
		Delete(&ds.Payment{}).Error
}

// OpenCheckouts - платежи проекта, чья сессия ещё может принять деньги: PENDING
// и FAILED после отказа по карте, созданные после since (сессия живёт до истечения).
func (r *Repository) OpenCheckouts(ctx context.Context, projectID uint, since time.Time) ([]ds.Payment, error) {
	var payments []ds.Payment
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where(r.db.Where("status = ?", ds.PaymentPending).
			Or("status = ? AND stripe_session_id IS NOT NULL AND stripe_payment_intent_id IS NOT NULL AND created_at > ?", ds.PaymentFailed, since)).
		Order("created_at").
		Find(&payments).Error
	return payments, err
}

func (r *Repository) GetPaymentBySession(ctx context.Context, sessionID string) (*ds.Payment, error) {
	var payment ds.Payment
	if err := r.db.WithContext(ctx).Where("stripe_session_id = ?", sessionID).First(&payment).Error; err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	return &payment, nil
}

type PaymentFilter struct {
	UserID    *uint
	ProjectID *uint
	Status    string
}

func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]ds.Payment, error) {
	var payments []ds.Payment
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ProjectID != nil {
		query = query.Where("project_id = ?", *filter.ProjectID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// ApplyCheckout фиксирует оплату сессии. В одной транзакции: upsert платежа по session id,
// привязка дополнения, пересчёт paid_amount и автопереход проекта в IN_PROGRESS.
// Повторный вызов для уже успешного платежа ничего не меняет.
func (r *Repository) ApplyCheckout(ctx context.Context, res CheckoutResult) (*ds.Payment, error) {
	var payment ds.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("stripe_session_id = ?", res.SessionID).First(&payment).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sessionID := res.SessionID
			payment = ds.Payment{
				UserID:          res.UserID,
				ProjectID:       res.ProjectID,
				AddOnID:         res.AddOnID,
				Amount:          res.Amount,
				Currency:        res.Currency,
				Status:          ds.PaymentPending,
				Type:            res.Type,
				StripeSessionID: &sessionID,
				Description:     res.Description,
			}
			if payment.Currency == "" {
				payment.Currency = "usd"
			}
			if err := tx.Create(&payment).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if payment.Status == ds.PaymentSucceeded || payment.Status == ds.PaymentRefunded {
			return nil
		}

		updates := map[string]interface{}{}
		if res.PaymentIntentID != "" {
			updates["stripe_payment_intent_id"] = res.PaymentIntentID
		}
		if !res.Paid {
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&payment).Updates(updates).Error
		}

		now := time.Now().UTC()
		updates["status"] = ds.PaymentSucceeded
		updates["paid_at"] = now
		if res.Amount > 0 {
			updates["amount"] = res.Amount
			payment.Amount = res.Amount
		}
		if err := tx.Model(&payment).Updates(updates).Error; err != nil {
			return err
		}

		if payment.ProjectID == nil {
			return nil
		}
		if payment.Type == ds.PaymentAddOn && payment.AddOnID != nil {
			if err := attachAddOn(tx, *payment.ProjectID, *payment.AddOnID, payment.Amount); err != nil {
				return err
			}
		}

		project, _, err := recomputePaid(tx, *payment.ProjectID)
		if err != nil {
			return err
		}
		return autoAdvance(tx, project)
	})
	if err != nil {
		return nil, fmt.Errorf("apply checkout %s: %w", res.SessionID, err)
	}
	return r.GetPaymentBySession(ctx, res.SessionID)
}

// attachAddOn добавляет купленное дополнение в проект и увеличивает итог на цену покупки
func attachAddOn(tx *gorm.DB, projectID, addOnID uint, price int64) error {
	var addOn ds.ServiceAddOn
	if err := tx.First(&addOn, addOnID).Error; err != nil {
		return notFound(err, ErrAddOnNotFound)
	}
	var ps ds.ProjectService
	err := tx.Where("project_id = ? AND service_id = ?", projectID, addOn.ServiceID).First(&ps).Error
	if err != nil {
		return notFound(err, ErrServiceNotFound)
	}

	pa := ds.ProjectAddOn{
		ProjectID:        projectID,
		ProjectServiceID: ps.ID,
		AddOnID:          addOnID,
		Price:            price,
	}
	created := tx.Omit("AddOn").Clauses(clause.OnConflict{DoNothing: true}).Create(&pa)
	if created.Error != nil {
		return created.Error
	}
	if created.RowsAffected == 0 {
		logrus.Warnf("add-on %d already attached to project %d", addOnID, projectID)
		return nil
	}

	if err := tx.Model(&ds.Project{}).Where("id = ?", projectID).
		Update("total_amount", gorm.Expr("total_amount + ?", price)).Error; err != nil {
		return err
	}
	return appendQuoteLine(tx, projectID, ps.ServiceID, pricing.AddOnLine{AddOnID: addOnID, Name: addOn.Name, Price: price})
}

func appendQuoteLine(tx *gorm.DB, projectID, serviceID uint, addOnLine pricing.AddOnLine) error {
	var project ds.Project
	if err := tx.Select("id", "metadata").First(&project, projectID).Error; err != nil {
		return err
	}
	meta := DecodeProjectMetadata(project.Metadata)
	if meta.Quote == nil {
		return nil
	}
	for i := range meta.Quote.Lines {
		if meta.Quote.Lines[i].ServiceID == serviceID {
			meta.Quote.Lines[i].AddOns = append(meta.Quote.Lines[i].AddOns, addOnLine)
			meta.Quote.Lines[i].Subtotal += addOnLine.Price
			meta.Quote.Total += addOnLine.Price
			break
		}
	}
	encoded, err := meta.encode()
	if err != nil {
		return err
	}
	return tx.Model(&ds.Project{}).Where("id = ?", projectID).Update("metadata", encoded).Error
}

// recomputePaid приводит paid_amount к сумме успешных платежей проекта
func recomputePaid(tx *gorm.DB, projectID uint) (*ds.Project, int64, error) {
	var project ds.Project
	if err := tx.First(&project, projectID).Error; err != nil {
		return nil, 0, notFound(err, ErrProjectNotFound)
	}

	var paid int64
	err := tx.Model(&ds.Payment{}).
		Where("project_id = ? AND status = ?", projectID, ds.PaymentSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&paid).Error
	if err != nil {
		return nil, 0, err
	}

	before := project.PaidAmount
	if paid > project.TotalAmount {
		logrus.WithFields(logrus.Fields{
			"project_id": projectID,
			"paid":       paid,
			"total":      project.TotalAmount,
		}).Warn("project overpaid")
	}
	if paid != before {
		if err := tx.Model(&ds.Project{}).Where("id = ?", projectID).Update("paid_amount", paid).Error; err != nil {
			return nil, 0, err
		}
		project.PaidAmount = paid
	}
	return &project, before, nil
}

// autoAdvance запускает проект в работу, когда внесена предоплата
func autoAdvance(tx *gorm.DB, project *ds.Project) error {
	if project.Status != ds.ProjectQuoteSent && project.Status != ds.ProjectQuoteApproved {
		return nil
	}
	if project.TotalAmount == 0 || project.PaidAmount < project.DepositAmount() {
		return nil
	}
	logrus.Infof("project %d: deposit received, moving to %s", project.ID, ds.ProjectInProgress)
	return transition(tx, project, ds.ProjectInProgress)
}

// RecomputeProjectPaid пересчитывает paid_amount одного проекта в отдельной транзакции
func (r *Repository) RecomputeProjectPaid(ctx context.Context, projectID uint, dryRun bool) (PaidRecompute, error) {
	var out PaidRecompute
	errDryRun := errors.New("dry run")
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, before, err := recomputePaid(tx, projectID)
		if err != nil {
			return err
		}
		out = PaidRecompute{ProjectID: projectID, Before: before, After: project.PaidAmount, Total: project.TotalAmount}
		if dryRun {
			return errDryRun
		}
		return autoAdvance(tx, project)
	})
	if errors.Is(err, errDryRun) {
		return out, nil
	}
	return out, err
}

// MarkSessionFailed - сессия истекла без оплаты
func (r *Repository) MarkSessionFailed(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ds.Payment{}).
		Where("stripe_session_id = ? AND status = ?", sessionID, ds.PaymentPending).
		Update("status", ds.PaymentFailed)
	return res.RowsAffected > 0, res.Error
}

// IntentFailure - отказ по PaymentIntent с метаданными, продублированными из Checkout Session
type IntentFailure struct {
	IntentID  string
	ProjectID *uint
	AddOnID   *uint
	Type      ds.PaymentType
}

// MarkIntentFailed помечает платёж FAILED. До checkout.session.completed у платежа ещё нет
// payment intent, поэтому он ищется по метаданным: последний PENDING-платёж с тем же назначением.
func (r *Repository) MarkIntentFailed(ctx context.Context, f IntentFailure) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment ds.Payment
		err := tx.Where("stripe_payment_intent_id = ?", f.IntentID).First(&payment).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if f.ProjectID == nil {
				return nil
			}
			target := ds.Payment{ProjectID: f.ProjectID, AddOnID: f.AddOnID, Type: f.Type}
			var pending []ds.Payment
			err := tx.Where("project_id = ? AND status = ? AND stripe_payment_intent_id IS NULL AND stripe_session_id IS NOT NULL", *f.ProjectID, ds.PaymentPending).
				Order("created_at DESC").
				Find(&pending).Error
			if err != nil {
				return err
			}
			found := false
			for _, p := range pending {
				if p.Type == f.Type && p.SameTarget(target) {
					payment, found = p, true
					break
				}
			}
			if !found {
				return nil
			}
		case err != nil:
			return err
		}

		if payment.Status != ds.PaymentPending {
			return nil
		}
		changed = true
		return tx.Model(&payment).Updates(map[string]interface{}{
			"status":                   ds.PaymentFailed,
			"stripe_payment_intent_id": f.IntentID,
		}).Error
	})
	return changed, err
}

// RefundPayment помечает платёж возвращённым и пересчитывает проект
func (r *Repository) RefundPayment(ctx context.Context, intentID string) (*ds.Payment, error) {
	var payment ds.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stripe_payment_intent_id = ?", intentID).First(&payment).Error; err != nil {
			return notFound(err, ErrPaymentNotFound)
		}
		if payment.Status == ds.PaymentRefunded {
			return nil
		}
		if err := tx.Model(&payment).Update("status", ds.PaymentRefunded).Error; err != nil {
			return err
		}
		if payment.ProjectID == nil {
			return nil
		}
		_, _, err := recomputePaid(tx, *payment.ProjectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ExpireStalePayments закрывает PENDING-платежи старше olderThan
func (r *Repository) ExpireStalePayments(ctx context.Context, olderThan time.Time, dryRun bool) ([]ds.Payment, error) {
	var stale []ds.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", ds.PaymentPending, olderThan).
		Find(&stale).Error
	if err != nil || dryRun || len(stale) == 0 {
		return stale, err
	}

	note, _ := json.Marshal(map[string]string{"reconcile": "expired pending payment"})
	ids := make([]uint, 0, len(stale))
	for _, p := range stale {
		ids = append(ids, p.ID)
	}
	err = r.db.WithContext(ctx).Model(&ds.Payment{}).
		Where("id IN ? AND status = ?", ids, ds.PaymentPending).
		Updates(map[string]interface{}{"status": ds.PaymentFailed, "metadata": datatypes.JSON(note)}).Error
	return stale, err
}

// ============ Счета ============

func (r *Repository) UpsertInvoice(ctx context.Context, invoice *ds.Invoice) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_invoice_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "amount_due", "amount_paid", "currency", "status",
			"hosted_url", "pdf_url", "due_date", "paid_at", "subscription_id", "updated_at",
		}),
	}).Create(invoice).Error
}

func (r *Repository) ListInvoices(ctx context.Context, userID *uint) ([]ds.Invoice, error) {
	var invoices []ds.Invoice
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ============ Подписки ============

func (r *Repository) UpsertSubscription(ctx context.Context, sub *ds.Subscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_period_start", "current_period_end",
			"cancel_at_period_end", "canceled_at", "updated_at",
		}),
	}).Omit("Service").Create(sub).Error
}

func (r *Repository) GetSubscription(ctx context.Context, id uint) (*ds.Subscription, error) {
	var sub ds.Subscription
	if err := r.db.WithContext(ctx).Preload("Service").First(&sub, id).Error; err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound)
	}
	return &sub, nil
}

func (r *Repository) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*ds.Subscription, error) {
	var sub ds.Subscription
	if err := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeID).First(&sub).Error; err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound)
	}
	return &sub, nil
}

func (r *Repository) ListSubscriptions(ctx context.Context, userID *uint) ([]ds.Subscription, error) {
	var subs []ds.Subscription
	query := r.db.WithContext(ctx).Preload("Service").Order("created_at DESC")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *Repository) SetCancelAtPeriodEnd(ctx context.Context, id uint, cancel bool) error {
	return r.db.WithContext(ctx).Model(&ds.Subscription{}).Where("id = ?", id).Update("cancel_at_period_end", cancel).Error
}

func (r *Repository) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*ds.User, error) {
	var user ds.User
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &user, nil
}
