package ds

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type PaymentType string

const (
	PaymentFull         PaymentType = "FULL"
	PaymentDeposit      PaymentType = "DEPOSIT"
	PaymentRemaining    PaymentType = "REMAINING"
	PaymentAddOn        PaymentType = "ADD_ON"
	PaymentSubscription PaymentType = "SUBSCRIPTION"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentFull, PaymentDeposit, PaymentRemaining, PaymentAddOn, PaymentSubscription:
		return true
	}
	return false
}

// Платёж - зеркало Stripe Checkout Session / PaymentIntent.
type Payment struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	UserID                uint           `gorm:"not null;index" json:"user_id"`
	ProjectID             *uint          `gorm:"index" json:"project_id,omitempty"`
	AddOnID               *uint          `json:"add_on_id,omitempty"`
	Amount                int64          `gorm:"not null" json:"amount"`
	Currency              string         `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status                PaymentStatus  `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Type                  PaymentType    `gorm:"type:varchar(20);not null" json:"type"`
	StripeSessionID       *string        `gorm:"type:varchar(255);uniqueIndex" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID *string        `gorm:"type:varchar(255);uniqueIndex" json:"stripe_payment_intent_id,omitempty"`
	Description           string         `gorm:"type:varchar(255)" json:"description"`
	Metadata              datatypes.JSON `json:"metadata,omitempty"`
	PaidAt                *time.Time     `json:"paid_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// SameTarget - два платежа оплачивают одно и то же: сам проект (FULL, DEPOSIT, REMAINING)
// или одно и то же дополнение проекта.
func (p Payment) SameTarget(o Payment) bool {
	if p.ProjectID == nil || o.ProjectID == nil || *p.ProjectID != *o.ProjectID {
		return false
	}
	switch {
	case p.Type == PaymentAddOn || o.Type == PaymentAddOn:
		return p.Type == o.Type && p.AddOnID != nil && o.AddOnID != nil && *p.AddOnID == *o.AddOnID
	case p.Type == PaymentSubscription || o.Type == PaymentSubscription:
		return false
	}
	return true
}

// Счёт Stripe
type Invoice struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	ProjectID       *uint      `gorm:"index" json:"project_id,omitempty"`
	SubscriptionID  *uint      `gorm:"index" json:"subscription_id,omitempty"`
	StripeInvoiceID string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_invoice_id"`
	Number          string     `gorm:"type:varchar(64)" json:"number"`
	AmountDue       int64      `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid      int64      `gorm:"not null;default:0" json:"amount_paid"`
	Currency        string     `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status          string     `gorm:"type:varchar(20);not null" json:"status"` // draft, open, paid, uncollectible, void
	HostedURL       string     `gorm:"type:varchar(512)" json:"hosted_url,omitempty"`
	PDFURL          string     `gorm:"type:varchar(512)" json:"pdf_url,omitempty"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Подписка на RECURRING-услугу
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;index" json:"user_id"`
	ServiceID            *uint      `gorm:"index" json:"service_id,omitempty"`
	StripeSubscriptionID string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_subscription_id"`
	Status               string     `gorm:"type:varchar(30);not null" json:"status"` // active, past_due, canceled ...
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Service *Service `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
}
