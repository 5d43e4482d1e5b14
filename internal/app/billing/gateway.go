package billing

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

//go:generate mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mock_billing

type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// CheckoutParams - параметры Checkout Session.
// Для ModePayment используется Amount, для ModeSubscription - PriceID.
type CheckoutParams struct {
	Mode           CheckoutMode
	CustomerID     string
	CustomerEmail  string
	Amount         int64
	Currency       string
	ProductName    string
	Description    string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway - платёжный провайдер
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// ExpireCheckoutSession закрывает открытую сессию и возвращает её итоговый статус
	ExpireCheckoutSession(ctx context.Context, sessionID string) (stripe.CheckoutSessionStatus, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) error
	// ConstructEvent проверяет подпись вебхука и разбирает событие
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}
