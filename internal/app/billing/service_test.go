package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brightlane/portal/internal/app/billing"
	mock_billing "github.com/brightlane/portal/internal/app/billing/mocks"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/pricing"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type env struct {
	repo    *repository.Repository
	client  ds.User
	other   ds.User
	web     ds.Service
	rush    ds.ServiceAddOn
	hosting ds.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := ds.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := &env{repo: repository.NewFromDB(db)}
	e.client = ds.User{ClerkID: "user_client", Email: "client@example.com", Role: role.Client}
	e.other = ds.User{ClerkID: "user_other", Email: "other@example.com", Role: role.Client}
	for _, u := range []*ds.User{&e.client, &e.other} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	ctx := context.Background()
	e.web = ds.Service{Name: "Website", Slug: "website", PriceType: ds.PriceTypeOneTime, BasePrice: 100000, IsActive: true}
	e.hosting = ds.Service{Name: "Hosting", Slug: "hosting", PriceType: ds.PriceTypeRecurring, BasePrice: 5000, BillingInterval: "month", StripePriceID: "price_hosting", IsActive: true}
	for _, s := range []*ds.Service{&e.web, &e.hosting} {
		if err := e.repo.CreateService(ctx, s); err != nil {
			t.Fatalf("create service: %v", err)
		}
	}
	e.rush = ds.ServiceAddOn{ServiceID: e.web.ID, Name: "Rush", PricingType: ds.AddOnPricingPercentage, Percentage: 10, IsActive: true}
	if err := e.repo.CreateAddOn(ctx, &e.rush); err != nil {
		t.Fatalf("create add-on: %v", err)
	}
	return e
}

func (e *env) project(t *testing.T, status ds.ProjectStatus) *ds.Project {
	t.Helper()
	ctx := context.Background()
	selections, err := e.repo.BuildSelections(ctx, []repository.QuoteItem{{ServiceID: e.web.ID}})
	if err != nil {
		t.Fatalf("selections: %v", err)
	}
	breakdown, err := pricing.Quote(selections)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	p := &ds.Project{UserID: e.client.ID, Title: "Landing", Status: status}
	if err := e.repo.CreateProject(ctx, p, breakdown, nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func event(t *testing.T, id string, typ stripe.EventType, obj interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return stripe.Event{ID: id, Type: typ, Data: &stripe.EventData{Raw: raw}}
}

func TestCheckoutAmount(t *testing.T) {
	tests := []struct {
		name    string
		project ds.Project
		typ     ds.PaymentType
		want    int64
		wantErr error
	}{
		{"full", ds.Project{Status: ds.ProjectQuoteSent, TotalAmount: 1000}, ds.PaymentFull, 1000, nil},
		{"deposit rounds up", ds.Project{Status: ds.ProjectQuoteApproved, TotalAmount: 1001}, ds.PaymentDeposit, 501, nil},
		{"remaining", ds.Project{Status: ds.ProjectInProgress, TotalAmount: 1000, PaidAmount: 500}, ds.PaymentRemaining, 500, nil},
		{"deposit after payment", ds.Project{Status: ds.ProjectInProgress, TotalAmount: 1000, PaidAmount: 500}, ds.PaymentDeposit, 0, billing.ErrAlreadyPaid},
		{"full after payment", ds.Project{Status: ds.ProjectInProgress, TotalAmount: 1000, PaidAmount: 1}, ds.PaymentFull, 0, billing.ErrAlreadyPaid},
		{"fully paid", ds.Project{Status: ds.ProjectInProgress, TotalAmount: 1000, PaidAmount: 1000}, ds.PaymentRemaining, 0, billing.ErrNothingToPay},
		{"overpaid", ds.Project{Status: ds.ProjectInProgress, TotalAmount: 1000, PaidAmount: 1200}, ds.PaymentRemaining, 0, billing.ErrNothingToPay},
		{"quote requested", ds.Project{Status: ds.ProjectQuoteRequested, TotalAmount: 1000}, ds.PaymentFull, 0, billing.ErrNotPayable},
		{"completed", ds.Project{Status: ds.ProjectCompleted, TotalAmount: 1000}, ds.PaymentRemaining, 0, billing.ErrNotPayable},
		{"cancelled", ds.Project{Status: ds.ProjectCancelled, TotalAmount: 1000}, ds.PaymentFull, 0, billing.ErrNotPayable},
		{"unknown type", ds.Project{Status: ds.ProjectQuoteSent, TotalAmount: 1000}, ds.PaymentType("HALF"), 0, billing.ErrInvalidPaymentType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := billing.CheckoutAmount(tt.project, tt.typ)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("amount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckoutProject(t *testing.T) {
	t.Run("creates pending payment", func(t *testing.T) {
		e := newEnv(t)
		ctrl := gomock.NewController(t)
		gateway := mock_billing.NewMockGateway(ctrl)
		svc := billing.NewService(e.repo, gateway, billing.Options{BaseURL: "https://example.com"})
		project := e.project(t, ds.ProjectQuoteSent)

		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
				if p.Mode != billing.ModePayment || p.Amount != 50000 || p.Currency != "usd" {
					t.Fatalf("unexpected params: %+v", p)
				}
				if p.Metadata["payment_type"] != "DEPOSIT" || p.Metadata["project_id"] == "" {
					t.Fatalf("unexpected metadata: %v", p.Metadata)
				}
				if p.CustomerEmail != "client@example.com" || p.IdempotencyKey == "" {
					t.Fatalf("customer or idempotency key missing: %+v", p)
				}
				return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
			})

		session, err := svc.CheckoutProject(context.Background(), &e.client, project.ID, ds.PaymentDeposit)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if session.URL == "" {
			t.Fatal("empty session url")
		}

		payment, err := e.repo.GetPaymentBySession(context.Background(), "cs_1")
		if err != nil {
			t.Fatalf("pending payment not stored: %v", err)
		}
		if payment.Status != ds.PaymentPending || payment.Amount != 50000 || payment.Type != ds.PaymentDeposit {
			t.Fatalf("unexpected payment: %+v", payment)
		}
	})

	t.Run("other client is forbidden", func(t *testing.T) {
		e := newEnv(t)
		ctrl := gomock.NewController(t)
		gateway := mock_billing.NewMockGateway(ctrl)
		svc := billing.NewService(e.repo, gateway, billing.Options{})
		project := e.project(t, ds.ProjectQuoteSent)

		_, err := svc.CheckoutProject(context.Background(), &e.other, project.ID, ds.PaymentFull)
		if !errors.Is(err, billing.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		e := newEnv(t)
		ctrl := gomock.NewController(t)
		gateway := mock_billing.NewMockGateway(ctrl)
		svc := billing.NewService(e.repo, gateway, billing.Options{})
		project := e.project(t, ds.ProjectQuoteSent)

		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).Return(nil, errors.New("card_declined"))

		_, err := svc.CheckoutProject(context.Background(), &e.client, project.ID, ds.PaymentFull)
		if !errors.Is(err, billing.ErrGateway) {
			t.Fatalf("expected ErrGateway, got %v", err)
		}
		payments, _ := e.repo.ListPayments(context.Background(), repository.PaymentFilter{ProjectID: &project.ID})
		if len(payments) != 0 {
			t.Fatalf("no payment must be stored, got %d", len(payments))
		}
	})

	t.Run("not payable", func(t *testing.T) {
		e := newEnv(t)
		ctrl := gomock.NewController(t)
		svc := billing.NewService(e.repo, mock_billing.NewMockGateway(ctrl), billing.Options{})
		project := e.project(t, ds.ProjectQuoteRequested)

		_, err := svc.CheckoutProject(context.Background(), &e.client, project.ID, ds.PaymentFull)
		if !errors.Is(err, billing.ErrNotPayable) {
			t.Fatalf("expected ErrNotPayable, got %v", err)
		}
	})
}

func TestProcessWebhookIdempotent(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	session := map[string]interface{}{
		"id":             "cs_42",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   50000,
		"currency":       "usd",
		"payment_intent": "pi_42",
		"customer":       "cus_42",
		"metadata": map[string]string{
			"project_id":   jsonID(project.ID),
			"user_id":      jsonID(e.client.ID),
			"payment_type": "DEPOSIT",
		},
	}
	first := event(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, session)
	replayed := event(t, "evt_2", stripe.EventTypeCheckoutSessionCompleted, session)

	gateway.EXPECT().ConstructEvent(gomock.Any(), "sig").Return(first, nil).Times(2)
	gateway.EXPECT().ConstructEvent(gomock.Any(), "sig").Return(replayed, nil)

	dup, err := svc.ProcessWebhook(ctx, []byte(`{}`), "sig")
	if err != nil || dup {
		t.Fatalf("first delivery: dup=%v err=%v", dup, err)
	}
	dup, err = svc.ProcessWebhook(ctx, []byte(`{}`), "sig")
	if err != nil || !dup {
		t.Fatalf("same event id must be a duplicate: dup=%v err=%v", dup, err)
	}
	if _, err := svc.ProcessWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("new event id for same session: %v", err)
	}

	got, _ := e.repo.GetProject(ctx, project.ID)
	if got.PaidAmount != 50000 {
		t.Fatalf("paid = %d, want 50000", got.PaidAmount)
	}
	if got.Status != ds.ProjectInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got.Status)
	}
	user, _ := e.repo.GetUserByID(ctx, e.client.ID)
	if user.StripeCustomerID == nil || *user.StripeCustomerID != "cus_42" {
		t.Fatalf("stripe customer not saved: %v", user.StripeCustomerID)
	}

	// возврат
	gateway.EXPECT().ConstructEvent(gomock.Any(), "sig").Return(event(t, "evt_3", stripe.EventTypeChargeRefunded, map[string]interface{}{
		"id":             "ch_42",
		"object":         "charge",
		"payment_intent": "pi_42",
		"refunded":       true,
	}), nil)
	if _, err := svc.ProcessWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	got, _ = e.repo.GetProject(ctx, project.ID)
	if got.PaidAmount != 0 {
		t.Fatalf("paid after refund = %d", got.PaidAmount)
	}
}

func TestProcessWebhookBadSignature(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})

	gateway.EXPECT().ConstructEvent(gomock.Any(), "bad").Return(stripe.Event{}, errors.New("no signatures found"))

	_, err := svc.ProcessWebhook(context.Background(), []byte(`{}`), "bad")
	if !errors.Is(err, billing.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCheckoutAddOnFlow(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectInProgress)
	ctx := context.Background()

	gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
			if p.Amount != 10000 || p.Metadata["add_on_id"] != jsonID(e.rush.ID) {
				t.Fatalf("unexpected params: %+v", p)
			}
			return &billing.CheckoutSession{ID: "cs_addon", URL: "https://checkout.stripe.com/c/cs_addon"}, nil
		})

	if _, err := svc.CheckoutAddOn(ctx, &e.client, project.ID, e.rush.ID); err != nil {
		t.Fatalf("checkout add-on: %v", err)
	}

	err := svc.HandleEvent(ctx, event(t, "evt_addon", stripe.EventTypeCheckoutSessionCompleted, map[string]interface{}{
		"id":             "cs_addon",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   10000,
		"currency":       "usd",
		"payment_intent": "pi_addon",
		"metadata": map[string]string{
			"project_id":   jsonID(project.ID),
			"user_id":      jsonID(e.client.ID),
			"payment_type": "ADD_ON",
			"add_on_id":    jsonID(e.rush.ID),
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := e.repo.GetProject(ctx, project.ID)
	if got.TotalAmount != 110000 || got.PaidAmount != 10000 {
		t.Fatalf("total=%d paid=%d", got.TotalAmount, got.PaidAmount)
	}

	if _, err := svc.CheckoutAddOn(ctx, &e.client, project.ID, e.rush.ID); !errors.Is(err, billing.ErrAddOnAlreadyAdded) {
		t.Fatalf("expected ErrAddOnAlreadyAdded, got %v", err)
	}
}

func TestSubscribeAndSubscriptionEvents(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	ctx := context.Background()

	if _, err := svc.Subscribe(ctx, &e.client, e.web.ID); !errors.Is(err, billing.ErrNotSubscribable) {
		t.Fatalf("one-time service must not be subscribable, got %v", err)
	}

	gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
			if p.Mode != billing.ModeSubscription || p.PriceID != "price_hosting" {
				t.Fatalf("unexpected params: %+v", p)
			}
			return &billing.CheckoutSession{ID: "cs_sub", URL: "https://checkout.stripe.com/c/cs_sub"}, nil
		})
	if _, err := svc.Subscribe(ctx, &e.client, e.hosting.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := svc.HandleEvent(ctx, event(t, "evt_sub", stripe.EventTypeCustomerSubscriptionUpdated, map[string]interface{}{
		"id":                   "sub_1",
		"customer":             "cus_new",
		"status":               "active",
		"cancel_at_period_end": false,
		"metadata": map[string]string{
			"user_id":    jsonID(e.client.ID),
			"service_id": jsonID(e.hosting.ID),
		},
		"items": map[string]interface{}{
			"data": []map[string]interface{}{{"current_period_start": 1760000000, "current_period_end": 1762600000}},
		},
	}))
	if err != nil {
		t.Fatalf("subscription event: %v", err)
	}

	subs, _ := e.repo.ListSubscriptions(ctx, &e.client.ID)
	if len(subs) != 1 || subs[0].Status != "active" || subs[0].CurrentPeriodEnd == nil {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}

	err = svc.HandleEvent(ctx, event(t, "evt_inv", stripe.EventTypeInvoicePaid, map[string]interface{}{
		"id":          "in_1",
		"customer":    "cus_new",
		"amount_due":  5000,
		"amount_paid": 5000,
		"currency":    "usd",
		"status":      "paid",
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{"subscription": "sub_1"},
		},
	}))
	if err != nil {
		t.Fatalf("invoice event: %v", err)
	}
	invoices, _ := e.repo.ListInvoices(ctx, &e.client.ID)
	if len(invoices) != 1 || invoices[0].SubscriptionID == nil || *invoices[0].SubscriptionID != subs[0].ID {
		t.Fatalf("unexpected invoices: %+v", invoices)
	}

	other := e.other
	if _, err := svc.CancelSubscription(ctx, &other, subs[0].ID); !errors.Is(err, billing.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	gateway.EXPECT().CancelSubscriptionAtPeriodEnd(gomock.Any(), "sub_1").Return(nil)
	sub, err := svc.CancelSubscription(ctx, &e.client, subs[0].ID)
	if err != nil || !sub.CancelAtPeriodEnd {
		t.Fatalf("cancel: %+v %v", sub, err)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	e := newEnv(t)
	svc := billing.NewService(e.repo, nil, billing.Options{})
	if err := svc.HandleEvent(context.Background(), event(t, "evt_x", stripe.EventType("customer.tax_id.created"), map[string]string{})); err != nil {
		t.Fatalf("unknown events must be acknowledged, got %v", err)
	}
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestCheckoutProjectSingleOpenSession(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	gomock.InOrder(
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(&billing.CheckoutSession{ID: "cs_a", URL: "https://checkout.stripe.com/c/cs_a"}, nil),
		gateway.EXPECT().ExpireCheckoutSession(gomock.Any(), "cs_a").Return(stripe.CheckoutSessionStatusExpired, nil),
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(&billing.CheckoutSession{ID: "cs_b", URL: "https://checkout.stripe.com/c/cs_b"}, nil),
		gateway.EXPECT().ExpireCheckoutSession(gomock.Any(), "cs_b").Return(stripe.CheckoutSessionStatusComplete, nil),
	)

	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	// повторный клик: старая сессия закрывается, открывается новая
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	first, _ := e.repo.GetPaymentBySession(ctx, "cs_a")
	if first.Status != ds.PaymentFailed {
		t.Fatalf("replaced session status = %s, want FAILED", first.Status)
	}

	// сессия cs_b уже оплачивается: третья не открывается
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentDeposit); !errors.Is(err, billing.ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}
	pending, _ := e.repo.ListPayments(ctx, repository.PaymentFilter{ProjectID: &project.ID, Status: string(ds.PaymentPending)})
	if len(pending) != 1 || *pending[0].StripeSessionID != "cs_b" {
		t.Fatalf("expected only cs_b pending, got %+v", pending)
	}

	paid := repository.CheckoutResult{SessionID: "cs_b", PaymentIntentID: "pi_b", Paid: true, Amount: 100000, Currency: "usd", UserID: e.client.ID, ProjectID: &project.ID, Type: ds.PaymentFull}
	if _, err := e.repo.ApplyCheckout(ctx, paid); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := e.repo.GetProject(ctx, project.ID)
	if got.PaidAmount != got.TotalAmount || got.TotalAmount != 100000 {
		t.Fatalf("total=%d paid=%d", got.TotalAmount, got.PaidAmount)
	}
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); !errors.Is(err, billing.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCheckoutProjectReservedByConcurrentRequest(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	svc := billing.NewService(e.repo, mock_billing.NewMockGateway(ctrl), billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	// резерв без сессии: соседний запрос ещё ждёт ответа Stripe
	if err := e.repo.CreatePayment(ctx, &ds.Payment{
		UserID: e.client.ID, ProjectID: &project.ID, Amount: 50000,
		Status: ds.PaymentPending, Type: ds.PaymentDeposit,
	}); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); !errors.Is(err, billing.ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}
}

func TestPaymentIntentFailed(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(&billing.CheckoutSession{ID: "cs_f", URL: "https://checkout.stripe.com/c/cs_f"}, nil)
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentDeposit); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	failed := event(t, "evt_pi_failed", stripe.EventTypePaymentIntentPaymentFailed, map[string]interface{}{
		"id":     "pi_f",
		"object": "payment_intent",
		"status": "requires_payment_method",
		"metadata": map[string]string{
			"project_id":   jsonID(project.ID),
			"user_id":      jsonID(e.client.ID),
			"payment_type": "DEPOSIT",
		},
	})
	if err := svc.HandleEvent(ctx, failed); err != nil {
		t.Fatalf("handle: %v", err)
	}
	payment, _ := e.repo.GetPaymentBySession(ctx, "cs_f")
	if payment.Status != ds.PaymentFailed {
		t.Fatalf("status = %s, want FAILED", payment.Status)
	}
	if payment.StripePaymentIntentID == nil || *payment.StripePaymentIntentID != "pi_f" {
		t.Fatalf("intent not recorded: %v", payment.StripePaymentIntentID)
	}

	// клиент повторил оплату другой картой в той же сессии
	err := svc.HandleEvent(ctx, event(t, "evt_cs_f", stripe.EventTypeCheckoutSessionCompleted, map[string]interface{}{
		"id":             "cs_f",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   50000,
		"currency":       "usd",
		"payment_intent": "pi_f",
		"metadata": map[string]string{
			"project_id":   jsonID(project.ID),
			"user_id":      jsonID(e.client.ID),
			"payment_type": "DEPOSIT",
		},
	}))
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	got, _ := e.repo.GetProject(ctx, project.ID)
	if got.PaidAmount != 50000 || got.Status != ds.ProjectInProgress {
		t.Fatalf("paid=%d status=%s", got.PaidAmount, got.Status)
	}
}

func TestPaymentIntentFailedKeepsSessionGate(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(&billing.CheckoutSession{ID: "cs_declined", URL: "https://checkout.stripe.com/c/cs_declined"}, nil)
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	err := svc.HandleEvent(ctx, event(t, "evt_declined", stripe.EventTypePaymentIntentPaymentFailed, map[string]interface{}{
		"id":       "pi_declined",
		"metadata": map[string]string{"project_id": jsonID(project.ID), "payment_type": "FULL"},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// после отказа по карте сессия остаётся открытой, новая оплата сначала её закрывает
	gomock.InOrder(
		gateway.EXPECT().ExpireCheckoutSession(gomock.Any(), "cs_declined").Return(stripe.CheckoutSessionStatusExpired, nil),
		gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
			Return(&billing.CheckoutSession{ID: "cs_retry", URL: "https://checkout.stripe.com/c/cs_retry"}, nil),
	)
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); err != nil {
		t.Fatalf("retry checkout: %v", err)
	}
}

func TestCheckoutProjectDropsAbandonedReservation(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	gateway := mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, gateway, billing.Options{})
	project := e.project(t, ds.ProjectQuoteSent)
	ctx := context.Background()

	stale := ds.Payment{
		UserID: e.client.ID, ProjectID: &project.ID, Amount: 50000,
		Status: ds.PaymentPending, Type: ds.PaymentDeposit,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := e.repo.CreatePayment(ctx, &stale); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(&billing.CheckoutSession{ID: "cs_after", URL: "https://checkout.stripe.com/c/cs_after"}, nil)
	if _, err := svc.CheckoutProject(ctx, &e.client, project.ID, ds.PaymentFull); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	payments, _ := e.repo.ListPayments(ctx, repository.PaymentFilter{ProjectID: &project.ID})
	if len(payments) != 1 || payments[0].StripeSessionID == nil || *payments[0].StripeSessionID != "cs_after" {
		t.Fatalf("abandoned reservation must be dropped, got %+v", payments)
	}
}
