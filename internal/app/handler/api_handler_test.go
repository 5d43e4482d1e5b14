package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightlane/portal/internal/app/billing"
	mock_billing "github.com/brightlane/portal/internal/app/billing/mocks"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/handler"
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/pricing"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// tokenVerifier принимает в качестве токена сам clerk id
type tokenVerifier struct{}

func (tokenVerifier) Verify(token string) (*ds.SessionClaims, error) {
	if token == "" || token == "garbage" {
		return nil, errors.New("bad token")
	}
	return &ds.SessionClaims{StandardClaims: jwt.StandardClaims{Subject: token}, SessionID: "sess_" + token}, nil
}

type testEnv struct {
	repo    *repository.Repository
	gateway *mock_billing.MockGateway
	router  *gin.Engine

	admin   ds.User
	support ds.User
	client  ds.User
	other   ds.User
	web     ds.Service
	rush    ds.ServiceAddOn
}

func newTestEnv(t *testing.T) *testEnv {
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

	e := &testEnv{repo: repository.NewFromDB(db)}
	e.admin = ds.User{ClerkID: "user_admin", Email: "admin@example.com", Role: role.Admin}
	e.support = ds.User{ClerkID: "user_support", Email: "support@example.com", Role: role.Support}
	e.client = ds.User{ClerkID: "user_client", Email: "client@example.com", FirstName: "Ann", Role: role.Client}
	e.other = ds.User{ClerkID: "user_other", Email: "other@example.com", Role: role.Client}
	for _, u := range []*ds.User{&e.admin, &e.support, &e.client, &e.other} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	ctx := context.Background()
	e.web = ds.Service{Name: "Website", Slug: "website", PriceType: ds.PriceTypeOneTime, BasePrice: 100000, IsActive: true}
	if err := e.repo.CreateService(ctx, &e.web); err != nil {
		t.Fatalf("create service: %v", err)
	}
	e.rush = ds.ServiceAddOn{ServiceID: e.web.ID, Name: "Rush", PricingType: ds.AddOnPricingPercentage, Percentage: 10, IsActive: true}
	if err := e.repo.CreateAddOn(ctx, &e.rush); err != nil {
		t.Fatalf("create add-on: %v", err)
	}

	ctrl := gomock.NewController(t)
	e.gateway = mock_billing.NewMockGateway(ctrl)
	svc := billing.NewService(e.repo, e.gateway, billing.Options{BaseURL: "https://example.com"})

	gin.SetMode(gin.TestMode)
	e.router = gin.New()
	am := middleware.NewAuthMiddleware(tokenVerifier{}, nil, e.repo)
	api := handler.NewAPIHandler(e.repo, svc, nil, nil, nil)
	api.RegisterAPIRoutes(e.router, am, handler.NewAuthHandler(e.repo, nil))
	return e
}

func (e *testEnv) project(t *testing.T, owner ds.User, status ds.ProjectStatus) *ds.Project {
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
	p := &ds.Project{UserID: owner.ID, Title: "Landing", Status: status}
	if err := e.repo.CreateProject(ctx, p, breakdown, nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (e *testEnv) ticket(t *testing.T, creator ds.User) *ds.Ticket {
	t.Helper()
	ticket := &ds.Ticket{CreatorID: creator.ID, Title: "Broken form", Description: "Contact form fails", Status: ds.TicketOpen, Priority: ds.PriorityMedium}
	if err := e.repo.CreateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func (e *testEnv) do(t *testing.T, method, path string, as *ds.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+as.ClerkID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestRoleGates(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.ticket(t, e.client)

	tests := []struct {
		name   string
		method string
		path   string
		as     *ds.User
		body   interface{}
		want   int
	}{
		{"public categories", http.MethodGet, "/api/categories", nil, nil, http.StatusOK},
		{"public services", http.MethodGet, "/api/services", nil, nil, http.StatusOK},
		{"projects need auth", http.MethodGet, "/api/projects", nil, nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/projects", &ds.User{ClerkID: "garbage"}, nil, http.StatusUnauthorized},
		{"unknown clerk user", http.MethodGet, "/api/projects", &ds.User{ClerkID: "user_ghost"}, nil, http.StatusUnauthorized},
		{"client lists own projects", http.MethodGet, "/api/projects", &e.client, nil, http.StatusOK},
		{"client cannot create category", http.MethodPost, "/api/categories", &e.client, dto.CategoryRequest{Name: "Dev", Slug: "dev"}, http.StatusForbidden},
		{"support cannot create category", http.MethodPost, "/api/categories", &e.support, dto.CategoryRequest{Name: "Dev", Slug: "dev"}, http.StatusForbidden},
		{"admin creates category", http.MethodPost, "/api/categories", &e.admin, dto.CategoryRequest{Name: "Dev", Slug: "dev"}, http.StatusCreated},
		{"client cannot list users", http.MethodGet, "/api/users", &e.client, nil, http.StatusForbidden},
		{"admin lists users", http.MethodGet, "/api/users", &e.admin, nil, http.StatusOK},
		{"client cannot change priority", http.MethodPut, fmt.Sprintf("/api/tickets/%d/priority", ticket.ID), &e.client, dto.TicketPriorityRequest{Priority: "HIGH"}, http.StatusForbidden},
		{"support changes priority", http.MethodPut, fmt.Sprintf("/api/tickets/%d/priority", ticket.ID), &e.support, dto.TicketPriorityRequest{Priority: "HIGH"}, http.StatusOK},
		{"profile", http.MethodGet, "/api/auth/profile", &e.client, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.as, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestPreviewQuote(t *testing.T) {
	e := newTestEnv(t)

	custom := int64(1)
	w := e.do(t, http.MethodPost, "/api/quotes/preview", nil, dto.QuotePreviewRequest{
		Items: []dto.QuoteItemRequest{{ServiceID: e.web.ID, CustomPrice: &custom, AddOnIDs: []uint{e.rush.ID}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var breakdown pricing.Breakdown
	decode(t, w, &breakdown)
	// своя цена от анонимного пользователя игнорируется
	if breakdown.Total != 110000 {
		t.Fatalf("total = %d, want 110000", breakdown.Total)
	}

	w = e.do(t, http.MethodPost, "/api/quotes/preview", nil, dto.QuotePreviewRequest{
		Items: []dto.QuoteItemRequest{{ServiceID: 9999}},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown service: status = %d", w.Code)
	}
}

func TestProjectVisibility(t *testing.T) {
	e := newTestEnv(t)
	mine := e.project(t, e.client, ds.ProjectQuoteSent)
	theirs := e.project(t, e.other, ds.ProjectQuoteSent)

	if w := e.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d", mine.ID), &e.client, nil); w.Code != http.StatusOK {
		t.Fatalf("own project: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d", theirs.ID), &e.client, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign project: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d", theirs.ID), &e.support, nil); w.Code != http.StatusOK {
		t.Fatalf("staff: status = %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/api/projects", &e.client, nil)
	var list dto.ProjectListResponse
	decode(t, w, &list)
	if list.Total != 1 || list.Projects[0].ID != mine.ID {
		t.Fatalf("client sees %+v", list.Projects)
	}
}

func TestCheckoutProject(t *testing.T) {
	e := newTestEnv(t)
	project := e.project(t, e.client, ds.ProjectQuoteApproved)

	e.gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(&billing.CheckoutSession{ID: "cs_42", URL: "https://checkout.stripe.com/c/cs_42"}, nil)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/checkout", project.ID), &e.client, dto.CheckoutRequest{Type: "DEPOSIT"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp dto.CheckoutResponse
	decode(t, w, &resp)
	if resp.SessionID != "cs_42" || resp.URL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	payment, err := e.repo.GetPaymentBySession(context.Background(), "cs_42")
	if err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if payment.Amount != 50000 || payment.Status != ds.PaymentPending {
		t.Fatalf("unexpected payment %+v", payment)
	}

	// чужой проект оплатить нельзя, до шлюза дело не доходит
	if w := e.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/checkout", project.ID), &e.other, dto.CheckoutRequest{Type: "FULL"}); w.Code != http.StatusForbidden {
		t.Fatalf("foreign checkout: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/checkout", project.ID), &e.client, dto.CheckoutRequest{Type: "HALF"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status = %d", w.Code)
	}

	// первая сессия уже принимает оплату - вторую не открываем
	e.gateway.EXPECT().ExpireCheckoutSession(gomock.Any(), "cs_42").Return(stripe.CheckoutSessionStatusComplete, nil)
	if w := e.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/checkout", project.ID), &e.client, dto.CheckoutRequest{Type: "FULL"}); w.Code != http.StatusConflict {
		t.Fatalf("second checkout: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestStripeWebhook(t *testing.T) {
	e := newTestEnv(t)

	e.gateway.EXPECT().ConstructEvent(gomock.Any(), "bad").Return(stripe.Event{}, errors.New("no signatures found"))
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "bad")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: status = %d", w.Code)
	}

	// неизвестные типы событий подтверждаются, повтор помечается как дубликат
	e.gateway.EXPECT().ConstructEvent(gomock.Any(), "ok").Return(stripe.Event{ID: "evt_2", Type: "customer.created"}, nil).Times(2)
	for i, wantDup := range []bool{false, true} {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_2"}`))
		req.Header.Set("Stripe-Signature", "ok")
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, body %s", i, w.Code, w.Body.String())
		}
		var resp dto.WebhookResponse
		decode(t, w, &resp)
		if !resp.Received || resp.Duplicate != wantDup {
			t.Fatalf("delivery %d: %+v", i, resp)
		}
	}
}

func TestClerkWebhookNotConfigured(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/webhooks/clerk", nil, map[string]string{"type": "user.created"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTicketInternalNotes(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.ticket(t, e.client)
	updatesPath := fmt.Sprintf("/api/tickets/%d/updates", ticket.ID)

	if w := e.do(t, http.MethodPost, updatesPath, &e.client, dto.TicketUpdateRequest{Content: "psst", IsInternal: true}); w.Code != http.StatusForbidden {
		t.Fatalf("client internal note: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, updatesPath, &e.support, dto.TicketUpdateRequest{Content: "check logs", IsInternal: true}); w.Code != http.StatusCreated {
		t.Fatalf("staff internal note: status = %d, body %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, updatesPath, &e.support, dto.TicketUpdateRequest{Content: "looking into it"}); w.Code != http.StatusCreated {
		t.Fatalf("staff comment: status = %d", w.Code)
	}

	countInternal := func(as *ds.User) (total, internal int) {
		w := e.do(t, http.MethodGet, fmt.Sprintf("/api/tickets/%d", ticket.ID), as, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get ticket: status = %d", w.Code)
		}
		var got ds.Ticket
		decode(t, w, &got)
		for _, u := range got.Updates {
			if u.IsInternal {
				internal++
			}
		}
		return len(got.Updates), internal
	}

	if total, internal := countInternal(&e.client); internal != 0 || total == 0 {
		t.Fatalf("client sees %d updates, %d internal", total, internal)
	}
	if _, internal := countInternal(&e.support); internal != 1 {
		t.Fatalf("staff sees %d internal notes, want 1", internal)
	}

	if w := e.do(t, http.MethodGet, fmt.Sprintf("/api/tickets/%d", ticket.ID), &e.other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign ticket: status = %d", w.Code)
	}
}

func TestClientTicketStatus(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.ticket(t, e.client)
	path := fmt.Sprintf("/api/tickets/%d/status", ticket.ID)

	if w := e.do(t, http.MethodPut, path, &e.client, dto.TicketStatusRequest{Status: "RESOLVED"}); w.Code != http.StatusForbidden {
		t.Fatalf("client resolve: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, path, &e.client, dto.TicketStatusRequest{Status: "CLOSED"}); w.Code != http.StatusOK {
		t.Fatalf("client close: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestCreateTicketForeignProject(t *testing.T) {
	e := newTestEnv(t)
	theirs := e.project(t, e.other, ds.ProjectQuoteSent)

	w := e.do(t, http.MethodPost, "/api/tickets", &e.client, dto.CreateTicketRequest{
		Title: "Help", Description: "Need help", ProjectID: &theirs.ID,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/tickets", &e.client, dto.CreateTicketRequest{Title: "Help", Description: "Need help"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var ticket ds.Ticket
	decode(t, w, &ticket)
	if ticket.Priority != ds.PriorityMedium || ticket.Status != ds.TicketOpen {
		t.Fatalf("unexpected defaults %+v", ticket)
	}
}

func TestAttachmentsWithoutStorage(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.ticket(t, e.client)
	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/attachments", ticket.ID), &e.client, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}
