package dto

import (
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/pricing"
)

// ============ Общие структуры ============

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SuccessResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ============ Каталог ============

type CategoryRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Slug        string `json:"slug" binding:"required,max=100"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type UpdateCategoryRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=100"`
	Slug        *string `json:"slug" binding:"omitempty,max=100"`
	Description *string `json:"description"`
	SortOrder   *int    `json:"sort_order"`
}

type CategoryListResponse struct {
	Categories []ds.ServiceCategory `json:"categories"`
	Total      int                  `json:"total"`
}

type CreateServiceRequest struct {
	CategoryID      *uint    `json:"category_id"`
	Name            string   `json:"name" binding:"required,max=150"`
	Slug            string   `json:"slug" binding:"required,max=150"`
	Description     string   `json:"description"`
	PriceType       string   `json:"price_type" binding:"required,oneof=ONE_TIME RECURRING CUSTOM"`
	BasePrice       int64    `json:"base_price" binding:"gte=0"`
	BillingInterval string   `json:"billing_interval" binding:"omitempty,oneof=month year"`
	StripePriceID   string   `json:"stripe_price_id"`
	Features        []string `json:"features"`
}

type UpdateServiceRequest struct {
	CategoryID      *uint     `json:"category_id"`
	Name            *string   `json:"name" binding:"omitempty,max=150"`
	Slug            *string   `json:"slug" binding:"omitempty,max=150"`
	Description     *string   `json:"description"`
	PriceType       *string   `json:"price_type" binding:"omitempty,oneof=ONE_TIME RECURRING CUSTOM"`
	BasePrice       *int64    `json:"base_price" binding:"omitempty,gte=0"`
	BillingInterval *string   `json:"billing_interval" binding:"omitempty,oneof=month year"`
	StripePriceID   *string   `json:"stripe_price_id"`
	Features        *[]string `json:"features"`
	IsActive        *bool     `json:"is_active"`
}

type ServiceListResponse struct {
	Services []ds.Service `json:"services"`
	Total    int          `json:"total"`
}

type AddOnRequest struct {
	Name        string  `json:"name" binding:"required,max=150"`
	Description string  `json:"description"`
	PricingType string  `json:"pricing_type" binding:"required,oneof=FIXED PERCENTAGE"`
	Price       int64   `json:"price" binding:"gte=0"`
	Percentage  float64 `json:"percentage" binding:"gte=0,lte=1000"`
}

type UpdateAddOnRequest struct {
	Name        *string  `json:"name" binding:"omitempty,max=150"`
	Description *string  `json:"description"`
	PricingType *string  `json:"pricing_type" binding:"omitempty,oneof=FIXED PERCENTAGE"`
	Price       *int64   `json:"price" binding:"omitempty,gte=0"`
	Percentage  *float64 `json:"percentage" binding:"omitempty,gte=0,lte=1000"`
	IsActive    *bool    `json:"is_active"`
}

// ============ КП и проекты ============

type QuoteItemRequest struct {
	ServiceID   uint   `json:"service_id" binding:"required"`
	CustomPrice *int64 `json:"custom_price" binding:"omitempty,gte=0"`
	AddOnIDs    []uint `json:"add_on_ids"`
}

type QuotePreviewRequest struct {
	Items []QuoteItemRequest `json:"items" binding:"required,min=1,dive"`
}

type ContactRequest struct {
	Name    string `json:"name" binding:"max=200"`
	Email   string `json:"email" binding:"omitempty,email"`
	Phone   string `json:"phone" binding:"max=50"`
	Company string `json:"company" binding:"max=200"`
	Message string `json:"message"`
}

type CreateQuoteRequest struct {
	Title       string             `json:"title" binding:"required,max=200"`
	Description string             `json:"description"`
	Items       []QuoteItemRequest `json:"items" binding:"required,min=1,dive"`
	Contact     *ContactRequest    `json:"contact"`
}

// CreateProjectRequest - проект, который администратор заводит сам для клиента
type CreateProjectRequest struct {
	UserID      uint               `json:"user_id" binding:"required"`
	Title       string             `json:"title" binding:"required,max=200"`
	Description string             `json:"description"`
	Items       []QuoteItemRequest `json:"items" binding:"required,min=1,dive"`
	DueDate     *time.Time         `json:"due_date"`
}

type ServicePriceRequest struct {
	ServiceID uint  `json:"service_id" binding:"required"`
	Price     int64 `json:"price" binding:"gte=0"`
}

type RepriceRequest struct {
	Prices []ServicePriceRequest `json:"prices" binding:"required,min=1,dive"`
}

type ProjectResponse struct {
	*ds.Project
	Balance int64              `json:"balance"`
	Deposit int64              `json:"deposit"`
	Quote   *pricing.Breakdown `json:"quote,omitempty"`
	Contact interface{}        `json:"contact,omitempty"`
}

type ProjectListResponse struct {
	Projects []ds.Project `json:"projects"`
	Total    int          `json:"total"`
}

// ============ Оплата ============

type CheckoutRequest struct {
	Type string `json:"type" binding:"required,oneof=FULL DEPOSIT REMAINING"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PaymentListResponse struct {
	Payments []ds.Payment `json:"payments"`
	Total    int          `json:"total"`
}

type InvoiceListResponse struct {
	Invoices []ds.Invoice `json:"invoices"`
	Total    int          `json:"total"`
}

type SubscriptionListResponse struct {
	Subscriptions []ds.Subscription `json:"subscriptions"`
	Total         int               `json:"total"`
}

// ============ Тикеты ============

type CreateTicketRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"required"`
	Priority    string `json:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Category    string `json:"category" binding:"max=50"`
	ProjectID   *uint  `json:"project_id"`
}

type TicketUpdateRequest struct {
	Content    string `json:"content" binding:"required"`
	IsInternal bool   `json:"is_internal"`
}

type TicketStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=OPEN IN_PROGRESS WAITING_ON_CLIENT RESOLVED CLOSED"`
}

type TicketPriorityRequest struct {
	Priority string `json:"priority" binding:"required,oneof=LOW MEDIUM HIGH URGENT"`
}

// AssignTicketRequest - assignee_id=null снимает исполнителя
type AssignTicketRequest struct {
	AssigneeID *uint `json:"assignee_id"`
}

type TicketListResponse struct {
	Tickets []ds.Ticket `json:"tickets"`
	Total   int         `json:"total"`
}

type AttachmentResponse struct {
	ID          uint   `json:"id"`
	TicketID    uint   `json:"ticket_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

// ============ Пользователи ============

type UserListResponse struct {
	Users []ds.User `json:"users"`
	Total int       `json:"total"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=ADMIN CLIENT SUPPORT MODERATOR"`
}

type ProfileResponse struct {
	ds.User
	FullName string `json:"full_name"`
	IsStaff  bool   `json:"is_staff"`
}

// ============ Вебхуки ============

type WebhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}
