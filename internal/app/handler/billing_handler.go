package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/brightlane/portal/internal/app/billing"
	"github.com/brightlane/portal/internal/app/clerk"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Stripe не присылает события больше 64 КБ, Clerk тоже укладывается
const maxWebhookBody = 1 << 16

// ============ ДОМЕН ОПЛАТА ============

// CheckoutProject создает сессию оплаты проекта
// @Summary Оплата проекта
// @Description FULL - вся сумма, DEPOSIT - предоплата 50%, REMAINING - остаток
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Param request body dto.CheckoutRequest true "Тип платежа"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /api/projects/{id}/checkout [post]
func (h *APIHandler) CheckoutProject(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	projectID, ok := h.parseID(c, "id", "Неверный ID проекта")
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	session, err := h.Billing.CheckoutProject(c.Request.Context(), user, projectID, ds.PaymentType(req.Type))
	if err != nil {
		h.handleError(c, err, "Ошибка создания платежа")
		return
	}
	c.JSON(http.StatusOK, dto.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// CheckoutAddOn покупает дополнение к проекту
// @Summary Оплата дополнения
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Param addOnId path int true "ID дополнения"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/add-ons/{addOnId}/checkout [post]
func (h *APIHandler) CheckoutAddOn(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	projectID, ok := h.parseID(c, "id", "Неверный ID проекта")
	if !ok {
		return
	}
	addOnID, ok := h.parseID(c, "addOnId", "Неверный ID дополнения")
	if !ok {
		return
	}

	session, err := h.Billing.CheckoutAddOn(c.Request.Context(), user, projectID, addOnID)
	if err != nil {
		h.handleError(c, err, "Ошибка создания платежа")
		return
	}
	c.JSON(http.StatusOK, dto.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// Subscribe оформляет подписку на услугу
// @Summary Подписка на услугу
// @Description Только для RECURRING-услуг с ценой в Stripe
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID услуги"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/services/{id}/subscribe [post]
func (h *APIHandler) Subscribe(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	serviceID, ok := h.parseID(c, "id", "Неверный ID услуги")
	if !ok {
		return
	}

	session, err := h.Billing.Subscribe(c.Request.Context(), user, serviceID)
	if err != nil {
		h.handleError(c, err, "Ошибка оформления подписки")
		return
	}
	c.JSON(http.StatusOK, dto.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// GetPayments возвращает платежи
// @Summary Список платежей
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param project_id query int false "ID проекта"
// @Param status query string false "Статус платежа"
// @Success 200 {object} dto.PaymentListResponse
// @Router /api/payments [get]
func (h *APIHandler) GetPayments(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}

	filter := repository.PaymentFilter{Status: c.Query("status")}
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			h.errorResponse(c, http.StatusBadRequest, "Неверный ID проекта")
			return
		}
		projectID := uint(id)
		filter.ProjectID = &projectID
	}
	if !user.Role.IsStaff() {
		filter.UserID = &user.ID
	}

	payments, err := h.Repository.ListPayments(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err, "Ошибка получения платежей")
		return
	}
	c.JSON(http.StatusOK, dto.PaymentListResponse{Payments: payments, Total: len(payments)})
}

// GetInvoices возвращает счета
// @Summary Список счетов
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.InvoiceListResponse
// @Router /api/invoices [get]
func (h *APIHandler) GetInvoices(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var userID *uint
	if !user.Role.IsStaff() {
		userID = &user.ID
	}
	invoices, err := h.Repository.ListInvoices(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err, "Ошибка получения счетов")
		return
	}
	c.JSON(http.StatusOK, dto.InvoiceListResponse{Invoices: invoices, Total: len(invoices)})
}

// GetSubscriptions возвращает подписки
// @Summary Список подписок
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SubscriptionListResponse
// @Router /api/subscriptions [get]
func (h *APIHandler) GetSubscriptions(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var userID *uint
	if !user.Role.IsStaff() {
		userID = &user.ID
	}
	subs, err := h.Repository.ListSubscriptions(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err, "Ошибка получения подписок")
		return
	}
	c.JSON(http.StatusOK, dto.SubscriptionListResponse{Subscriptions: subs, Total: len(subs)})
}

// CancelSubscription отменяет подписку в конце периода
// @Summary Отмена подписки
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID подписки"
// @Success 200 {object} dto.SuccessResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /api/subscriptions/{id}/cancel [post]
func (h *APIHandler) CancelSubscription(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	id, ok := h.parseID(c, "id", "Неверный ID подписки")
	if !ok {
		return
	}

	sub, err := h.Billing.CancelSubscription(c.Request.Context(), user, id)
	if err != nil {
		h.handleError(c, err, "Ошибка отмены подписки")
		return
	}
	h.successResponse(c, http.StatusOK, "Подписка будет отменена в конце периода", sub)
}

// ============ Вебхуки ============

// StripeWebhook принимает события Stripe
// @Summary Вебхук Stripe
// @Description 400 при неверной подписи, 500 при ошибке обработки (Stripe повторит доставку)
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись Stripe"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/webhooks/stripe [post]
func (h *APIHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}

	duplicate, err := h.Billing.ProcessWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		logrus.Warnf("stripe webhook rejected: %v", err)
		h.errorResponse(c, http.StatusBadRequest, "Неверная подпись")
		return
	case errors.Is(err, billing.ErrNotConfigured):
		h.errorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logrus.Errorf("stripe webhook: %v", err)
		h.errorResponse(c, http.StatusInternalServerError, "Ошибка обработки события")
		return
	}
	c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, Duplicate: duplicate})
}

// ClerkWebhook принимает события Clerk (через Svix)
// @Summary Вебхук Clerk
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param svix-id header string true "ID сообщения"
// @Param svix-timestamp header string true "Время отправки"
// @Param svix-signature header string true "Подпись"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/webhooks/clerk [post]
func (h *APIHandler) ClerkWebhook(c *gin.Context) {
	if h.Clerk == nil {
		h.errorResponse(c, http.StatusServiceUnavailable, "Вебхуки Clerk не настроены")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}

	duplicate, err := h.Clerk.ProcessWebhook(c.Request.Context(), payload, c.Request.Header)
	switch {
	case errors.Is(err, clerk.ErrInvalidSignature):
		logrus.Warnf("clerk webhook rejected: %v", err)
		h.errorResponse(c, http.StatusBadRequest, "Неверная подпись")
		return
	case err != nil:
		logrus.Errorf("clerk webhook: %v", err)
		h.errorResponse(c, http.StatusInternalServerError, "Ошибка обработки события")
		return
	}
	c.JSON(http.StatusOK, dto.WebhookResponse{Received: true, Duplicate: duplicate})
}
