package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/brightlane/portal/internal/app/billing"
	"github.com/brightlane/portal/internal/app/cms"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/pricing"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BlogSource - источник записей блога (Sanity)
type BlogSource interface {
	ListPosts(ctx context.Context, page, limit int) (*cms.PostPage, error)
	PostBySlug(ctx context.Context, slug string) (*cms.Post, error)
	Categories(ctx context.Context) ([]cms.Category, error)
}

// ClerkWebhooks - приёмник вебхуков Clerk
type ClerkWebhooks interface {
	ProcessWebhook(ctx context.Context, payload []byte, headers http.Header) (bool, error)
}

// APIHandler содержит обработчики для REST API
type APIHandler struct {
	Repository *repository.Repository
	Billing    *billing.Service
	Storage    storage.Storage
	Blog       BlogSource
	Clerk      ClerkWebhooks
	MaxUpload  int64
}

func NewAPIHandler(r *repository.Repository, billingService *billing.Service, store storage.Storage, blog BlogSource, clerkWebhooks ClerkWebhooks) *APIHandler {
	return &APIHandler{
		Repository: r,
		Billing:    billingService,
		Storage:    store,
		Blog:       blog,
		Clerk:      clerkWebhooks,
	}
}

var errForbidden = errors.New("нет доступа")

// ============ Вспомогательные функции ============

func (h *APIHandler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Status:  "fail",
		Message: message,
	})
}

func (h *APIHandler) successResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := dto.SuccessResponse{
		Status:  "success",
		Message: message,
	}
	if data != nil {
		response.Data = data
	}
	c.JSON(statusCode, response)
}

// currentUser - пользователь, положенный в контекст middleware авторизации
func (h *APIHandler) currentUser(c *gin.Context) *ds.User {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		logrus.Warn("current user not found in context")
		h.errorResponse(c, http.StatusUnauthorized, "Требуется авторизация")
		return nil
	}
	return user
}

func (h *APIHandler) parseID(c *gin.Context, param, message string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		h.errorResponse(c, http.StatusBadRequest, message)
		return 0, false
	}
	return uint(id), true
}

// errorStatus сопоставляет доменные ошибки с HTTP-статусами
func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrCategoryNotFound),
		errors.Is(err, repository.ErrServiceNotFound),
		errors.Is(err, repository.ErrAddOnNotFound),
		errors.Is(err, repository.ErrProjectNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrSubscriptionNotFound),
		errors.Is(err, repository.ErrTicketNotFound),
		errors.Is(err, repository.ErrTicketUpdateNotFound),
		errors.Is(err, repository.ErrAttachmentNotFound),
		errors.Is(err, cms.ErrPostNotFound):
		return http.StatusNotFound

	case errors.Is(err, errForbidden), errors.Is(err, billing.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, repository.ErrCategoryInUse),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrQuoteLocked),
		errors.Is(err, repository.ErrTotalBelowPaid),
		errors.Is(err, billing.ErrNotPayable),
		errors.Is(err, billing.ErrNothingToPay),
		errors.Is(err, billing.ErrAlreadyPaid),
		errors.Is(err, billing.ErrCheckoutInProgress),
		errors.Is(err, billing.ErrAddOnAlreadyAdded):
		return http.StatusConflict

	case errors.Is(err, pricing.ErrEmptySelection),
		errors.Is(err, pricing.ErrDuplicateService),
		errors.Is(err, pricing.ErrNegativePrice),
		errors.Is(err, pricing.ErrForeignAddOn),
		errors.Is(err, billing.ErrInvalidPaymentType),
		errors.Is(err, billing.ErrAddOnNotApplicable),
		errors.Is(err, billing.ErrNotSubscribable),
		errors.Is(err, storage.ErrEmptyFile):
		return http.StatusBadRequest

	case errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, billing.ErrGateway), errors.Is(err, cms.ErrUpstream):
		return http.StatusBadGateway

	case errors.Is(err, billing.ErrNotConfigured), errors.Is(err, cms.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError отвечает клиенту по доменной ошибке; неизвестные ошибки логируются и скрываются
func (h *APIHandler) handleError(c *gin.Context, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logrus.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		h.errorResponse(c, status, fallback)
		return
	}
	if status == http.StatusBadGateway {
		logrus.Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	h.errorResponse(c, status, err.Error())
}

// Ping проверяет работоспособность API
// @Summary Проверка работоспособности
// @Description Возвращает простой ответ для проверки работы сервера
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (h *APIHandler) Ping(ctx *gin.Context) {
	if err := h.Repository.Ping(); err != nil {
		logrus.Errorf("ping database: %v", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"message": "database unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func parseUintParam(c *gin.Context, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
