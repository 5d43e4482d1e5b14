package handler

import (
	"encoding/json"
	"net/http"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// ============ ДОМЕН КАТАЛОГ ============

// GetCategories возвращает категории с активными услугами
// @Summary Список категорий услуг
// @Tags Catalog
// @Produce json
// @Success 200 {object} dto.CategoryListResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/categories [get]
func (h *APIHandler) GetCategories(c *gin.Context) {
	categories, err := h.Repository.ListCategories(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "Ошибка получения категорий")
		return
	}
	c.JSON(http.StatusOK, dto.CategoryListResponse{Categories: categories, Total: len(categories)})
}

// CreateCategory создает категорию
// @Summary Создание категории
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CategoryRequest true "Категория"
// @Success 201 {object} ds.ServiceCategory
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/categories [post]
func (h *APIHandler) CreateCategory(c *gin.Context) {
	var req dto.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	category := ds.ServiceCategory{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	}
	if err := h.Repository.CreateCategory(c.Request.Context(), &category); err != nil {
		h.handleError(c, err, "Ошибка создания категории")
		return
	}
	c.JSON(http.StatusCreated, category)
}

// UpdateCategory изменяет категорию
// @Summary Изменение категории
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID категории"
// @Param request body dto.UpdateCategoryRequest true "Поля для изменения"
// @Success 200 {object} ds.ServiceCategory
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/categories/{id} [put]
func (h *APIHandler) UpdateCategory(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID категории")
	if !ok {
		return
	}
	var req dto.UpdateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Slug != nil {
		updates["slug"] = *req.Slug
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.SortOrder != nil {
		updates["sort_order"] = *req.SortOrder
	}

	category, err := h.Repository.UpdateCategory(c.Request.Context(), id, updates)
	if err != nil {
		h.handleError(c, err, "Ошибка обновления категории")
		return
	}
	c.JSON(http.StatusOK, category)
}

// DeleteCategory удаляет пустую категорию
// @Summary Удаление категории
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID категории"
// @Success 200 {object} dto.SuccessResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/categories/{id} [delete]
func (h *APIHandler) DeleteCategory(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID категории")
	if !ok {
		return
	}
	if err := h.Repository.DeleteCategory(c.Request.Context(), id); err != nil {
		h.handleError(c, err, "Ошибка удаления категории")
		return
	}
	h.successResponse(c, http.StatusOK, "Категория удалена", nil)
}

// GetServices получает список услуг
// @Summary Получение списка услуг
// @Description Активные услуги каталога; администратор может запросить и неактивные
// @Tags Catalog
// @Produce json
// @Param category query string false "Slug категории"
// @Param price_type query string false "ONE_TIME, RECURRING или CUSTOM"
// @Param include_inactive query bool false "Включить неактивные (только ADMIN)"
// @Success 200 {object} dto.ServiceListResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/services [get]
func (h *APIHandler) GetServices(c *gin.Context) {
	filter := repository.ServiceFilter{
		CategorySlug: c.Query("category"),
		PriceType:    c.Query("price_type"),
	}
	if user, ok := middleware.CurrentUser(c); ok && user.Role == role.Admin {
		filter.IncludeInactive = c.Query("include_inactive") == "true"
	}

	services, err := h.Repository.ListServices(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err, "Ошибка получения услуг")
		return
	}
	c.JSON(http.StatusOK, dto.ServiceListResponse{Services: services, Total: len(services)})
}

// GetService получает одну услугу
// @Summary Получение услуги по ID
// @Description Возвращает услугу с дополнениями
// @Tags Catalog
// @Produce json
// @Param id path int true "ID услуги"
// @Success 200 {object} ds.Service
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/services/{id} [get]
func (h *APIHandler) GetService(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID услуги")
	if !ok {
		return
	}
	service, err := h.Repository.GetServiceByID(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err, "Ошибка получения услуги")
		return
	}
	if !service.IsActive {
		if user, ok := middleware.CurrentUser(c); !ok || user.Role != role.Admin {
			h.errorResponse(c, http.StatusNotFound, repository.ErrServiceNotFound.Error())
			return
		}
	}
	c.JSON(http.StatusOK, service)
}

// CreateService создает новую услугу
// @Summary Создание услуги
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateServiceRequest true "Данные услуги"
// @Success 201 {object} ds.Service
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/services [post]
func (h *APIHandler) CreateService(c *gin.Context) {
	var req dto.CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	priceType := ds.PriceType(req.PriceType)
	if priceType == ds.PriceTypeRecurring && req.BillingInterval == "" {
		h.errorResponse(c, http.StatusBadRequest, "Для подписки нужен billing_interval")
		return
	}

	features, err := encodeFeatures(req.Features)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный список возможностей")
		return
	}

	service := ds.Service{
		CategoryID:      req.CategoryID,
		Name:            req.Name,
		Slug:            req.Slug,
		Description:     req.Description,
		PriceType:       priceType,
		BasePrice:       req.BasePrice,
		BillingInterval: req.BillingInterval,
		StripePriceID:   req.StripePriceID,
		Features:        features,
		IsActive:        true,
	}
	if err := h.Repository.CreateService(c.Request.Context(), &service); err != nil {
		h.handleError(c, err, "Ошибка создания услуги")
		return
	}
	c.JSON(http.StatusCreated, service)
}

// UpdateService обновляет услугу
// @Summary Изменение услуги
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID услуги"
// @Param request body dto.UpdateServiceRequest true "Поля для изменения"
// @Success 200 {object} ds.Service
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/services/{id} [put]
func (h *APIHandler) UpdateService(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID услуги")
	if !ok {
		return
	}
	var req dto.UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.CategoryID != nil {
		updates["category_id"] = *req.CategoryID
	}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Slug != nil {
		updates["slug"] = *req.Slug
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.PriceType != nil {
		updates["price_type"] = *req.PriceType
	}
	if req.BasePrice != nil {
		updates["base_price"] = *req.BasePrice
	}
	if req.BillingInterval != nil {
		updates["billing_interval"] = *req.BillingInterval
	}
	if req.StripePriceID != nil {
		updates["stripe_price_id"] = *req.StripePriceID
	}
	if req.Features != nil {
		features, err := encodeFeatures(*req.Features)
		if err != nil {
			h.errorResponse(c, http.StatusBadRequest, "Неверный список возможностей")
			return
		}
		updates["features"] = features
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	service, err := h.Repository.UpdateService(c.Request.Context(), id, updates)
	if err != nil {
		h.handleError(c, err, "Ошибка обновления услуги")
		return
	}
	c.JSON(http.StatusOK, service)
}

// DeleteService снимает услугу с витрины
// @Summary Удаление услуги
// @Description Мягкое удаление: услуга становится неактивной
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID услуги"
// @Success 200 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/services/{id} [delete]
func (h *APIHandler) DeleteService(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID услуги")
	if !ok {
		return
	}
	if err := h.Repository.DeactivateService(c.Request.Context(), id); err != nil {
		h.handleError(c, err, "Ошибка удаления услуги")
		return
	}
	h.successResponse(c, http.StatusOK, "Услуга успешно удалена", nil)
}

// CreateAddOn добавляет дополнение к услуге
// @Summary Создание дополнения
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID услуги"
// @Param request body dto.AddOnRequest true "Дополнение"
// @Success 201 {object} ds.ServiceAddOn
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/services/{id}/add-ons [post]
func (h *APIHandler) CreateAddOn(c *gin.Context) {
	serviceID, ok := h.parseID(c, "id", "Неверный ID услуги")
	if !ok {
		return
	}
	var req dto.AddOnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}
	if _, err := h.Repository.GetServiceByID(c.Request.Context(), serviceID); err != nil {
		h.handleError(c, err, "Ошибка получения услуги")
		return
	}

	addOn := ds.ServiceAddOn{
		ServiceID:   serviceID,
		Name:        req.Name,
		Description: req.Description,
		PricingType: ds.AddOnPricingType(req.PricingType),
		Price:       req.Price,
		Percentage:  req.Percentage,
		IsActive:    true,
	}
	if err := h.Repository.CreateAddOn(c.Request.Context(), &addOn); err != nil {
		h.handleError(c, err, "Ошибка создания дополнения")
		return
	}
	c.JSON(http.StatusCreated, addOn)
}

// UpdateAddOn изменяет дополнение
// @Summary Изменение дополнения
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID дополнения"
// @Param request body dto.UpdateAddOnRequest true "Поля для изменения"
// @Success 200 {object} ds.ServiceAddOn
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/add-ons/{id} [put]
func (h *APIHandler) UpdateAddOn(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID дополнения")
	if !ok {
		return
	}
	var req dto.UpdateAddOnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.PricingType != nil {
		updates["pricing_type"] = *req.PricingType
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.Percentage != nil {
		updates["percentage"] = *req.Percentage
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	addOn, err := h.Repository.UpdateAddOn(c.Request.Context(), id, updates)
	if err != nil {
		h.handleError(c, err, "Ошибка обновления дополнения")
		return
	}
	c.JSON(http.StatusOK, addOn)
}

// DeleteAddOn снимает дополнение с витрины
// @Summary Удаление дополнения
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID дополнения"
// @Success 200 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/add-ons/{id} [delete]
func (h *APIHandler) DeleteAddOn(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID дополнения")
	if !ok {
		return
	}
	if err := h.Repository.DeactivateAddOn(c.Request.Context(), id); err != nil {
		h.handleError(c, err, "Ошибка удаления дополнения")
		return
	}
	h.successResponse(c, http.StatusOK, "Дополнение удалено", nil)
}

func encodeFeatures(features []string) (datatypes.JSON, error) {
	if features == nil {
		return nil, nil
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeFeatures(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var features []string
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil
	}
	return features
}
