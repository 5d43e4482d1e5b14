package handler

import (
	"net/http"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/pricing"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ============ ДОМЕН КП И ПРОЕКТЫ ============

func quoteItems(items []dto.QuoteItemRequest) []repository.QuoteItem {
	out := make([]repository.QuoteItem, 0, len(items))
	for _, item := range items {
		out = append(out, repository.QuoteItem{
			ServiceID:   item.ServiceID,
			CustomPrice: item.CustomPrice,
			AddOnIDs:    item.AddOnIDs,
		})
	}
	return out
}

// quote собирает выбор из каталога и считает КП
func (h *APIHandler) quote(c *gin.Context, items []dto.QuoteItemRequest, allowCustomPrice bool) (pricing.Breakdown, bool) {
	converted := quoteItems(items)
	if !allowCustomPrice {
		// свои цены выставляет только администратор
		for i := range converted {
			converted[i].CustomPrice = nil
		}
	}

	selections, err := h.Repository.BuildSelections(c.Request.Context(), converted)
	if err != nil {
		h.handleError(c, err, "Ошибка расчёта КП")
		return pricing.Breakdown{}, false
	}
	breakdown, err := pricing.Quote(selections)
	if err != nil {
		h.handleError(c, err, "Ошибка расчёта КП")
		return pricing.Breakdown{}, false
	}
	return breakdown, true
}

func projectResponse(p *ds.Project) dto.ProjectResponse {
	meta := repository.DecodeProjectMetadata(p.Metadata)
	resp := dto.ProjectResponse{
		Project: p,
		Balance: p.Balance(),
		Deposit: p.DepositAmount(),
		Quote:   meta.Quote,
	}
	if meta.Contact != nil {
		resp.Contact = meta.Contact
	}
	return resp
}

// loadProject загружает проект с проверкой видимости: клиент видит только свои
func (h *APIHandler) loadProject(c *gin.Context, user *ds.User) (*ds.Project, bool) {
	id, ok := h.parseID(c, "id", "Неверный ID проекта")
	if !ok {
		return nil, false
	}
	project, err := h.Repository.GetProject(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err, "Ошибка получения проекта")
		return nil, false
	}
	if !user.Role.IsStaff() && project.UserID != user.ID {
		h.errorResponse(c, http.StatusNotFound, repository.ErrProjectNotFound.Error())
		return nil, false
	}
	return project, true
}

// PreviewQuote считает КП без сохранения
// @Summary Предварительный расчёт КП
// @Tags Quotes
// @Accept json
// @Produce json
// @Param request body dto.QuotePreviewRequest true "Выбранные услуги и дополнения"
// @Success 200 {object} pricing.Breakdown
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/quotes/preview [post]
func (h *APIHandler) PreviewQuote(c *gin.Context) {
	var req dto.QuotePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}
	breakdown, ok := h.quote(c, req.Items, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

// CreateQuote создает запрос КП от клиента
// @Summary Запрос КП
// @Description Создает проект в статусе QUOTE_REQUESTED со снимком цен
// @Tags Quotes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateQuoteRequest true "Запрос КП"
// @Success 201 {object} dto.ProjectResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/quotes [post]
func (h *APIHandler) CreateQuote(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var req dto.CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	breakdown, ok := h.quote(c, req.Items, false)
	if !ok {
		return
	}

	contact := &repository.ContactInfo{Name: user.FullName(), Email: user.Email}
	if req.Contact != nil {
		contact.Phone = req.Contact.Phone
		contact.Company = req.Contact.Company
		contact.Message = req.Contact.Message
		if req.Contact.Name != "" {
			contact.Name = req.Contact.Name
		}
		if req.Contact.Email != "" {
			contact.Email = req.Contact.Email
		}
	}

	project := ds.Project{
		UserID:      user.ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      ds.ProjectQuoteRequested,
	}
	if err := h.Repository.CreateProject(c.Request.Context(), &project, breakdown, contact); err != nil {
		h.handleError(c, err, "Ошибка создания КП")
		return
	}
	logrus.Infof("quote requested: project=%d user=%d total=%d", project.ID, user.ID, project.TotalAmount)

	h.respondProject(c, http.StatusCreated, project.ID)
}

// CreateProject заводит проект для клиента
// @Summary Создание проекта администратором
// @Description Проект сразу создается в статусе QUOTE_SENT
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateProjectRequest true "Проект"
// @Success 201 {object} dto.ProjectResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/projects [post]
func (h *APIHandler) CreateProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	client, err := h.Repository.GetUserByID(c.Request.Context(), req.UserID)
	if err != nil {
		h.handleError(c, err, "Ошибка получения клиента")
		return
	}

	breakdown, ok := h.quote(c, req.Items, true)
	if !ok {
		return
	}

	project := ds.Project{
		UserID:      client.ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      ds.ProjectQuoteSent,
		DueDate:     req.DueDate,
	}
	contact := &repository.ContactInfo{Name: client.FullName(), Email: client.Email}
	if err := h.Repository.CreateProject(c.Request.Context(), &project, breakdown, contact); err != nil {
		h.handleError(c, err, "Ошибка создания проекта")
		return
	}

	h.respondProject(c, http.StatusCreated, project.ID)
}

func (h *APIHandler) respondProject(c *gin.Context, status int, id uint) {
	project, err := h.Repository.GetProject(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err, "Ошибка получения проекта")
		return
	}
	c.JSON(status, projectResponse(project))
}

// RepriceProject выставляет свои цены услугам проекта
// @Summary Изменение цен КП
// @Description Только в статусах QUOTE_REQUESTED и QUOTE_SENT
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Param request body dto.RepriceRequest true "Новые цены"
// @Success 200 {object} dto.ProjectResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/quote [put]
func (h *APIHandler) RepriceProject(c *gin.Context) {
	id, ok := h.parseID(c, "id", "Неверный ID проекта")
	if !ok {
		return
	}
	var req dto.RepriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	prices := make(map[uint]int64, len(req.Prices))
	for _, p := range req.Prices {
		prices[p.ServiceID] = p.Price
	}
	project, err := h.Repository.RepriceProject(c.Request.Context(), id, prices)
	if err != nil {
		h.handleError(c, err, "Ошибка изменения КП")
		return
	}
	c.JSON(http.StatusOK, projectResponse(project))
}

// GetProjects возвращает проекты
// @Summary Список проектов
// @Description Клиент видит свои проекты, сотрудники все
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param status query string false "Фильтр по статусу"
// @Success 200 {object} dto.ProjectListResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/projects [get]
func (h *APIHandler) GetProjects(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}

	filter := repository.ProjectFilter{Status: c.Query("status")}
	if filter.Status != "" && !ds.ProjectStatus(filter.Status).Valid() {
		h.errorResponse(c, http.StatusBadRequest, "Неизвестный статус проекта")
		return
	}
	if !user.Role.IsStaff() {
		filter.UserID = &user.ID
	}

	projects, err := h.Repository.ListProjects(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err, "Ошибка получения проектов")
		return
	}
	c.JSON(http.StatusOK, dto.ProjectListResponse{Projects: projects, Total: len(projects)})
}

// GetProject возвращает проект с услугами, дополнениями и платежами
// @Summary Проект по ID
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.ProjectResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/projects/{id} [get]
func (h *APIHandler) GetProject(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	project, ok := h.loadProject(c, user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, projectResponse(project))
}

func (h *APIHandler) transitionProject(c *gin.Context, next ds.ProjectStatus, allowed func(user *ds.User, project *ds.Project) bool) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	project, ok := h.loadProject(c, user)
	if !ok {
		return
	}
	if !allowed(user, project) {
		h.errorResponse(c, http.StatusForbidden, "Недостаточно прав")
		return
	}

	updated, err := h.Repository.TransitionProject(c.Request.Context(), project.ID, next)
	if err != nil {
		h.handleError(c, err, "Ошибка изменения статуса проекта")
		return
	}
	logrus.Infof("project %d: %s -> %s by user %d", project.ID, project.Status, next, user.ID)
	h.successResponse(c, http.StatusOK, "Статус проекта изменён", projectResponse(updated))
}

func adminOnly(user *ds.User, _ *ds.Project) bool {
	return user.Role == role.Admin
}

// SendQuote отправляет КП клиенту
// @Summary Отправить КП
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.SuccessResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/send [put]
func (h *APIHandler) SendQuote(c *gin.Context) {
	h.transitionProject(c, ds.ProjectQuoteSent, adminOnly)
}

// ApproveQuote подтверждает КП
// @Summary Подтвердить КП
// @Description Владелец проекта или администратор
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.SuccessResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/approve [put]
func (h *APIHandler) ApproveQuote(c *gin.Context) {
	h.transitionProject(c, ds.ProjectQuoteApproved, func(user *ds.User, project *ds.Project) bool {
		return user.Role == role.Admin || project.UserID == user.ID
	})
}

// StartProject запускает работу над проектом
// @Summary Начать проект
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.SuccessResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/start [put]
func (h *APIHandler) StartProject(c *gin.Context) {
	h.transitionProject(c, ds.ProjectInProgress, adminOnly)
}

// CompleteProject завершает проект
// @Summary Завершить проект
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.SuccessResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/complete [put]
func (h *APIHandler) CompleteProject(c *gin.Context) {
	h.transitionProject(c, ds.ProjectCompleted, adminOnly)
}

// CancelProject отменяет проект
// @Summary Отменить проект
// @Description Владелец может отменить только КП, администратор любой незавершённый проект
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID проекта"
// @Success 200 {object} dto.SuccessResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /api/projects/{id}/cancel [put]
func (h *APIHandler) CancelProject(c *gin.Context) {
	h.transitionProject(c, ds.ProjectCancelled, func(user *ds.User, project *ds.Project) bool {
		return user.Role == role.Admin || (project.UserID == user.ID && project.Status.IsQuote())
	})
}
