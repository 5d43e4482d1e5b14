package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"
	"github.com/brightlane/portal/internal/app/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ============ ДОМЕН ТИКЕТЫ ============

// loadTicket загружает тикет; клиенту доступны только его собственные
func (h *APIHandler) loadTicket(c *gin.Context, user *ds.User, param string) (*ds.Ticket, bool) {
	id, ok := h.parseID(c, param, "Неверный ID тикета")
	if !ok {
		return nil, false
	}
	ticket, err := h.Repository.GetTicket(c.Request.Context(), id, user.Role.IsStaff())
	if err != nil {
		h.handleError(c, err, "Ошибка получения тикета")
		return nil, false
	}
	if !user.Role.IsStaff() && ticket.CreatorID != user.ID {
		h.errorResponse(c, http.StatusNotFound, repository.ErrTicketNotFound.Error())
		return nil, false
	}
	return ticket, true
}

// CreateTicket создает тикет
// @Summary Создание тикета
// @Tags Tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateTicketRequest true "Тикет"
// @Success 201 {object} ds.Ticket
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/tickets [post]
func (h *APIHandler) CreateTicket(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var req dto.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.ProjectID != nil {
		if user.Role.IsStaff() {
			if _, err := h.Repository.GetProject(ctx, *req.ProjectID); err != nil {
				h.handleError(c, err, "Ошибка получения проекта")
				return
			}
		} else {
			owns, err := h.Repository.ProjectBelongsTo(ctx, *req.ProjectID, user.ID)
			if err != nil {
				h.handleError(c, err, "Ошибка проверки проекта")
				return
			}
			if !owns {
				h.errorResponse(c, http.StatusForbidden, "Можно указать только свой проект")
				return
			}
		}
	}

	priority := ds.PriorityMedium
	if req.Priority != "" {
		priority = ds.TicketPriority(req.Priority)
	}
	ticket := ds.Ticket{
		CreatorID:   user.ID,
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      ds.TicketOpen,
		Priority:    priority,
		Category:    req.Category,
	}
	if err := h.Repository.CreateTicket(ctx, &ticket); err != nil {
		h.handleError(c, err, "Ошибка создания тикета")
		return
	}
	logrus.Infof("ticket %d created by user %d", ticket.ID, user.ID)
	c.JSON(http.StatusCreated, ticket)
}

// GetTickets возвращает тикеты
// @Summary Список тикетов
// @Description Клиент видит свои тикеты, сотрудники все с фильтрами
// @Tags Tickets
// @Produce json
// @Security BearerAuth
// @Param status query string false "Статус"
// @Param priority query string false "Приоритет"
// @Param assignee_id query int false "Исполнитель"
// @Success 200 {object} dto.TicketListResponse
// @Router /api/tickets [get]
func (h *APIHandler) GetTickets(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}

	filter := repository.TicketFilter{Status: c.Query("status")}
	if filter.Status != "" && !ds.TicketStatus(filter.Status).Valid() {
		h.errorResponse(c, http.StatusBadRequest, "Неизвестный статус тикета")
		return
	}
	if !user.Role.IsStaff() {
		filter.CreatorID = &user.ID
	} else {
		filter.Priority = c.Query("priority")
		if filter.Priority != "" && !ds.TicketPriority(filter.Priority).Valid() {
			h.errorResponse(c, http.StatusBadRequest, "Неизвестный приоритет")
			return
		}
		if raw := c.Query("assignee_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				h.errorResponse(c, http.StatusBadRequest, "Неверный ID исполнителя")
				return
			}
			assignee := uint(id)
			filter.AssigneeID = &assignee
		}
	}

	tickets, err := h.Repository.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err, "Ошибка получения тикетов")
		return
	}
	c.JSON(http.StatusOK, dto.TicketListResponse{Tickets: tickets, Total: len(tickets)})
}

// GetTicket возвращает тикет с лентой и вложениями
// @Summary Тикет по ID
// @Description Внутренние заметки клиенту не показываются
// @Tags Tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Success 200 {object} ds.Ticket
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/tickets/{id} [get]
func (h *APIHandler) GetTicket(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	ticket, ok := h.loadTicket(c, user, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AddTicketUpdate добавляет комментарий или внутреннюю заметку
// @Summary Комментарий к тикету
// @Description Ответ клиента на тикет в WAITING_ON_CLIENT возвращает его в OPEN
// @Tags Tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Param request body dto.TicketUpdateRequest true "Комментарий"
// @Success 201 {object} ds.TicketUpdate
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/tickets/{id}/updates [post]
func (h *APIHandler) AddTicketUpdate(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var req dto.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}
	if req.IsInternal && !user.Role.IsStaff() {
		h.errorResponse(c, http.StatusForbidden, "Клиент не может оставлять внутренние заметки")
		return
	}
	ticket, ok := h.loadTicket(c, user, "id")
	if !ok {
		return
	}

	update, err := h.Repository.AddComment(c.Request.Context(), ticket.ID, user.ID, req.Content, req.IsInternal, !user.Role.IsStaff())
	if err != nil {
		h.handleError(c, err, "Ошибка добавления комментария")
		return
	}
	c.JSON(http.StatusCreated, update)
}

// ChangeTicketStatus меняет статус тикета
// @Summary Статус тикета
// @Description Сотрудник ставит любой статус, клиент может только закрыть свой тикет
// @Tags Tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Param request body dto.TicketStatusRequest true "Новый статус"
// @Success 200 {object} ds.Ticket
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/tickets/{id}/status [put]
func (h *APIHandler) ChangeTicketStatus(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var req dto.TicketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}
	status := ds.TicketStatus(req.Status)
	if !user.Role.IsStaff() && status != ds.TicketClosed {
		h.errorResponse(c, http.StatusForbidden, "Клиент может только закрыть тикет")
		return
	}
	ticket, ok := h.loadTicket(c, user, "id")
	if !ok {
		return
	}

	updated, err := h.Repository.ChangeTicketStatus(c.Request.Context(), ticket.ID, user.ID, status)
	if err != nil {
		h.handleError(c, err, "Ошибка изменения статуса")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ChangeTicketPriority меняет приоритет
// @Summary Приоритет тикета
// @Tags Tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Param request body dto.TicketPriorityRequest true "Приоритет"
// @Success 200 {object} ds.Ticket
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/tickets/{id}/priority [put]
func (h *APIHandler) ChangeTicketPriority(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	id, ok := h.parseID(c, "id", "Неверный ID тикета")
	if !ok {
		return
	}
	var req dto.TicketPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	ticket, err := h.Repository.ChangeTicketPriority(c.Request.Context(), id, user.ID, ds.TicketPriority(req.Priority))
	if err != nil {
		h.handleError(c, err, "Ошибка изменения приоритета")
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AssignTicket назначает исполнителя
// @Summary Назначение исполнителя
// @Description Исполнителем может быть только сотрудник
// @Tags Tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Param request body dto.AssignTicketRequest true "Исполнитель"
// @Success 200 {object} ds.Ticket
// @Failure 400 {object} dto.ErrorResponse
// @Router /api/tickets/{id}/assign [put]
func (h *APIHandler) AssignTicket(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	id, ok := h.parseID(c, "id", "Неверный ID тикета")
	if !ok {
		return
	}
	var req dto.AssignTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Неверный формат данных: "+err.Error())
		return
	}

	var assignee *ds.User
	if req.AssigneeID != nil {
		u, err := h.Repository.GetUserByID(c.Request.Context(), *req.AssigneeID)
		if err != nil {
			h.handleError(c, err, "Ошибка получения исполнителя")
			return
		}
		if !u.Role.IsStaff() {
			h.errorResponse(c, http.StatusBadRequest, "Исполнителем может быть только сотрудник")
			return
		}
		assignee = u
	}

	ticket, err := h.Repository.AssignTicket(c.Request.Context(), id, user.ID, assignee)
	if err != nil {
		h.handleError(c, err, "Ошибка назначения исполнителя")
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ============ Вложения ============

// UploadAttachment загружает файл к тикету
// @Summary Загрузка вложения
// @Tags Tickets
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID тикета"
// @Param file formData file true "Файл"
// @Param update_id formData int false "ID записи ленты"
// @Success 201 {object} dto.AttachmentResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 413 {object} dto.ErrorResponse
// @Router /api/tickets/{id}/attachments [post]
func (h *APIHandler) UploadAttachment(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	if h.Storage == nil {
		h.errorResponse(c, http.StatusServiceUnavailable, "Хранилище файлов не настроено")
		return
	}
	ticket, ok := h.loadTicket(c, user, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var updateID *uint
	if raw := c.PostForm("update_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			h.errorResponse(c, http.StatusBadRequest, "Неверный ID записи")
			return
		}
		update, err := h.Repository.GetTicketUpdate(ctx, ticket.ID, uint(id))
		if err != nil {
			h.handleError(c, err, "Ошибка получения записи")
			return
		}
		if update.IsInternal && !user.Role.IsStaff() {
			h.errorResponse(c, http.StatusNotFound, repository.ErrTicketUpdateNotFound.Error())
			return
		}
		updateID = &update.ID
	}

	// Получаем файл из запроса
	file, err := c.FormFile("file")
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "Файл не найден в запросе")
		return
	}
	if err := storage.CheckSize(file.Size, h.MaxUpload); err != nil {
		h.handleError(c, err, "Ошибка загрузки файла")
		return
	}

	openedFile, err := file.Open()
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "Ошибка чтения файла")
		return
	}
	defer openedFile.Close()

	fileData, err := io.ReadAll(openedFile)
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "Ошибка чтения файла")
		return
	}

	obj, err := h.Storage.Upload(ctx, ticket.ID, file.Filename, fileData)
	if err != nil {
		h.handleError(c, err, "Ошибка загрузки файла")
		return
	}

	attachment := ds.Attachment{
		TicketID:       ticket.ID,
		TicketUpdateID: updateID,
		UploaderID:     user.ID,
		FileName:       file.Filename,
		ObjectKey:      obj.Key,
		ContentType:    obj.ContentType,
		Size:           obj.Size,
	}
	if err := h.Repository.CreateAttachment(ctx, &attachment); err != nil {
		if delErr := h.Storage.Delete(ctx, obj.Key); delErr != nil {
			logrus.Warnf("cleanup object %s: %v", obj.Key, delErr)
		}
		h.handleError(c, err, "Ошибка сохранения вложения")
		return
	}

	c.JSON(http.StatusCreated, attachmentResponse(&attachment, ""))
}

func attachmentResponse(a *ds.Attachment, url string) dto.AttachmentResponse {
	return dto.AttachmentResponse{
		ID:          a.ID,
		TicketID:    a.TicketID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		URL:         url,
	}
}

// canSeeAttachment повторяет правила видимости тикета и внутренних заметок
func (h *APIHandler) canSeeAttachment(c *gin.Context, user *ds.User, a *ds.Attachment) (bool, error) {
	if user.Role.IsStaff() {
		return true, nil
	}
	ctx := c.Request.Context()
	ticket, err := h.Repository.GetTicketBrief(ctx, a.TicketID)
	if err != nil {
		return false, err
	}
	if ticket.CreatorID != user.ID {
		return false, nil
	}
	if a.TicketUpdateID != nil {
		update, err := h.Repository.GetTicketUpdate(ctx, a.TicketID, *a.TicketUpdateID)
		if err != nil {
			if errors.Is(err, repository.ErrTicketUpdateNotFound) {
				return false, nil
			}
			return false, err
		}
		return !update.IsInternal, nil
	}
	return true, nil
}

// GetAttachment выдает временную ссылку на вложение
// @Summary Ссылка на вложение
// @Tags Tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID вложения"
// @Success 200 {object} dto.AttachmentResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/attachments/{id} [get]
func (h *APIHandler) GetAttachment(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	if h.Storage == nil {
		h.errorResponse(c, http.StatusServiceUnavailable, "Хранилище файлов не настроено")
		return
	}
	id, ok := h.parseID(c, "id", "Неверный ID вложения")
	if !ok {
		return
	}

	attachment, err := h.Repository.GetAttachment(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err, "Ошибка получения вложения")
		return
	}
	visible, err := h.canSeeAttachment(c, user, attachment)
	if err != nil {
		h.handleError(c, err, "Ошибка получения вложения")
		return
	}
	if !visible {
		h.errorResponse(c, http.StatusNotFound, repository.ErrAttachmentNotFound.Error())
		return
	}

	url, err := h.Storage.PresignedURL(c.Request.Context(), attachment.ObjectKey, attachment.FileName)
	if err != nil {
		logrus.Errorf("presign %s: %v", attachment.ObjectKey, err)
		h.errorResponse(c, http.StatusBadGateway, "Хранилище недоступно")
		return
	}
	c.JSON(http.StatusOK, attachmentResponse(attachment, url))
}

// DeleteAttachment удаляет вложение
// @Summary Удаление вложения
// @Description Только загрузивший или администратор
// @Tags Tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID вложения"
// @Success 200 {object} dto.SuccessResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/attachments/{id} [delete]
func (h *APIHandler) DeleteAttachment(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	id, ok := h.parseID(c, "id", "Неверный ID вложения")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	attachment, err := h.Repository.GetAttachment(ctx, id)
	if err != nil {
		h.handleError(c, err, "Ошибка получения вложения")
		return
	}
	if attachment.UploaderID != user.ID && user.Role != role.Admin {
		h.errorResponse(c, http.StatusForbidden, "Удалить вложение может только автор или администратор")
		return
	}

	if err := h.Repository.DeleteAttachment(ctx, id); err != nil {
		h.handleError(c, err, "Ошибка удаления вложения")
		return
	}
	if h.Storage != nil {
		if err := h.Storage.Delete(ctx, attachment.ObjectKey); err != nil {
			logrus.Warnf("delete object %s: %v", attachment.ObjectKey, err)
		}
	}
	h.successResponse(c, http.StatusOK, "Вложение удалено", nil)
}
