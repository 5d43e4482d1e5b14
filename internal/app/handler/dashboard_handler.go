package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetDashboard сводка личного кабинета
// @Summary Сводка кабинета
// @Description Клиенту по его проектам, сотрудникам по всем клиентам
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} repository.Dashboard
// @Router /api/dashboard [get]
func (h *APIHandler) GetDashboard(c *gin.Context) {
	user := h.currentUser(c)
	if user == nil {
		return
	}
	var userID *uint
	if !user.Role.IsStaff() {
		userID = &user.ID
	}
	dashboard, err := h.Repository.GetDashboard(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err, "Ошибка построения сводки")
		return
	}
	c.JSON(http.StatusOK, dashboard)
}
