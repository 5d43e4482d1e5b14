package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brightlane/portal/internal/app/clerk"
	"github.com/brightlane/portal/internal/app/dto"
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionRevoker - хранилище отозванных сессий (Redis)
type SessionRevoker interface {
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
}

// AuthHandler - профиль, выход и управление ролями. Вход и регистрация живут в Clerk.
type AuthHandler struct {
	Repository *repository.Repository
	Sessions   SessionRevoker
}

func NewAuthHandler(r *repository.Repository, sessions SessionRevoker) *AuthHandler {
	return &AuthHandler{
		Repository: r,
		Sessions:   sessions,
	}
}

// GetUserProfile получение профиля текущего пользователя
// @Summary Профиль пользователя
// @Description Локальное зеркало пользователя Clerk с ролью
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.ProfileResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/auth/profile [get]
func (h *AuthHandler) GetUserProfile(ctx *gin.Context) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		h.errorHandler(ctx, http.StatusUnauthorized, errors.New("требуется авторизация"))
		return
	}
	ctx.JSON(http.StatusOK, dto.ProfileResponse{
		User:     *user,
		FullName: user.FullName(),
		IsStaff:  user.Role.IsStaff(),
	})
}

// LogoutUser отзывает текущую сессию до истечения токена
// @Summary Выход
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) LogoutUser(ctx *gin.Context) {
	claims, ok := middleware.SessionClaims(ctx)
	if !ok {
		h.errorHandler(ctx, http.StatusUnauthorized, errors.New("требуется авторизация"))
		return
	}

	if h.Sessions != nil {
		ttl := clerk.TTL(claims, time.Now())
		if ttl > 0 {
			if err := h.Sessions.RevokeSession(ctx.Request.Context(), claims.SessionID, ttl); err != nil {
				h.errorHandler(ctx, http.StatusInternalServerError, err)
				return
			}
		}
	}

	ctx.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	ctx.JSON(http.StatusOK, dto.SuccessResponse{Status: "success", Message: "Сессия завершена"})
}

// GetUsers список пользователей
// @Summary Список пользователей
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param role query string false "Фильтр по роли"
// @Success 200 {object} dto.UserListResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /api/users [get]
func (h *AuthHandler) GetUsers(ctx *gin.Context) {
	filter := ctx.Query("role")
	if filter != "" {
		if _, ok := role.Parse(filter); !ok {
			h.errorHandler(ctx, http.StatusBadRequest, errors.New("неизвестная роль"))
			return
		}
	}

	users, err := h.Repository.ListUsers(ctx.Request.Context(), filter)
	if err != nil {
		h.errorHandler(ctx, http.StatusInternalServerError, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.UserListResponse{Users: users, Total: len(users)})
}

// UpdateUserRole смена роли пользователя
// @Summary Смена роли
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID пользователя"
// @Param request body dto.UpdateRoleRequest true "Роль"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/users/{id}/role [put]
func (h *AuthHandler) UpdateUserRole(ctx *gin.Context) {
	var request dto.UpdateRoleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		h.errorHandler(ctx, http.StatusBadRequest, err)
		return
	}
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		h.errorHandler(ctx, http.StatusBadRequest, errors.New("неверный ID пользователя"))
		return
	}

	current, _ := middleware.CurrentUser(ctx)
	newRole := role.Role(request.Role)
	if current != nil && current.ID == id && newRole != role.Admin {
		h.errorHandler(ctx, http.StatusBadRequest, errors.New("нельзя снять роль администратора с самого себя"))
		return
	}

	user, err := h.Repository.UpdateUserRole(ctx.Request.Context(), id, newRole)
	if errors.Is(err, repository.ErrUserNotFound) {
		h.errorHandler(ctx, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.errorHandler(ctx, http.StatusInternalServerError, err)
		return
	}
	logrus.Infof("user %d role changed to %s", user.ID, user.Role)
	ctx.JSON(http.StatusOK, dto.SuccessResponse{Status: "success", Message: "Роль обновлена", Data: user})
}

// errorHandler централизованная обработка ошибок
func (h *AuthHandler) errorHandler(ctx *gin.Context, errorStatusCode int, err error) {
	message := err.Error()
	if errorStatusCode == http.StatusInternalServerError {
		logrus.Error(err.Error())
		message = "Внутренняя ошибка сервера"
	}
	ctx.JSON(errorStatusCode, dto.ErrorResponse{
		Status:  "fail",
		Message: message,
	})
}
