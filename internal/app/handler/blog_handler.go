package handler

import (
	"net/http"
	"strconv"

	"github.com/brightlane/portal/internal/app/cms"

	"github.com/gin-gonic/gin"
)

// ============ ДОМЕН БЛОГ ============

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// GetBlogPosts возвращает страницу записей блога
// @Summary Записи блога
// @Tags Blog
// @Produce json
// @Param page query int false "Номер страницы (с 1)"
// @Param limit query int false "Размер страницы (до 50)"
// @Success 200 {object} cms.PostPage
// @Failure 502 {object} dto.ErrorResponse
// @Router /api/blog/posts [get]
func (h *APIHandler) GetBlogPosts(c *gin.Context) {
	if h.Blog == nil {
		h.handleError(c, cms.ErrNotConfigured, "")
		return
	}
	page, err := h.Blog.ListPosts(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", cms.DefaultPageSize))
	if err != nil {
		h.handleError(c, err, "Ошибка получения записей блога")
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetBlogPost возвращает запись по slug
// @Summary Запись блога
// @Tags Blog
// @Produce json
// @Param slug path string true "Slug записи"
// @Success 200 {object} cms.Post
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/blog/posts/{slug} [get]
func (h *APIHandler) GetBlogPost(c *gin.Context) {
	if h.Blog == nil {
		h.handleError(c, cms.ErrNotConfigured, "")
		return
	}
	post, err := h.Blog.PostBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.handleError(c, err, "Ошибка получения записи блога")
		return
	}
	c.JSON(http.StatusOK, post)
}

// GetBlogCategories возвращает рубрики блога
// @Summary Рубрики блога
// @Tags Blog
// @Produce json
// @Success 200 {array} cms.Category
// @Router /api/blog/categories [get]
func (h *APIHandler) GetBlogCategories(c *gin.Context) {
	if h.Blog == nil {
		h.handleError(c, cms.ErrNotConfigured, "")
		return
	}
	categories, err := h.Blog.Categories(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "Ошибка получения рубрик")
		return
	}
	c.JSON(http.StatusOK, categories)
}
