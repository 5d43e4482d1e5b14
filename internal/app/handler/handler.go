package handler

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/brightlane/portal/internal/app/cms"
	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler отдаёт HTML страницы публичного сайта
type Handler struct {
	Repository *repository.Repository
	Blog       BlogSource
	Site       config.SiteConfig
}

func NewHandler(r *repository.Repository, blog BlogSource, site config.SiteConfig) *Handler {
	return &Handler{Repository: r, Blog: blog, Site: site}
}

// Регистрация шаблонов и статических файлов
func (h *Handler) RegisterStatic(router *gin.Engine, templatesGlob, staticDir string) {
	router.SetFuncMap(template.FuncMap{
		"money": FormatMoney,
	})
	router.LoadHTMLGlob(templatesGlob)
	router.Static("/static", staticDir)
}

// Регистрация маршрутов
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.GetHome)
	router.GET("/services", h.GetServicesPage)
	router.GET("/services/:slug", h.GetServicePage)
	router.GET("/pricing", h.GetPricingPage)
	router.GET("/blog", h.GetBlogPage)
	router.GET("/blog/:slug", h.GetBlogPostPage)
}

// FormatMoney переводит центы в строку вида $1,234.50
func FormatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	dollars := fmt.Sprintf("%d", cents/100)
	for i := len(dollars) - 3; i > 0; i -= 3 {
		dollars = dollars[:i] + "," + dollars[i:]
	}
	return fmt.Sprintf("%s$%s.%02d", sign, dollars, cents%100)
}

func (h *Handler) page(title string, data gin.H) gin.H {
	data["site"] = h.Site
	data["title"] = title
	return data
}

func (h *Handler) errorPage(ctx *gin.Context, status int, message string) {
	ctx.HTML(status, "error.html", h.page(message, gin.H{"error": message, "status": status}))
}

func (h *Handler) GetHome(ctx *gin.Context) {
	categories, err := h.Repository.ListCategories(ctx.Request.Context())
	if err != nil {
		logrus.Error(err)
		h.errorPage(ctx, http.StatusInternalServerError, "Не удалось загрузить каталог")
		return
	}

	// Блог на главной необязателен: при ошибке CMS страница всё равно отдаётся
	var posts []cms.Post
	if h.Blog != nil {
		page, err := h.Blog.ListPosts(ctx.Request.Context(), 1, 3)
		if err != nil {
			logrus.Warnf("home: blog unavailable: %v", err)
		} else {
			posts = page.Posts
		}
	}

	ctx.HTML(http.StatusOK, "home.html", h.page(h.Site.Name, gin.H{
		"categories": categories,
		"posts":      posts,
	}))
}

// Список услуг, можно отфильтровать по категории (?category=slug)
func (h *Handler) GetServicesPage(ctx *gin.Context) {
	categorySlug := ctx.Query("category")
	services, err := h.Repository.ListServices(ctx.Request.Context(), repository.ServiceFilter{CategorySlug: categorySlug})
	if err != nil {
		logrus.Error(err)
		h.errorPage(ctx, http.StatusInternalServerError, "Не удалось загрузить услуги")
		return
	}

	ctx.HTML(http.StatusOK, "services.html", h.page("Услуги", gin.H{
		"services": services,
		"category": categorySlug,
	}))
}

func (h *Handler) GetServicePage(ctx *gin.Context) {
	service, err := h.Repository.GetServiceBySlug(ctx.Request.Context(), ctx.Param("slug"))
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			h.errorPage(ctx, http.StatusNotFound, "Услуга не найдена")
			return
		}
		logrus.Error(err)
		h.errorPage(ctx, http.StatusInternalServerError, "Не удалось загрузить услугу")
		return
	}

	ctx.HTML(http.StatusOK, "service.html", h.page(service.Name, gin.H{
		"service":  service,
		"features": decodeFeatures(service.Features),
	}))
}

func (h *Handler) GetPricingPage(ctx *gin.Context) {
	categories, err := h.Repository.ListCategories(ctx.Request.Context())
	if err != nil {
		logrus.Error(err)
		h.errorPage(ctx, http.StatusInternalServerError, "Не удалось загрузить цены")
		return
	}

	// Услуги без категории показываем отдельным блоком
	all, err := h.Repository.ListServices(ctx.Request.Context(), repository.ServiceFilter{})
	if err != nil {
		logrus.Error(err)
		h.errorPage(ctx, http.StatusInternalServerError, "Не удалось загрузить цены")
		return
	}
	var other []ds.Service
	for _, s := range all {
		if s.CategoryID == nil {
			other = append(other, s)
		}
	}

	ctx.HTML(http.StatusOK, "pricing.html", h.page("Цены", gin.H{
		"categories": categories,
		"other":      other,
	}))
}

func (h *Handler) GetBlogPage(ctx *gin.Context) {
	if h.Blog == nil {
		h.errorPage(ctx, http.StatusServiceUnavailable, "Блог временно недоступен")
		return
	}
	page, err := h.Blog.ListPosts(ctx.Request.Context(), queryInt(ctx, "page", 1), cms.DefaultPageSize)
	if err != nil {
		logrus.Warnf("blog page: %v", err)
		h.errorPage(ctx, http.StatusBadGateway, "Блог временно недоступен")
		return
	}

	ctx.HTML(http.StatusOK, "blog.html", h.page("Блог", gin.H{
		"page":    page,
		"hasPrev": page.Page > 1,
		"hasNext": page.Page*page.Limit < page.Total,
		"prev":    page.Page - 1,
		"next":    page.Page + 1,
	}))
}

func (h *Handler) GetBlogPostPage(ctx *gin.Context) {
	if h.Blog == nil {
		h.errorPage(ctx, http.StatusServiceUnavailable, "Блог временно недоступен")
		return
	}
	post, err := h.Blog.PostBySlug(ctx.Request.Context(), ctx.Param("slug"))
	if err != nil {
		if errors.Is(err, cms.ErrPostNotFound) {
			h.errorPage(ctx, http.StatusNotFound, "Запись не найдена")
			return
		}
		logrus.Warnf("blog post page: %v", err)
		h.errorPage(ctx, http.StatusBadGateway, "Блог временно недоступен")
		return
	}

	ctx.HTML(http.StatusOK, "post.html", h.page(post.Title, gin.H{
		"post": post,
		"body": cms.PlainText(post.Body),
	}))
}
