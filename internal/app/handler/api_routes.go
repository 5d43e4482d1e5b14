package handler

import (
	"github.com/brightlane/portal/internal/app/middleware"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/gin-gonic/gin"
)

// RegisterAPIRoutes регистрирует все REST API маршруты с авторизацией
func (h *APIHandler) RegisterAPIRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware, authHandler *AuthHandler) {
	// REST API маршруты
	api := router.Group("/api")

	authenticated := authMiddleware.WithAuthCheck()
	admin := authMiddleware.WithAuthCheck(role.Admin)
	staff := authMiddleware.WithAuthCheck(role.Staff...)

	// ============ Каталог - публичный, управление у администратора ============
	categories := api.Group("/categories")
	{
		categories.GET("", h.GetCategories)
		categories.POST("", admin, h.CreateCategory)
		categories.PUT("/:id", admin, h.UpdateCategory)
		categories.DELETE("/:id", admin, h.DeleteCategory)
	}

	services := api.Group("/services")
	{
		services.GET("", authMiddleware.WithOptionalAuth(), h.GetServices)
		services.GET("/:id", authMiddleware.WithOptionalAuth(), h.GetService)

		services.POST("", admin, h.CreateService)
		services.PUT("/:id", admin, h.UpdateService)
		services.DELETE("/:id", admin, h.DeleteService)
		services.POST("/:id/add-ons", admin, h.CreateAddOn)

		services.POST("/:id/subscribe", authenticated, h.Subscribe)
	}

	addOns := api.Group("/add-ons")
	addOns.Use(admin)
	{
		addOns.PUT("/:id", h.UpdateAddOn)
		addOns.DELETE("/:id", h.DeleteAddOn)
	}

	// ============ КП и проекты ============
	quotes := api.Group("/quotes")
	{
		quotes.POST("/preview", h.PreviewQuote)
		quotes.POST("", authenticated, h.CreateQuote)
	}

	projects := api.Group("/projects")
	projects.Use(authenticated)
	{
		projects.GET("", h.GetProjects)
		projects.GET("/:id", h.GetProject)
		projects.POST("", admin, h.CreateProject)
		projects.PUT("/:id/quote", admin, h.RepriceProject)

		// Переходы статусов (права проверяются в обработчике)
		projects.PUT("/:id/send", h.SendQuote)
		projects.PUT("/:id/approve", h.ApproveQuote)
		projects.PUT("/:id/start", h.StartProject)
		projects.PUT("/:id/complete", h.CompleteProject)
		projects.PUT("/:id/cancel", h.CancelProject)

		// Оплата
		projects.POST("/:id/checkout", h.CheckoutProject)
		projects.POST("/:id/add-ons/:addOnId/checkout", h.CheckoutAddOn)
	}

	// ============ Платежи, счета, подписки ============
	api.GET("/payments", authenticated, h.GetPayments)
	api.GET("/invoices", authenticated, h.GetInvoices)

	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(authenticated)
	{
		subscriptions.GET("", h.GetSubscriptions)
		subscriptions.POST("/:id/cancel", h.CancelSubscription)
	}

	// ============ Тикеты ============
	tickets := api.Group("/tickets")
	tickets.Use(authenticated)
	{
		tickets.POST("", h.CreateTicket)
		tickets.GET("", h.GetTickets)
		tickets.GET("/:id", h.GetTicket)
		tickets.POST("/:id/updates", h.AddTicketUpdate)
		tickets.PUT("/:id/status", h.ChangeTicketStatus)
		tickets.PUT("/:id/priority", staff, h.ChangeTicketPriority)
		tickets.PUT("/:id/assign", staff, h.AssignTicket)
		tickets.POST("/:id/attachments", h.UploadAttachment)
	}

	attachments := api.Group("/attachments")
	attachments.Use(authenticated)
	{
		attachments.GET("/:id", h.GetAttachment)
		attachments.DELETE("/:id", h.DeleteAttachment)
	}

	// ============ Пользователи ============
	auth := api.Group("/auth")
	{
		auth.GET("/profile", authenticated, authHandler.GetUserProfile)
		auth.POST("/logout", authenticated, authHandler.LogoutUser)
	}

	users := api.Group("/users")
	users.Use(admin)
	{
		users.GET("", authHandler.GetUsers)
		users.PUT("/:id/role", authHandler.UpdateUserRole)
	}

	// ============ Блог и кабинет ============
	blog := api.Group("/blog")
	{
		blog.GET("/posts", h.GetBlogPosts)
		blog.GET("/posts/:slug", h.GetBlogPost)
		blog.GET("/categories", h.GetBlogCategories)
	}

	api.GET("/dashboard", authenticated, h.GetDashboard)

	// Вебхуки (подпись проверяется в обработчике)
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/stripe", h.StripeWebhook)
		webhooks.POST("/clerk", h.ClerkWebhook)
	}

	// Ping эндпоинт для проверки
	router.GET("/ping", h.Ping)
}
