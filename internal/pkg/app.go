package pkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/handler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Handler *handler.Handler

	closers []func() error
}

func NewApp(c *config.Config, r *gin.Engine, h *handler.Handler) *Application {
	return &Application{
		Config:  c,
		Router:  r,
		Handler: h,
	}
}

// OnShutdown регистрирует закрытие внешних клиентов после остановки сервера
func (a *Application) OnShutdown(closers ...func() error) {
	a.closers = append(a.closers, closers...)
}

func (a *Application) RunApp() {
	logrus.Info("Server start up")

	// Регистрируем статические файлы и маршруты сайта
	a.Handler.RegisterStatic(a.Router, a.Config.TemplatesGlob, a.Config.StaticDir)
	a.Handler.RegisterRoutes(a.Router)

	serverAddress := fmt.Sprintf("%s:%d", a.Config.ServiceHost, a.Config.ServicePort)
	srv := &http.Server{
		Addr:    serverAddress,
		Handler: a.Router,
	}

	go func() {
		logrus.Infof("Starting server on %s", serverAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("server shutdown: %v", err)
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logrus.Warnf("close: %v", err)
		}
	}
}
