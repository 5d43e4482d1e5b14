package main

import (
	"github.com/brightlane/portal/internal/api"

	"github.com/sirupsen/logrus"
)

// @title Brightlane Portal API
// @version 1.0
// @description REST API сайта агентства и клиентского кабинета: каталог услуг, КП, проекты, оплата через Stripe, тикеты поддержки.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Токен сессии Clerk в формате "Bearer <token>"
func main() {
	logrus.Info("App start")
	if err := api.StartServer(); err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("App terminated")
}
