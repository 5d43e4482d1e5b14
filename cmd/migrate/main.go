package main

import (
	"context"
	"encoding/json"
	"flag"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/dsn"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	seed := flag.Bool("seed", true, "заполнить каталог, если он пуст")
	flag.Parse()

	// Загрузка переменных окружения из .env файла
	_ = godotenv.Load()

	dsnStr := dsn.FromEnv()
	if dsnStr == "" {
		log.Fatal("DSN string is empty. Check your .env file")
	}

	db, err := gorm.Open(postgres.Open(dsnStr), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Info("Connected to database successfully")

	if err := ds.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Info("Database migration completed successfully")

	if !*seed {
		return
	}
	if err := seedCatalog(context.Background(), repository.NewFromDB(db)); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}
}

type seedService struct {
	service  ds.Service
	features []string
	addOns   []ds.ServiceAddOn
}

// seedCatalog создает стартовый каталог, только если услуг ещё нет
func seedCatalog(ctx context.Context, repo *repository.Repository) error {
	count, err := repo.CountServices(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Infof("catalog already has %d services, seed skipped", count)
		return nil
	}

	catalog := []struct {
		category ds.ServiceCategory
		services []seedService
	}{
		{ds.ServiceCategory{Name: "Web Development", Slug: "web-development", SortOrder: 1}, []seedService{
			{
				service:  ds.Service{Name: "Landing Page", Slug: "landing-page", PriceType: ds.PriceTypeOneTime, BasePrice: 150000},
				features: []string{"Responsive layout", "Contact form", "Basic SEO"},
				addOns: []ds.ServiceAddOn{
					{Name: "Rush delivery", PricingType: ds.AddOnPricingPercentage, Percentage: 25},
					{Name: "Copywriting", PricingType: ds.AddOnPricingFixed, Price: 40000},
				},
			},
			{
				service:  ds.Service{Name: "Web Application", Slug: "web-application", PriceType: ds.PriceTypeCustom},
				features: []string{"Discovery workshop", "Custom backend", "Admin panel"},
			},
		}},
		{ds.ServiceCategory{Name: "Data Analytics", Slug: "data-analytics", SortOrder: 2}, []seedService{
			{
				service:  ds.Service{Name: "Analytics Dashboard", Slug: "analytics-dashboard", PriceType: ds.PriceTypeOneTime, BasePrice: 300000},
				features: []string{"Data source integration", "Interactive charts"},
				addOns: []ds.ServiceAddOn{
					{Name: "Extra data source", PricingType: ds.AddOnPricingFixed, Price: 50000},
				},
			},
		}},
		{ds.ServiceCategory{Name: "Support", Slug: "support", SortOrder: 3}, []seedService{
			{
				service:  ds.Service{Name: "Maintenance Plan", Slug: "maintenance-plan", PriceType: ds.PriceTypeRecurring, BasePrice: 20000, BillingInterval: "month"},
				features: []string{"Security updates", "Uptime monitoring", "2 hours of changes"},
			},
		}},
	}

	for _, entry := range catalog {
		category := entry.category
		if err := repo.CreateCategory(ctx, &category); err != nil {
			return err
		}
		for _, s := range entry.services {
			service := s.service
			service.CategoryID = &category.ID
			service.IsActive = true
			if len(s.features) > 0 {
				raw, err := json.Marshal(s.features)
				if err != nil {
					return err
				}
				service.Features = datatypes.JSON(raw)
			}
			if err := repo.CreateService(ctx, &service); err != nil {
				return err
			}
			for _, addOn := range s.addOns {
				addOn.ServiceID = service.ID
				addOn.IsActive = true
				if err := repo.CreateAddOn(ctx, &addOn); err != nil {
					return err
				}
			}
			log.Infof("seeded service %s", service.Slug)
		}
	}
	return nil
}
