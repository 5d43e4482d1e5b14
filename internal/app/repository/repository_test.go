package repository

import (
	"context"
	"testing"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/role"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// :memory: живёт в пределах одного соединения
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := ds.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewFromDB(db)
}

type fixture struct {
	client  ds.User
	other   ds.User
	admin   ds.User
	support ds.User
	web     ds.Service
	seo     ds.ServiceAddOn
	rush    ds.ServiceAddOn
	hosting ds.Service
}

func seed(t *testing.T, r *Repository) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{
		client:  ds.User{ClerkID: "user_client", Email: "client@example.com", FirstName: "Cleo", Role: role.Client},
		other:   ds.User{ClerkID: "user_other", Email: "other@example.com", Role: role.Client},
		admin:   ds.User{ClerkID: "user_admin", Email: "admin@example.com", Role: role.Admin},
		support: ds.User{ClerkID: "user_support", Email: "support@example.com", FirstName: "Sam", Role: role.Support},
	}
	for _, u := range []*ds.User{&f.client, &f.other, &f.admin, &f.support} {
		if err := r.db.Create(u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	category := ds.ServiceCategory{Name: "Development", Slug: "development"}
	if err := r.CreateCategory(ctx, &category); err != nil {
		t.Fatalf("create category: %v", err)
	}

	f.web = ds.Service{CategoryID: &category.ID, Name: "Website", Slug: "website", PriceType: ds.PriceTypeOneTime, BasePrice: 100000, IsActive: true}
	f.hosting = ds.Service{CategoryID: &category.ID, Name: "Hosting", Slug: "hosting", PriceType: ds.PriceTypeRecurring, BasePrice: 5000, BillingInterval: "month", StripePriceID: "price_hosting", IsActive: true}
	for _, s := range []*ds.Service{&f.web, &f.hosting} {
		if err := r.CreateService(ctx, s); err != nil {
			t.Fatalf("create service: %v", err)
		}
	}

	f.seo = ds.ServiceAddOn{ServiceID: f.web.ID, Name: "SEO", PricingType: ds.AddOnPricingFixed, Price: 20000, IsActive: true}
	f.rush = ds.ServiceAddOn{ServiceID: f.web.ID, Name: "Rush", PricingType: ds.AddOnPricingPercentage, Percentage: 10, IsActive: true}
	for _, a := range []*ds.ServiceAddOn{&f.seo, &f.rush} {
		if err := r.CreateAddOn(ctx, a); err != nil {
			t.Fatalf("create add-on: %v", err)
		}
	}
	return f
}
