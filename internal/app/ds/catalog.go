package ds

import (
	"time"

	"gorm.io/datatypes"
)

type PriceType string

const (
	PriceTypeOneTime   PriceType = "ONE_TIME"
	PriceTypeRecurring PriceType = "RECURRING"
	PriceTypeCustom    PriceType = "CUSTOM"
)

type AddOnPricingType string

const (
	AddOnPricingFixed      AddOnPricingType = "FIXED"
	AddOnPricingPercentage AddOnPricingType = "PERCENTAGE"
)

// Категория услуг (разработка, аналитика, поддержка ...)
type ServiceCategory struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(100);not null" json:"name"`
	Slug        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Description string    `gorm:"type:text" json:"description"`
	SortOrder   int       `gorm:"default:0" json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Services []Service `gorm:"foreignKey:CategoryID" json:"services,omitempty"`
}

// Услуга каталога. Цены - в центах USD.
type Service struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CategoryID      *uint          `gorm:"index" json:"category_id"`
	Name            string         `gorm:"type:varchar(150);not null" json:"name"`
	Slug            string         `gorm:"type:varchar(150);uniqueIndex;not null" json:"slug"`
	Description     string         `gorm:"type:text" json:"description"`
	PriceType       PriceType      `gorm:"type:varchar(20);not null;default:'ONE_TIME'" json:"price_type"`
	BasePrice       int64          `gorm:"not null;default:0" json:"base_price"`
	BillingInterval string         `gorm:"type:varchar(10)" json:"billing_interval,omitempty"` // month, year - только для RECURRING
	StripePriceID   string         `gorm:"type:varchar(64)" json:"stripe_price_id,omitempty"`
	Features        datatypes.JSON `json:"features,omitempty"`
	IsActive        bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	Category *ServiceCategory `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	AddOns   []ServiceAddOn   `gorm:"foreignKey:ServiceID" json:"add_ons,omitempty"`
}

// Дополнение к услуге: фиксированная цена или процент от цены услуги.
type ServiceAddOn struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	ServiceID   uint             `gorm:"not null;index" json:"service_id"`
	Name        string           `gorm:"type:varchar(150);not null" json:"name"`
	Description string           `gorm:"type:text" json:"description"`
	PricingType AddOnPricingType `gorm:"type:varchar(20);not null;default:'FIXED'" json:"pricing_type"`
	Price       int64            `gorm:"not null;default:0" json:"price"`
	Percentage  float64          `gorm:"type:decimal(6,2);not null;default:0" json:"percentage"`
	IsActive    bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
