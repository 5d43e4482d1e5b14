package repository

import (
	"context"

	"github.com/brightlane/portal/internal/app/ds"

	"gorm.io/gorm"
)

// ============ Категории ============

// ListCategories возвращает категории вместе с активными услугами
func (r *Repository) ListCategories(ctx context.Context) ([]ds.ServiceCategory, error) {
	var categories []ds.ServiceCategory
	err := r.db.WithContext(ctx).
		Preload("Services", "is_active = ?", true).
		Preload("Services.AddOns", "is_active = ?", true).
		Order("sort_order, name").
		Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *Repository) CreateCategory(ctx context.Context, category *ds.ServiceCategory) error {
	return r.db.WithContext(ctx).Create(category).Error
}

func (r *Repository) UpdateCategory(ctx context.Context, id uint, updates map[string]interface{}) (*ds.ServiceCategory, error) {
	var category ds.ServiceCategory
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, notFound(err, ErrCategoryNotFound)
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(&category).Updates(updates).Error; err != nil {
			return nil, err
		}
		if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
			return nil, err
		}
	}
	return &category, nil
}

// DeleteCategory удаляет категорию, только если в ней нет активных услуг
func (r *Repository) DeleteCategory(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ds.Service{}).Where("category_id = ? AND is_active = ?", id, true).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrCategoryInUse
		}
		if err := tx.Model(&ds.Service{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&ds.ServiceCategory{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCategoryNotFound
		}
		return nil
	})
}

// ============ Услуги ============

type ServiceFilter struct {
	CategorySlug    string
	PriceType       string
	IncludeInactive bool
}

func (r *Repository) ListServices(ctx context.Context, filter ServiceFilter) ([]ds.Service, error) {
	var services []ds.Service
	query := r.db.WithContext(ctx).
		Preload("Category").
		Preload("AddOns", "is_active = ?", true).
		Order("services.name")

	if !filter.IncludeInactive {
		query = query.Where("services.is_active = ?", true)
	}
	if filter.PriceType != "" {
		query = query.Where("services.price_type = ?", filter.PriceType)
	}
	if filter.CategorySlug != "" {
		query = query.Joins("JOIN service_categories ON service_categories.id = services.category_id").
			Where("service_categories.slug = ?", filter.CategorySlug)
	}

	if err := query.Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

func (r *Repository) GetServiceByID(ctx context.Context, id uint) (*ds.Service, error) {
	var service ds.Service
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("AddOns", "is_active = ?", true).
		First(&service, id).Error
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &service, nil
}

func (r *Repository) GetServiceBySlug(ctx context.Context, slug string) (*ds.Service, error) {
	var service ds.Service
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("AddOns", "is_active = ?", true).
		Where("slug = ? AND is_active = ?", slug, true).
		First(&service).Error
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &service, nil
}

// GetActiveServices загружает активные услуги по списку ID вместе с дополнениями
func (r *Repository) GetActiveServices(ctx context.Context, ids []uint) (map[uint]ds.Service, error) {
	var services []ds.Service
	err := r.db.WithContext(ctx).
		Preload("AddOns", "is_active = ?", true).
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&services).Error
	if err != nil {
		return nil, err
	}

	result := make(map[uint]ds.Service, len(services))
	for _, s := range services {
		result[s.ID] = s
	}
	return result, nil
}

func (r *Repository) CreateService(ctx context.Context, service *ds.Service) error {
	return r.db.WithContext(ctx).Create(service).Error
}

func (r *Repository) UpdateService(ctx context.Context, id uint, updates map[string]interface{}) (*ds.Service, error) {
	if err := r.db.WithContext(ctx).First(&ds.Service{}, id).Error; err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(&ds.Service{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.GetServiceByID(ctx, id)
}

// DeactivateService - логическое удаление: услуга пропадает из каталога, но остаётся в старых проектах
func (r *Repository) DeactivateService(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&ds.Service{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// ============ Дополнения ============

func (r *Repository) GetAddOn(ctx context.Context, id uint) (*ds.ServiceAddOn, error) {
	var addOn ds.ServiceAddOn
	if err := r.db.WithContext(ctx).First(&addOn, id).Error; err != nil {
		return nil, notFound(err, ErrAddOnNotFound)
	}
	return &addOn, nil
}

func (r *Repository) CreateAddOn(ctx context.Context, addOn *ds.ServiceAddOn) error {
	if err := r.db.WithContext(ctx).First(&ds.Service{}, addOn.ServiceID).Error; err != nil {
		return notFound(err, ErrServiceNotFound)
	}
	return r.db.WithContext(ctx).Create(addOn).Error
}

func (r *Repository) UpdateAddOn(ctx context.Context, id uint, updates map[string]interface{}) (*ds.ServiceAddOn, error) {
	if _, err := r.GetAddOn(ctx, id); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(&ds.ServiceAddOn{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.GetAddOn(ctx, id)
}

func (r *Repository) DeactivateAddOn(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&ds.ServiceAddOn{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAddOnNotFound
	}
	return nil
}

// CountServices нужен для сида каталога
func (r *Repository) CountServices(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ds.Service{}).Count(&count).Error
	return count, err
}
