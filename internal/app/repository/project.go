package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/pricing"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTotalBelowPaid = errors.New("итог КП меньше уже оплаченной суммы")

// QuoteItem - услуга, выбранная клиентом, с ID дополнений
type QuoteItem struct {
	ServiceID   uint
	CustomPrice *int64
	AddOnIDs    []uint
}

type ContactInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProjectMetadata лежит в projects.metadata
type ProjectMetadata struct {
	Contact *ContactInfo       `json:"contact,omitempty"`
	Quote   *pricing.Breakdown `json:"quote,omitempty"`
}

func DecodeProjectMetadata(raw datatypes.JSON) ProjectMetadata {
	var meta ProjectMetadata
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta
}

func (m ProjectMetadata) encode() (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

type ProjectFilter struct {
	UserID *uint
	Status string
}

// BuildSelections загружает услуги и дополнения из каталога и собирает вход для pricing.Quote.
// Неактивные услуги и дополнения считаются несуществующими.
func (r *Repository) BuildSelections(ctx context.Context, items []QuoteItem) ([]pricing.Selection, error) {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ServiceID)
	}

	services, err := r.GetActiveServices(ctx, ids)
	if err != nil {
		return nil, err
	}

	selections := make([]pricing.Selection, 0, len(items))
	for _, item := range items {
		service, ok := services[item.ServiceID]
		if !ok {
			return nil, fmt.Errorf("%w: id=%d", ErrServiceNotFound, item.ServiceID)
		}

		addOns := make(map[uint]ds.ServiceAddOn, len(service.AddOns))
		for _, a := range service.AddOns {
			addOns[a.ID] = a
		}

		sel := pricing.Selection{Service: service, CustomPrice: item.CustomPrice}
		for _, addOnID := range item.AddOnIDs {
			addOn, ok := addOns[addOnID]
			if !ok {
				return nil, fmt.Errorf("%w: id=%d", ErrAddOnNotFound, addOnID)
			}
			sel.AddOns = append(sel.AddOns, addOn)
		}
		selections = append(selections, sel)
	}
	return selections, nil
}

// CreateProject сохраняет проект и снимки цен услуг и дополнений из разбивки КП
func (r *Repository) CreateProject(ctx context.Context, project *ds.Project, breakdown pricing.Breakdown, contact *ContactInfo) error {
	meta, err := ProjectMetadata{Contact: contact, Quote: &breakdown}.encode()
	if err != nil {
		return err
	}
	project.Metadata = meta
	project.TotalAmount = breakdown.Total
	project.PaidAmount = 0

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Services", "AddOns", "Payments", "User").Create(project).Error; err != nil {
			return err
		}

		for _, line := range breakdown.Lines {
			ps := ds.ProjectService{
				ProjectID:   project.ID,
				ServiceID:   line.ServiceID,
				CustomPrice: line.Price,
			}
			if err := tx.Omit("Service").Create(&ps).Error; err != nil {
				return err
			}
			for _, a := range line.AddOns {
				pa := ds.ProjectAddOn{
					ProjectID:        project.ID,
					ProjectServiceID: ps.ID,
					AddOnID:          a.AddOnID,
					Price:            a.Price,
				}
				if err := tx.Omit("AddOn").Create(&pa).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *Repository) GetProject(ctx context.Context, id uint) (*ds.Project, error) {
	var project ds.Project
	err := r.db.WithContext(ctx).
		Preload("Services.Service").
		Preload("AddOns.AddOn").
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		First(&project, id).Error
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return &project, nil
}

func (r *Repository) ListProjects(ctx context.Context, filter ProjectFilter) ([]ds.Project, error) {
	var projects []ds.Project
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if err := query.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// TransitionProject переводит проект в следующий статус, проверяя граф переходов.
func (r *Repository) TransitionProject(ctx context.Context, id uint, next ds.ProjectStatus) (*ds.Project, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project ds.Project
		if err := tx.First(&project, id).Error; err != nil {
			return notFound(err, ErrProjectNotFound)
		}
		return transition(tx, &project, next)
	})
	if err != nil {
		return nil, err
	}
	return r.GetProject(ctx, id)
}

func transition(tx *gorm.DB, project *ds.Project, next ds.ProjectStatus) error {
	if !project.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, project.Status, next)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": next}
	switch next {
	case ds.ProjectInProgress:
		if project.StartDate == nil {
			updates["start_date"] = now
		}
	case ds.ProjectCompleted:
		updates["completed_at"] = now
	}

	// условие по старому статусу защищает от гонки двух переходов
	res := tx.Model(&ds.Project{}).
		Where("id = ? AND status = ?", project.ID, project.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: статус изменился", ErrInvalidTransition)
	}
	project.Status = next
	return nil
}

// RepriceProject выставляет свои цены услугам проекта и пересчитывает процентные дополнения и итог.
func (r *Repository) RepriceProject(ctx context.Context, id uint, prices map[uint]int64) (*ds.Project, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project ds.Project
		err := tx.Preload("Services.Service").Preload("AddOns.AddOn").First(&project, id).Error
		if err != nil {
			return notFound(err, ErrProjectNotFound)
		}
		if project.Status != ds.ProjectQuoteRequested && project.Status != ds.ProjectQuoteSent {
			return ErrQuoteLocked
		}

		known := make(map[uint]bool, len(project.Services))
		for _, ps := range project.Services {
			known[ps.ServiceID] = true
		}
		for serviceID, price := range prices {
			if !known[serviceID] {
				return fmt.Errorf("%w: id=%d", ErrServiceNotFound, serviceID)
			}
			if price < 0 {
				return pricing.ErrNegativePrice
			}
		}

		// уже оплаченные дополнения сохраняют цену, по которой их купили
		var purchased []uint
		err = tx.Model(&ds.Payment{}).
			Where("project_id = ? AND type = ? AND status = ? AND add_on_id IS NOT NULL", project.ID, ds.PaymentAddOn, ds.PaymentSucceeded).
			Pluck("add_on_id", &purchased).Error
		if err != nil {
			return err
		}
		paidAddOns := make(map[uint]bool, len(purchased))
		for _, addOnID := range purchased {
			paidAddOns[addOnID] = true
		}

		breakdown := pricing.Breakdown{}
		for _, ps := range project.Services {
			price := ps.CustomPrice
			if p, ok := prices[ps.ServiceID]; ok {
				price = p
			}
			if price != ps.CustomPrice {
				if err := tx.Model(&ds.ProjectService{}).Where("id = ?", ps.ID).Update("custom_price", price).Error; err != nil {
					return err
				}
			}

			line := pricing.Line{ServiceID: ps.ServiceID, Name: ps.Service.Name, Price: price, Subtotal: price}
			for _, pa := range project.AddOns {
				if pa.ProjectServiceID != ps.ID {
					continue
				}
				addOnPrice := pa.Price
				if !paidAddOns[pa.AddOnID] {
					addOnPrice, err = pricing.AddOnPrice(pa.AddOn, price)
					if err != nil {
						return err
					}
				}
				if addOnPrice != pa.Price {
					if err := tx.Model(&ds.ProjectAddOn{}).Where("id = ?", pa.ID).Update("price", addOnPrice).Error; err != nil {
						return err
					}
				}
				line.AddOns = append(line.AddOns, pricing.AddOnLine{AddOnID: pa.AddOnID, Name: pa.AddOn.Name, Price: addOnPrice})
				line.Subtotal += addOnPrice
			}
			breakdown.Lines = append(breakdown.Lines, line)
			breakdown.Total += line.Subtotal
		}

		if breakdown.Total < project.PaidAmount {
			return ErrTotalBelowPaid
		}

		meta := DecodeProjectMetadata(project.Metadata)
		meta.Quote = &breakdown
		encoded, err := meta.encode()
		if err != nil {
			return err
		}

		return tx.Model(&ds.Project{}).Where("id = ?", project.ID).Updates(map[string]interface{}{
			"total_amount": breakdown.Total,
			"metadata":     encoded,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetProject(ctx, id)
}

// FindProjectService ищет услугу проекта, к которой относится дополнение каталога
func (r *Repository) FindProjectService(ctx context.Context, projectID, serviceID uint) (*ds.ProjectService, error) {
	var ps ds.ProjectService
	err := r.db.WithContext(ctx).Where("project_id = ? AND service_id = ?", projectID, serviceID).First(&ps).Error
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &ps, nil
}

func (r *Repository) HasProjectAddOn(ctx context.Context, projectServiceID, addOnID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ds.ProjectAddOn{}).
		Where("project_service_id = ? AND add_on_id = ?", projectServiceID, addOnID).
		Count(&count).Error
	return count > 0, err
}

// ListProjectIDs нужен утилите reconcile
func (r *Repository) ListProjectIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&ds.Project{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}
