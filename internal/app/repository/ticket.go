package repository

import (
	"context"
	"time"

	"github.com/brightlane/portal/internal/app/ds"

	"gorm.io/gorm"
)

type TicketFilter struct {
	CreatorID  *uint
	AssigneeID *uint
	Status     string
	Priority   string
}

func (r *Repository) CreateTicket(ctx context.Context, ticket *ds.Ticket) error {
	return r.db.WithContext(ctx).Omit("Creator", "Assignee", "Updates", "Attachments").Create(ticket).Error
}

// GetTicket загружает тикет с лентой. Внутренние заметки отдаются только если includeInternal.
func (r *Repository) GetTicket(ctx context.Context, id uint, includeInternal bool) (*ds.Ticket, error) {
	var ticket ds.Ticket
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Assignee").
		Preload("Updates", func(db *gorm.DB) *gorm.DB {
			if !includeInternal {
				db = db.Where("is_internal = ?", false)
			}
			return db.Order("created_at, id")
		}).
		Preload("Updates.Author").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			if !includeInternal {
				db = db.Where("ticket_update_id IS NULL OR ticket_update_id NOT IN (?)",
					r.db.Model(&ds.TicketUpdate{}).Select("id").Where("is_internal = ?", true))
			}
			return db.Order("created_at")
		}).
		First(&ticket, id).Error
	if err != nil {
		return nil, notFound(err, ErrTicketNotFound)
	}
	return &ticket, nil
}

func (r *Repository) ListTickets(ctx context.Context, filter TicketFilter) ([]ds.Ticket, error) {
	var tickets []ds.Ticket
	query := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Assignee").
		Order("updated_at DESC")

	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *filter.AssigneeID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}

	if err := query.Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

// AddComment добавляет комментарий. reopen переводит тикет из WAITING_ON_CLIENT обратно в OPEN.
func (r *Repository) AddComment(ctx context.Context, ticketID, authorID uint, content string, internal, reopen bool) (*ds.TicketUpdate, error) {
	update := ds.TicketUpdate{
		TicketID:   ticketID,
		AuthorID:   authorID,
		Type:       ds.UpdateComment,
		Content:    content,
		IsInternal: internal,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket ds.Ticket
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFound(err, ErrTicketNotFound)
		}
		if err := tx.Omit("Author").Create(&update).Error; err != nil {
			return err
		}

		if reopen && ticket.Status == ds.TicketWaitingOnClient {
			return changeStatus(tx, &ticket, authorID, ds.TicketOpen)
		}
		// поднимаем тикет в списке
		return tx.Model(&ds.Ticket{}).Where("id = ?", ticketID).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, err
	}
	return &update, nil
}

func (r *Repository) ChangeTicketStatus(ctx context.Context, ticketID, authorID uint, status ds.TicketStatus) (*ds.Ticket, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket ds.Ticket
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFound(err, ErrTicketNotFound)
		}
		if ticket.Status == status {
			return nil
		}
		return changeStatus(tx, &ticket, authorID, status)
	})
	if err != nil {
		return nil, err
	}
	return r.GetTicket(ctx, ticketID, true)
}

func changeStatus(tx *gorm.DB, ticket *ds.Ticket, authorID uint, status ds.TicketStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == ds.TicketClosed || status == ds.TicketResolved {
		updates["closed_at"] = time.Now().UTC()
	} else {
		updates["closed_at"] = nil
	}
	if err := tx.Model(&ds.Ticket{}).Where("id = ?", ticket.ID).Updates(updates).Error; err != nil {
		return err
	}

	entry := ds.TicketUpdate{
		TicketID: ticket.ID,
		AuthorID: authorID,
		Type:     ds.UpdateStatusChange,
		OldValue: string(ticket.Status),
		NewValue: string(status),
	}
	ticket.Status = status
	return tx.Omit("Author").Create(&entry).Error
}

func (r *Repository) ChangeTicketPriority(ctx context.Context, ticketID, authorID uint, priority ds.TicketPriority) (*ds.Ticket, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket ds.Ticket
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFound(err, ErrTicketNotFound)
		}
		if ticket.Priority == priority {
			return nil
		}
		if err := tx.Model(&ds.Ticket{}).Where("id = ?", ticketID).Update("priority", priority).Error; err != nil {
			return err
		}
		entry := ds.TicketUpdate{
			TicketID: ticketID,
			AuthorID: authorID,
			Type:     ds.UpdatePriorityChange,
			OldValue: string(ticket.Priority),
			NewValue: string(priority),
		}
		return tx.Omit("Author").Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetTicket(ctx, ticketID, true)
}

// AssignTicket назначает исполнителя; nil снимает назначение
func (r *Repository) AssignTicket(ctx context.Context, ticketID, authorID uint, assignee *ds.User) (*ds.Ticket, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket ds.Ticket
		if err := tx.Preload("Assignee").First(&ticket, ticketID).Error; err != nil {
			return notFound(err, ErrTicketNotFound)
		}

		var newID *uint
		newValue := ""
		if assignee != nil {
			newID = &assignee.ID
			newValue = assignee.FullName()
		}
		oldValue := ""
		if ticket.Assignee != nil {
			oldValue = ticket.Assignee.FullName()
		}

		if err := tx.Model(&ds.Ticket{}).Where("id = ?", ticketID).Update("assignee_id", newID).Error; err != nil {
			return err
		}
		entry := ds.TicketUpdate{
			TicketID: ticketID,
			AuthorID: authorID,
			Type:     ds.UpdateAssignment,
			OldValue: oldValue,
			NewValue: newValue,
		}
		return tx.Omit("Author").Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetTicket(ctx, ticketID, true)
}

// ============ Вложения ============

func (r *Repository) CreateAttachment(ctx context.Context, attachment *ds.Attachment) error {
	return r.db.WithContext(ctx).Create(attachment).Error
}

func (r *Repository) GetAttachment(ctx context.Context, id uint) (*ds.Attachment, error) {
	var attachment ds.Attachment
	if err := r.db.WithContext(ctx).First(&attachment, id).Error; err != nil {
		return nil, notFound(err, ErrAttachmentNotFound)
	}
	return &attachment, nil
}

func (r *Repository) DeleteAttachment(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&ds.Attachment{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

// GetTicketUpdate возвращает запись ленты, только если она относится к тикету
func (r *Repository) GetTicketUpdate(ctx context.Context, ticketID, updateID uint) (*ds.TicketUpdate, error) {
	var update ds.TicketUpdate
	err := r.db.WithContext(ctx).Where("id = ? AND ticket_id = ?", updateID, ticketID).First(&update).Error
	if err != nil {
		return nil, notFound(err, ErrTicketUpdateNotFound)
	}
	return &update, nil
}

func (r *Repository) GetTicketBrief(ctx context.Context, id uint) (*ds.Ticket, error) {
	var ticket ds.Ticket
	if err := r.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		return nil, notFound(err, ErrTicketNotFound)
	}
	return &ticket, nil
}

// ProjectBelongsTo проверяет, что проект принадлежит пользователю
func (r *Repository) ProjectBelongsTo(ctx context.Context, projectID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ds.Project{}).Where("id = ? AND user_id = ?", projectID, userID).Count(&count).Error
	return count > 0, err
}
