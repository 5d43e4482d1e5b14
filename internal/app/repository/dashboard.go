package repository

import (
	"context"

	"github.com/brightlane/portal/internal/app/ds"

	"gorm.io/gorm"
)

// Dashboard - сводка для главной страницы личного кабинета
type Dashboard struct {
	ProjectsByStatus   map[ds.ProjectStatus]int64 `json:"projects_by_status"`
	OutstandingBalance int64                      `json:"outstanding_balance"`
	OpenTickets        int64                      `json:"open_tickets"`
	UnassignedTickets  int64                      `json:"unassigned_tickets,omitempty"`
	RevenueCollected   int64                      `json:"revenue_collected,omitempty"`
	ActiveClients      int64                      `json:"active_clients,omitempty"`
	RecentPayments     []ds.Payment               `json:"recent_payments"`
}

var openTicketStatuses = []ds.TicketStatus{ds.TicketOpen, ds.TicketInProgress, ds.TicketWaitingOnClient}

// GetDashboard строит сводку. userID=nil - сводка по всем клиентам для сотрудников.
func (r *Repository) GetDashboard(ctx context.Context, userID *uint) (*Dashboard, error) {
	db := r.db.WithContext(ctx)
	scope := func(column string) func(*gorm.DB) *gorm.DB {
		return func(q *gorm.DB) *gorm.DB {
			if userID != nil {
				return q.Where(column+" = ?", *userID)
			}
			return q
		}
	}

	out := &Dashboard{ProjectsByStatus: map[ds.ProjectStatus]int64{}}

	var rows []struct {
		Status ds.ProjectStatus
		Count  int64
	}
	err := db.Model(&ds.Project{}).Scopes(scope("user_id")).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out.ProjectsByStatus[row.Status] = row.Count
	}

	err = db.Model(&ds.Project{}).Scopes(scope("user_id")).
		Where("status NOT IN ? AND total_amount > paid_amount", []ds.ProjectStatus{ds.ProjectCancelled, ds.ProjectQuoteRequested}).
		Select("COALESCE(SUM(total_amount - paid_amount), 0)").
		Scan(&out.OutstandingBalance).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&ds.Ticket{}).Scopes(scope("creator_id")).
		Where("status IN ?", openTicketStatuses).
		Count(&out.OpenTickets).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&ds.Payment{}).Scopes(scope("user_id")).
		Order("created_at DESC").
		Limit(5).
		Find(&out.RecentPayments).Error
	if err != nil {
		return nil, err
	}

	if userID != nil {
		return out, nil
	}

	err = db.Model(&ds.Ticket{}).
		Where("status IN ? AND assignee_id IS NULL", openTicketStatuses).
		Count(&out.UnassignedTickets).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&ds.Payment{}).
		Where("status = ?", ds.PaymentSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&out.RevenueCollected).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&ds.Project{}).
		Where("status IN ?", []ds.ProjectStatus{ds.ProjectQuoteSent, ds.ProjectQuoteApproved, ds.ProjectInProgress}).
		Distinct("user_id").
		Count(&out.ActiveClients).Error
	if err != nil {
		return nil, err
	}

	return out, nil
}
