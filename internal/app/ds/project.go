package ds

import (
	"time"

	"gorm.io/datatypes"
)

type ProjectStatus string

const (
	ProjectQuoteRequested ProjectStatus = "QUOTE_REQUESTED"
	ProjectQuoteSent      ProjectStatus = "QUOTE_SENT"
	ProjectQuoteApproved  ProjectStatus = "QUOTE_APPROVED"
	ProjectInProgress     ProjectStatus = "IN_PROGRESS"
	ProjectCompleted      ProjectStatus = "COMPLETED"
	ProjectCancelled      ProjectStatus = "CANCELLED"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectQuoteRequested: {ProjectQuoteSent, ProjectCancelled},
	ProjectQuoteSent:      {ProjectQuoteApproved, ProjectInProgress, ProjectCancelled},
	ProjectQuoteApproved:  {ProjectInProgress, ProjectCancelled},
	ProjectInProgress:     {ProjectCompleted, ProjectCancelled},
}

// CanTransitionTo сообщает, допустим ли переход статуса проекта.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	for _, allowed := range projectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsQuote - проект ещё на стадии коммерческого предложения
func (s ProjectStatus) IsQuote() bool {
	return s == ProjectQuoteRequested || s == ProjectQuoteSent || s == ProjectQuoteApproved
}

// IsPayable - по проекту можно принимать оплату
func (s ProjectStatus) IsPayable() bool {
	return s == ProjectQuoteSent || s == ProjectQuoteApproved || s == ProjectInProgress
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectQuoteRequested, ProjectQuoteSent, ProjectQuoteApproved, ProjectInProgress, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// Проект (заявка / КП). Суммы в центах.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Title       string         `gorm:"type:varchar(200);not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Status      ProjectStatus  `gorm:"type:varchar(20);not null;default:'QUOTE_REQUESTED';index" json:"status"`
	TotalAmount int64          `gorm:"not null;default:0" json:"total_amount"`
	PaidAmount  int64          `gorm:"not null;default:0" json:"paid_amount"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"` // контакты и разбивка КП
	StartDate   *time.Time     `json:"start_date,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	User     User             `gorm:"foreignKey:UserID" json:"-"`
	Services []ProjectService `gorm:"foreignKey:ProjectID" json:"services,omitempty"`
	AddOns   []ProjectAddOn   `gorm:"foreignKey:ProjectID" json:"add_ons,omitempty"`
	Payments []Payment        `gorm:"foreignKey:ProjectID" json:"payments,omitempty"`
}

// Balance - сколько ещё осталось оплатить
func (p Project) Balance() int64 {
	if p.PaidAmount >= p.TotalAmount {
		return 0
	}
	return p.TotalAmount - p.PaidAmount
}

// DepositAmount - предоплата 50%, округляется вверх до цента
func (p Project) DepositAmount() int64 {
	return (p.TotalAmount + 1) / 2
}

// Выбранная услуга в проекте со снимком цены на момент выбора
type ProjectService struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProjectID   uint      `gorm:"not null;uniqueIndex:idx_project_service" json:"project_id"`
	ServiceID   uint      `gorm:"not null;uniqueIndex:idx_project_service" json:"service_id"`
	CustomPrice int64     `gorm:"not null;default:0" json:"custom_price"`
	Notes       string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Service Service `gorm:"foreignKey:ServiceID" json:"service"`
}

// Выбранное дополнение со снимком рассчитанной цены
type ProjectAddOn struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ProjectID        uint      `gorm:"not null;index" json:"project_id"`
	ProjectServiceID uint      `gorm:"not null;uniqueIndex:idx_project_addon" json:"project_service_id"`
	AddOnID          uint      `gorm:"not null;uniqueIndex:idx_project_addon" json:"add_on_id"`
	Price            int64     `gorm:"not null;default:0" json:"price"`
	CreatedAt        time.Time `json:"created_at"`

	AddOn ServiceAddOn `gorm:"foreignKey:AddOnID" json:"add_on"`
}
