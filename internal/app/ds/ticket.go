package ds

import "time"

type TicketStatus string

const (
	TicketOpen            TicketStatus = "OPEN"
	TicketInProgress      TicketStatus = "IN_PROGRESS"
	TicketWaitingOnClient TicketStatus = "WAITING_ON_CLIENT"
	TicketResolved        TicketStatus = "RESOLVED"
	TicketClosed          TicketStatus = "CLOSED"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketWaitingOnClient, TicketResolved, TicketClosed:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityMedium TicketPriority = "MEDIUM"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TicketUpdateType string

const (
	UpdateComment        TicketUpdateType = "COMMENT"
	UpdateStatusChange   TicketUpdateType = "STATUS_CHANGE"
	UpdateAssignment     TicketUpdateType = "ASSIGNMENT"
	UpdatePriorityChange TicketUpdateType = "PRIORITY_CHANGE"
)

type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatorID   uint           `gorm:"not null;index" json:"creator_id"`
	AssigneeID  *uint          `gorm:"index" json:"assignee_id,omitempty"`
	ProjectID   *uint          `gorm:"index" json:"project_id,omitempty"`
	Title       string         `gorm:"type:varchar(200);not null" json:"title"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Status      TicketStatus   `gorm:"type:varchar(20);not null;default:'OPEN';index" json:"status"`
	Priority    TicketPriority `gorm:"type:varchar(10);not null;default:'MEDIUM';index" json:"priority"`
	Category    string         `gorm:"type:varchar(50)" json:"category,omitempty"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Creator     User           `gorm:"foreignKey:CreatorID" json:"creator"`
	Assignee    *User          `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Updates     []TicketUpdate `gorm:"foreignKey:TicketID" json:"updates,omitempty"`
	Attachments []Attachment   `gorm:"foreignKey:TicketID" json:"attachments,omitempty"`
}

// Запись в ленте тикета. Только добавляется, никогда не редактируется.
type TicketUpdate struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	TicketID   uint             `gorm:"not null;index" json:"ticket_id"`
	AuthorID   uint             `gorm:"not null;index" json:"author_id"`
	Type       TicketUpdateType `gorm:"type:varchar(20);not null" json:"type"`
	Content    string           `gorm:"type:text" json:"content"`
	OldValue   string           `gorm:"type:varchar(100)" json:"old_value,omitempty"`
	NewValue   string           `gorm:"type:varchar(100)" json:"new_value,omitempty"`
	IsInternal bool             `gorm:"not null;default:false" json:"is_internal"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`

	Author User `gorm:"foreignKey:AuthorID" json:"author"`
}

type Attachment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TicketID       uint      `gorm:"not null;index" json:"ticket_id"`
	TicketUpdateID *uint     `gorm:"index" json:"ticket_update_id,omitempty"`
	UploaderID     uint      `gorm:"not null" json:"uploader_id"`
	FileName       string    `gorm:"type:varchar(255);not null" json:"file_name"`
	ObjectKey      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"-"`
	ContentType    string    `gorm:"type:varchar(100)" json:"content_type"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
}
