package ds

import (
	"time"

	"github.com/brightlane/portal/internal/app/role"
	"gorm.io/gorm"
)

// Пользователь - зеркало записи Clerk. Роль хранится локально и используется для проверок доступа.
type User struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ClerkID          string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"clerk_id"`
	Email            string         `gorm:"type:varchar(255);index" json:"email"`
	FirstName        string         `gorm:"type:varchar(100)" json:"first_name"`
	LastName         string         `gorm:"type:varchar(100)" json:"last_name"`
	ImageURL         string         `gorm:"type:varchar(512)" json:"image_url"`
	Role             role.Role      `gorm:"type:varchar(20);not null;default:'CLIENT';index" json:"role"`
	StripeCustomerID *string        `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Email
}
