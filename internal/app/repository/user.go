package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/role"

	"gorm.io/gorm"
)

// Методы для пользователей (ORM)

func (r *Repository) GetUserByID(ctx context.Context, id uint) (*ds.User, error) {
	var user ds.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &user, nil
}

func (r *Repository) GetUserByClerkID(ctx context.Context, clerkID string) (*ds.User, error) {
	var user ds.User
	if err := r.db.WithContext(ctx).Where("clerk_id = ?", clerkID).First(&user).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &user, nil
}

// UpsertClerkUser создаёт или обновляет зеркало пользователя Clerk.
// Роль меняется только если передана; удалённый ранее пользователь восстанавливается.
func (r *Repository) UpsertClerkUser(ctx context.Context, in ds.User, newRole *role.Role) (*ds.User, error) {
	var user ds.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Unscoped().Where("clerk_id = ?", in.ClerkID).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = in
			user.Role = role.Client
			if newRole != nil {
				user.Role = *newRole
			}
			return tx.Create(&user).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{
			"email":      in.Email,
			"first_name": in.FirstName,
			"last_name":  in.LastName,
			"image_url":  in.ImageURL,
			"deleted_at": nil,
		}
		if newRole != nil {
			updates["role"] = *newRole
		}
		if err := tx.Unscoped().Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, user.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert clerk user %s: %w", in.ClerkID, err)
	}
	return &user, nil
}

func (r *Repository) SoftDeleteClerkUser(ctx context.Context, clerkID string) error {
	res := r.db.WithContext(ctx).Where("clerk_id = ?", clerkID).Delete(&ds.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context, filterRole string) ([]ds.User, error) {
	var users []ds.User
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if filterRole != "" {
		query = query.Where("role = ?", filterRole)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *Repository) UpdateUserRole(ctx context.Context, id uint, newRole role.Role) (*ds.User, error) {
	res := r.db.WithContext(ctx).Model(&ds.User{}).Where("id = ?", id).Update("role", newRole)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *Repository) SetStripeCustomerID(ctx context.Context, userID uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&ds.User{}).Where("id = ?", userID).Update("stripe_customer_id", customerID).Error
}
