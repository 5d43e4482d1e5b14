package repository

import (
	"context"
	"time"

	"github.com/brightlane/portal/internal/app/ds"

	"gorm.io/gorm/clause"
)

// RecordWebhookEvent сохраняет входящее событие. duplicate=true, если событие уже успешно обработано.
// Событие, чья прошлая обработка упала, возвращается повторно для новой попытки.
func (r *Repository) RecordWebhookEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (*ds.WebhookEvent, bool, error) {
	event := ds.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         string(payload),
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &event, false, nil
	}

	var existing ds.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, existing.ProcessedAt != nil, nil
}

// FinishWebhookEvent отмечает результат обработки события
func (r *Repository) FinishWebhookEvent(ctx context.Context, id uint, procErr error) error {
	updates := map[string]interface{}{}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
		updates["processed_at"] = nil
	} else {
		updates["processing_error"] = ""
		updates["processed_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Model(&ds.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
