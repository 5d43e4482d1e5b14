package clerk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/repository"
	"github.com/brightlane/portal/internal/app/role"

	"github.com/sirupsen/logrus"
	svix "github.com/svix/svix-webhooks/go"
)

var ErrInvalidSignature = errors.New("неверная подпись вебхука Clerk")

// Сессионные токены Clerk живут минуту, но отзыв держим с запасом
const defaultRevocationTTL = 24 * time.Hour

type Event struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type UserData struct {
	ID                    string                 `json:"id"`
	FirstName             string                 `json:"first_name"`
	LastName              string                 `json:"last_name"`
	ImageURL              string                 `json:"image_url"`
	PrimaryEmailAddressID string                 `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress         `json:"email_addresses"`
	PublicMetadata        map[string]interface{} `json:"public_metadata"`
	Deleted               bool                   `json:"deleted"`
}

func (u UserData) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// Role - роль из public_metadata.role, если она задана и известна
func (u UserData) Role() (role.Role, bool) {
	raw, ok := u.PublicMetadata["role"].(string)
	if !ok {
		return "", false
	}
	return role.Parse(raw)
}

type SessionData struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	ExpireAt int64  `json:"expire_at"` // миллисекунды
}

type Store interface {
	UpsertClerkUser(ctx context.Context, in ds.User, newRole *role.Role) (*ds.User, error)
	SoftDeleteClerkUser(ctx context.Context, clerkID string) error
	RecordWebhookEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (*ds.WebhookEvent, bool, error)
	FinishWebhookEvent(ctx context.Context, id uint, procErr error) error
}

type SessionRevoker interface {
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Syncer принимает вебхуки Clerk (через Svix) и поддерживает локальное зеркало пользователей.
type Syncer struct {
	wh       *svix.Webhook
	store    Store
	sessions SessionRevoker
	now      func() time.Time
}

func NewSyncer(secret string, store Store, sessions SessionRevoker) (*Syncer, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("svix webhook: %w", err)
	}
	return &Syncer{wh: wh, store: store, sessions: sessions, now: time.Now}, nil
}

// ProcessWebhook проверяет подпись и применяет событие ровно один раз (по svix-id).
func (s *Syncer) ProcessWebhook(ctx context.Context, payload []byte, headers http.Header) (duplicate bool, err error) {
	if err := s.wh.Verify(payload, headers); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, fmt.Errorf("decode clerk event: %w", err)
	}

	eventID := headers.Get("svix-id")
	record, duplicate, err := s.store.RecordWebhookEvent(ctx, ds.ProviderClerk, eventID, event.Type, payload)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	if duplicate {
		return true, nil
	}

	procErr := s.HandleEvent(ctx, event)
	if err := s.store.FinishWebhookEvent(ctx, record.ID, procErr); err != nil {
		logrus.Errorf("finish clerk event %s: %v", eventID, err)
	}
	return false, procErr
}

func (s *Syncer) HandleEvent(ctx context.Context, event Event) error {
	log := logrus.WithFields(logrus.Fields{"provider": ds.ProviderClerk, "event_type": event.Type})

	switch event.Type {
	case "user.created", "user.updated":
		var data UserData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		var newRole *role.Role
		if r, ok := data.Role(); ok {
			newRole = &r
		}
		user, err := s.store.UpsertClerkUser(ctx, ds.User{
			ClerkID:   data.ID,
			Email:     data.PrimaryEmail(),
			FirstName: data.FirstName,
			LastName:  data.LastName,
			ImageURL:  data.ImageURL,
		}, newRole)
		if err != nil {
			return err
		}
		log.Infof("user %s synced (id=%d, role=%s)", data.ID, user.ID, user.Role)
		return nil

	case "user.deleted":
		var data UserData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		err := s.store.SoftDeleteClerkUser(ctx, data.ID)
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Warnf("user %s not found, nothing to delete", data.ID)
			return nil
		}
		return err

	case "session.revoked", "session.ended", "session.removed":
		var data SessionData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if s.sessions == nil {
			log.Warn("session store not configured, revocation skipped")
			return nil
		}
		ttl := defaultRevocationTTL
		if data.ExpireAt > 0 {
			if left := time.UnixMilli(data.ExpireAt).Sub(s.now()); left > 0 && left < ttl {
				ttl = left
			}
		}
		return s.sessions.RevokeSession(ctx, data.ID, ttl)

	default:
		log.Debug("clerk event ignored")
		return nil
	}
}
