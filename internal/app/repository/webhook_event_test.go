package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/brightlane/portal/internal/app/ds"
)

func TestRecordWebhookEventIdempotent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	event, dup, err := r.RecordWebhookEvent(ctx, ds.ProviderStripe, "evt_1", "checkout.session.completed", []byte(`{}`))
	if err != nil || dup {
		t.Fatalf("first record: dup=%v err=%v", dup, err)
	}

	// обработка упала: повтор должен пройти заново
	if err := r.FinishWebhookEvent(ctx, event.ID, errors.New("boom")); err != nil {
		t.Fatalf("finish: %v", err)
	}
	retry, dup, err := r.RecordWebhookEvent(ctx, ds.ProviderStripe, "evt_1", "checkout.session.completed", []byte(`{}`))
	if err != nil || dup {
		t.Fatalf("retry after failure: dup=%v err=%v", dup, err)
	}
	if retry.ID != event.ID {
		t.Fatalf("retry must reuse the row")
	}

	if err := r.FinishWebhookEvent(ctx, event.ID, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, dup, err = r.RecordWebhookEvent(ctx, ds.ProviderStripe, "evt_1", "checkout.session.completed", []byte(`{}`))
	if err != nil || !dup {
		t.Fatalf("processed event must be a duplicate: dup=%v err=%v", dup, err)
	}

	// тот же id у другого провайдера - другое событие
	_, dup, err = r.RecordWebhookEvent(ctx, ds.ProviderClerk, "evt_1", "user.created", []byte(`{}`))
	if err != nil || dup {
		t.Fatalf("other provider: dup=%v err=%v", dup, err)
	}
}
