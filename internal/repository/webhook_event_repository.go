package repository

import (
	"context"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const webhookEventColumns = `id, external_id, type, status, resource_id, attempt_count,
       error_message, processed_at, created_at, updated_at`

type postgresWebhookEventRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresWebhookEventRepository журнал событий провайдера в PostgreSQL.
func NewPostgresWebhookEventRepository(db *sqlx.DB, log *logger.Logger) WebhookEventRepository {
	return &postgresWebhookEventRepo{db: db, log: log}
}

// Begin вставляет событие или увеличивает счетчик попыток у существующего.
func (r *postgresWebhookEventRepo) Begin(ctx context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, error) {
	var stored domain.WebhookEvent
	query := `
        INSERT INTO webhook_events (id, external_id, type, status, resource_id, attempt_count)
        VALUES ($1, $2, $3, 'pending', $4, 1)
        ON CONFLICT (external_id) DO UPDATE SET
            attempt_count = webhook_events.attempt_count + 1,
            updated_at = now()
        RETURNING ` + webhookEventColumns
	if err := r.db.GetContext(ctx, &stored, query, ev.ID, ev.ExternalID, ev.Type, ev.ResourceID); err != nil {
		r.log.Errorw("Failed to register webhook event", "error", err, "eventID", ev.ExternalID)
		return nil, storeError("begin webhook event", "webhook event", ev.ExternalID, err)
	}
	return &stored, nil
}

func (r *postgresWebhookEventRepo) MarkProcessed(ctx context.Context, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE webhook_events
        SET status = 'processed', error_message = '', processed_at = now(), updated_at = now()
        WHERE external_id = $1`, externalID)
	return storeError("mark webhook event processed", "webhook event", externalID, err)
}

func (r *postgresWebhookEventRepo) MarkFailed(ctx context.Context, externalID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE webhook_events
        SET status = 'failed', error_message = $2, updated_at = now()
        WHERE external_id = $1`, externalID, reason)
	return storeError("mark webhook event failed", "webhook event", externalID, err)
}
