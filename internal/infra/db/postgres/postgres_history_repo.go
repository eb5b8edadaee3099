package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.SubscriptionHistoryRepository = (*PostgresHistoryRepo)(nil)

type PostgresHistoryRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresHistoryRepo(pool *pgxpool.Pool) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{pool: pool}
}

func (r *PostgresHistoryRepo) Save(ctx context.Context, tx repository.Tx, h *model.SubscriptionHistory) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
INSERT INTO subscription_history (id, phone, external_id, status, created_at, archived_at)
VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
		h.ID, h.Phone, h.ExternalID, string(h.Status), h.CreatedAt, h.ArchivedAt)
	if err != nil {
		return fmt.Errorf("archive subscription: %w", err)
	}
	return nil
}

func (r *PostgresHistoryRepo) ListByPhone(ctx context.Context, tx repository.Tx, phone string) ([]*model.SubscriptionHistory, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
SELECT id, phone, external_id, status, created_at, archived_at
  FROM subscription_history WHERE phone=$1 ORDER BY archived_at DESC`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SubscriptionHistory
	for rows.Next() {
		var h model.SubscriptionHistory
		var status string
		if err := rows.Scan(&h.ID, &h.Phone, &h.ExternalID, &status, &h.CreatedAt, &h.ArchivedAt); err != nil {
			return nil, err
		}
		h.Status = model.SubscriptionStatus(status)
		out = append(out, &h)
	}
	return out, rows.Err()
}
