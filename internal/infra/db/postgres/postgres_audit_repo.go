package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.AuditRepository = (*PostgresAuditRepo)(nil)

type PostgresAuditRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditRepo(pool *pgxpool.Pool) *PostgresAuditRepo {
	return &PostgresAuditRepo{pool: pool}
}

func (r *PostgresAuditRepo) Save(ctx context.Context, tx repository.Tx, a *model.AdminAction) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
INSERT INTO admin_audit (id, actor, action, detail, allowed, affected, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.Actor, a.Action, a.Detail, a.Allowed, a.Affected, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.AdminAction, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
SELECT id, actor, action, detail, allowed, affected, created_at
  FROM admin_audit ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AdminAction
	for rows.Next() {
		var a model.AdminAction
		if err := rows.Scan(&a.ID, &a.Actor, &a.Action, &a.Detail, &a.Allowed, &a.Affected, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
