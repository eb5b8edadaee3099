package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `
  id, phone, name, first_seen_at, last_interaction_at, message_count,
  free_quota, total_used, mode, detail,
  sub_external_id, sub_status, sub_approval_url, sub_created_at, sub_next_billing_at, sub_last_event_at, sub_updated_at,
  referral_code, referred_by, referral_rewarded_count, bonus_until`

// Save upserts by phone. Empty external ids and codes are stored as NULL so
// the unique indexes only cover assigned values.
func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14,$15,$16,$17,NULLIF($18,''),NULLIF($19,''),$20,$21
) ON CONFLICT (phone) DO UPDATE SET
  name=$3, last_interaction_at=$5, message_count=$6,
  free_quota=$7, total_used=$8, mode=$9, detail=$10,
  sub_external_id=NULLIF($11,''), sub_status=$12, sub_approval_url=$13, sub_created_at=$14,
  sub_next_billing_at=$15, sub_last_event_at=$16, sub_updated_at=$17,
  referral_code=NULLIF($18,''), referred_by=NULLIF($19,''), referral_rewarded_count=$20, bonus_until=$21;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	s := u.Subscription
	status := s.Status
	if status == "" {
		status = model.SubscriptionNone
	}
	_, err = exec.Exec(ctx, q,
		u.ID, u.Phone, u.Name, u.FirstSeenAt, u.LastInteractionAt, u.MessageCount,
		u.FreeQuota, u.TotalUsed, string(u.Mode), string(u.Detail),
		s.ExternalID, string(status), s.ApprovalURL, s.CreatedAt, s.NextBillingAt, s.LastEventAt, s.UpdatedAt,
		u.ReferralCode, u.ReferredBy, u.ReferralRewardedCount, u.BonusUntil,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("save user: %w", domain.ErrAlreadyExists)
	}
	return err
}

// FindByPhone locks the row FOR UPDATE when called inside a transaction.
func (r *PostgresUserRepo) FindByPhone(ctx context.Context, tx repository.Tx, phone string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE phone=$1`
	if inTx(tx) {
		q += ` FOR UPDATE`
	}
	return r.findOne(ctx, tx, q, phone)
}

func (r *PostgresUserRepo) FindBySubscriptionID(ctx context.Context, tx repository.Tx, externalID string) (*model.User, error) {
	return r.findOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE sub_external_id=$1`, externalID)
}

func (r *PostgresUserRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.User, error) {
	return r.findOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE referral_code=$1`, code)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.User, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(exec.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return u, err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                          model.User
		mode, detail, status       string
		extID, refCode, referredBy *string
	)
	err := row.Scan(
		&u.ID, &u.Phone, &u.Name, &u.FirstSeenAt, &u.LastInteractionAt, &u.MessageCount,
		&u.FreeQuota, &u.TotalUsed, &mode, &detail,
		&extID, &status, &u.Subscription.ApprovalURL, &u.Subscription.CreatedAt, &u.Subscription.NextBillingAt,
		&u.Subscription.LastEventAt, &u.Subscription.UpdatedAt,
		&refCode, &referredBy, &u.ReferralRewardedCount, &u.BonusUntil,
	)
	if err != nil {
		return nil, err
	}
	u.Mode = model.ResponseMode(mode)
	u.Detail = model.DetailLevel(detail)
	u.Subscription.Status = model.SubscriptionStatus(status)
	u.Subscription.ExternalID = deref(extID)
	u.ReferralCode = deref(refCode)
	u.ReferredBy = deref(referredBy)
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *PostgresUserRepo) CountReferrals(ctx context.Context, tx repository.Tx, referrerPhone string) (int, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referred_by=$1`, referrerPhone).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

func (r *PostgresUserRepo) ResetAllQuotas(ctx context.Context, tx repository.Tx, quota int) (int64, error) {
	if quota < 0 {
		return 0, domain.ErrInvalidArgument
	}
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	tag, err := exec.Exec(ctx, `UPDATE users SET free_quota=$1`, quota)
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresUserRepo) Stats(ctx context.Context, tx repository.Tx, activeSince time.Time) (*model.Stats, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	st := &model.Stats{SubscriptionsByStatus: map[model.SubscriptionStatus]int{}}
	err = exec.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE last_interaction_at >= $1),
       COALESCE(SUM(total_used), 0),
       COUNT(referred_by)
  FROM users`, activeSince).Scan(&st.Users, &st.ActiveSince24h, &st.TotalUsed, &st.ReferralEdges)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}

	rows, err := exec.Query(ctx, `SELECT sub_status, COUNT(*) FROM users GROUP BY sub_status`)
	if err != nil {
		return nil, fmt.Errorf("subscription stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.SubscriptionsByStatus[model.SubscriptionStatus(status)] = n
	}
	return st, rows.Err()
}

func (r *PostgresUserRepo) DeleteAll(ctx context.Context, tx repository.Tx) (int64, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	tag, err := exec.Exec(ctx, `DELETE FROM users`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
