package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"whatsapp-voice-subscription/internal/domain/ports/repository"
)

var _ repository.UserLocker = (*AdvisoryLocker)(nil)

// AdvisoryLocker opens a transaction, takes pg_advisory_xact_lock on it and
// hands the transaction to the critical section through the returned context.
// TxManager.WithTx nests inside it, so one pool connection serves the whole
// section and the lock ends with the outer transaction.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

func NewAdvisoryLocker(pool *pgxpool.Pool, logger *zerolog.Logger) *AdvisoryLocker {
	l := logger.With().Str("component", "AdvisoryLocker").Logger()
	return &AdvisoryLocker{pool: pool, log: &l}
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

type heldTxKey struct{}

func withHeldTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, heldTxKey{}, tx)
}

// heldTx returns the lock transaction carried by ctx, if any.
func heldTx(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(heldTxKey{}).(pgx.Tx)
	return tx
}

func (l *AdvisoryLocker) Lock(ctx context.Context, phone string) (context.Context, func() error, error) {
	if tx := heldTx(ctx); tx != nil {
		// already inside a locked section on this context
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64("user:"+phone)); err != nil {
			return nil, nil, fmt.Errorf("advisory lock: %w", err)
		}
		return ctx, func() error { return nil }, nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin lock tx: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64("user:"+phone)); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, nil, fmt.Errorf("advisory lock: %w", err)
	}
	return withHeldTx(ctx, tx), func() error {
		// ctx may already be cancelled; the commit must still run
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tx.Commit(uctx); err != nil {
			l.log.Error().Err(err).Str("phone", phone).Msg("lock tx commit failed")
			_ = tx.Rollback(uctx)
			return fmt.Errorf("commit lock tx: %w", err)
		}
		return nil
	}, nil
}
