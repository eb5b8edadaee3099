package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque storage transaction handle. Its concrete type is
// infra-defined (pgx.Tx for Postgres).
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX interface{}

// TransactionManager runs fn inside one storage transaction. fn's error rolls
// the transaction back; a nil error commits it.
//
// Repositories receive the handle as tx and must accept NoTX.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
