package db

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-scheduling/internal/scheduling"
)

// DB is the bun-backed scheduling.Store.
type DB struct {
	Bun *bun.DB
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db}
}

// RunInTx runs fn in a database transaction. Driver errors come back as
// scheduling.ErrNoRows, scheduling.ErrDuplicate or scheduling.ErrTxConflict where they apply.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	rowLocks := d.Bun.Dialect().Name() == dialect.PG
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Tx{tx: tx, rowLocks: rowLocks})
	})
	return translate(err)
}

// Ping is used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}
