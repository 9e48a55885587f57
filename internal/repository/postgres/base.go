package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBaseRepository creates a new base repository. timeout bounds every
// statement issued outside a transaction and every transaction as a whole.
func NewBaseRepository(db *sqlx.DB, timeout time.Duration) BaseRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return BaseRepository{db: db, timeout: timeout}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// txFromContext returns the transaction ctx carries, if any.
func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// conn returns the transaction carried by ctx or the pool.
func (r *BaseRepository) conn(ctx context.Context) sqlx.ExtContext {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// bound applies the statement timeout unless ctx already runs inside a
// transaction, which carries its own deadline.
func (r *BaseRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if txFromContext(ctx) != nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *BaseRepository) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return sqlx.GetContext(ctx, r.conn(ctx), dest, query, args...)
}

func (r *BaseRepository) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return sqlx.SelectContext(ctx, r.conn(ctx), dest, query, args...)
}

func (r *BaseRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, nil, fn)
}

// WithSerializableTx executes fn under SERIALIZABLE isolation.
func (r *BaseRepository) WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (r *BaseRepository) withTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) (err error) {
	// Nested calls join the outer transaction.
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return mapError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}
