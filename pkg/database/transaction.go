package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Transaction wraps sqlx.Tx. Only the outermost caller (the owner) commits or rolls back;
// nested GetTx calls share the transaction stored on the context.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	owner    bool
	isClosed bool
}

type nestedTx struct {
	*Transaction
}

func (n nestedTx) Commit(context.Context) error   { return nil }
func (n nestedTx) Rollback(context.Context) error { return nil }

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
		owner:  true,
	}
}

func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if ctxTx, ok := ctx.Value(txKey).(*Transaction); ok && ctxTx != nil && ctxTx.IsOpen() {
		return ctx, nestedTx{ctxTx}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil // already committed
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	return nil
}

// Querier runs statements on either the pool or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Conn returns the open transaction stored on ctx, or db when there is none.
func Conn(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(*Transaction); ok && tx != nil && tx.IsOpen() {
		return tx
	}
	return db
}

// WithinTx runs fn with a transaction on its context. The transaction commits when fn
// returns nil and rolls back otherwise. A nested call joins the outer transaction.
func WithinTx(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	txCtx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}
	return tx.Commit(txCtx)
}
