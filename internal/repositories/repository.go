package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/balsam/pkg/database"
)

// Repository provides common database access
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the transaction carried by ctx, or the pool when there is none
func (r *Repository) DB(ctx context.Context) database.Querier {
	return database.Conn(ctx, r.db)
}

// WithinTx runs fn in one transaction. Repository calls made with fn's context join it.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, r.db, fn)
}
