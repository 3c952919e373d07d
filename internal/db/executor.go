package db

import (
	"context"
	"database/sql"

	"dbmeta/internal/cache"
)

// Executor opens cache sessions on a connection pool. Each session pins one
// pooled connection until it is closed.
type Executor struct {
	db *sql.DB
}

// NewExecutor returns an executor over db.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Open(ctx context.Context) (cache.Session, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
