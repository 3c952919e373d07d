package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// Session is one open connection to the remote catalog. *sql.Conn satisfies it.
type Session interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Executor opens sessions against the remote catalog.
type Executor interface {
	Open(ctx context.Context) (Session, error)
}

// Owner is a container object that owns one or more caches.
type Owner interface {
	Executor() Executor
}

// Query is a single parameterized statement.
type Query struct {
	SQL  string
	Args []any
}

// NewQuery is a shorthand for Query{SQL: sql, Args: args}.
func NewQuery(sql string, args ...any) Query {
	return Query{SQL: sql, Args: args}
}

// Run opens a session, executes q and hands every row to fn. The session is
// released on all exit paths. Cancellation is reported as ErrCanceled.
// Caches use it for every population; it is also the way to run one-off
// metadata queries that are not memoized.
func Run(ctx context.Context, exec Executor, q Query, fn func(*Row) error) error {
	if exec == nil {
		return errors.New("cache: owner has no executor")
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	sess, err := exec.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return errors.Wrap(err, "open session")
	}
	defer sess.Close()

	rows, err := sess.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return errors.Wrap(err, "execute query")
	}
	defer rows.Close()

	if err := ForEach(ctx, rows, fn); err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return err
	}
	return nil
}

// population records one load for the observer.
type population struct {
	cache   string
	kind    string
	started time.Time
	rows    int
	obs     Observer
}

func (c *config) begin(kind string) *population {
	return &population{cache: c.name, kind: kind, started: time.Now(), obs: c.observer}
}

func (p *population) done(err error) {
	if p.obs == nil {
		return
	}
	p.obs.Populated(p.cache, p.kind, p.rows, time.Since(p.started), err)
}
