// Package backend adapts the node's local relational database behind
// a pooled session interface exposing
// begin/prepare/commit/rollback/execute/query, concretely implemented
// against PostgreSQL via github.com/jackc/pgx/v4 and pgxpool.
package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

// Row is one result row from a query, field order preserved.
type Row []interface{}

// Backend is the narrow interface the control plane consumes; the
// relational engine itself is reached only through this boundary.
type Backend interface {
	Begin(ctx context.Context) (Session, error)
	PoolHealth(ctx context.Context) bool
	Close()
}

// Session is one checked-out connection bound to a single statement's
// lifetime.
type Session interface {
	Execute(ctx context.Context, sql string) (int64, error)
	Query(ctx context.Context, sql string) ([]Row, []string, error)
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool is the pgx-backed Backend implementation. Acquiring a session
// blocks up to configs.PoolAcquireTimeout, then fails.
type Pool struct {
	pool *pgxpool.Pool
}

// Open connects to dsn with a bounded pool, default size
// configs.MaxPoolSize.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int32(configs.MaxPoolSize)
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() {
	p.pool.Close()
}

func (p *Pool) PoolHealth(ctx context.Context) bool {
	return p.pool.Ping(ctx) == nil
}

// Begin acquires a connection and opens a transaction on it. The
// connection stays pinned to the returned session until Commit or
// Rollback releases it back to the pool, so a prepared-but-undecided
// write counts against pool capacity.
func (p *Pool) Begin(ctx context.Context) (Session, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, configs.PoolAcquireTimeout)
	defer cancel()

	tx, err := p.pool.BeginTx(acquireCtx, pgx.TxOptions{})
	if err != nil {
		return nil, message.NewError(message.BackendError, err.Error())
	}
	return &pgxSession{tx: tx}, nil
}

type pgxSession struct {
	tx       pgx.Tx
	prepared bool
}

func (s *pgxSession) Execute(ctx context.Context, sql string) (int64, error) {
	tag, err := s.tx.Exec(ctx, sql)
	if err != nil {
		return 0, message.NewError(message.BackendError, err.Error())
	}
	return tag.RowsAffected(), nil
}

func (s *pgxSession) Query(ctx context.Context, sql string) ([]Row, []string, error) {
	rows, err := s.tx.Query(ctx, sql)
	if err != nil {
		return nil, nil, message.NewError(message.BackendError, err.Error())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f.Name)
	}

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, message.NewError(message.BackendError, err.Error())
		}
		out = append(out, Row(vals))
	}
	if rows.Err() != nil {
		return nil, nil, message.NewError(message.BackendError, rows.Err().Error())
	}
	return out, names, nil
}

// Prepare is emulated because native XA support varies across
// engines: the statement already ran inside an open transaction (via
// Execute/Query), so Prepare only checks that the session holds an
// open transaction, marks it prepared, and does not commit. It does not
// contact the database. PostgreSQL's own PREPARE
// TRANSACTION/COMMIT PREPARED is deliberately not used — the Backend
// interface cannot assume two-phase support in the engine.
func (s *pgxSession) Prepare(ctx context.Context) error {
	if s.tx == nil {
		return message.NewError(message.BackendError, "no open transaction to prepare")
	}
	s.prepared = true
	return nil
}

func (s *pgxSession) Commit(ctx context.Context) error {
	if !s.prepared {
		return message.NewError(message.BackendError, "commit requested before prepare")
	}
	if err := s.tx.Commit(ctx); err != nil {
		return message.NewError(message.BackendError, err.Error())
	}
	return nil
}

func (s *pgxSession) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return message.NewError(message.BackendError, err.Error())
	}
	return nil
}

// String renders a Row the way a client reply wants it.
func (r Row) String() string {
	return fmt.Sprint([]interface{}(r))
}
