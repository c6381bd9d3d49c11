package pool

import (
	"context"
	"fmt"
	"time"

	"dbhub/internal/config"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresAdapter executes SQL against PostgreSQL through a pgx native pool.
type PostgresAdapter struct {
	adapterCore
	cfg  config.PostgresConfig
	pool *pgxpool.Pool
}

func newPostgresAdapter(cfg config.PostgresConfig, core adapterCore) *PostgresAdapter {
	return &PostgresAdapter{adapterCore: core, cfg: cfg}
}

// Initialize opens the pool and runs the startup probe.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	const op = "postgres.initialize"
	a.setState(stateConnecting)

	pc, err := pgxpool.ParseConfig(a.cfg.DSN())
	if err != nil {
		a.setState(stateFailed)
		return newConfigurationError(op, "invalid connection parameters", err)
	}
	pc.MaxConns = a.cfg.MaxConns
	pc.MinConns = a.cfg.MinConns
	pc.MaxConnIdleTime = a.cfg.IdleTimeout
	pc.ConnConfig.ConnectTimeout = a.cfg.ConnectTimeout

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(probeCtx, pc)
	if err != nil {
		a.setState(stateFailed)
		return newDriverError(op, a.backend, err)
	}

	var one int
	if err := pool.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		pool.Close()
		a.setState(stateFailed)
		return newDriverError(op, a.backend, err)
	}

	a.pool = pool
	a.setState(stateReady)
	a.logger.Info("PostgreSQL adapter ready",
		zap.String("host", a.cfg.Host),
		zap.Int32("max_conns", a.cfg.MaxConns))
	return nil
}

// Execute runs a SQL query or command, with optional transaction wrapping
// and retries per opts.
func (a *PostgresAdapter) Execute(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return withRetry(opts.Retries, func() (*QueryResult, error) {
		return a.executeOnce(ctx, query, args, opts)
	})
}

func (a *PostgresAdapter) executeOnce(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	const op = "postgres.execute"
	start := time.Now()

	acquireCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := a.pool.Acquire(acquireCtx)
	if err != nil {
		if isAcquireTimeout(err) {
			err = newConnectionTimeoutError(op, a.backend, err)
		} else {
			err = newDriverError(op, a.backend, err)
		}
		a.report(query, start, "", 0, args, err)
		return nil, err
	}
	defer conn.Release()

	connID := fmt.Sprintf("%d", conn.Conn().PgConn().PID())
	opID := uuid.NewString()
	a.leases.Track(opID, a.backend)
	defer a.leases.Release(opID)

	res, err := a.run(ctx, conn, query, args, opts.UseTransaction)
	if err != nil {
		a.report(query, start, connID, 0, args, err)
		return nil, err
	}

	res.Duration = time.Since(start)
	a.report(query, start, connID, res.RowsAffected, args, nil)
	return res, nil
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (a *PostgresAdapter) run(ctx context.Context, conn *pgxpool.Conn, query string, args []any, useTx bool) (*QueryResult, error) {
	const op = "postgres.execute"

	if !useTx {
		return a.query(ctx, conn, query, args)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, newDriverError(op, a.backend, err)
	}

	res, err := a.query(ctx, tx, query, args)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return nil, newRollbackError(op, a.backend, rbErr, err)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, newDriverError(op, a.backend, err)
	}
	return res, nil
}

func (a *PostgresAdapter) query(ctx context.Context, q pgxQuerier, query string, args []any) (*QueryResult, error) {
	const op = "postgres.execute"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, newDriverError(op, a.backend, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, newDriverError(op, a.backend, err)
		}
		m := make(map[string]any, len(fds))
		for i, fd := range fds {
			m[fd.Name] = vals[i]
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, newDriverError(op, a.backend, err)
	}

	return &QueryResult{
		Rows:         out,
		RowsAffected: rows.CommandTag().RowsAffected(),
	}, nil
}

// PoolStats reads live pool figures from pgxpool.
func (a *PostgresAdapter) PoolStats() PoolStats {
	if a.pool == nil {
		return PoolStats{}
	}
	s := a.pool.Stat()
	return PoolStats{
		TotalConnections:     s.TotalConns(),
		IdleConnections:      s.IdleConns(),
		ActiveConnections:    s.AcquiredConns(),
		ConnectionsCreated:   s.NewConnsCount(),
		ConnectionsDestroyed: s.MaxLifetimeDestroyCount() + s.MaxIdleDestroyCount(),
	}
}

// Close shuts the pool down. pgxpool waits for released connections itself.
// The pool pointer is left intact so concurrent in-flight calls never observe
// nil; new calls are gated by the state machine.
func (a *PostgresAdapter) Close(ctx context.Context) error {
	if !a.state.CompareAndSwap(stateReady, stateUninitialized) {
		return nil
	}
	a.pool.Close()
	return nil
}
