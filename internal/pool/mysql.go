package pool

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"dbhub/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MySQLAdapter executes SQL against MySQL/MariaDB through database/sql.
type MySQLAdapter struct {
	adapterCore
	cfg config.MySQLConfig
	db  *sql.DB
}

func newMySQLAdapter(cfg config.MySQLConfig, core adapterCore) *MySQLAdapter {
	return &MySQLAdapter{adapterCore: core, cfg: cfg}
}

func (a *MySQLAdapter) dsn() string {
	mc := mysql.NewConfig()
	mc.User = a.cfg.User
	mc.Passwd = a.cfg.Password
	mc.Net = "tcp"
	mc.Addr = a.cfg.Addr()
	mc.DBName = a.cfg.Database
	mc.ParseTime = true
	mc.Timeout = a.cfg.ConnectTimeout
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Initialize opens the pool, configures sizing bounds and runs the startup probe.
func (a *MySQLAdapter) Initialize(ctx context.Context) error {
	const op = "mysql.initialize"
	a.setState(stateConnecting)

	db, err := sql.Open("mysql", a.dsn())
	if err != nil {
		a.setState(stateFailed)
		return newConfigurationError(op, "invalid connection parameters", err)
	}
	db.SetMaxOpenConns(a.cfg.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.ConnMaxLifetime)

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	var one int
	if err := db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		_ = db.Close()
		a.setState(stateFailed)
		return newDriverError(op, a.backend, err)
	}

	a.db = db
	a.setState(stateReady)
	a.logger.Info("MySQL adapter ready",
		zap.String("addr", a.cfg.Addr()),
		zap.Int("max_open_conns", a.cfg.MaxOpenConns))
	return nil
}

// Execute runs a SQL query or command, with optional transaction wrapping
// and retries per opts.
func (a *MySQLAdapter) Execute(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return withRetry(opts.Retries, func() (*QueryResult, error) {
		return a.executeOnce(ctx, query, args, opts)
	})
}

func (a *MySQLAdapter) executeOnce(ctx context.Context, query string, args []any, opts ExecOptions) (*QueryResult, error) {
	const op = "mysql.execute"
	start := time.Now()

	acquireCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := a.db.Conn(acquireCtx)
	if err != nil {
		if isAcquireTimeout(err) {
			err = newConnectionTimeoutError(op, a.backend, err)
		} else {
			err = newDriverError(op, a.backend, err)
		}
		a.report(query, start, "", 0, args, err)
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()

	opID := uuid.NewString()
	a.leases.Track(opID, a.backend)
	defer a.leases.Release(opID)

	res, err := a.run(ctx, conn, query, args, opts.UseTransaction)
	if err != nil {
		a.report(query, start, "", 0, args, err)
		return nil, err
	}

	res.Duration = time.Since(start)
	a.report(query, start, "", res.RowsAffected, args, nil)
	return res, nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *MySQLAdapter) run(ctx context.Context, conn *sql.Conn, query string, args []any, useTx bool) (*QueryResult, error) {
	const op = "mysql.execute"

	if !useTx {
		return a.query(ctx, conn, query, args)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, newDriverError(op, a.backend, err)
	}

	res, err := a.query(ctx, tx, query, args)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, newRollbackError(op, a.backend, rbErr, err)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, newDriverError(op, a.backend, err)
	}
	return res, nil
}

func (a *MySQLAdapter) query(ctx context.Context, q sqlQuerier, query string, args []any) (*QueryResult, error) {
	const op = "mysql.execute"

	if !isReadQuery(query) {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, newDriverError(op, a.backend, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &QueryResult{RowsAffected: affected}, nil
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newDriverError(op, a.backend, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, newDriverError(op, a.backend, err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newDriverError(op, a.backend, err)
		}
		m := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[col] = string(b)
			} else {
				m[col] = vals[i]
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, newDriverError(op, a.backend, err)
	}

	return &QueryResult{
		Rows:         out,
		RowsAffected: int64(len(out)),
	}, nil
}

// isReadQuery classifies a statement as row-returning.
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

// PoolStats reads live pool figures from database/sql. WaitingClients stays
// zero: database/sql exposes only a cumulative wait count, not live waiters.
func (a *MySQLAdapter) PoolStats() PoolStats {
	if a.db == nil {
		return PoolStats{}
	}
	s := a.db.Stats()
	return PoolStats{
		TotalConnections:     int32(s.OpenConnections),
		IdleConnections:      int32(s.Idle),
		ActiveConnections:    int32(s.InUse),
		ConnectionsDestroyed: s.MaxIdleClosed + s.MaxIdleTimeClosed + s.MaxLifetimeClosed,
	}
}

// Close closes the underlying pool. The db pointer is left intact so
// concurrent in-flight calls never observe nil; new calls are gated by the
// state machine.
func (a *MySQLAdapter) Close(ctx context.Context) error {
	const op = "mysql.close"
	if !a.state.CompareAndSwap(stateReady, stateUninitialized) {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return newDriverError(op, a.backend, err)
	}
	return nil
}
