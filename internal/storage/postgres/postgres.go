package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool so stores depend on this package's type.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings. Pool limits may be set in the DSN
// (pool_max_conns etc.); otherwise the audit stores' modest defaults apply.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = "trade-signal-pipeline"
	}
	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = 30 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}

// SQLSTATE codes the stores translate into storage errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeAppendOnly          = "AOW01" // raised by the write-once triggers
)

// pgCode returns the SQLSTATE of err, or "" if err is not a server error.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isDuplicateKeyError(err error) bool { return pgCode(err) == codeUniqueViolation }

func isForeignKeyError(err error) bool { return pgCode(err) == codeForeignKeyViolation }

func isImmutableError(err error) bool { return pgCode(err) == codeAppendOnly }

func isNotFoundError(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
