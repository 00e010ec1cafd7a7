package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
)

// classifyPostgresError treats lost connections, serialization conflicts and server
// shutdowns as transient. Constraint and syntax errors are permanent.
func classifyPostgresError(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "53300",
			pgErr.Code == "57P01":
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

type runner struct {
	executor *resilience.Executor
}

// run executes fn through the executor when one is configured and marks transient
// failures as domain.ErrTemporary.
func (r runner) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "postgres."+operation, fn, classifyPostgresError)
	} else {
		err = fn(ctx)
	}
	return resilience.WrapTemporary("postgres "+operation, err, classifyPostgresError)
}
