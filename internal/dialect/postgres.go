package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/sqlbulk/internal/shape"
)

// SQLSTATE codes treated as transient write conflicts.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresDialect targets PostgreSQL through the pgx database/sql driver.
// CopyFrom uses the COPY protocol on the underlying pgx connection.
type PostgresDialect struct{}

// Postgres returns the PostgreSQL dialect.
func Postgres() *PostgresDialect {
	return &PostgresDialect{}
}

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (d *PostgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d *PostgresDialect) LimitOffset(take, skip int) string {
	var clause string
	if take > 0 {
		clause += fmt.Sprintf(" LIMIT %d", take)
	}
	if skip > 0 {
		clause += fmt.Sprintf(" OFFSET %d", skip)
	}
	return clause
}

func (d *PostgresDialect) ClearTable(quoted string) string {
	return "TRUNCATE TABLE " + quoted
}

func (d *PostgresDialect) ColumnType(k shape.Kind, nullable bool) (string, error) {
	var typ string
	switch k {
	case shape.KindBool:
		typ = "boolean"
	case shape.KindInt8, shape.KindInt16:
		typ = "smallint"
	case shape.KindInt32:
		typ = "integer"
	case shape.KindInt64:
		typ = "bigint"
	case shape.KindFloat32:
		typ = "real"
	case shape.KindFloat64:
		typ = "double precision"
	case shape.KindText:
		return "text NULL", nil
	case shape.KindTime:
		typ = "timestamptz"
	case shape.KindUUID:
		typ = "uuid"
	case shape.KindBytes:
		typ = "bytea"
	default:
		return "", fmt.Errorf("postgres: no column type for kind %s", k)
	}
	return withNullability(typ, nullable), nil
}

func (d *PostgresDialect) CopyFrom(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var copied int64
	err := conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection %T is not a pgx connection", driverConn)
		}
		n, err := pc.Conn().CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
		copied = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres copy into %s: %w", table, err)
	}
	return copied, nil
}

// Classify treats deadlocks and serialization failures as transient.
func (d *PostgresDialect) Classify(err error) Class {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return Transient
		}
	}
	return Fatal
}
