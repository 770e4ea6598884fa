package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

type sqlxHandle interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// querier adapts *sqlx.DB and *sqlx.Tx to Querier.
type querier struct {
	h sqlxHandle
}

func (q querier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.h.GetContext(ctx, dest, q.h.Rebind(query), args...)
}

func (q querier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.h.SelectContext(ctx, dest, q.h.Rebind(query), args...)
}

func (q querier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.h.ExecContext(ctx, q.h.Rebind(query), args...)
}

func (q querier) Rebind(query string) string { return q.h.Rebind(query) }

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports a duplicate key error from either driver and the key name when known.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// ExtractDuplicateKeyName parses duplicate key name from MySQL error message.
func ExtractDuplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}
