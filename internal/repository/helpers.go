package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes surfaced to services as sentinel errors.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// Unique indexes whose violations services report with distinct messages.
const (
	ConstraintAccountEmail      = "accounts_category_email_key"
	ConstraintAccountWallet     = "accounts_wallet_address_key"
	ConstraintSubmissionPending = "registry_submissions_one_pending_key"
	ConstraintSubmissionSubject = "registry_submissions_subject_key"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrCheckViolation      = errors.New("check constraint violation")
)

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HandleNotFound processes a database query result, converting sql.ErrNoRows
// to a nil result without error. This is a common pattern for Find* operations
// where a missing row is not an error condition.
//
// Usage:
//
//	var item model.Item
//	err := r.db.GetContext(ctx, &item, query, args...)
//	return HandleNotFound(&item, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

// translateError maps constraint failures reported by Postgres onto the
// package sentinels. The driver error stays in the chain for logging.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %w", ErrUniqueViolation, pqErr)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %w", ErrForeignKeyViolation, pqErr)
	case pqCheckViolation:
		return fmt.Errorf("%w: %w", ErrCheckViolation, pqErr)
	default:
		return err
	}
}

// ConstraintOf returns the constraint named by a Postgres violation anywhere
// in err's chain, or "".
func ConstraintOf(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
