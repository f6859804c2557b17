package service

import (
	"errors"

	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/repository"
)

// storageError converts repository failures into application errors.
// Constraint violations become Conflict with msg; anything else is a
// database error whose cause is only logged.
func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrUniqueViolation),
		errors.Is(err, repository.ErrForeignKeyViolation):
		return apperrors.Conflict(msg).WithCause(err)
	case errors.Is(err, repository.ErrCheckViolation):
		return apperrors.ValidationError(msg).WithCause(err)
	default:
		return apperrors.Database(err)
	}
}

// registryError maps registry failures onto the application taxonomy.
func registryError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}

	var regErr *registry.Error
	if !errors.As(err, &regErr) {
		return apperrors.RegistryUnavailable("").WithCause(err)
	}

	switch regErr.Kind {
	case registry.KindRejected:
		return apperrors.RegistryRejected(regErr.Reason).WithCause(err)
	case registry.KindUnauthorized:
		return apperrors.Forbidden(regErr.Reason).WithCause(err)
	default:
		return apperrors.RegistryUnavailable(regErr.Reason).WithCause(err)
	}
}
