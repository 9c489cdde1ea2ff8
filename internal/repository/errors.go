package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dhoini/marketplace-payments/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// Коды ошибок PostgreSQL, которые различает репозиторий.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

// storeError приводит ошибку драйвера к таксономии домена.
// sql.ErrNoRows становится NotFoundError, остальное становится ErrTransientStore.
func storeError(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFoundError(entity, id)
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrDuplicate) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("repository: %s: %w: %s", op, domain.ErrInvalidInput, pgErr.Detail)
		case pgUniqueViolation, pgSerializationFail, pgDeadlockDetected:
			return fmt.Errorf("repository: %s: %w: %w", op, domain.ErrTransientStore, err)
		}
	}
	return fmt.Errorf("repository: %s: %w: %w", op, domain.ErrTransientStore, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
