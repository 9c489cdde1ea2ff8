package repository

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/Dhoini/marketplace-payments/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, domain.ErrNotFound},
		{"not found passes through", domain.NewNotFoundError("subscription", "s1"), domain.ErrNotFound},
		{"invalid state passes through", domain.NewInvalidStateError("s1", domain.SubscriptionStatusCancelled), domain.ErrInvalidState},
		{"duplicate passes through", domain.ErrDuplicate, domain.ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: pgForeignKeyViolation, Detail: "service is missing"}, domain.ErrInvalidInput},
		{"unique violation", &pgconn.PgError{Code: pgUniqueViolation}, domain.ErrTransientStore},
		{"serialization failure", &pgconn.PgError{Code: pgSerializationFail}, domain.ErrTransientStore},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, domain.ErrTransientStore},
		{"other postgres error", &pgconn.PgError{Code: "57014"}, domain.ErrTransientStore},
		{"connection error", errors.New("connection reset by peer"), domain.ErrTransientStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("op", "entity", "id1", tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NoError(t, storeError("op", "entity", "id1", nil))
}

func TestStoreError_KeepsDriverErrorForTransientFailures(t *testing.T) {
	err := storeError("activate subscription", "subscription", "s1", &pgconn.PgError{Code: pgDeadlockDetected})

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.Equal(t, pgDeadlockDetected, pgErr.Code)
	assert.Contains(t, err.Error(), "activate subscription")
}

func TestStoreError_ForeignKeyHidesDriverError(t *testing.T) {
	err := storeError("create reservation", "reservation", "r1", &pgconn.PgError{Code: pgForeignKeyViolation, Detail: "service is missing"})

	var pgErr *pgconn.PgError
	assert.False(t, errors.As(err, &pgErr))
	assert.NotErrorIs(t, err, domain.ErrTransientStore)
	assert.Contains(t, err.Error(), "service is missing")
}
