package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

const (
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeLockNotAvailable     = "55P03"
)

// classify maps driver errors onto the model's error kinds. op names the
// failed operation in the message.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeExclusionViolation:
			return fmt.Errorf("%s: %w", op, model.ErrSlotUnavailable)
		case codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled, codeLockNotAvailable:
			return model.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.Transient(op, err)
	case pgconn.Timeout(err), pgconn.SafeToRetry(err), errors.As(err, &connErr):
		return model.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
