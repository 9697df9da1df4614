package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/ignite/leadtrack/internal/service/tracking"
)

const (
	codeForeignKeyViolation = pq.ErrorCode("23503")
	codeInvalidText         = pq.ErrorCode("22P02")
)

// classify wraps a driver error with the tracking sentinel it maps to:
// a foreign key violation on token_id is an unknown token, connection and
// resource failures are an unavailable store.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeForeignKeyViolation, pqErr.Code == codeInvalidText:
			return fmt.Errorf("%s: %w", op, tracking.ErrUnknownToken)
		case unavailableClass(pqErr.Code.Class()):
			return fmt.Errorf("%s: %w: %w", op, tracking.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, tracking.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unavailableClass covers connection exceptions (08), insufficient
// resources (53), operator intervention (57) and system errors (58).
func unavailableClass(c pq.ErrorClass) bool {
	switch c {
	case "08", "53", "57", "58":
		return true
	}
	return false
}
