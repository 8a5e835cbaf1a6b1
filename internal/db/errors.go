package db

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"

	"repo-rag/internal/models"
)

// sqlState extracts the SQLSTATE code from either driver's error type.
func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func retryableState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case code == "40001", code == "40P01", code == "57P01":
		return true
	}
	return false
}

// classify wraps err as a StorageError, marking connection loss, serialization
// failures and deadlocks retryable. A nil err stays nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || retryableState(sqlState(err)) {
		return models.NewRetryableError(models.ErrStorage, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.NewRetryableError(models.ErrStorage, op, err)
	}
	return models.NewError(models.ErrStorage, op, err)
}
