package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/storage"
)

// wrapDBError wraps a database error with operation context. It converts
// sql.ErrNoRows to storage.ErrNotFound and tags everything else as a
// retryable storage.ErrStorage so callers can branch with errors.Is.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, storage.ErrStorage, err)
}

// isUniqueConstraint reports a UNIQUE or PRIMARY KEY constraint
// violation. The driver does not expose a typed error for this.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
