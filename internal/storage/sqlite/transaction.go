package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loomworks/loom/internal/storage"
)

// dbtx is the querying surface shared by *sql.DB and *sql.Conn. All row
// accessors in this package are written against it so the same code
// serves both the store and its transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// txStore implements storage.Transaction on a dedicated connection with
// an active IMMEDIATE transaction.
type txStore struct {
	conn *sql.Conn
}

var _ storage.Transaction = (*txStore)(nil)

const beginRetryMaxElapsed = 10 * time.Second

// beginImmediate starts an IMMEDIATE transaction, retrying SQLITE_BUSY
// with exponential backoff. IMMEDIATE acquires the write lock up front
// so racing claimants queue here instead of deadlocking mid-transaction.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = beginRetryMaxElapsed
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// RunInTransaction executes fn atomically on a dedicated connection.
//
// Lifecycle:
//  1. Acquire a dedicated connection from the pool
//  2. BEGIN IMMEDIATE with busy retry
//  3. Execute fn with the Transaction interface
//  4. COMMIT on success, ROLLBACK on error or panic
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return wrapDBError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even when ctx is
			// already cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txStore{conn: conn}); err != nil {
		return err // rollback happens in defer
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w: %v", storage.ErrStorage, err)
	}
	committed = true
	return nil
}
