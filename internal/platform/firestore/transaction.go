package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction. Stock movements and order
// status changes are all expressed as TxFuncs so reads and guarded writes
// commit atomically.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the commit retry attempts.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the transaction, unless the caller's context already
// has a tighter deadline.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction executes fn transactionally on the given client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	txCtx := ctx
	if settings.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, settings.timeout)
			defer cancel()
		}
	}

	var txOpts []firestore.TransactionOption
	if settings.attempts > 0 {
		txOpts = append(txOpts, firestore.MaxAttempts(settings.attempts))
	}

	return WrapError("transaction", client.RunTransaction(txCtx, fn, txOpts...))
}
