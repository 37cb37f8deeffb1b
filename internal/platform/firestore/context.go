package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type contextKey string

const transactionContextKey contextKey = "github.com/freshmart/api/internal/platform/firestore/transaction"

// WithTransaction stores the running transaction on the context so repository
// calls made inside a unit of work join it.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transactionContextKey, tx)
}

// TransactionFrom retrieves the transaction previously stored on the context.
func TransactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(transactionContextKey).(*firestore.Transaction)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}
