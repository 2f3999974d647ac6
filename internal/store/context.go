package store

import "context"

type txKey struct{}

// NewContext returns a context carrying the transaction handle. WithTx and
// View attach it automatically; callers normally never do this themselves.
func NewContext(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction handle attached to the context, if
// any. Components that must join the enclosing action's transaction (the
// escrow ledger, policy recorders) retrieve it here.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}
