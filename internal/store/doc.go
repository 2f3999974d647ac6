// Package store provides durable storage for payments, policy journal state,
// the escrow ledger, fee accrual, and the instance registry.
//
// It uses SQLite with WAL mode. Every operator action runs inside a single
// transaction obtained via Store.WithTx; the transaction handle travels in
// the context so that the escrow ledger and policy recorders join the same
// transaction and the whole action commits or rolls back as a unit.
package store
