package lending

import (
	"context"
	"math/big"

	"peerlend/native/bank"
)

// TokenGateway moves tokens on behalf of the ledger. Transfer pushes from the
// ledger's custody account; TransferFrom pulls between arbitrary accounts.
// Each call either fully succeeds or returns an error and changes nothing.
//
// Snapshot/RevertToSnapshot form a journal: the engine snapshots before an
// operation and reverts every transfer made since if the operation aborts.
//
// Calls back into the engine are refused with ErrReentrant only when they
// carry the ctx handed to the gateway. A callback made on a fresh context
// blocks on the engine mutex until the outer operation returns, so a
// gateway must never wait on such a call.
type TokenGateway interface {
	Transfer(ctx context.Context, token, to [20]byte, amount *big.Int) error
	TransferFrom(ctx context.Context, token, from, to [20]byte, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// GatewayCommitter is implemented by gateways whose balances persist next to
// the ledger. The engine places PendingBalances in the ChangeSet handed to
// Store.Apply and calls BalancesCommitted once that batch is written, so
// ledger records and balances land together or not at all.
type GatewayCommitter interface {
	PendingBalances() []bank.Balance
	BalancesCommitted()
}

type inflightKey struct{}

// withInflight marks ctx as belonging to an in-progress operation of e.
func withInflight(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, inflightKey{}, e)
}

func isInflight(ctx context.Context, e *Engine) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(inflightKey{}).(*Engine)
	return owner == e
}
