package lending

import (
	"context"
	"fmt"
	"math/big"

	"peerlend/core/events"
)

// txn stages every write of one operation on top of the committed Store.
// Reads hit the overlay first so later batch elements see earlier effects.
// Nothing reaches the Store until the engine commits the ChangeSet.
type txn struct {
	ctx     context.Context
	engine  *Engine
	store   Store
	gateway TokenGateway
	now     uint64

	pools      map[PoolID]*Pool
	loans      map[uint64]*Loan
	loanCount  uint64
	countReady bool
	fee        *FeeConfig
	feeDirty   bool

	events []events.Event
}

func (tx *txn) pool(id PoolID) (*Pool, error) {
	if pool, ok := tx.pools[id]; ok {
		return pool, nil
	}
	pool, ok, err := tx.store.GetPool(id)
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrPoolNotFound
	}
	pool = pool.Clone()
	if pool.OutstandingLoans == nil {
		pool.OutstandingLoans = big.NewInt(0)
	}
	tx.pools[id] = pool
	return pool, nil
}

// lookupPool is pool() that reports absence instead of failing.
func (tx *txn) lookupPool(id PoolID) (*Pool, bool, error) {
	pool, err := tx.pool(id)
	if err == ErrPoolNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

func (tx *txn) putPool(id PoolID, pool *Pool) {
	tx.pools[id] = pool
}

func (tx *txn) count() (uint64, error) {
	if tx.countReady {
		return tx.loanCount, nil
	}
	n, err := tx.store.LoanCount()
	if err != nil {
		return 0, err
	}
	tx.loanCount = n
	tx.countReady = true
	return n, nil
}

// loan returns the staged copy of an active loan.
func (tx *txn) loan(id uint64) (*Loan, error) {
	if loan, ok := tx.loans[id]; ok {
		if !loan.IsActive() {
			return nil, fmt.Errorf("%w: %d closed", ErrLoanNotFound, id)
		}
		return loan, nil
	}
	n, err := tx.count()
	if err != nil {
		return nil, err
	}
	if id >= n {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	loan, ok, err := tx.store.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || !loan.IsActive() {
		return nil, fmt.Errorf("%w: %d closed", ErrLoanNotFound, id)
	}
	loan = loan.Clone()
	tx.loans[id] = loan
	return loan, nil
}

func (tx *txn) appendLoan(loan *Loan) (uint64, error) {
	n, err := tx.count()
	if err != nil {
		return 0, err
	}
	tx.loans[n] = loan
	tx.loanCount = n + 1
	return n, nil
}

func (tx *txn) closeLoan(id uint64) {
	tx.loans[id] = Tombstone()
}

func (tx *txn) feeConfig() (*FeeConfig, error) {
	if tx.fee != nil {
		return tx.fee, nil
	}
	cfg, ok, err := tx.store.GetFeeConfig()
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		cfg = tx.engine.defaults.Clone()
	}
	tx.fee = cfg
	return cfg, nil
}

func (tx *txn) updateFee(mutate func(*FeeConfig)) error {
	cfg, err := tx.feeConfig()
	if err != nil {
		return err
	}
	mutate(cfg)
	tx.feeDirty = true
	return nil
}

// debit removes amount from a pool's idle balance.
func (tx *txn) debit(pool *Pool, amount *big.Int) error {
	if pool.PoolBalance.Cmp(amount) < 0 {
		return ErrInsufficientPoolBalance
	}
	pool.PoolBalance = new(big.Int).Sub(pool.PoolBalance, amount)
	return nil
}

func (tx *txn) credit(pool *Pool, amount *big.Int) {
	pool.PoolBalance = new(big.Int).Add(pool.PoolBalance, amount)
}

func (tx *txn) lend(pool *Pool, amount *big.Int) {
	pool.OutstandingLoans = new(big.Int).Add(pool.OutstandingLoans, amount)
}

// unlend reduces outstanding principal, flooring at zero: capitalised debt on
// a bought loan can exceed what the buyer's pool recorded as lent.
func (tx *txn) unlend(pool *Pool, amount *big.Int) {
	next := new(big.Int).Sub(pool.OutstandingLoans, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	pool.OutstandingLoans = next
}

// pull moves amount of token from an account into custody.
func (tx *txn) pull(token, from [20]byte, amount *big.Int) error {
	return tx.move(token, from, tx.engine.custody, amount)
}

// push pays amount of token out of custody.
func (tx *txn) push(token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := tx.gateway.Transfer(tx.ctx, token, to, cloneBigInt(amount)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// move transfers between two arbitrary accounts.
func (tx *txn) move(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := tx.gateway.TransferFrom(tx.ctx, token, from, to, cloneBigInt(amount)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (tx *txn) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

func (tx *txn) changes() *ChangeSet {
	cs := &ChangeSet{
		Pools: make(map[PoolID]*Pool, len(tx.pools)),
		Loans: make(map[uint64]*Loan, len(tx.loans)),
	}
	for id, pool := range tx.pools {
		cs.Pools[id] = pool
	}
	for id, loan := range tx.loans {
		cs.Loans[id] = loan
	}
	if tx.countReady {
		cs.LoanCount = tx.loanCount
	}
	if tx.feeDirty {
		cs.Fee = tx.fee
	}
	return cs
}
