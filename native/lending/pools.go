package lending

import (
	"context"
	"fmt"
	"math/big"

	"peerlend/core/events"
)

func validateTerms(terms PoolTerms) error {
	if err := checkAmount("minLoanSize", terms.MinLoanSize); err != nil {
		return err
	}
	if err := checkAmount("poolBalance", terms.PoolBalance); err != nil {
		return err
	}
	if err := checkAmount("maxLoanRatio", terms.MaxLoanRatio); err != nil {
		return err
	}
	switch {
	case terms.MinLoanSize.Sign() == 0:
		return fmt.Errorf("%w: minLoanSize must be positive", ErrConfigInvalid)
	case terms.MaxLoanRatio.Sign() == 0:
		return fmt.Errorf("%w: maxLoanRatio must be positive", ErrConfigInvalid)
	case terms.AuctionLength == 0:
		return fmt.Errorf("%w: auctionLength must be positive", ErrConfigInvalid)
	case terms.AuctionLength > MaxAuctionLength:
		return fmt.Errorf("%w: auctionLength above %d", ErrConfigInvalid, MaxAuctionLength)
	case terms.InterestRate > MaxInterestRate:
		return fmt.Errorf("%w: interestRate above %d", ErrConfigInvalid, MaxInterestRate)
	}
	return nil
}

// SetPool creates or replaces the caller's pool for a token pair and moves
// the difference between the requested and stored balance through the
// gateway.
func (e *Engine) SetPool(ctx context.Context, caller [20]byte, terms PoolTerms) (PoolID, error) {
	var id PoolID
	err := e.execute(ctx, "set_pool", true, func(tx *txn) error {
		var err error
		id, err = tx.setPool(caller, terms)
		return err
	})
	return id, err
}

func (tx *txn) setPool(caller [20]byte, terms PoolTerms) (PoolID, error) {
	if caller != terms.Lender {
		return PoolID{}, ErrUnauthorized
	}
	if err := validateTerms(terms); err != nil {
		return PoolID{}, err
	}
	id := PoolIDFor(terms.Lender, terms.LoanToken, terms.CollateralToken)
	existing, found, err := tx.lookupPool(id)
	if err != nil {
		return id, err
	}
	current := big.NewInt(0)
	outstanding := big.NewInt(0)
	if found {
		current = cloneBigInt(existing.PoolBalance)
		outstanding = cloneBigInt(existing.OutstandingLoans)
	}

	switch delta := new(big.Int).Sub(terms.PoolBalance, current); delta.Sign() {
	case 1:
		if err := tx.pull(terms.LoanToken, caller, delta); err != nil {
			return id, err
		}
	case -1:
		if err := tx.push(terms.LoanToken, caller, delta.Neg(delta)); err != nil {
			return id, err
		}
	}

	pool := &Pool{
		Lender:           terms.Lender,
		LoanToken:        terms.LoanToken,
		CollateralToken:  terms.CollateralToken,
		MinLoanSize:      cloneBigInt(terms.MinLoanSize),
		PoolBalance:      cloneBigInt(terms.PoolBalance),
		MaxLoanRatio:     cloneBigInt(terms.MaxLoanRatio),
		AuctionLength:    terms.AuctionLength,
		InterestRate:     terms.InterestRate,
		OutstandingLoans: outstanding,
	}
	tx.putPool(id, pool)

	if found {
		tx.emit(poolUpdatedEvent(id, pool))
	} else {
		tx.emit(events.PoolCreated(poolUpdatedEvent(id, pool)))
	}
	tx.emit(events.PoolBalanceUpdated{PoolID: id, NewBalance: cloneBigInt(pool.PoolBalance)})
	return id, nil
}

func (tx *txn) ownedPool(caller [20]byte, id PoolID) (*Pool, error) {
	pool, err := tx.pool(id)
	if err != nil {
		return nil, err
	}
	if pool.Lender != caller {
		return nil, ErrUnauthorized
	}
	return pool, nil
}

// AddToPool pulls amount of the loan token from the owner into the pool.
func (e *Engine) AddToPool(ctx context.Context, caller [20]byte, id PoolID, amount *big.Int) error {
	return e.execute(ctx, "add_to_pool", true, func(tx *txn) error {
		if err := checkAmount("amount", amount); err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
		}
		pool, err := tx.ownedPool(caller, id)
		if err != nil {
			return err
		}
		if err := tx.pull(pool.LoanToken, caller, amount); err != nil {
			return err
		}
		tx.credit(pool, amount)
		tx.emit(events.PoolBalanceUpdated{PoolID: id, NewBalance: cloneBigInt(pool.PoolBalance)})
		return nil
	})
}

// RemoveFromPool returns amount of idle liquidity to the owner.
func (e *Engine) RemoveFromPool(ctx context.Context, caller [20]byte, id PoolID, amount *big.Int) error {
	return e.execute(ctx, "remove_from_pool", true, func(tx *txn) error {
		if err := checkAmount("amount", amount); err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
		}
		pool, err := tx.ownedPool(caller, id)
		if err != nil {
			return err
		}
		if err := tx.debit(pool, amount); err != nil {
			return err
		}
		if err := tx.push(pool.LoanToken, caller, amount); err != nil {
			return err
		}
		tx.emit(events.PoolBalanceUpdated{PoolID: id, NewBalance: cloneBigInt(pool.PoolBalance)})
		return nil
	})
}

// UpdateMaxLoanRatio changes the ratio applied to future originations.
func (e *Engine) UpdateMaxLoanRatio(ctx context.Context, caller [20]byte, id PoolID, ratio *big.Int) error {
	return e.execute(ctx, "update_max_loan_ratio", true, func(tx *txn) error {
		if err := checkAmount("maxLoanRatio", ratio); err != nil {
			return err
		}
		if ratio.Sign() == 0 {
			return fmt.Errorf("%w: maxLoanRatio must be positive", ErrConfigInvalid)
		}
		pool, err := tx.ownedPool(caller, id)
		if err != nil {
			return err
		}
		pool.MaxLoanRatio = cloneBigInt(ratio)
		tx.emit(poolUpdatedEvent(id, pool))
		return nil
	})
}

// UpdateInterestRate changes the rate applied to future originations.
func (e *Engine) UpdateInterestRate(ctx context.Context, caller [20]byte, id PoolID, rate uint64) error {
	return e.execute(ctx, "update_interest_rate", true, func(tx *txn) error {
		if rate > MaxInterestRate {
			return fmt.Errorf("%w: interestRate above %d", ErrConfigInvalid, MaxInterestRate)
		}
		pool, err := tx.ownedPool(caller, id)
		if err != nil {
			return err
		}
		pool.InterestRate = rate
		tx.emit(poolUpdatedEvent(id, pool))
		return nil
	})
}

func poolUpdatedEvent(id PoolID, pool *Pool) events.PoolUpdated {
	return events.PoolUpdated{
		PoolID:          id,
		Lender:          pool.Lender,
		LoanToken:       pool.LoanToken,
		CollateralToken: pool.CollateralToken,
		MinLoanSize:     cloneBigInt(pool.MinLoanSize),
		MaxLoanRatio:    cloneBigInt(pool.MaxLoanRatio),
		AuctionLength:   pool.AuctionLength,
		InterestRate:    pool.InterestRate,
	}
}
