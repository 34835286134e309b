package lending

import (
	"context"
	"fmt"
	"math/big"

	"peerlend/core/events"
)

// Borrow originates one loan per request. Requests run in order against the
// staged state, so an earlier draw reduces the balance a later one sees; any
// failure aborts the whole batch.
func (e *Engine) Borrow(ctx context.Context, caller [20]byte, requests []BorrowRequest) ([]uint64, error) {
	var ids []uint64
	err := e.execute(ctx, "borrow", true, func(tx *txn) error {
		ids = make([]uint64, 0, len(requests))
		for i, req := range requests {
			id, err := tx.borrow(caller, req)
			if err != nil {
				return fmt.Errorf("borrow request %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (tx *txn) borrow(caller [20]byte, req BorrowRequest) (uint64, error) {
	if err := checkAmount("debt", req.Debt); err != nil {
		return 0, err
	}
	if err := checkAmount("collateral", req.Collateral); err != nil {
		return 0, err
	}
	pool, err := tx.pool(req.PoolID)
	if err != nil {
		return 0, err
	}
	if err := checkOrigination(pool, req.Debt, req.Collateral); err != nil {
		return 0, err
	}
	if err := tx.debit(pool, req.Debt); err != nil {
		return 0, err
	}
	tx.lend(pool, req.Debt)

	loan := &Loan{
		Lender:          pool.Lender,
		Borrower:        caller,
		LoanToken:       pool.LoanToken,
		CollateralToken: pool.CollateralToken,
		Debt:            cloneBigInt(req.Debt),
		Collateral:      cloneBigInt(req.Collateral),
		InterestRate:    pool.InterestRate,
		StartTimestamp:  tx.now,
		Auction:         InactiveAuction(),
		AuctionLength:   pool.AuctionLength,
		Status:          LoanActive,
	}
	if err := tx.pull(pool.CollateralToken, caller, req.Collateral); err != nil {
		return 0, err
	}
	if err := tx.push(pool.LoanToken, caller, req.Debt); err != nil {
		return 0, err
	}
	id, err := tx.appendLoan(loan)
	if err != nil {
		return 0, err
	}
	tx.emit(events.LoanBorrowed{
		LoanID:     id,
		PoolID:     req.PoolID,
		Borrower:   caller,
		Lender:     pool.Lender,
		Debt:       cloneBigInt(req.Debt),
		Collateral: cloneBigInt(req.Collateral),
	})
	return id, nil
}

// checkOrigination applies the size and ratio bounds shared by borrow and
// refinance.
func checkOrigination(pool *Pool, debt, collateral *big.Int) error {
	if debt.Cmp(pool.MinLoanSize) < 0 {
		return ErrLoanTooSmall
	}
	if debt.Cmp(pool.PoolBalance) > 0 {
		return ErrLoanTooLarge
	}
	if collateral.Sign() == 0 {
		return ErrZeroCollateral
	}
	if ratioExceeds(debt, collateral, pool.MaxLoanRatio) {
		return ErrRatioTooHigh
	}
	return nil
}

// Repay settles each loan: the payer covers principal and lender interest
// into the lender's pool and the protocol fee to the fee receiver, and the
// borrower gets the collateral back. Anyone may repay any loan.
func (e *Engine) Repay(ctx context.Context, caller [20]byte, loanIDs []uint64) error {
	return e.execute(ctx, "repay", true, func(tx *txn) error {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		for _, id := range loanIDs {
			if err := tx.repay(caller, id, cfg); err != nil {
				return fmt.Errorf("repay loan %d: %w", id, err)
			}
		}
		return nil
	})
}

func (tx *txn) repay(caller [20]byte, id uint64, cfg *FeeConfig) error {
	loan, err := tx.loan(id)
	if err != nil {
		return err
	}
	pool, err := tx.pool(loan.PoolID())
	if err != nil {
		return err
	}
	settlement := settle(loan, cfg.FeeBps, tx.now)
	owed := settlement.LenderOwed()

	if err := tx.pull(loan.LoanToken, caller, owed); err != nil {
		return err
	}
	if err := tx.move(loan.LoanToken, caller, cfg.Receiver, settlement.ProtocolFee); err != nil {
		return err
	}
	if err := tx.push(loan.CollateralToken, loan.Borrower, loan.Collateral); err != nil {
		return err
	}
	tx.credit(pool, owed)
	tx.unlend(pool, loan.Debt)
	tx.closeLoan(id)

	tx.emit(events.LoanRepaid{
		LoanID:         id,
		Payer:          caller,
		Borrower:       loan.Borrower,
		Lender:         loan.Lender,
		Debt:           settlement.Debt,
		LenderInterest: settlement.LenderInterest,
		ProtocolFee:    settlement.ProtocolFee,
		Collateral:     cloneBigInt(loan.Collateral),
	})
	tx.emit(events.PoolBalanceUpdated{PoolID: loan.PoolID(), NewBalance: cloneBigInt(pool.PoolBalance)})
	return nil
}
