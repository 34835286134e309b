package lending

import (
	"context"
	"fmt"
	"math/big"

	"peerlend/core/events"
)

// Refinance moves each of the caller's loans to another pool with new debt
// and collateral. The old lender is paid principal plus interest, the fee
// receiver its fee, and the borrower settles the difference in either
// direction for both debt and collateral.
func (e *Engine) Refinance(ctx context.Context, caller [20]byte, requests []RefinanceRequest) error {
	return e.execute(ctx, "refinance", true, func(tx *txn) error {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		for _, req := range requests {
			if err := tx.refinance(caller, req, cfg); err != nil {
				return fmt.Errorf("refinance loan %d: %w", req.LoanID, err)
			}
		}
		return nil
	})
}

func (tx *txn) refinance(caller [20]byte, req RefinanceRequest, cfg *FeeConfig) error {
	if err := checkAmount("debt", req.Debt); err != nil {
		return err
	}
	if err := checkAmount("collateral", req.Collateral); err != nil {
		return err
	}
	loan, err := tx.loan(req.LoanID)
	if err != nil {
		return err
	}
	if loan.Borrower != caller {
		return ErrUnauthorized
	}
	target, err := tx.pool(req.PoolID)
	if err != nil {
		return err
	}
	if target.LoanToken != loan.LoanToken || target.CollateralToken != loan.CollateralToken {
		return ErrTokenMismatch
	}
	if err := checkOrigination(target, req.Debt, req.Collateral); err != nil {
		return err
	}
	old, err := tx.pool(loan.PoolID())
	if err != nil {
		return err
	}

	settlement := settle(loan, cfg.FeeBps, tx.now)
	debtToPay := settlement.Total()

	if err := tx.debit(target, req.Debt); err != nil {
		return err
	}
	tx.lend(target, req.Debt)
	tx.credit(old, settlement.LenderOwed())
	tx.unlend(old, loan.Debt)

	switch diff := new(big.Int).Sub(debtToPay, req.Debt); diff.Sign() {
	case 1:
		if err := tx.pull(loan.LoanToken, caller, diff); err != nil {
			return err
		}
	case -1:
		if err := tx.push(loan.LoanToken, caller, diff.Neg(diff)); err != nil {
			return err
		}
	}
	if err := tx.push(loan.LoanToken, cfg.Receiver, settlement.ProtocolFee); err != nil {
		return err
	}
	switch diff := new(big.Int).Sub(req.Collateral, loan.Collateral); diff.Sign() {
	case 1:
		if err := tx.pull(loan.CollateralToken, caller, diff); err != nil {
			return err
		}
	case -1:
		if err := tx.push(loan.CollateralToken, caller, diff.Neg(diff)); err != nil {
			return err
		}
	}

	loan.Lender = target.Lender
	loan.InterestRate = target.InterestRate
	loan.Debt = cloneBigInt(req.Debt)
	loan.Collateral = cloneBigInt(req.Collateral)
	loan.StartTimestamp = tx.now
	loan.Auction = InactiveAuction()
	loan.AuctionLength = target.AuctionLength

	tx.emit(events.LoanRefinanced{
		LoanID:     req.LoanID,
		PoolID:     req.PoolID,
		Borrower:   caller,
		Lender:     loan.Lender,
		Debt:       cloneBigInt(loan.Debt),
		Collateral: cloneBigInt(loan.Collateral),
	})
	return nil
}
