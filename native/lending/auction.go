package lending

import (
	"context"
	"fmt"
	"math/big"

	"peerlend/core/events"
)

// StartAuction opens the refinance auction on each loan. Only the current
// lender may do so, once per loan until the auction resolves.
func (e *Engine) StartAuction(ctx context.Context, caller [20]byte, loanIDs []uint64) error {
	return e.execute(ctx, "start_auction", true, func(tx *txn) error {
		for _, id := range loanIDs {
			loan, err := tx.loan(id)
			if err != nil {
				return fmt.Errorf("start auction %d: %w", id, err)
			}
			if loan.Lender != caller {
				return fmt.Errorf("start auction %d: %w", id, ErrUnauthorized)
			}
			if loan.Auction.Active {
				return fmt.Errorf("start auction %d: %w", id, ErrAuctionAlreadyActive)
			}
			loan.Auction = ActiveAuction(tx.now)
			tx.emit(events.AuctionStarted{
				LoanID:        id,
				Lender:        loan.Lender,
				StartedAt:     tx.now,
				AuctionLength: loan.AuctionLength,
			})
		}
		return nil
	})
}

// AuctionCeiling is the highest rate a bid may carry elapsed seconds into an
// auction of the given length.
func AuctionCeiling(elapsed, auctionLength uint64) uint64 {
	return auctionCeiling(elapsed, auctionLength).Uint64()
}

// BuyLoan takes over a loan under auction at rate, funding the payoff from the
// caller's own pool for the same token pair.
func (e *Engine) BuyLoan(ctx context.Context, caller [20]byte, loanID uint64, rate uint64) error {
	return e.execute(ctx, "buy_loan", true, func(tx *txn) error {
		return tx.buyLoan(caller, loanID, rate)
	})
}

// ZapBuyLoan stores the caller's pool terms and immediately buys the loan at
// the pool's interest rate.
func (e *Engine) ZapBuyLoan(ctx context.Context, caller [20]byte, terms PoolTerms, loanID uint64) (PoolID, error) {
	var id PoolID
	err := e.execute(ctx, "zap_buy_loan", true, func(tx *txn) error {
		var err error
		if id, err = tx.setPool(caller, terms); err != nil {
			return err
		}
		return tx.buyLoan(caller, loanID, terms.InterestRate)
	})
	return id, err
}

func (tx *txn) buyLoan(caller [20]byte, loanID uint64, rate uint64) error {
	loan, err := tx.loan(loanID)
	if err != nil {
		return err
	}
	if !loan.Auction.Active {
		return ErrAuctionNotStarted
	}
	elapsed := elapsedSince(loan.Auction.StartedAt, tx.now)
	if elapsed > loan.AuctionLength {
		return ErrAuctionEnded
	}
	if new(big.Int).SetUint64(rate).Cmp(auctionCeiling(elapsed, loan.AuctionLength)) > 0 {
		return ErrRateTooHigh
	}

	buyerID := PoolIDFor(caller, loan.LoanToken, loan.CollateralToken)
	buyer, err := tx.pool(buyerID)
	if err != nil {
		return err
	}
	cfg, err := tx.feeConfig()
	if err != nil {
		return err
	}
	settlement := settle(loan, cfg.FeeBps, tx.now)
	total := settlement.Total()
	if buyer.PoolBalance.Cmp(total) < 0 {
		return ErrPoolTooSmall
	}
	if ratioExceeds(loan.Debt, loan.Collateral, buyer.MaxLoanRatio) {
		return ErrRatioTooHigh
	}

	previous := loan.Lender
	if err := tx.transferPosition(loan, buyer, settlement, cfg); err != nil {
		return err
	}
	loan.InterestRate = rate

	tx.emit(events.LoanBought{
		LoanID:         loanID,
		PreviousLender: previous,
		Buyer:          caller,
		InterestRate:   rate,
		NewDebt:        cloneBigInt(loan.Debt),
	})
	return nil
}

// transferPosition pays off the old lender from the target pool and rewrites
// the loan as a fresh position of that pool with the settlement capitalised.
func (tx *txn) transferPosition(loan *Loan, target *Pool, settlement Settlement, cfg *FeeConfig) error {
	old, err := tx.pool(loan.PoolID())
	if err != nil {
		return err
	}
	total := settlement.Total()
	if err := tx.debit(target, total); err != nil {
		return err
	}
	tx.credit(old, settlement.LenderOwed())
	tx.unlend(old, loan.Debt)
	tx.lend(target, total)
	if err := tx.push(loan.LoanToken, cfg.Receiver, settlement.ProtocolFee); err != nil {
		return err
	}

	loan.Lender = target.Lender
	loan.InterestRate = target.InterestRate
	loan.Debt = total
	loan.StartTimestamp = tx.now
	loan.Auction = InactiveAuction()
	loan.AuctionLength = target.AuctionLength
	return nil
}

// SeizeLoan closes loans whose auction expired unclaimed: the fee receiver
// takes its cut of the collateral and the lender takes the rest.
func (e *Engine) SeizeLoan(ctx context.Context, caller [20]byte, loanIDs []uint64) error {
	return e.execute(ctx, "seize_loan", true, func(tx *txn) error {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		for _, id := range loanIDs {
			if err := tx.seize(id, cfg); err != nil {
				return fmt.Errorf("seize loan %d: %w", id, err)
			}
		}
		return nil
	})
}

func (tx *txn) seize(id uint64, cfg *FeeConfig) error {
	loan, err := tx.loan(id)
	if err != nil {
		return err
	}
	if !loan.Auction.Active {
		return ErrAuctionNotStarted
	}
	if elapsedSince(loan.Auction.StartedAt, tx.now) <= loan.AuctionLength {
		return ErrAuctionNotEnded
	}
	govFee := bpsOf(loan.Collateral, cfg.FeeBps)
	payout := new(big.Int).Sub(loan.Collateral, govFee)
	if err := tx.push(loan.CollateralToken, cfg.Receiver, govFee); err != nil {
		return err
	}
	if err := tx.push(loan.CollateralToken, loan.Lender, payout); err != nil {
		return err
	}
	if pool, found, err := tx.lookupPool(loan.PoolID()); err != nil {
		return err
	} else if found {
		tx.unlend(pool, loan.Debt)
	}
	tx.closeLoan(id)
	tx.emit(events.LoanSeized{
		LoanID:        id,
		Lender:        loan.Lender,
		Borrower:      loan.Borrower,
		LenderPayout:  payout,
		GovernanceFee: govFee,
	})
	return nil
}

// GiveLoan lets the current lender hand loans to another pool whose terms are
// no worse for the borrower.
func (e *Engine) GiveLoan(ctx context.Context, caller [20]byte, requests []GiveRequest) error {
	return e.execute(ctx, "give_loan", true, func(tx *txn) error {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		for _, req := range requests {
			if err := tx.give(caller, req, cfg); err != nil {
				return fmt.Errorf("give loan %d: %w", req.LoanID, err)
			}
		}
		return nil
	})
}

func (tx *txn) give(caller [20]byte, req GiveRequest, cfg *FeeConfig) error {
	loan, err := tx.loan(req.LoanID)
	if err != nil {
		return err
	}
	if loan.Lender != caller {
		return ErrUnauthorized
	}
	target, err := tx.pool(req.PoolID)
	if err != nil {
		return err
	}
	if target.LoanToken != loan.LoanToken || target.CollateralToken != loan.CollateralToken {
		return ErrTokenMismatch
	}
	settlement := settle(loan, cfg.FeeBps, tx.now)
	total := settlement.Total()
	switch {
	case total.Cmp(target.PoolBalance) > 0:
		return ErrLoanTooLarge
	case total.Cmp(target.MinLoanSize) < 0:
		return ErrLoanTooSmall
	case ratioExceeds(total, loan.Collateral, target.MaxLoanRatio):
		return ErrRatioTooHigh
	case target.InterestRate > loan.InterestRate:
		return ErrRateTooHigh
	case target.AuctionLength < loan.AuctionLength:
		return ErrAuctionTooShort
	}

	previous := loan.Lender
	if err := tx.transferPosition(loan, target, settlement, cfg); err != nil {
		return err
	}
	tx.emit(events.LoanGiven{
		LoanID:         req.LoanID,
		PoolID:         req.PoolID,
		PreviousLender: previous,
		Lender:         loan.Lender,
		Debt:           cloneBigInt(loan.Debt),
	})
	return nil
}
