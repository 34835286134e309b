package lending

import (
	"errors"
	"math/big"
	"testing"

	"peerlend/core/events"
)

func TestAuctionLifecycleEndsInSeizure(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))
	loanID := h.borrow(id, 200, 500)
	expectAmount(t, "pool balance after borrow", h.pool(id).PoolBalance, 800)

	h.advance(year)
	debt, err := h.engine.LoanDebt(h.ctx, loanID)
	if err != nil {
		t.Fatalf("loan debt: %v", err)
	}
	expectAmount(t, "debt after a year", debt, 212)

	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if err := h.engine.SeizeLoan(h.ctx, h.lender, []uint64{loanID}); !errors.Is(err, ErrAuctionNotEnded) {
		t.Fatalf("expected ErrAuctionNotEnded, got %v", err)
	}
	h.advance(day)
	if err := h.engine.SeizeLoan(h.ctx, h.lender, []uint64{loanID}); !errors.Is(err, ErrAuctionNotEnded) {
		t.Fatalf("seize at exactly the auction length should fail, got %v", err)
	}
	h.advance(day)

	// anyone may trigger the seizure
	if err := h.engine.SeizeLoan(h.ctx, makeAddress(0xD9), []uint64{loanID}); err != nil {
		t.Fatalf("seize: %v", err)
	}
	if got := h.balance(h.collToken, h.receiver); got != 5 {
		t.Fatalf("fee receiver should get 5 collateral, got %d", got)
	}
	if got := h.balance(h.collToken, h.lender); got != 495 {
		t.Fatalf("lender should get 495 collateral, got %d", got)
	}
	if got := h.balance(h.collToken, h.custody); got != 0 {
		t.Fatalf("custody should release all collateral, got %d", got)
	}
	closed := h.loan(loanID)
	if closed.Status != LoanClosed || closed.Debt.Sign() != 0 || closed.Collateral.Sign() != 0 {
		t.Fatalf("expected tombstone, got %+v", closed)
	}
	expectAmount(t, "outstanding after seizure", h.pool(id).OutstandingLoans, 0)

	last := h.recorder.Events()[len(h.recorder.Events())-1]
	seized, ok := last.(events.LoanSeized)
	if !ok {
		t.Fatalf("expected LoanSeized, got %T", last)
	}
	expectAmount(t, "event payout", seized.LenderPayout, 495)
	expectAmount(t, "event fee", seized.GovernanceFee, 5)
}

func TestStartAuctionRules(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))
	loanID := h.borrow(id, 200, 500)

	if err := h.engine.StartAuction(h.ctx, h.borrower, []uint64{loanID}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); !errors.Is(err, ErrAuctionAlreadyActive) {
		t.Fatalf("expected ErrAuctionAlreadyActive, got %v", err)
	}
	loan := h.loan(loanID)
	if !loan.Auction.Active || loan.Auction.StartedAt != uint64(h.clock) {
		t.Fatalf("unexpected auction state %+v", loan.Auction)
	}
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{42}); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestAuctionCeiling(t *testing.T) {
	cases := []struct {
		elapsed, length, want uint64
	}{
		{0, uint64(day), 0},
		{uint64(day) / 2, uint64(day), MaxInterestRate / 2},
		{uint64(day), uint64(day), MaxInterestRate},
		{1, 3, 33_333},
	}
	for _, tc := range cases {
		if got := AuctionCeiling(tc.elapsed, tc.length); got != tc.want {
			t.Fatalf("ceiling(%d, %d): expected %d, got %d", tc.elapsed, tc.length, tc.want, got)
		}
	}
}

func TestBuyLoanRespectsCeiling(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)

	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 1); !errors.Is(err, ErrAuctionNotStarted) {
		t.Fatalf("expected ErrAuctionNotStarted, got %v", err)
	}
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advance(day / 2)

	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 50_001); !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh, got %v", err)
	}
	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 50_000); err != nil {
		t.Fatalf("buy loan: %v", err)
	}

	loan := h.loan(loanID)
	if loan.Lender != h.lenderB || loan.InterestRate != 50_000 {
		t.Fatalf("loan not transferred: lender %x rate %d", loan.Lender, loan.InterestRate)
	}
	if loan.Auction.Active || loan.StartTimestamp != uint64(h.clock) {
		t.Fatalf("auction must reset on purchase: %+v", loan)
	}
	expectAmount(t, "loan debt", loan.Debt, 200)
	expectAmount(t, "old pool", h.pool(poolA).PoolBalance, 1000)
	expectAmount(t, "old pool outstanding", h.pool(poolA).OutstandingLoans, 0)
	expectAmount(t, "buyer pool", h.pool(poolB).PoolBalance, 800)
	expectAmount(t, "buyer outstanding", h.pool(poolB).OutstandingLoans, 200)

	if err := h.engine.Repay(h.ctx, h.borrower, []uint64{loanID}); err != nil {
		t.Fatalf("repay bought loan: %v", err)
	}
	expectAmount(t, "buyer pool after repay", h.pool(poolB).PoolBalance, 1000)
}

func TestBuyLoanAfterAuctionExpiry(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advance(day + 1)
	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 1); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
}

func TestBuyLoanNeedsAdequateBuyerPool(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	loanID := h.borrow(poolA, 200, 500)
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advance(day / 2)

	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 1); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}

	small := h.createPool(h.terms(h.lenderB, 150))
	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 1); !errors.Is(err, ErrPoolTooSmall) {
		t.Fatalf("expected ErrPoolTooSmall, got %v", err)
	}

	if err := h.engine.AddToPool(h.ctx, h.lenderB, small, big.NewInt(850)); err != nil {
		t.Fatalf("add to pool: %v", err)
	}
	strict := RatioScale()
	strict.Div(strict, big.NewInt(4))
	if err := h.engine.UpdateMaxLoanRatio(h.ctx, h.lenderB, small, strict); err != nil {
		t.Fatalf("update ratio: %v", err)
	}
	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 1); !errors.Is(err, ErrRatioTooHigh) {
		t.Fatalf("expected ErrRatioTooHigh, got %v", err)
	}
}

func TestZapBuyLoanCreatesPoolAndBuys(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	loanID := h.borrow(poolA, 200, 500)
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advance(day / 2)

	terms := h.terms(h.lenderB, 600)
	terms.InterestRate = 60_000
	if _, err := h.engine.ZapBuyLoan(h.ctx, h.lenderB, terms, loanID); !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh, got %v", err)
	}
	if _, err := h.engine.Pool(h.ctx, PoolIDFor(h.lenderB, h.loanToken, h.collToken)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("failed zap must not leave a pool behind, got %v", err)
	}
	if got := h.balance(h.loanToken, h.lenderB); got != 10_000 {
		t.Fatalf("failed zap must refund the pool deposit, got %d", got)
	}

	terms.InterestRate = 4_000
	poolB, err := h.engine.ZapBuyLoan(h.ctx, h.lenderB, terms, loanID)
	if err != nil {
		t.Fatalf("zap buy: %v", err)
	}
	expectAmount(t, "zap pool balance", h.pool(poolB).PoolBalance, 400)
	if loan := h.loan(loanID); loan.Lender != h.lenderB || loan.InterestRate != 4_000 {
		t.Fatalf("zap did not transfer the loan: %+v", loan)
	}
}

func TestGiveLoanChecksTargetTerms(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	loanID := h.borrow(poolA, 200, 500)

	otherColl := makeAddress(0x21)
	mismatch := h.terms(h.lenderB, 1000)
	mismatch.CollateralToken = otherColl
	pricey := h.terms(h.lenderB, 1000)
	pricey.InterestRate = 600

	h.createPool(mismatch)
	pricedID := h.createPool(pricey)

	shortLender := makeAddress(0xB2)
	h.mint(h.loanToken, shortLender, 1000)
	short := h.terms(shortLender, 1000)
	short.InterestRate = 400
	short.AuctionLength = 3600
	shortID := h.createPool(short)

	mismatchID := PoolIDFor(h.lenderB, h.loanToken, otherColl)
	cases := []struct {
		name   string
		caller [20]byte
		pool   PoolID
		want   error
	}{
		{"not the lender", h.borrower, pricedID, ErrUnauthorized},
		{"token mismatch", h.lender, mismatchID, ErrTokenMismatch},
		{"higher rate", h.lender, pricedID, ErrRateTooHigh},
		{"shorter auction", h.lender, shortID, ErrAuctionTooShort},
	}
	for _, tc := range cases {
		err := h.engine.GiveLoan(h.ctx, tc.caller, []GiveRequest{{LoanID: loanID, PoolID: tc.pool}})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if err := h.engine.UpdateInterestRate(h.ctx, h.lenderB, pricedID, 400); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	if err := h.engine.GiveLoan(h.ctx, h.lender, []GiveRequest{{LoanID: loanID, PoolID: pricedID}}); err != nil {
		t.Fatalf("give loan: %v", err)
	}
	loan := h.loan(loanID)
	if loan.Lender != h.lenderB || loan.InterestRate != 400 {
		t.Fatalf("loan not handed over: %+v", loan)
	}
	expectAmount(t, "source pool", h.pool(poolA).PoolBalance, 1000)
	expectAmount(t, "target pool", h.pool(pricedID).PoolBalance, 800)
}

// A year-old loan changes hands with its interest and fee capitalised: the
// buyer pool funds 212, the old pool gets principal plus interest back and
// the receiver takes the fee out of custody.
func TestBuyLoanCapitalisesAccruedInterest(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)

	h.advance(year)
	if err := h.engine.StartAuction(h.ctx, h.lender, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advance(day / 2)
	if err := h.engine.BuyLoan(h.ctx, h.lenderB, loanID, 500); err != nil {
		t.Fatalf("buy loan: %v", err)
	}

	loan := h.loan(loanID)
	expectAmount(t, "capitalised debt", loan.Debt, 212)
	if loan.Lender != h.lenderB || loan.StartTimestamp != uint64(h.clock) || loan.Auction.Active {
		t.Fatalf("loan not rewritten for the buyer: %+v", loan)
	}
	expectAmount(t, "old pool", h.pool(poolA).PoolBalance, 1010)
	expectAmount(t, "old pool outstanding", h.pool(poolA).OutstandingLoans, 0)
	expectAmount(t, "buyer pool", h.pool(poolB).PoolBalance, 788)
	expectAmount(t, "buyer pool outstanding", h.pool(poolB).OutstandingLoans, 212)
	if got := h.balance(h.loanToken, h.receiver); got != 2 {
		t.Fatalf("fee receiver should get 2, got %d", got)
	}
	h.expectCustodyBacksPools(poolA, poolB)

	debt, err := h.engine.LoanDebt(h.ctx, loanID)
	if err != nil {
		t.Fatalf("loan debt: %v", err)
	}
	expectAmount(t, "debt right after purchase", debt, 212)
}

func TestGiveLoanCapitalisesAccruedInterest(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	target := h.terms(h.lenderB, 1000)
	target.InterestRate = 400
	poolB := h.createPool(target)
	loanID := h.borrow(poolA, 200, 500)

	h.advance(year)
	if err := h.engine.GiveLoan(h.ctx, h.lender, []GiveRequest{{LoanID: loanID, PoolID: poolB}}); err != nil {
		t.Fatalf("give loan: %v", err)
	}

	loan := h.loan(loanID)
	expectAmount(t, "capitalised debt", loan.Debt, 212)
	if loan.Lender != h.lenderB || loan.InterestRate != 400 {
		t.Fatalf("loan not handed over: %+v", loan)
	}
	expectAmount(t, "old pool", h.pool(poolA).PoolBalance, 1010)
	expectAmount(t, "target pool", h.pool(poolB).PoolBalance, 788)
	if got := h.balance(h.loanToken, h.receiver); got != 2 {
		t.Fatalf("fee receiver should get 2, got %d", got)
	}
	h.expectCustodyBacksPools(poolA, poolB)
}
