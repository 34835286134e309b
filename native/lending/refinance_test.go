package lending

import (
	"errors"
	"math/big"
	"testing"
)

func refinanceTo(pool PoolID, loanID uint64, debt, collateral int64) []RefinanceRequest {
	return []RefinanceRequest{{
		LoanID:     loanID,
		PoolID:     pool,
		Debt:       big.NewInt(debt),
		Collateral: big.NewInt(collateral),
	}}
}

func TestRefinancePaysBorrowerTheExcess(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)

	if err := h.engine.Refinance(h.ctx, h.borrower, refinanceTo(poolB, loanID, 250, 500)); err != nil {
		t.Fatalf("refinance: %v", err)
	}
	if got := h.balance(h.loanToken, h.borrower); got != 1_250 {
		t.Fatalf("borrower should receive the 50 excess, got %d", got)
	}
	expectAmount(t, "old pool", h.pool(poolA).PoolBalance, 1000)
	expectAmount(t, "old pool outstanding", h.pool(poolA).OutstandingLoans, 0)
	expectAmount(t, "new pool", h.pool(poolB).PoolBalance, 750)
	expectAmount(t, "new pool outstanding", h.pool(poolB).OutstandingLoans, 250)

	loan := h.loan(loanID)
	if loan.Lender != h.lenderB || loan.StartTimestamp != uint64(h.clock) {
		t.Fatalf("loan not moved: %+v", loan)
	}
	expectAmount(t, "loan debt", loan.Debt, 250)
	if got := h.balance(h.loanToken, h.custody); got != 1_750 {
		t.Fatalf("custody must equal pooled liquidity, got %d", got)
	}
}

func TestRefinanceChargesShortfallAndDebitsTargetOnce(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)
	h.advance(year)

	if err := h.engine.Refinance(h.ctx, h.borrower, refinanceTo(poolB, loanID, 200, 500)); err != nil {
		t.Fatalf("refinance: %v", err)
	}
	// 212 owed, 200 funded by the new pool, 12 from the borrower
	if got := h.balance(h.loanToken, h.borrower); got != 1_188 {
		t.Fatalf("borrower should pay 12, has %d", got)
	}
	expectAmount(t, "old pool", h.pool(poolA).PoolBalance, 1010)
	expectAmount(t, "new pool", h.pool(poolB).PoolBalance, 800)
	if got := h.balance(h.loanToken, h.receiver); got != 2 {
		t.Fatalf("fee receiver should get 2, got %d", got)
	}
	if got := h.balance(h.loanToken, h.custody); got != 1_810 {
		t.Fatalf("custody must equal pooled liquidity, got %d", got)
	}
}

func TestRefinanceAdjustsCollateral(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)

	if err := h.engine.Refinance(h.ctx, h.borrower, refinanceTo(poolB, loanID, 200, 600)); err != nil {
		t.Fatalf("refinance up: %v", err)
	}
	if got := h.balance(h.collToken, h.borrower); got != 9_400 {
		t.Fatalf("borrower should post 100 more collateral, has %d", got)
	}
	if err := h.engine.Refinance(h.ctx, h.borrower, refinanceTo(poolA, loanID, 200, 400)); err != nil {
		t.Fatalf("refinance down: %v", err)
	}
	if got := h.balance(h.collToken, h.borrower); got != 9_600 {
		t.Fatalf("borrower should get 200 collateral back, has %d", got)
	}
	expectAmount(t, "collateral", h.loan(loanID).Collateral, 400)
}

func TestRefinanceRejections(t *testing.T) {
	h := newHarness(t)
	poolA := h.createPool(h.terms(h.lender, 1000))
	poolB := h.createPool(h.terms(h.lenderB, 1000))
	loanID := h.borrow(poolA, 200, 500)

	otherLoan := makeAddress(0x11)
	mismatch := h.terms(h.lenderB, 0)
	mismatch.LoanToken = otherLoan
	mismatchID := h.createPool(mismatch)

	cases := []struct {
		name   string
		caller [20]byte
		req    []RefinanceRequest
		want   error
	}{
		{"not the borrower", h.lender, refinanceTo(poolB, loanID, 200, 500), ErrUnauthorized},
		{"unknown pool", h.borrower, refinanceTo(PoolID{0x02}, loanID, 200, 500), ErrPoolNotFound},
		{"token mismatch", h.borrower, refinanceTo(mismatchID, loanID, 200, 500), ErrTokenMismatch},
		{"ratio too high", h.borrower, refinanceTo(poolB, loanID, 300, 500), ErrRatioTooHigh},
		{"below minimum", h.borrower, refinanceTo(poolB, loanID, 50, 500), ErrLoanTooSmall},
		{"unknown loan", h.borrower, refinanceTo(poolB, 9, 200, 500), ErrLoanNotFound},
	}
	for _, tc := range cases {
		if err := h.engine.Refinance(h.ctx, tc.caller, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if loan := h.loan(loanID); loan.Lender != h.lender {
		t.Fatalf("rejected refinances must not move the loan")
	}
}
