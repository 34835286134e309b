package lending

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"peerlend/core/events"
)

func TestPoolIDIsDeterministic(t *testing.T) {
	owner, loanToken, collToken := makeAddress(1), makeAddress(2), makeAddress(3)
	first := PoolIDFor(owner, loanToken, collToken)
	if first != PoolIDFor(owner, loanToken, collToken) {
		t.Fatalf("pool id changed between calls")
	}
	if first == PoolIDFor(owner, collToken, loanToken) {
		t.Fatalf("swapping the token pair must change the id")
	}
	parsed, err := ParsePoolID(first.String())
	if err != nil || parsed != first {
		t.Fatalf("round trip failed: %v", err)
	}
}

func TestSetPoolUpsertsAndMovesDelta(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))
	if id != PoolIDFor(h.lender, h.loanToken, h.collToken) {
		t.Fatalf("unexpected pool id %s", id)
	}
	if got := h.balance(h.loanToken, h.lender); got != 9_000 {
		t.Fatalf("expected lender balance 9000, got %d", got)
	}

	again := h.createPool(h.terms(h.lender, 1000))
	if again != id {
		t.Fatalf("upsert produced a different id")
	}
	if got := h.balance(h.loanToken, h.lender); got != 9_000 {
		t.Fatalf("identical upsert must not move funds, got %d", got)
	}

	h.createPool(h.terms(h.lender, 400))
	if got := h.balance(h.loanToken, h.lender); got != 9_600 {
		t.Fatalf("expected 600 returned to lender, balance %d", got)
	}
	if got := h.balance(h.loanToken, h.custody); got != 400 {
		t.Fatalf("expected custody 400, got %d", got)
	}
	expectAmount(t, "pool balance", h.pool(id).PoolBalance, 400)

	want := []string{
		events.TypePoolCreated, events.TypePoolBalanceUpdated,
		events.TypePoolUpdated, events.TypePoolBalanceUpdated,
		events.TypePoolUpdated, events.TypePoolBalanceUpdated,
	}
	if got := h.recorder.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSetPoolValidation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]func(*PoolTerms){
		"zero min loan":     func(p *PoolTerms) { p.MinLoanSize = big.NewInt(0) },
		"zero ratio":        func(p *PoolTerms) { p.MaxLoanRatio = big.NewInt(0) },
		"zero auction":      func(p *PoolTerms) { p.AuctionLength = 0 },
		"auction too long":  func(p *PoolTerms) { p.AuctionLength = MaxAuctionLength + 1 },
		"rate above cap":    func(p *PoolTerms) { p.InterestRate = MaxInterestRate + 1 },
	}
	for name, mutate := range cases {
		terms := h.terms(h.lender, 1000)
		mutate(&terms)
		if _, err := h.engine.SetPool(h.ctx, h.lender, terms); !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("%s: expected ErrConfigInvalid, got %v", name, err)
		}
	}

	terms := h.terms(h.lender, 1000)
	terms.AuctionLength = MaxAuctionLength
	terms.InterestRate = MaxInterestRate
	if _, err := h.engine.SetPool(h.ctx, h.lender, terms); err != nil {
		t.Fatalf("boundary terms should be accepted: %v", err)
	}

	if _, err := h.engine.SetPool(h.ctx, h.borrower, h.terms(h.lender, 1000)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	negative := h.terms(h.lender, -5)
	if _, err := h.engine.SetPool(h.ctx, h.lender, negative); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSetPoolFailsWhenOwnerCannotFund(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SetPool(h.ctx, h.lender, h.terms(h.lender, 20_000))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if _, err := h.engine.Pool(h.ctx, PoolIDFor(h.lender, h.loanToken, h.collToken)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("pool must not exist after failed funding, got %v", err)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("no events expected for aborted operation")
	}
}

func TestAddAndRemoveFromPool(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))

	if err := h.engine.AddToPool(h.ctx, h.lender, id, big.NewInt(500)); err != nil {
		t.Fatalf("add: %v", err)
	}
	expectAmount(t, "after add", h.pool(id).PoolBalance, 1500)

	if err := h.engine.RemoveFromPool(h.ctx, h.lender, id, big.NewInt(1501)); !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
	if err := h.engine.RemoveFromPool(h.ctx, h.lender, id, big.NewInt(700)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	expectAmount(t, "after remove", h.pool(id).PoolBalance, 800)
	if got := h.balance(h.loanToken, h.lender); got != 9_200 {
		t.Fatalf("expected lender 9200, got %d", got)
	}

	if err := h.engine.AddToPool(h.ctx, h.borrower, id, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.AddToPool(h.ctx, h.lender, id, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := h.engine.AddToPool(h.ctx, h.lender, PoolID{}, big.NewInt(1)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestUpdatePoolRateAndRatio(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))

	if err := h.engine.UpdateInterestRate(h.ctx, h.lender, id, 700); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	if err := h.engine.UpdateInterestRate(h.ctx, h.lender, id, MaxInterestRate+1); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	if err := h.engine.UpdateMaxLoanRatio(h.ctx, h.lender, id, RatioScale()); err != nil {
		t.Fatalf("update ratio: %v", err)
	}
	if err := h.engine.UpdateMaxLoanRatio(h.ctx, h.lender, id, big.NewInt(0)); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	if err := h.engine.UpdateInterestRate(h.ctx, h.lenderB, id, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	pool := h.pool(id)
	if pool.InterestRate != 700 {
		t.Fatalf("expected rate 700, got %d", pool.InterestRate)
	}
	if pool.MaxLoanRatio.Cmp(RatioScale()) != 0 {
		t.Fatalf("expected ratio 1e18, got %s", pool.MaxLoanRatio)
	}
}
