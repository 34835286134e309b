package lending

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
)

// reentrantGateway calls back into the engine from inside a transfer.
type reentrantGateway struct {
	TokenGateway
	engine *Engine
	errs   []error
}

func (g *reentrantGateway) TransferFrom(ctx context.Context, token, from, to [20]byte, amount *big.Int) error {
	g.errs = append(g.errs, g.engine.Repay(ctx, from, []uint64{0}))
	_, err := g.engine.LoanCount(ctx)
	g.errs = append(g.errs, err)
	return g.TokenGateway.TransferFrom(ctx, token, from, to, amount)
}

func TestGatewayCannotReenterEngine(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))

	gw := &reentrantGateway{TokenGateway: h.bank, engine: h.engine}
	h.engine.SetGateway(gw)
	loanID := h.borrow(id, 200, 500)
	if len(gw.errs) == 0 {
		t.Fatalf("gateway was never called")
	}
	for _, err := range gw.errs {
		if !errors.Is(err, ErrReentrant) {
			t.Fatalf("expected ErrReentrant from nested call, got %v", err)
		}
	}
	if !h.loan(loanID).IsActive() {
		t.Fatalf("outer operation should still commit")
	}
	if err := h.engine.Exclusive(h.ctx, func() error { return nil }); err != nil {
		t.Fatalf("exclusive outside an operation: %v", err)
	}
}

// failingGateway fails pushes once armed.
type failingGateway struct {
	TokenGateway
	armed bool
}

func (g *failingGateway) Transfer(ctx context.Context, token, to [20]byte, amount *big.Int) error {
	if g.armed {
		return errors.New("gateway offline")
	}
	return g.TokenGateway.Transfer(ctx, token, to, amount)
}

func TestTransferFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))
	gw := &failingGateway{TokenGateway: h.bank}
	h.engine.SetGateway(gw)
	emitted := len(h.recorder.Events())

	gw.armed = true
	_, err := h.engine.Borrow(h.ctx, h.borrower, []BorrowRequest{{PoolID: id, Debt: big.NewInt(200), Collateral: big.NewInt(500)}})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if ErrorCode(err) != "transfer_failed" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
	if got := h.balance(h.collToken, h.borrower); got != 10_000 {
		t.Fatalf("pulled collateral must be reverted, got %d", got)
	}
	if got := h.balance(h.collToken, h.custody); got != 0 {
		t.Fatalf("custody must not keep collateral, got %d", got)
	}
	pool := h.pool(id)
	expectAmount(t, "pool balance", pool.PoolBalance, 1000)
	expectAmount(t, "outstanding", pool.OutstandingLoans, 0)
	if count, _ := h.engine.LoanCount(h.ctx); count != 0 {
		t.Fatalf("no loan may be allocated, got %d", count)
	}
	if len(h.recorder.Events()) != emitted {
		t.Fatalf("aborted operation emitted events")
	}

	gw.armed = false
	h.borrow(id, 200, 500)
}

func TestConcurrentBorrowsSerialize(t *testing.T) {
	h := newHarness(t)
	id := h.createPool(h.terms(h.lender, 1000))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures int
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Borrow(h.ctx, h.borrower, []BorrowRequest{{PoolID: id, Debt: big.NewInt(100), Collateral: big.NewInt(200)}})
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failures != 2 {
		t.Fatalf("expected exactly two draws to fail, got %d", failures)
	}
	count, err := h.engine.LoanCount(h.ctx)
	if err != nil || count != 10 {
		t.Fatalf("expected 10 loans, got %d (%v)", count, err)
	}
	pool := h.pool(id)
	expectAmount(t, "drained pool", pool.PoolBalance, 0)
	expectAmount(t, "outstanding", pool.OutstandingLoans, 1000)
}

func TestEngineRequiresBackends(t *testing.T) {
	engine := NewEngine(makeAddress(0xEE), FeeConfig{Governance: makeAddress(0x60)})
	if _, err := engine.SetPool(context.Background(), makeAddress(1), PoolTerms{}); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(NewMemoryStore())
	if _, err := engine.SetPool(context.Background(), makeAddress(1), PoolTerms{}); !errors.Is(err, errNilGateway) {
		t.Fatalf("expected errNilGateway, got %v", err)
	}
	cfg, err := engine.FeeConfig(context.Background())
	if err != nil {
		t.Fatalf("fee config: %v", err)
	}
	if cfg.FeeBps != DefaultFeeBps || cfg.Receiver != makeAddress(0x60) {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestAccrueAndFeeMath(t *testing.T) {
	cases := []struct {
		principal int64
		rate      uint64
		elapsed   uint64
		want      int64
	}{
		{200, 500, 0, 0},
		{200, 500, SecondsPerYear - 1, 0},
		{200, 500, SecondsPerYear, 10},
		{200, 500, 2*SecondsPerYear + 5, 20},
		{199, 100, SecondsPerYear, 1},
		{99, 100, SecondsPerYear, 0},
	}
	for _, tc := range cases {
		got := accrue(big.NewInt(tc.principal), tc.rate, tc.elapsed)
		expectAmount(t, "accrue", got, tc.want)
	}
	expectAmount(t, "bps of collateral", bpsOf(big.NewInt(500), 100), 5)
	expectAmount(t, "ratio", loanRatio(big.NewInt(200), big.NewInt(500)), 400_000_000_000_000_000)
}
