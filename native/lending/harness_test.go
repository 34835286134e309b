package lending

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"peerlend/core/events"
	"peerlend/native/bank"
)

const (
	startTime int64 = 1_700_000_000
	day       int64 = 24 * 60 * 60
	year      int64 = 365 * day
)

func makeAddress(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	store    *MemoryStore
	bank     *bank.Ledger
	recorder *events.Recorder
	clock    int64

	custody    [20]byte
	governance [20]byte
	receiver   [20]byte
	loanToken  [20]byte
	collToken  [20]byte
	lender     [20]byte
	lenderB    [20]byte
	borrower   [20]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		ctx:        context.Background(),
		clock:      startTime,
		custody:    makeAddress(0xEE),
		governance: makeAddress(0x60),
		receiver:   makeAddress(0x61),
		loanToken:  makeAddress(0x10),
		collToken:  makeAddress(0x20),
		lender:     makeAddress(0xA1),
		lenderB:    makeAddress(0xB1),
		borrower:   makeAddress(0xC1),
		recorder:   &events.Recorder{},
		store:      NewMemoryStore(),
	}
	h.bank = bank.NewLedger(h.custody, nil)
	for _, token := range []bank.Token{
		{Address: h.loanToken, Symbol: "USDC", Decimals: 6},
		{Address: h.collToken, Symbol: "WETH", Decimals: 18},
	} {
		if err := h.bank.RegisterToken(token); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}
	h.mint(h.loanToken, h.lender, 10_000)
	h.mint(h.loanToken, h.lenderB, 10_000)
	h.mint(h.collToken, h.borrower, 10_000)
	h.mint(h.loanToken, h.borrower, 1_000)

	h.engine = NewEngine(h.custody, FeeConfig{Governance: h.governance, Receiver: h.receiver, FeeBps: DefaultFeeBps})
	h.engine.SetState(h.store)
	h.engine.SetGateway(h.bank)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.engine.SetNowFunc(func() int64 { return h.clock })
	return h
}

func (h *harness) mint(token, to [20]byte, amount int64) {
	h.t.Helper()
	if err := h.bank.Mint(token, to, big.NewInt(amount)); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
}

func (h *harness) advance(seconds int64) { h.clock += seconds }

func (h *harness) balance(token, who [20]byte) int64 {
	h.t.Helper()
	bal, err := h.bank.BalanceOf(token, who)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func halfRatio() *big.Int {
	return new(big.Int).Div(RatioScale(), big.NewInt(2))
}

func (h *harness) terms(lender [20]byte, balance int64) PoolTerms {
	return PoolTerms{
		Lender:          lender,
		LoanToken:       h.loanToken,
		CollateralToken: h.collToken,
		MinLoanSize:     big.NewInt(100),
		PoolBalance:     big.NewInt(balance),
		MaxLoanRatio:    halfRatio(),
		AuctionLength:   uint64(day),
		InterestRate:    500,
	}
}

func (h *harness) createPool(terms PoolTerms) PoolID {
	h.t.Helper()
	id, err := h.engine.SetPool(h.ctx, terms.Lender, terms)
	if err != nil {
		h.t.Fatalf("set pool: %v", err)
	}
	return id
}

func (h *harness) pool(id PoolID) *Pool {
	h.t.Helper()
	pool, err := h.engine.Pool(h.ctx, id)
	if err != nil {
		h.t.Fatalf("pool: %v", err)
	}
	return pool
}

func (h *harness) loan(id uint64) *Loan {
	h.t.Helper()
	loan, err := h.engine.Loan(h.ctx, id)
	if err != nil {
		h.t.Fatalf("loan: %v", err)
	}
	return loan
}

func (h *harness) borrow(pool PoolID, debt, collateral int64) uint64 {
	h.t.Helper()
	ids, err := h.engine.Borrow(h.ctx, h.borrower, []BorrowRequest{{
		PoolID:     pool,
		Debt:       big.NewInt(debt),
		Collateral: big.NewInt(collateral),
	}})
	if err != nil {
		h.t.Fatalf("borrow: %v", err)
	}
	return ids[0]
}

func expectAmount(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", label, want, got)
	}
}

// expectCustodyBacksPools checks that custody holds exactly the loan token
// liquidity recorded in pools.
func (h *harness) expectCustodyBacksPools(ids ...PoolID) {
	h.t.Helper()
	sum := new(big.Int)
	for _, id := range ids {
		sum.Add(sum, h.pool(id).PoolBalance)
	}
	if got := h.balance(h.loanToken, h.custody); big.NewInt(got).Cmp(sum) != 0 {
		h.t.Fatalf("custody holds %d, pools record %s", got, sum)
	}
}
