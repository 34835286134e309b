package lending

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"peerlend/core/events"
	nativecommon "peerlend/native/common"
	"peerlend/observability/metrics"
)

// Engine is the lending ledger. Every mutating call is serialized by one
// mutex, staged in a txn and committed to the Store only when all of its
// validation and gateway transfers succeed.
type Engine struct {
	mu sync.Mutex

	state     Store
	gateway   TokenGateway
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	telemetry *metrics.LedgerMetrics
	nowFn     func() int64

	// custody holds pool liquidity and posted collateral.
	custody  [20]byte
	defaults FeeConfig
}

// NewEngine creates an engine whose pooled funds sit at custody. defaults is
// the fee configuration used until governance writes one to the store; a zero
// FeeBps falls back to DefaultFeeBps and a zero receiver to the governance
// identity.
func NewEngine(custody [20]byte, defaults FeeConfig) *Engine {
	if defaults.FeeBps == 0 {
		defaults.FeeBps = DefaultFeeBps
	}
	if defaults.Receiver == ([20]byte{}) {
		defaults.Receiver = defaults.Governance
	}
	return &Engine{
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		telemetry: metrics.Ledger(),
		nowFn:     func() int64 { return time.Now().Unix() },
		custody:   custody,
		defaults:  defaults,
	}
}

// SetState configures the committed state backend.
func (e *Engine) SetState(state Store) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// SetGateway configures the token transfer capability.
func (e *Engine) SetGateway(gateway TokenGateway) {
	e.mu.Lock()
	e.gateway = gateway
	e.mu.Unlock()
}

// SetPauses wires an external pause view, consulted alongside the stored
// governance pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Custody returns the account holding pooled liquidity and collateral.
func (e *Engine) Custody() [20]byte { return e.custody }

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

type storedPause bool

func (s storedPause) IsPaused(string) bool { return bool(s) }

// execute runs fn as one atomic ledger operation. When guarded is set the
// operation is refused while the ledger is paused.
func (e *Engine) execute(ctx context.Context, op string, guarded bool, fn func(tx *txn) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if isInflight(ctx, e) {
		return ErrReentrant
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if e.gateway == nil {
		return errNilGateway
	}

	started := time.Now()
	defer func() {
		e.telemetry.ObserveOperation(op, ErrorCode(err), time.Since(started))
		if errors.Is(err, ErrTransferFailed) {
			e.telemetry.IncTransferFailure(op)
		}
	}()

	tx := &txn{
		ctx:     withInflight(ctx, e),
		engine:  e,
		store:   e.state,
		gateway: e.gateway,
		now:     e.now(),
		pools:   make(map[PoolID]*Pool),
		loans:   make(map[uint64]*Loan),
	}
	if guarded {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		if err := nativecommon.Guard(nativecommon.AnyPaused{e.pauses, storedPause(cfg.Paused)}, moduleName); err != nil {
			return err
		}
	}

	snapshot := e.gateway.Snapshot()
	if err := fn(tx); err != nil {
		e.gateway.RevertToSnapshot(snapshot)
		e.logger.Warn("lending operation aborted", "operation", op, "error", err)
		return err
	}
	cs := tx.changes()
	committer, persistsBalances := e.gateway.(GatewayCommitter)
	if persistsBalances {
		cs.Balances = committer.PendingBalances()
	}
	if err := e.state.Apply(cs); err != nil {
		e.gateway.RevertToSnapshot(snapshot)
		e.logger.Error("lending commit failed", "operation", op, "error", err)
		return err
	}
	if persistsBalances {
		committer.BalancesCommitted()
	}
	if tx.countReady {
		e.telemetry.SetLoanSlots(tx.loanCount)
	}
	if cs.Fee != nil {
		e.telemetry.SetFeeBps(cs.Fee.FeeBps)
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	e.logger.Debug("lending operation committed",
		"operation", op,
		"pools", len(cs.Pools),
		"loans", len(cs.Loans),
		"events", len(tx.events))
	return nil
}

// Exclusive runs fn while no ledger operation is in flight. Out-of-band
// gateway writes such as faucet mints go through here so they never land
// inside another operation's snapshot.
func (e *Engine) Exclusive(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if isInflight(ctx, e) {
		return ErrReentrant
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// view runs a read-only function against committed state.
func (e *Engine) view(ctx context.Context, fn func(tx *txn) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if isInflight(ctx, e) {
		return ErrReentrant
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	tx := &txn{
		ctx:    ctx,
		engine: e,
		store:  e.state,
		now:    e.now(),
		pools:  make(map[PoolID]*Pool),
		loans:  make(map[uint64]*Loan),
	}
	return fn(tx)
}

// Pool returns a copy of the stored pool.
func (e *Engine) Pool(ctx context.Context, id PoolID) (*Pool, error) {
	var out *Pool
	err := e.view(ctx, func(tx *txn) error {
		pool, err := tx.pool(id)
		if err != nil {
			return err
		}
		out = pool.Clone()
		return nil
	})
	return out, err
}

// Loan returns the record at index id. Closed loans come back as the
// tombstone record; only indexes never allocated fail with ErrLoanNotFound.
func (e *Engine) Loan(ctx context.Context, id uint64) (*Loan, error) {
	var out *Loan
	err := e.view(ctx, func(tx *txn) error {
		n, err := tx.count()
		if err != nil {
			return err
		}
		if id >= n {
			return ErrLoanNotFound
		}
		loan, ok, err := tx.store.GetLoan(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLoanNotFound
		}
		out = loan
		return nil
	})
	return out, err
}

// LoanCount returns the number of allocated loan indexes.
func (e *Engine) LoanCount(ctx context.Context) (uint64, error) {
	var out uint64
	err := e.view(ctx, func(tx *txn) error {
		n, err := tx.count()
		out = n
		return err
	})
	return out, err
}

// LoanDebt returns principal plus lender interest plus protocol fee owed on an
// active loan right now.
func (e *Engine) LoanDebt(ctx context.Context, id uint64) (*big.Int, error) {
	settlement, err := e.LoanSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	return settlement.Total(), nil
}

// LoanSettlement breaks LoanDebt into its components.
func (e *Engine) LoanSettlement(ctx context.Context, id uint64) (Settlement, error) {
	var out Settlement
	err := e.view(ctx, func(tx *txn) error {
		loan, err := tx.loan(id)
		if err != nil {
			return err
		}
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		out = settle(loan, cfg.FeeBps, tx.now)
		return nil
	})
	return out, err
}

// FeeConfig returns the effective fee configuration.
func (e *Engine) FeeConfig(ctx context.Context) (*FeeConfig, error) {
	var out *FeeConfig
	err := e.view(ctx, func(tx *txn) error {
		cfg, err := tx.feeConfig()
		if err != nil {
			return err
		}
		out = cfg.Clone()
		return nil
	})
	return out, err
}
