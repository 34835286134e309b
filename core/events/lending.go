package events

import (
	"math/big"
	"strconv"

	"peerlend/core/types"
)

const (
	TypePoolCreated           = "lending.pool.created"
	TypePoolUpdated           = "lending.pool.updated"
	TypePoolBalanceUpdated    = "lending.pool.balance_updated"
	TypeLoanBorrowed          = "lending.loan.borrowed"
	TypeLoanRepaid            = "lending.loan.repaid"
	TypeAuctionStarted        = "lending.auction.started"
	TypeLoanBought            = "lending.loan.bought"
	TypeLoanSeized            = "lending.loan.seized"
	TypeLoanRefinanced        = "lending.loan.refinanced"
	TypeLoanGiven             = "lending.loan.given"
	TypeFeeUpdated            = "lending.fee.updated"
	TypeFeeReceiverUpdated    = "lending.fee.receiver_updated"
	TypeGovernanceTransferred = "lending.governance.transferred"
	TypeLedgerPauseChanged    = "lending.pause.changed"
)

// PoolCreated fires the first time an owner stores terms for a token pair.
type PoolCreated struct {
	PoolID          [32]byte
	Lender          [20]byte
	LoanToken       [20]byte
	CollateralToken [20]byte
	MinLoanSize     *big.Int
	MaxLoanRatio    *big.Int
	AuctionLength   uint64
	InterestRate    uint64
}

func (PoolCreated) EventType() string { return TypePoolCreated }

func (e PoolCreated) Event() *types.Event {
	return &types.Event{Type: TypePoolCreated, Attributes: poolAttributes(e)}
}

// PoolUpdated fires on every subsequent terms rewrite.
type PoolUpdated PoolCreated

func (PoolUpdated) EventType() string { return TypePoolUpdated }

func (e PoolUpdated) Event() *types.Event {
	return &types.Event{Type: TypePoolUpdated, Attributes: poolAttributes(PoolCreated(e))}
}

func poolAttributes(e PoolCreated) map[string]string {
	return map[string]string{
		"poolId":          formatPoolID(e.PoolID),
		"lender":          formatAddress(e.Lender),
		"loanToken":       formatAddress(e.LoanToken),
		"collateralToken": formatAddress(e.CollateralToken),
		"minLoanSize":     formatAmount(e.MinLoanSize),
		"maxLoanRatio":    formatAmount(e.MaxLoanRatio),
		"auctionLength":   uintToString(e.AuctionLength),
		"interestRate":    uintToString(e.InterestRate),
	}
}

type PoolBalanceUpdated struct {
	PoolID     [32]byte
	NewBalance *big.Int
}

func (PoolBalanceUpdated) EventType() string { return TypePoolBalanceUpdated }

func (e PoolBalanceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolBalanceUpdated,
		Attributes: map[string]string{
			"poolId":  formatPoolID(e.PoolID),
			"balance": formatAmount(e.NewBalance),
		},
	}
}

type LoanBorrowed struct {
	LoanID     uint64
	PoolID     [32]byte
	Borrower   [20]byte
	Lender     [20]byte
	Debt       *big.Int
	Collateral *big.Int
}

func (LoanBorrowed) EventType() string { return TypeLoanBorrowed }

func (e LoanBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanBorrowed,
		Attributes: map[string]string{
			"loanId":     uintToString(e.LoanID),
			"poolId":     formatPoolID(e.PoolID),
			"borrower":   formatAddress(e.Borrower),
			"lender":     formatAddress(e.Lender),
			"debt":       formatAmount(e.Debt),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

type LoanRepaid struct {
	LoanID         uint64
	Payer          [20]byte
	Borrower       [20]byte
	Lender         [20]byte
	Debt           *big.Int
	LenderInterest *big.Int
	ProtocolFee    *big.Int
	Collateral     *big.Int
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"loanId":         uintToString(e.LoanID),
			"payer":          formatAddress(e.Payer),
			"borrower":       formatAddress(e.Borrower),
			"lender":         formatAddress(e.Lender),
			"debt":           formatAmount(e.Debt),
			"lenderInterest": formatAmount(e.LenderInterest),
			"protocolFee":    formatAmount(e.ProtocolFee),
			"collateral":     formatAmount(e.Collateral),
		},
	}
}

type AuctionStarted struct {
	LoanID        uint64
	Lender        [20]byte
	StartedAt     uint64
	AuctionLength uint64
}

func (AuctionStarted) EventType() string { return TypeAuctionStarted }

func (e AuctionStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionStarted,
		Attributes: map[string]string{
			"loanId":        uintToString(e.LoanID),
			"lender":        formatAddress(e.Lender),
			"startedAt":     uintToString(e.StartedAt),
			"auctionLength": uintToString(e.AuctionLength),
		},
	}
}

// LoanBought covers both auction purchases and zapped purchases.
type LoanBought struct {
	LoanID         uint64
	PreviousLender [20]byte
	Buyer          [20]byte
	InterestRate   uint64
	NewDebt        *big.Int
}

func (LoanBought) EventType() string { return TypeLoanBought }

func (e LoanBought) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanBought,
		Attributes: map[string]string{
			"loanId":         uintToString(e.LoanID),
			"previousLender": formatAddress(e.PreviousLender),
			"buyer":          formatAddress(e.Buyer),
			"interestRate":   uintToString(e.InterestRate),
			"debt":           formatAmount(e.NewDebt),
		},
	}
}

type LoanSeized struct {
	LoanID        uint64
	Lender        [20]byte
	Borrower      [20]byte
	LenderPayout  *big.Int
	GovernanceFee *big.Int
}

func (LoanSeized) EventType() string { return TypeLoanSeized }

func (e LoanSeized) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanSeized,
		Attributes: map[string]string{
			"loanId":        uintToString(e.LoanID),
			"lender":        formatAddress(e.Lender),
			"borrower":      formatAddress(e.Borrower),
			"collateral":    formatAmount(e.LenderPayout),
			"governanceFee": formatAmount(e.GovernanceFee),
		},
	}
}

type LoanRefinanced struct {
	LoanID     uint64
	PoolID     [32]byte
	Borrower   [20]byte
	Lender     [20]byte
	Debt       *big.Int
	Collateral *big.Int
}

func (LoanRefinanced) EventType() string { return TypeLoanRefinanced }

func (e LoanRefinanced) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRefinanced,
		Attributes: map[string]string{
			"loanId":     uintToString(e.LoanID),
			"poolId":     formatPoolID(e.PoolID),
			"borrower":   formatAddress(e.Borrower),
			"lender":     formatAddress(e.Lender),
			"debt":       formatAmount(e.Debt),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

type LoanGiven struct {
	LoanID         uint64
	PoolID         [32]byte
	PreviousLender [20]byte
	Lender         [20]byte
	Debt           *big.Int
}

func (LoanGiven) EventType() string { return TypeLoanGiven }

func (e LoanGiven) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanGiven,
		Attributes: map[string]string{
			"loanId":         uintToString(e.LoanID),
			"poolId":         formatPoolID(e.PoolID),
			"previousLender": formatAddress(e.PreviousLender),
			"lender":         formatAddress(e.Lender),
			"debt":           formatAmount(e.Debt),
		},
	}
}

type FeeUpdated struct {
	FeeBps uint64
}

func (FeeUpdated) EventType() string { return TypeFeeUpdated }

func (e FeeUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeFeeUpdated,
		Attributes: map[string]string{"feeBps": uintToString(e.FeeBps)},
	}
}

type FeeReceiverUpdated struct {
	Receiver [20]byte
}

func (FeeReceiverUpdated) EventType() string { return TypeFeeReceiverUpdated }

func (e FeeReceiverUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeFeeReceiverUpdated,
		Attributes: map[string]string{"receiver": formatAddress(e.Receiver)},
	}
}

type GovernanceTransferred struct {
	Previous [20]byte
	Next     [20]byte
}

func (GovernanceTransferred) EventType() string { return TypeGovernanceTransferred }

func (e GovernanceTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeGovernanceTransferred,
		Attributes: map[string]string{
			"previous": formatAddress(e.Previous),
			"next":     formatAddress(e.Next),
		},
	}
}

type LedgerPauseChanged struct {
	Paused bool
}

func (LedgerPauseChanged) EventType() string { return TypeLedgerPauseChanged }

func (e LedgerPauseChanged) Event() *types.Event {
	return &types.Event{
		Type:       TypeLedgerPauseChanged,
		Attributes: map[string]string{"paused": strconv.FormatBool(e.Paused)},
	}
}
