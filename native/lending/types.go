package lending

import "math/big"

// PoolID is the keccak256 digest of (lender, loan token, collateral token).
type PoolID [32]byte

// Pool is a lender's standing liquidity offer for one token pair. Amounts are
// expressed in the smallest unit of the respective token.
type Pool struct {
	Lender          [20]byte
	LoanToken       [20]byte
	CollateralToken [20]byte
	// MinLoanSize is the smallest debt the pool will originate.
	MinLoanSize *big.Int
	// PoolBalance is the idle liquidity held in custody for the pool.
	PoolBalance *big.Int
	// MaxLoanRatio bounds debt/collateral, scaled by 1e18.
	MaxLoanRatio *big.Int
	// AuctionLength is the refinance auction window in seconds.
	AuctionLength uint64
	// InterestRate is the annual rate in basis points.
	InterestRate uint64
	// OutstandingLoans tracks principal currently lent out of the pool.
	OutstandingLoans *big.Int
}

// ID derives the pool identifier from the pool's key fields.
func (p *Pool) ID() PoolID {
	return PoolIDFor(p.Lender, p.LoanToken, p.CollateralToken)
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.MinLoanSize = cloneBigInt(p.MinLoanSize)
	clone.PoolBalance = cloneBigInt(p.PoolBalance)
	clone.MaxLoanRatio = cloneBigInt(p.MaxLoanRatio)
	clone.OutstandingLoans = cloneBigInt(p.OutstandingLoans)
	return &clone
}

// PoolTerms are the owner-supplied fields of SetPool. PoolBalance is the
// desired balance after the call, not a delta.
type PoolTerms struct {
	Lender          [20]byte
	LoanToken       [20]byte
	CollateralToken [20]byte
	MinLoanSize     *big.Int
	PoolBalance     *big.Int
	MaxLoanRatio    *big.Int
	AuctionLength   uint64
	InterestRate    uint64
}

// AuctionState is the explicit auction tag carried by every loan.
type AuctionState struct {
	Active    bool
	StartedAt uint64
}

// InactiveAuction is the state of a loan nobody has put up for sale.
func InactiveAuction() AuctionState { return AuctionState{} }

// ActiveAuction returns the state of an auction opened at startedAt.
func ActiveAuction(startedAt uint64) AuctionState {
	return AuctionState{Active: true, StartedAt: startedAt}
}

// LoanStatus distinguishes live loans from tombstoned slots.
type LoanStatus uint8

const (
	LoanActive LoanStatus = iota + 1
	LoanClosed
)

func (s LoanStatus) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Loan is an individual borrower position stored at a permanent index.
type Loan struct {
	Lender          [20]byte
	Borrower        [20]byte
	LoanToken       [20]byte
	CollateralToken [20]byte
	Debt            *big.Int
	Collateral      *big.Int
	InterestRate    uint64
	StartTimestamp  uint64
	Auction         AuctionState
	AuctionLength   uint64
	Status          LoanStatus
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Debt = cloneBigInt(l.Debt)
	clone.Collateral = cloneBigInt(l.Collateral)
	return &clone
}

// IsActive reports whether the slot holds a live loan.
func (l *Loan) IsActive() bool { return l != nil && l.Status == LoanActive }

// PoolID returns the identifier of the pool currently funding the loan.
func (l *Loan) PoolID() PoolID {
	return PoolIDFor(l.Lender, l.LoanToken, l.CollateralToken)
}

// Tombstone is the inert record written over a closed loan slot.
func Tombstone() *Loan {
	return &Loan{Debt: big.NewInt(0), Collateral: big.NewInt(0), Status: LoanClosed}
}

// FeeConfig is the governance-controlled protocol fee and ledger switches.
type FeeConfig struct {
	Governance [20]byte
	Receiver   [20]byte
	FeeBps     uint64
	Paused     bool
}

// Clone returns a copy of the fee configuration.
func (f *FeeConfig) Clone() *FeeConfig {
	if f == nil {
		return nil
	}
	clone := *f
	return &clone
}

// BorrowRequest draws Debt from PoolID against Collateral.
type BorrowRequest struct {
	PoolID     PoolID
	Debt       *big.Int
	Collateral *big.Int
}

// RefinanceRequest moves LoanID to PoolID with new debt and collateral.
type RefinanceRequest struct {
	LoanID     uint64
	PoolID     PoolID
	Debt       *big.Int
	Collateral *big.Int
}

// GiveRequest hands LoanID to the pool PoolID.
type GiveRequest struct {
	LoanID uint64
	PoolID PoolID
}

// Settlement breaks down what closing a loan position costs at a moment.
type Settlement struct {
	Debt           *big.Int
	LenderInterest *big.Int
	ProtocolFee    *big.Int
}

// LenderOwed is principal plus lender interest.
func (s Settlement) LenderOwed() *big.Int {
	return new(big.Int).Add(s.Debt, s.LenderInterest)
}

// Total is principal plus lender interest plus protocol fee.
func (s Settlement) Total() *big.Int {
	total := s.LenderOwed()
	return total.Add(total, s.ProtocolFee)
}
