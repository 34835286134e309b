package lending

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// checkAmount rejects nil, negative and over-256-bit values. Token balances
// live in uint256 on the gateway side, so nothing wider may enter the ledger.
func checkAmount(field string, v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, field)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidAmount, field)
	}
	return nil
}

func elapsedSince(start, now uint64) uint64 {
	if now <= start {
		return 0
	}
	return now - start
}

// accrue applies floor(rate*principal/10000) * floor(elapsed/1y).
func accrue(principal *big.Int, rateBps, elapsed uint64) *big.Int {
	years := elapsed / SecondsPerYear
	if principal == nil || principal.Sign() == 0 || rateBps == 0 || years == 0 {
		return big.NewInt(0)
	}
	perYear := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	perYear.Quo(perYear, basisPoints)
	return perYear.Mul(perYear, new(big.Int).SetUint64(years))
}

// settle computes what closing the loan costs at now under the given fee.
func settle(loan *Loan, feeBps, now uint64) Settlement {
	elapsed := elapsedSince(loan.StartTimestamp, now)
	return Settlement{
		Debt:           cloneBigInt(loan.Debt),
		LenderInterest: accrue(loan.Debt, loan.InterestRate, elapsed),
		ProtocolFee:    accrue(loan.Debt, feeBps, elapsed),
	}
}

// loanRatio returns debt*1e18/collateral. Collateral must be positive.
func loanRatio(debt, collateral *big.Int) *big.Int {
	ratio := new(big.Int).Mul(debt, ratioScale)
	return ratio.Quo(ratio, collateral)
}

func ratioExceeds(debt, collateral, maxRatio *big.Int) bool {
	return loanRatio(debt, collateral).Cmp(maxRatio) > 0
}

// auctionCeiling is MaxInterestRate * elapsed / auctionLength.
func auctionCeiling(elapsed, auctionLength uint64) *big.Int {
	if auctionLength == 0 {
		return new(big.Int).SetUint64(MaxInterestRate)
	}
	ceiling := new(big.Int).SetUint64(MaxInterestRate)
	ceiling.Mul(ceiling, new(big.Int).SetUint64(elapsed))
	return ceiling.Quo(ceiling, new(big.Int).SetUint64(auctionLength))
}

// bpsOf returns floor(amount*bps/10000).
func bpsOf(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}
