package lending

import "math/big"

const (
	moduleName = "lending"

	// MaxInterestRate caps pool rates and is the auction ceiling at expiry.
	MaxInterestRate uint64 = 100_000
	// MaxAuctionLength is three days in seconds.
	MaxAuctionLength uint64 = 3 * 24 * 60 * 60
	// MaxFeeBps caps the protocol fee at 50%.
	MaxFeeBps uint64 = 5_000
	// DefaultFeeBps is the protocol fee applied before governance changes it.
	DefaultFeeBps uint64 = 100
	// SecondsPerYear is the accrual period; interest only accrues per whole year.
	SecondsPerYear uint64 = 365 * 24 * 60 * 60
)

var (
	basisPoints = big.NewInt(10_000)
	ratioScale  = mustBigInt("1000000000000000000") // 1e18
)

// RatioScale returns the fixed-point scale used by MaxLoanRatio.
func RatioScale() *big.Int { return new(big.Int).Set(ratioScale) }

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}
