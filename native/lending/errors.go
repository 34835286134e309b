package lending

import (
	"errors"

	nativecommon "peerlend/native/common"
)

var (
	ErrConfigInvalid           = errors.New("lending: invalid configuration")
	ErrPoolNotFound            = errors.New("lending: pool not found")
	ErrLoanNotFound            = errors.New("lending: loan not found")
	ErrLoanTooSmall            = errors.New("lending: loan below pool minimum")
	ErrLoanTooLarge            = errors.New("lending: loan exceeds pool balance")
	ErrZeroCollateral          = errors.New("lending: collateral must be positive")
	ErrRatioTooHigh            = errors.New("lending: loan ratio above pool maximum")
	ErrInsufficientPoolBalance = errors.New("lending: insufficient pool balance")
	ErrPoolTooSmall            = errors.New("lending: pool balance cannot cover settlement")
	ErrUnauthorized            = errors.New("lending: unauthorized")
	ErrAuctionAlreadyActive    = errors.New("lending: auction already active")
	ErrAuctionNotStarted       = errors.New("lending: auction not started")
	ErrAuctionEnded            = errors.New("lending: auction ended")
	ErrAuctionNotEnded         = errors.New("lending: auction not ended")
	ErrAuctionTooShort         = errors.New("lending: target pool auction too short")
	ErrRateTooHigh             = errors.New("lending: interest rate too high")
	ErrTokenMismatch           = errors.New("lending: token pair mismatch")
	ErrTransferFailed          = errors.New("lending: token transfer failed")
	ErrInvalidAmount           = errors.New("lending: invalid amount")
	ErrReentrant               = errors.New("lending: reentrant call")

	errNilState   = errors.New("lending engine: state not configured")
	errNilGateway = errors.New("lending engine: token gateway not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrConfigInvalid, "config_invalid"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrLoanNotFound, "loan_not_found"},
	{ErrLoanTooSmall, "loan_too_small"},
	{ErrLoanTooLarge, "loan_too_large"},
	{ErrZeroCollateral, "zero_collateral"},
	{ErrRatioTooHigh, "ratio_too_high"},
	{ErrInsufficientPoolBalance, "insufficient_pool_balance"},
	{ErrPoolTooSmall, "pool_too_small"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAuctionAlreadyActive, "auction_already_active"},
	{ErrAuctionNotStarted, "auction_not_started"},
	{ErrAuctionEnded, "auction_ended"},
	{ErrAuctionNotEnded, "auction_not_ended"},
	{ErrAuctionTooShort, "auction_too_short"},
	{ErrRateTooHigh, "rate_too_high"},
	{ErrTokenMismatch, "token_mismatch"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrReentrant, "reentrant"},
	{nativecommon.ErrModulePaused, "paused"},
}

// ErrorCode returns a stable snake_case code for err, "ok" for nil and
// "internal" for anything the ledger does not define.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
