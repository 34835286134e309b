package server

import (
	"errors"
	"net/http"

	"peerlend/native/bank"
	"peerlend/native/lending"
)

var errBadRequest = errors.New("bad request")

// statusFor maps a ledger error to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, bank.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	}
	code := lending.ErrorCode(err)
	switch code {
	case "pool_not_found", "loan_not_found":
		return http.StatusNotFound, code
	case "unauthorized":
		return http.StatusForbidden, code
	case "paused":
		return http.StatusServiceUnavailable, code
	case "transfer_failed":
		return http.StatusUnprocessableEntity, code
	case "auction_already_active", "auction_not_started", "auction_ended", "auction_not_ended":
		return http.StatusConflict, code
	case "reentrant", "internal":
		return http.StatusInternalServerError, code
	default:
		return http.StatusBadRequest, code
	}
}
