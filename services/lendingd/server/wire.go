package server

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"peerlend/crypto"
	"peerlend/native/lending"
	"peerlend/services/lendingd/journal"
)

// Amounts travel as base-10 strings so they survive JSON number precision.

type poolRequest struct {
	Lender          string `json:"lender,omitempty"`
	LoanToken       string `json:"loanToken"`
	CollateralToken string `json:"collateralToken"`
	MinLoanSize     string `json:"minLoanSize"`
	PoolBalance     string `json:"poolBalance"`
	MaxLoanRatio    string `json:"maxLoanRatio"`
	AuctionLength   uint64 `json:"auctionLength"`
	InterestRate    uint64 `json:"interestRate"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type ratioRequest struct {
	MaxLoanRatio string `json:"maxLoanRatio"`
}

type rateRequest struct {
	InterestRate uint64 `json:"interestRate"`
}

type borrowRequest struct {
	Borrows []struct {
		PoolID     string `json:"poolId"`
		Debt       string `json:"debt"`
		Collateral string `json:"collateral"`
	} `json:"borrows"`
}

type refinanceRequest struct {
	Refinances []struct {
		LoanID     uint64 `json:"loanId"`
		PoolID     string `json:"poolId"`
		Debt       string `json:"debt"`
		Collateral string `json:"collateral"`
	} `json:"refinances"`
}

type giveRequest struct {
	Gives []struct {
		LoanID uint64 `json:"loanId"`
		PoolID string `json:"poolId"`
	} `json:"gives"`
}

type loanIDsRequest struct {
	LoanIDs []uint64 `json:"loanIds"`
}

type zapRequest struct {
	Pool   poolRequest `json:"pool"`
	LoanID uint64      `json:"loanId"`
}

type feeRequest struct {
	FeeBps uint64 `json:"feeBps"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type poolResponse struct {
	ID               string `json:"id"`
	Lender           string `json:"lender"`
	LoanToken        string `json:"loanToken"`
	CollateralToken  string `json:"collateralToken"`
	MinLoanSize      string `json:"minLoanSize"`
	PoolBalance      string `json:"poolBalance"`
	MaxLoanRatio     string `json:"maxLoanRatio"`
	AuctionLength    uint64 `json:"auctionLength"`
	InterestRate     uint64 `json:"interestRate"`
	OutstandingLoans string `json:"outstandingLoans"`
}

type auctionResponse struct {
	Active    bool   `json:"active"`
	StartedAt uint64 `json:"startedAt,omitempty"`
}

type loanResponse struct {
	ID              uint64          `json:"id"`
	Status          string          `json:"status"`
	PoolID          string          `json:"poolId,omitempty"`
	Lender          string          `json:"lender,omitempty"`
	Borrower        string          `json:"borrower,omitempty"`
	LoanToken       string          `json:"loanToken,omitempty"`
	CollateralToken string          `json:"collateralToken,omitempty"`
	Debt            string          `json:"debt"`
	Collateral      string          `json:"collateral"`
	InterestRate    uint64          `json:"interestRate"`
	StartTimestamp  uint64          `json:"startTimestamp"`
	AuctionLength   uint64          `json:"auctionLength"`
	Auction         auctionResponse `json:"auction"`
}

type debtResponse struct {
	LoanID         uint64 `json:"loanId"`
	Debt           string `json:"debt"`
	LenderInterest string `json:"lenderInterest"`
	ProtocolFee    string `json:"protocolFee"`
	Total          string `json:"total"`
}

type feeResponse struct {
	Governance string `json:"governance"`
	Receiver   string `json:"receiver"`
	FeeBps     uint64 `json:"feeBps"`
	Paused     bool   `json:"paused"`
}

type balanceResponse struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Account  string `json:"account"`
	Balance  string `json:"balance"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", errBadRequest, field)
	}
	return amount, nil
}

func parseAddress(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func parsePoolID(value string) (lending.PoolID, error) {
	id, err := lending.ParsePoolID(value)
	if err != nil {
		return id, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return id, nil
}

func parseLoanID(value string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid loan id %q", errBadRequest, value)
	}
	return id, nil
}

func (p poolRequest) terms(caller [20]byte) (lending.PoolTerms, error) {
	var terms lending.PoolTerms
	var err error
	terms.Lender = caller
	if strings.TrimSpace(p.Lender) != "" {
		if terms.Lender, err = parseAddress("lender", p.Lender); err != nil {
			return terms, err
		}
	}
	if terms.LoanToken, err = parseAddress("loanToken", p.LoanToken); err != nil {
		return terms, err
	}
	if terms.CollateralToken, err = parseAddress("collateralToken", p.CollateralToken); err != nil {
		return terms, err
	}
	if terms.MinLoanSize, err = parseAmount("minLoanSize", p.MinLoanSize); err != nil {
		return terms, err
	}
	if terms.PoolBalance, err = parseAmount("poolBalance", p.PoolBalance); err != nil {
		return terms, err
	}
	if terms.MaxLoanRatio, err = parseAmount("maxLoanRatio", p.MaxLoanRatio); err != nil {
		return terms, err
	}
	terms.AuctionLength = p.AuctionLength
	terms.InterestRate = p.InterestRate
	return terms, nil
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAddress(addr)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func poolToResponse(pool *lending.Pool) poolResponse {
	return poolResponse{
		ID:               pool.ID().String(),
		Lender:           formatAddress(pool.Lender),
		LoanToken:        formatAddress(pool.LoanToken),
		CollateralToken:  formatAddress(pool.CollateralToken),
		MinLoanSize:      formatAmount(pool.MinLoanSize),
		PoolBalance:      formatAmount(pool.PoolBalance),
		MaxLoanRatio:     formatAmount(pool.MaxLoanRatio),
		AuctionLength:    pool.AuctionLength,
		InterestRate:     pool.InterestRate,
		OutstandingLoans: formatAmount(pool.OutstandingLoans),
	}
}

func loanToResponse(id uint64, loan *lending.Loan) loanResponse {
	out := loanResponse{
		ID:              id,
		Status:          loan.Status.String(),
		Lender:          formatAddress(loan.Lender),
		Borrower:        formatAddress(loan.Borrower),
		LoanToken:       formatAddress(loan.LoanToken),
		CollateralToken: formatAddress(loan.CollateralToken),
		Debt:            formatAmount(loan.Debt),
		Collateral:      formatAmount(loan.Collateral),
		InterestRate:    loan.InterestRate,
		StartTimestamp:  loan.StartTimestamp,
		AuctionLength:   loan.AuctionLength,
		Auction:         auctionResponse{Active: loan.Auction.Active, StartedAt: loan.Auction.StartedAt},
	}
	if loan.IsActive() {
		out.PoolID = loan.PoolID().String()
	}
	return out
}

func feeToResponse(cfg *lending.FeeConfig) feeResponse {
	return feeResponse{
		Governance: formatAddress(cfg.Governance),
		Receiver:   formatAddress(cfg.Receiver),
		FeeBps:     cfg.FeeBps,
		Paused:     cfg.Paused,
	}
}

func recordToResponse(rec journal.Record) (eventResponse, error) {
	attrs, err := rec.Decode()
	if err != nil {
		return eventResponse{}, err
	}
	return eventResponse{
		ID:         rec.ID,
		Sequence:   rec.Sequence,
		Type:       rec.Type,
		Attributes: attrs,
		CreatedAt:  rec.CreatedAt.Unix(),
	}, nil
}
