package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"peerlend/native/bank"
	"peerlend/native/lending"
	"peerlend/services/lendingd/journal"
)

const maxBodyBytes = 1 << 20

// Ledger is the lending engine surface served over HTTP.
type Ledger interface {
	SetPool(ctx context.Context, caller [20]byte, terms lending.PoolTerms) (lending.PoolID, error)
	AddToPool(ctx context.Context, caller [20]byte, id lending.PoolID, amount *big.Int) error
	RemoveFromPool(ctx context.Context, caller [20]byte, id lending.PoolID, amount *big.Int) error
	UpdateMaxLoanRatio(ctx context.Context, caller [20]byte, id lending.PoolID, ratio *big.Int) error
	UpdateInterestRate(ctx context.Context, caller [20]byte, id lending.PoolID, rate uint64) error
	Borrow(ctx context.Context, caller [20]byte, requests []lending.BorrowRequest) ([]uint64, error)
	Repay(ctx context.Context, caller [20]byte, loanIDs []uint64) error
	Refinance(ctx context.Context, caller [20]byte, requests []lending.RefinanceRequest) error
	GiveLoan(ctx context.Context, caller [20]byte, requests []lending.GiveRequest) error
	StartAuction(ctx context.Context, caller [20]byte, loanIDs []uint64) error
	BuyLoan(ctx context.Context, caller [20]byte, loanID uint64, rate uint64) error
	ZapBuyLoan(ctx context.Context, caller [20]byte, terms lending.PoolTerms, loanID uint64) (lending.PoolID, error)
	SeizeLoan(ctx context.Context, caller [20]byte, loanIDs []uint64) error
	SetFee(ctx context.Context, caller [20]byte, feeBps uint64) error
	SetFeeReceiver(ctx context.Context, caller, receiver [20]byte) error
	TransferGovernance(ctx context.Context, caller, next [20]byte) error
	SetPaused(ctx context.Context, caller [20]byte, paused bool) error
	Pool(ctx context.Context, id lending.PoolID) (*lending.Pool, error)
	Loan(ctx context.Context, id uint64) (*lending.Loan, error)
	LoanCount(ctx context.Context) (uint64, error)
	LoanSettlement(ctx context.Context, id uint64) (lending.Settlement, error)
	FeeConfig(ctx context.Context) (*lending.FeeConfig, error)
	Exclusive(ctx context.Context, fn func() error) error
}

// Bank is the token ledger behind the engine's gateway.
type Bank interface {
	Token(addr [20]byte) (bank.Token, bool)
	BalanceOf(token, account [20]byte) (*big.Int, error)
	Mint(token, to [20]byte, amount *big.Int) error
}

// EventLog lists journaled ledger events.
type EventLog interface {
	List(ctx context.Context, q journal.Query) ([]journal.Record, error)
}

// Config bundles the server's collaborators.
type Config struct {
	Ledger    Ledger
	Bank      Bank
	Events    EventLog
	Hub       *Hub
	Auth      *Authenticator
	RateLimit RateLimit
	Faucet    bool
	Logger    *slog.Logger
}

// Server exposes the lending ledger over JSON/HTTP.
type Server struct {
	ledger  Ledger
	bank    Bank
	events  EventLog
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	faucet  bool
	logger  *slog.Logger
	router  chi.Router
}

// New constructs the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	if cfg.Bank == nil {
		return nil, errors.New("server: bank required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  cfg.Ledger,
		bank:    cfg.Bank,
		events:  cfg.Events,
		hub:     cfg.Hub,
		auth:    cfg.Auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		faucet:  cfg.Faucet,
		logger:  logger,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lendingd")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Get("/pools/{id}", s.handleGetPool)
		r.Get("/loans/count", s.handleLoanCount)
		r.Get("/loans/{id}", s.handleGetLoan)
		r.Get("/loans/{id}/debt", s.handleLoanDebt)
		r.Get("/governance/fee", s.handleGetFee)
		r.Get("/tokens/{token}/balances/{addr}", s.handleBalance)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/ws", s.handleEventStream)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)

			r.Post("/pools", s.handleSetPool)
			r.Post("/pools/{id}/deposit", s.handleDeposit)
			r.Post("/pools/{id}/withdraw", s.handleWithdraw)
			r.Post("/pools/{id}/max-loan-ratio", s.handleMaxLoanRatio)
			r.Post("/pools/{id}/interest-rate", s.handleInterestRate)

			r.Post("/loans/borrow", s.handleBorrow)
			r.Post("/loans/repay", s.handleRepay)
			r.Post("/loans/refinance", s.handleRefinance)
			r.Post("/loans/give", s.handleGive)

			r.Post("/auctions/start", s.handleStartAuction)
			r.Post("/auctions/{id}/buy", s.handleBuy)
			r.Post("/auctions/zap", s.handleZap)
			r.Post("/auctions/seize", s.handleSeize)

			r.Post("/governance/fee", s.handleSetFee)
			r.Post("/governance/receiver", s.handleSetReceiver)
			r.Post("/governance/transfer", s.handleTransferGovernance)
			r.Post("/governance/pause", s.handleSetPause)

			r.Post("/tokens/{token}/mint", s.handleMint)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"route", routePattern(r),
			"request_id", w.Header().Get(requestIDHeader),
			"error", err)
		message = http.StatusText(status)
	}
	writeError(w, status, code, message)
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func caller(r *http.Request) [20]byte {
	addr, _ := CallerFromContext(r.Context())
	return addr
}

func (s *Server) handleSetPool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	terms, err := req.terms(caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.ledger.SetPool(r.Context(), caller(r), terms)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"poolId": id.String()})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, err := parsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pool, err := s.ledger.Pool(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolToResponse(pool))
}

// poolAmount handles the deposit and withdraw routes.
func (s *Server) poolAmount(w http.ResponseWriter, r *http.Request, apply func(context.Context, [20]byte, lending.PoolID, *big.Int) error) {
	id, err := parsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := apply(r.Context(), caller(r), id, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondPool(w, r, id)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.poolAmount(w, r, s.ledger.AddToPool)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.poolAmount(w, r, s.ledger.RemoveFromPool)
}

func (s *Server) handleMaxLoanRatio(w http.ResponseWriter, r *http.Request) {
	id, err := parsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ratioRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ratio, err := parseAmount("maxLoanRatio", req.MaxLoanRatio)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.UpdateMaxLoanRatio(r.Context(), caller(r), id, ratio); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondPool(w, r, id)
}

func (s *Server) handleInterestRate(w http.ResponseWriter, r *http.Request) {
	id, err := parsePoolID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req rateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.UpdateInterestRate(r.Context(), caller(r), id, req.InterestRate); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondPool(w, r, id)
}

func (s *Server) respondPool(w http.ResponseWriter, r *http.Request, id lending.PoolID) {
	pool, err := s.ledger.Pool(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolToResponse(pool))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	requests := make([]lending.BorrowRequest, 0, len(req.Borrows))
	for i, item := range req.Borrows {
		id, err := parsePoolID(item.PoolID)
		if err != nil {
			s.fail(w, r, fmt.Errorf("borrows[%d]: %w", i, err))
			return
		}
		debt, err := parseAmount("debt", item.Debt)
		if err != nil {
			s.fail(w, r, fmt.Errorf("borrows[%d]: %w", i, err))
			return
		}
		collateral, err := parseAmount("collateral", item.Collateral)
		if err != nil {
			s.fail(w, r, fmt.Errorf("borrows[%d]: %w", i, err))
			return
		}
		requests = append(requests, lending.BorrowRequest{PoolID: id, Debt: debt, Collateral: collateral})
	}
	ids, err := s.ledger.Borrow(r.Context(), caller(r), requests)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"loanIds": ids})
}

// loanBatch handles the routes whose body is a list of loan ids.
func (s *Server) loanBatch(w http.ResponseWriter, r *http.Request, apply func(context.Context, [20]byte, []uint64) error) {
	var req loanIDsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := apply(r.Context(), caller(r), req.LoanIDs); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"loanIds": req.LoanIDs})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.loanBatch(w, r, s.ledger.Repay)
}

func (s *Server) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	s.loanBatch(w, r, s.ledger.StartAuction)
}

func (s *Server) handleSeize(w http.ResponseWriter, r *http.Request) {
	s.loanBatch(w, r, s.ledger.SeizeLoan)
}

func (s *Server) handleRefinance(w http.ResponseWriter, r *http.Request) {
	var req refinanceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	requests := make([]lending.RefinanceRequest, 0, len(req.Refinances))
	for i, item := range req.Refinances {
		id, err := parsePoolID(item.PoolID)
		if err != nil {
			s.fail(w, r, fmt.Errorf("refinances[%d]: %w", i, err))
			return
		}
		debt, err := parseAmount("debt", item.Debt)
		if err != nil {
			s.fail(w, r, fmt.Errorf("refinances[%d]: %w", i, err))
			return
		}
		collateral, err := parseAmount("collateral", item.Collateral)
		if err != nil {
			s.fail(w, r, fmt.Errorf("refinances[%d]: %w", i, err))
			return
		}
		requests = append(requests, lending.RefinanceRequest{LoanID: item.LoanID, PoolID: id, Debt: debt, Collateral: collateral})
	}
	if err := s.ledger.Refinance(r.Context(), caller(r), requests); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refinanced": len(requests)})
}

func (s *Server) handleGive(w http.ResponseWriter, r *http.Request) {
	var req giveRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	requests := make([]lending.GiveRequest, 0, len(req.Gives))
	for i, item := range req.Gives {
		id, err := parsePoolID(item.PoolID)
		if err != nil {
			s.fail(w, r, fmt.Errorf("gives[%d]: %w", i, err))
			return
		}
		requests = append(requests, lending.GiveRequest{LoanID: item.LoanID, PoolID: id})
	}
	if err := s.ledger.GiveLoan(r.Context(), caller(r), requests); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"given": len(requests)})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loan, err := s.ledger.Loan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToResponse(id, loan))
}

func (s *Server) handleLoanCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.ledger.LoanCount(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleLoanDebt(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	settlement, err := s.ledger.LoanSettlement(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, debtResponse{
		LoanID:         id,
		Debt:           formatAmount(settlement.Debt),
		LenderInterest: formatAmount(settlement.LenderInterest),
		ProtocolFee:    formatAmount(settlement.ProtocolFee),
		Total:          formatAmount(settlement.Total()),
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req rateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.BuyLoan(r.Context(), caller(r), id, req.InterestRate); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondLoan(w, r, id)
}

func (s *Server) handleZap(w http.ResponseWriter, r *http.Request) {
	var req zapRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	terms, err := req.Pool.terms(caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	poolID, err := s.ledger.ZapBuyLoan(r.Context(), caller(r), terms, req.LoanID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"poolId": poolID.String()})
}

func (s *Server) respondLoan(w http.ResponseWriter, r *http.Request, id uint64) {
	loan, err := s.ledger.Loan(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToResponse(id, loan))
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ledger.FeeConfig(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feeToResponse(cfg))
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.SetFee(r.Context(), caller(r), req.FeeBps); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetFee(w, r)
}

// governanceAddress handles the routes that reassign a governance-held address.
func (s *Server) governanceAddress(w http.ResponseWriter, r *http.Request, apply func(context.Context, [20]byte, [20]byte) error) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := apply(r.Context(), caller(r), addr); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetFee(w, r)
}

func (s *Server) handleSetReceiver(w http.ResponseWriter, r *http.Request) {
	s.governanceAddress(w, r, s.ledger.SetFeeReceiver)
}

func (s *Server) handleTransferGovernance(w http.ResponseWriter, r *http.Request) {
	s.governanceAddress(w, r, s.ledger.TransferGovernance)
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.SetPaused(r.Context(), caller(r), req.Paused); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetFee(w, r)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	meta, ok := s.bank.Token(token)
	if !ok {
		s.fail(w, r, bank.ErrUnknownToken)
		return
	}
	balance, err := s.bank.BalanceOf(token, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Token:    formatAddress(token),
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
		Account:  formatAddress(account),
		Balance:  formatAmount(balance),
	})
}

// handleMint is the governance faucet for development networks.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		writeError(w, http.StatusNotFound, "faucet_disabled", "faucet is disabled")
		return
	}
	token, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req mintRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cfg, err := s.ledger.FeeConfig(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if caller(r) != cfg.Governance {
		s.fail(w, r, lending.ErrUnauthorized)
		return
	}
	err = s.ledger.Exclusive(r.Context(), func() error {
		return s.bank.Mint(token, to, amount)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("faucet mint", "token", formatAddress(token), "to", formatAddress(to), "amount", amount.String())
	balance, err := s.bank.BalanceOf(token, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": formatAmount(balance)})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event journal disabled")
		return
	}
	query := r.URL.Query()
	q := journal.Query{
		Type:   strings.TrimSpace(query.Get("type")),
		PoolID: strings.ToLower(strings.TrimSpace(query.Get("pool"))),
		LoanID: strings.TrimSpace(query.Get("loan")),
	}
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: invalid after cursor", errBadRequest))
			return
		}
		q.After = after
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, r, fmt.Errorf("%w: invalid limit", errBadRequest))
			return
		}
		q.Limit = limit
	}
	records, err := s.events.List(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, rec := range records {
		resp, err := recordToResponse(rec)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
