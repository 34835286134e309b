package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken        = errors.New("bank: unknown token")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
	ErrTokenExists         = errors.New("bank: token already registered")
)

// Token describes a fungible asset the ledger can move.
type Token struct {
	Address  [20]byte
	Symbol   string
	Decimals uint8
}

// Balance is one persisted account balance.
type Balance struct {
	Token   [20]byte
	Account [20]byte
	Amount  *big.Int
}

// BalanceStore persists balances between restarts.
type BalanceStore interface {
	Balance(token, account [20]byte) (*big.Int, bool, error)
	PutBalances(entries []Balance) error
}

type balanceKey struct {
	token   [20]byte
	account [20]byte
}

type journalEntry struct {
	key  balanceKey
	prev *uint256.Int
}

// Ledger is an in-process token ledger. It serves as the lending engine's
// token gateway: Transfer pays out of the custody account and every change
// is journaled so an aborted operation can be rolled back.
type Ledger struct {
	mu       sync.Mutex
	custody  [20]byte
	tokens   map[[20]byte]Token
	balances map[balanceKey]*uint256.Int
	journal  []journalEntry
	dirty    map[balanceKey]struct{}
	store    BalanceStore
}

// NewLedger creates a ledger paying out of custody. store may be nil for a
// purely in-memory ledger.
func NewLedger(custody [20]byte, store BalanceStore) *Ledger {
	return &Ledger{
		custody:  custody,
		tokens:   make(map[[20]byte]Token),
		balances: make(map[balanceKey]*uint256.Int),
		dirty:    make(map[balanceKey]struct{}),
		store:    store,
	}
}

// Custody returns the account Transfer debits.
func (l *Ledger) Custody() [20]byte { return l.custody }

// RegisterToken makes token movable.
func (l *Ledger) RegisterToken(token Token) error {
	token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
	if token.Symbol == "" {
		return fmt.Errorf("bank: token symbol must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token.Address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, token.Symbol)
	}
	l.tokens[token.Address] = token
	return nil
}

// Token looks up a registered token.
func (l *Ledger) Token(addr [20]byte) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	token, ok := l.tokens[addr]
	return token, ok
}

// Tokens lists registered tokens ordered by symbol.
func (l *Ledger) Tokens() []Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Token, 0, len(l.tokens))
	for _, token := range l.tokens {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Decimals reports the display precision of token.
func (l *Ledger) Decimals(addr [20]byte) (uint8, error) {
	token, ok := l.Token(addr)
	if !ok {
		return 0, ErrUnknownToken
	}
	return token.Decimals, nil
}

// BalanceOf returns the current balance of account in token.
func (l *Ledger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return nil, ErrUnknownToken
	}
	bal, err := l.load(balanceKey{token: token, account: account})
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// Mint credits amount of token to account and commits immediately. It backs
// the development faucet; callers must not mint while a ledger operation holds
// an open snapshot.
func (l *Ledger) Mint(token, to [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return ErrUnknownToken
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	key := balanceKey{token: token, account: to}
	bal, err := l.load(key)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amt)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	mark := len(l.journal)
	l.set(key, next)
	if err := l.commitLocked(); err != nil {
		l.revertLocked(mark)
		return err
	}
	return nil
}

// Transfer pays amount of token from custody to to.
func (l *Ledger) Transfer(ctx context.Context, token, to [20]byte, amount *big.Int) error {
	return l.TransferFrom(ctx, token, l.custody, to, amount)
}

// TransferFrom moves amount of token between two accounts. It either applies
// fully or leaves balances untouched.
func (l *Ledger) TransferFrom(ctx context.Context, token, from, to [20]byte, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return ErrUnknownToken
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	fromKey := balanceKey{token: token, account: from}
	toKey := balanceKey{token: token, account: to}
	fromBal, err := l.load(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amt.Dec())
	}
	l.set(fromKey, new(uint256.Int).Sub(fromBal, amt))
	toBal, err := l.load(toKey)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(toBal, amt)
	if overflow {
		l.revertLocked(len(l.journal) - 1)
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	l.set(toKey, next)
	return nil
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every balance change made after Snapshot returned id.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertLocked(id)
}

func (l *Ledger) revertLocked(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		entry := l.journal[i]
		l.balances[entry.key] = entry.prev
	}
	if id < len(l.journal) {
		l.journal = l.journal[:id]
	}
}

// Commit persists balances changed since the last commit and clears the
// journal.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitLocked()
}

func (l *Ledger) commitLocked() error {
	if l.store != nil {
		if pending := l.pendingLocked(); len(pending) > 0 {
			if err := l.store.PutBalances(pending); err != nil {
				return err
			}
		}
	}
	l.markCommittedLocked()
	return nil
}

// PendingBalances returns the balances changed since the last commit, ordered
// by token then account. A ledger without a BalanceStore reports none.
func (l *Ledger) PendingBalances() []Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	return l.pendingLocked()
}

// BalancesCommitted records that the pending balances were written by the
// caller and clears the journal.
func (l *Ledger) BalancesCommitted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markCommittedLocked()
}

func (l *Ledger) pendingLocked() []Balance {
	if len(l.dirty) == 0 {
		return nil
	}
	entries := make([]Balance, 0, len(l.dirty))
	for key := range l.dirty {
		entries = append(entries, Balance{
			Token:   key.token,
			Account: key.account,
			Amount:  l.balances[key].ToBig(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Token != entries[j].Token {
			return string(entries[i].Token[:]) < string(entries[j].Token[:])
		}
		return string(entries[i].Account[:]) < string(entries[j].Account[:])
	})
	return entries
}

func (l *Ledger) markCommittedLocked() {
	l.journal = l.journal[:0]
	l.dirty = make(map[balanceKey]struct{})
}

func (l *Ledger) load(key balanceKey) (*uint256.Int, error) {
	if bal, ok := l.balances[key]; ok {
		return bal, nil
	}
	bal := new(uint256.Int)
	if l.store != nil {
		stored, ok, err := l.store.Balance(key.token, key.account)
		if err != nil {
			return nil, err
		}
		if ok {
			var overflow bool
			bal, overflow = uint256.FromBig(stored)
			if overflow {
				return nil, fmt.Errorf("%w: stored balance overflow", ErrInvalidAmount)
			}
		}
	}
	l.balances[key] = bal
	return bal, nil
}

func (l *Ledger) set(key balanceKey, value *uint256.Int) {
	l.journal = append(l.journal, journalEntry{key: key, prev: l.balances[key]})
	l.balances[key] = value
	l.dirty[key] = struct{}{}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return out, nil
}
