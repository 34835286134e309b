package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"peerlend/native/bank"
	"peerlend/native/lending"
	"peerlend/storage"
)

// Manager persists the lending ledger and token balances in a key-value
// database. Every value is RLP encoded under a keccak256-hashed key.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	poolPrefix    = []byte("lending/pool/")
	loanPrefix    = []byte("lending/loan/")
	poolIndexKey  = ethcrypto.Keccak256([]byte("lending/pool-index"))
	loanCountKey  = ethcrypto.Keccak256([]byte("lending/loan-count"))
	feeConfigKey  = ethcrypto.Keccak256([]byte("lending/fee-config"))
	balancePrefix = []byte("bank/balance/")
	tokenListKey  = ethcrypto.Keccak256([]byte("bank/token-list"))
)

func poolKey(id lending.PoolID) []byte {
	buf := make([]byte, len(poolPrefix)+len(id))
	copy(buf, poolPrefix)
	copy(buf[len(poolPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func loanKey(id uint64) []byte {
	buf := make([]byte, len(loanPrefix)+8)
	copy(buf, loanPrefix)
	binary.BigEndian.PutUint64(buf[len(loanPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(token, account [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(token)+1+len(account))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], token[:])
	buf[len(balancePrefix)+len(token)] = ':'
	copy(buf[len(balancePrefix)+len(token)+1:], account[:])
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// get decodes the value at key into out and reports whether it existed.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

func put(batch *storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

// GetPool implements lending.Store.
func (m *Manager) GetPool(id lending.PoolID) (*lending.Pool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPool(id)
}

func (m *Manager) getPool(id lending.PoolID) (*lending.Pool, bool, error) {
	pool := new(lending.Pool)
	ok, err := m.get(poolKey(id), pool)
	if err != nil || !ok {
		return nil, false, err
	}
	return pool.Clone(), true, nil
}

// GetLoan implements lending.Store.
func (m *Manager) GetLoan(id uint64) (*lending.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan := new(lending.Loan)
	ok, err := m.get(loanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan.Clone(), true, nil
}

// LoanCount implements lending.Store.
func (m *Manager) LoanCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loanCount()
}

func (m *Manager) loanCount() (uint64, error) {
	var count uint64
	if _, err := m.get(loanCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetFeeConfig implements lending.Store.
func (m *Manager) GetFeeConfig() (*lending.FeeConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := new(lending.FeeConfig)
	ok, err := m.get(feeConfigKey, cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

func (m *Manager) poolIndex() ([]lending.PoolID, error) {
	var ids []lending.PoolID
	if _, err := m.get(poolIndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Apply writes a ledger change set, including the token balances it moved,
// as one database batch. The stored loan count never shrinks.
func (m *Manager) Apply(cs *lending.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := storage.NewBatch()
	index, err := m.poolIndex()
	if err != nil {
		return err
	}
	known := make(map[lending.PoolID]struct{}, len(index))
	for _, id := range index {
		known[id] = struct{}{}
	}
	indexDirty := false
	for _, id := range cs.SortedPoolIDs() {
		if err := put(batch, poolKey(id), cs.Pools[id]); err != nil {
			return fmt.Errorf("state: encode pool %s: %w", id, err)
		}
		if _, ok := known[id]; !ok {
			index = append(index, id)
			known[id] = struct{}{}
			indexDirty = true
		}
	}
	if indexDirty {
		sort.Slice(index, func(i, j int) bool { return string(index[i][:]) < string(index[j][:]) })
		if err := put(batch, poolIndexKey, index); err != nil {
			return err
		}
	}
	for _, id := range cs.SortedLoanIDs() {
		if err := put(batch, loanKey(id), cs.Loans[id]); err != nil {
			return fmt.Errorf("state: encode loan %d: %w", id, err)
		}
	}
	stored, err := m.loanCount()
	if err != nil {
		return err
	}
	if cs.LoanCount > stored {
		if err := put(batch, loanCountKey, cs.LoanCount); err != nil {
			return err
		}
	}
	if cs.Fee != nil {
		if err := put(batch, feeConfigKey, cs.Fee); err != nil {
			return err
		}
	}
	if err := putBalances(batch, cs.Balances); err != nil {
		return err
	}
	return m.db.Write(batch)
}

// Pools returns every stored pool ordered by id.
func (m *Manager) Pools() ([]*lending.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	index, err := m.poolIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*lending.Pool, 0, len(index))
	for _, id := range index {
		pool, ok, err := m.getPool(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pool)
		}
	}
	return out, nil
}

// Balance implements bank.BalanceStore.
func (m *Manager) Balance(token, account [20]byte) (*big.Int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	amount := new(big.Int)
	ok, err := m.get(balanceKey(token, account), amount)
	if err != nil || !ok {
		return nil, false, err
	}
	return amount, true, nil
}

// PutBalances implements bank.BalanceStore.
func (m *Manager) PutBalances(entries []bank.Balance) error {
	if len(entries) == 0 {
		return nil
	}
	batch := storage.NewBatch()
	if err := putBalances(batch, entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Write(batch)
}

func putBalances(batch *storage.Batch, entries []bank.Balance) error {
	for _, entry := range entries {
		amount := entry.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		if amount.Sign() < 0 {
			return fmt.Errorf("state: negative balance not allowed")
		}
		if err := put(batch, balanceKey(entry.Token, entry.Account), amount); err != nil {
			return err
		}
	}
	return nil
}

type tokenRecord struct {
	Address  [20]byte
	Symbol   string
	Decimals uint8
}

// RegisterToken records a token in the persistent registry. Registering the
// same address again with identical metadata is a no-op.
func (m *Manager) RegisterToken(token bank.Token) error {
	symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []tokenRecord
	if _, err := m.get(tokenListKey, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if existing.Address == token.Address {
			if existing.Symbol == symbol && existing.Decimals == token.Decimals {
				return nil
			}
			return fmt.Errorf("token %s already registered as %s", symbol, existing.Symbol)
		}
		if existing.Symbol == symbol {
			return fmt.Errorf("token symbol %s already registered", symbol)
		}
	}
	list = append(list, tokenRecord{Address: token.Address, Symbol: symbol, Decimals: token.Decimals})
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	batch := storage.NewBatch()
	if err := put(batch, tokenListKey, list); err != nil {
		return err
	}
	return m.db.Write(batch)
}

// Tokens returns the registered tokens sorted by symbol.
func (m *Manager) Tokens() ([]bank.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []tokenRecord
	if _, err := m.get(tokenListKey, &list); err != nil {
		return nil, err
	}
	out := make([]bank.Token, 0, len(list))
	for _, rec := range list {
		out = append(out, bank.Token{Address: rec.Address, Symbol: rec.Symbol, Decimals: rec.Decimals})
	}
	return out, nil
}

// KVPut stores value under key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	batch := storage.NewBatch()
	if err := put(batch, kvKey(key), value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Write(batch)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(kvKey(key), out)
}
