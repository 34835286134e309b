package lending

import (
	"sort"
	"sync"

	"peerlend/native/bank"
)

// Store is the committed ledger state the engine reads from and flushes
// ChangeSets into. Implementations must apply a ChangeSet atomically.
type Store interface {
	GetPool(id PoolID) (*Pool, bool, error)
	GetLoan(id uint64) (*Loan, bool, error)
	LoanCount() (uint64, error)
	GetFeeConfig() (*FeeConfig, bool, error)
	Apply(cs *ChangeSet) error
}

// ChangeSet is the write set produced by one successful operation. Balances
// carries the token balances the gateway moved so a persistent Store writes
// them in the same batch as the ledger records.
type ChangeSet struct {
	Pools     map[PoolID]*Pool
	Loans     map[uint64]*Loan
	LoanCount uint64
	Fee       *FeeConfig
	Balances  []bank.Balance
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Pools) == 0 && len(cs.Loans) == 0 && cs.Fee == nil && len(cs.Balances) == 0)
}

// SortedPoolIDs returns the touched pool ids in byte order so that backends
// produce deterministic batches.
func (cs *ChangeSet) SortedPoolIDs() []PoolID {
	ids := make([]PoolID, 0, len(cs.Pools))
	for id := range cs.Pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i][:]) < string(ids[j][:])
	})
	return ids
}

// SortedLoanIDs returns the touched loan indexes in ascending order.
func (cs *ChangeSet) SortedLoanIDs() []uint64 {
	ids := make([]uint64, 0, len(cs.Loans))
	for id := range cs.Loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MemoryStore keeps ledger state in maps. It backs tests and the memory
// storage mode of the daemon.
type MemoryStore struct {
	mu    sync.RWMutex
	pools map[PoolID]*Pool
	loans []*Loan
	fee   *FeeConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pools: make(map[PoolID]*Pool)}
}

func (s *MemoryStore) GetPool(id PoolID) (*Pool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (s *MemoryStore) GetLoan(id uint64) (*Loan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.loans)) {
		return nil, false, nil
	}
	return s.loans[id].Clone(), true, nil
}

func (s *MemoryStore) LoanCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.loans)), nil
}

func (s *MemoryStore) GetFeeConfig() (*FeeConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fee == nil {
		return nil, false, nil
	}
	return s.fee.Clone(), true, nil
}

func (s *MemoryStore) Apply(cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pool := range cs.Pools {
		s.pools[id] = pool.Clone()
	}
	if cs.LoanCount > uint64(len(s.loans)) {
		grown := make([]*Loan, cs.LoanCount)
		copy(grown, s.loans)
		s.loans = grown
	}
	for id, loan := range cs.Loans {
		s.loans[id] = loan.Clone()
	}
	if cs.Fee != nil {
		s.fee = cs.Fee.Clone()
	}
	return nil
}
