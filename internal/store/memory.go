package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/satlend/exit-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	loans      map[string]*model.Loan
	orders     []model.SellOrder // insertion order
	strategies map[string]*model.StrategyRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:      make(map[string]*model.Loan),
		strategies: make(map[string]*model.StrategyRecord),
	}
}

func (s *MemoryStore) CreateLoan(_ context.Context, l *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loans[l.ID]; exists {
		return fmt.Errorf("loan %s already exists", l.ID)
	}
	copy := *l
	s.loans[l.ID] = &copy
	return nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id string) (*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ListLoansByUser(_ context.Context, userID string) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var loans []model.Loan
	for _, l := range s.loans {
		if l.UserID == userID {
			loans = append(loans, *l)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans, nil
}

func (s *MemoryStore) ListUsersWithOpenOrders(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, o := range s.orders {
		if !o.Status.OnExchange() {
			continue
		}
		l, ok := s.loans[o.LoanID]
		if !ok || seen[l.UserID] {
			continue
		}
		seen[l.UserID] = true
		users = append(users, l.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) ListSellOrders(_ context.Context, loanID string) ([]model.SellOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SellOrder
	for _, o := range s.orders {
		if o.LoanID == loanID {
			result = append(result, cloneOrder(o))
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) GetSellOrder(_ context.Context, id string) (*model.SellOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		o := cloneOrder(s.orders[i])
		return &o, nil
	}
	return nil, fmt.Errorf("sell order %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) GetSellOrderByExchangeID(_ context.Context, exchangeOrderID string) (*model.SellOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if exchangeOrderID != "" && o.ExchangeOrderID == exchangeOrderID {
			c := cloneOrder(o)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("sell order with exchange id %s: %w", exchangeOrderID, ErrNotFound)
}

func (s *MemoryStore) InsertSellOrder(_ context.Context, o *model.SellOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(*o)
}

func (s *MemoryStore) UpdateSellOrder(_ context.Context, o *model.SellOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(o.ID)
	if i < 0 {
		return fmt.Errorf("sell order %s: %w", o.ID, ErrNotFound)
	}
	if o.ExchangeOrderID != "" {
		for j, other := range s.orders {
			if j != i && other.ExchangeOrderID == o.ExchangeOrderID {
				return fmt.Errorf("exchange id %s: %w", o.ExchangeOrderID, ErrDuplicateExchangeID)
			}
		}
	}
	cur := &s.orders[i]
	cur.Status = o.Status
	cur.ExchangeOrderID = o.ExchangeOrderID
	cur.CompletedAt = cloneTime(o)
	return nil
}

func (s *MemoryStore) DeleteSellOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("sell order %s: %w", id, ErrNotFound)
	}
	s.orders = append(s.orders[:i], s.orders[i+1:]...)
	return nil
}

func (s *MemoryStore) ReplacePlannedOrders(_ context.Context, loanID string, orders []model.SellOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]model.SellOrder, 0, len(s.orders)+len(orders))
	for _, o := range s.orders {
		if o.LoanID == loanID && (o.Status == model.StatusPlanned || o.Status == model.StatusFailed) {
			continue
		}
		kept = append(kept, o)
	}

	// Build on a scratch copy so a failed insert leaves the store unchanged.
	prev := s.orders
	s.orders = kept
	for _, o := range orders {
		if err := s.insertLocked(o); err != nil {
			s.orders = prev
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetStrategy(_ context.Context, loanID string) (*model.StrategyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.strategies[loanID]
	if !ok {
		return nil, fmt.Errorf("strategy for loan %s: %w", loanID, ErrNotFound)
	}
	copy := *rec
	copy.Payload = append([]byte(nil), rec.Payload...)
	return &copy, nil
}

func (s *MemoryStore) PutStrategy(_ context.Context, rec *model.StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loans[rec.LoanID]; !ok {
		return fmt.Errorf("loan %s: %w", rec.LoanID, ErrNotFound)
	}
	copy := *rec
	copy.Payload = append([]byte(nil), rec.Payload...)
	s.strategies[rec.LoanID] = &copy
	return nil
}

func (s *MemoryStore) insertLocked(o model.SellOrder) error {
	if s.indexOf(o.ID) >= 0 {
		return fmt.Errorf("sell order %s already exists", o.ID)
	}
	if o.ExchangeOrderID != "" {
		for _, other := range s.orders {
			if other.ExchangeOrderID == o.ExchangeOrderID {
				return fmt.Errorf("exchange id %s: %w", o.ExchangeOrderID, ErrDuplicateExchangeID)
			}
		}
	}
	s.orders = append(s.orders, cloneOrder(o))
	return nil
}

func (s *MemoryStore) indexOf(id string) int {
	for i, o := range s.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func cloneOrder(o model.SellOrder) model.SellOrder {
	o.CompletedAt = cloneTime(&o)
	return o
}

func cloneTime(o *model.SellOrder) *time.Time {
	if o.CompletedAt == nil {
		return nil
	}
	t := *o.CompletedAt
	return &t
}
