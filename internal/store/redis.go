package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satlend/exit-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateLoan(ctx context.Context, l *model.Loan) error {
	if err := s.primary.CreateLoan(ctx, l); err != nil {
		return err
	}
	s.set(ctx, loanKey(l.ID), l)
	return nil
}

func (s *CachedStore) InsertSellOrder(ctx context.Context, o *model.SellOrder) error {
	if err := s.primary.InsertSellOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, ordersKey(o.LoanID))
	return nil
}

func (s *CachedStore) UpdateSellOrder(ctx context.Context, o *model.SellOrder) error {
	if err := s.primary.UpdateSellOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, ordersKey(o.LoanID))
	return nil
}

func (s *CachedStore) DeleteSellOrder(ctx context.Context, id string) error {
	// Resolve the loan first so its cached order list can be dropped.
	o, err := s.primary.GetSellOrder(ctx, id)
	if err != nil {
		return err
	}
	if err := s.primary.DeleteSellOrder(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, ordersKey(o.LoanID))
	return nil
}

func (s *CachedStore) ReplacePlannedOrders(ctx context.Context, loanID string, orders []model.SellOrder) error {
	if err := s.primary.ReplacePlannedOrders(ctx, loanID, orders); err != nil {
		return err
	}
	s.rdb.Del(ctx, ordersKey(loanID))
	return nil
}

func (s *CachedStore) PutStrategy(ctx context.Context, rec *model.StrategyRecord) error {
	if err := s.primary.PutStrategy(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, strategyKey(rec.LoanID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	var l model.Loan
	if s.get(ctx, loanKey(id), &l) {
		return &l, nil
	}

	loan, err := s.primary.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, loanKey(id), loan)
	return loan, nil
}

func (s *CachedStore) ListSellOrders(ctx context.Context, loanID string) ([]model.SellOrder, error) {
	var orders []model.SellOrder
	if s.get(ctx, ordersKey(loanID), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListSellOrders(ctx, loanID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, ordersKey(loanID), orders)
	return orders, nil
}

func (s *CachedStore) GetStrategy(ctx context.Context, loanID string) (*model.StrategyRecord, error) {
	var rec model.StrategyRecord
	if s.get(ctx, strategyKey(loanID), &rec) {
		return &rec, nil
	}

	got, err := s.primary.GetStrategy(ctx, loanID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, strategyKey(loanID), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListLoansByUser(ctx context.Context, userID string) ([]model.Loan, error) {
	return s.primary.ListLoansByUser(ctx, userID)
}

func (s *CachedStore) ListUsersWithOpenOrders(ctx context.Context) ([]string, error) {
	return s.primary.ListUsersWithOpenOrders(ctx)
}

func (s *CachedStore) GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error) {
	return s.primary.GetSellOrder(ctx, id)
}

func (s *CachedStore) GetSellOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*model.SellOrder, error) {
	return s.primary.GetSellOrderByExchangeID(ctx, exchangeOrderID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func loanKey(id string) string { return fmt.Sprintf("loan:%s", id) }
func ordersKey(loanID string) string { return fmt.Sprintf("orders:%s", loanID) }
func strategyKey(loanID string) string { return fmt.Sprintf("strategy:%s", loanID) }
