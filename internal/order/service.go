// Package order drives the sell order lifecycle: materializing a loan's
// strategy into planned orders, opening and cancelling them on the exchange,
// and reconciling their status with the exchange's view.
//
// Every mutating call holds the owning loan's lock for its full duration, so
// an in-flight sync and an open against the same loan never interleave.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
	"github.com/satlend/exit-engine/internal/metrics"
	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/store"
	"github.com/satlend/exit-engine/internal/strategy"
)

// Service coordinates the store and the exchange gateway.
type Service struct {
	store    store.Store
	gateway  Gateway
	notifier Notifier // optional
	locks    *loanLocks
	now      func() time.Time
}

// NewService creates an order service. Pass nil for n if change
// notifications are not needed.
func NewService(st store.Store, gw Gateway, n Notifier) *Service {
	return &Service{
		store:    st,
		gateway:  gw,
		notifier: n,
		locks:    newLoanLocks(),
		now:      time.Now,
	}
}

// SyncSummary counts what one reconciliation did.
type SyncSummary struct {
	Updated int `json:"updated"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// --- Strategy persistence ---

// Strategy returns the loan's stored strategy. A loan without one holds.
func (s *Service) Strategy(ctx context.Context, loanID string) (strategy.Params, error) {
	if _, err := s.store.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.loadStrategy(ctx, loanID)
}

// SaveStrategy validates p and, if valid, replaces the loan's strategy.
// An invalid p is returned as a *strategy.ValidationError and nothing is
// written. Existing orders are left alone until Apply is called.
func (s *Service) SaveStrategy(ctx context.Context, loanID string, p strategy.Params) (strategy.Result, error) {
	res, err := strategy.Validate(p)
	if err != nil {
		return strategy.Result{}, err
	}
	if !res.Valid {
		var kind strategy.Kind
		if p != nil {
			kind = p.Kind()
		}
		return res, res.Err(kind)
	}

	payload, err := strategy.Marshal(p)
	if err != nil {
		return res, err
	}

	unlock := s.locks.lock(loanID)
	defer unlock()

	if _, err := s.store.GetLoan(ctx, loanID); err != nil {
		return res, err
	}
	rec := &model.StrategyRecord{
		LoanID:    loanID,
		Kind:      string(p.Kind()),
		Payload:   payload,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.store.PutStrategy(ctx, rec); err != nil {
		return res, err
	}

	metrics.StrategiesSaved.WithLabelValues(rec.Kind).Inc()
	slog.Info("strategy saved", "loan", loanID, "kind", rec.Kind, "warnings", len(res.Warnings))
	return res, nil
}

// Apply generates the ladder of the loan's stored strategy over the BTC not
// yet committed to the exchange and replaces the loan's PLANNED and FAILED
// orders with it.
func (s *Service) Apply(ctx context.Context, loanID string) ([]model.SellOrder, error) {
	unlock := s.locks.lock(loanID)
	defer unlock()

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	p, err := s.loadStrategy(ctx, loanID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListSellOrders(ctx, loanID)
	if err != nil {
		return nil, err
	}

	pos := ladder.Position{
		SellableBTC:  Uncommitted(*loan, existing),
		RepaymentCZK: loan.RepaymentCZK,
	}
	proposals, err := strategy.Generate(p, pos)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	orders := make([]model.SellOrder, 0, len(proposals))
	for _, pr := range proposals {
		if !pr.BTCAmount.IsPositive() || !pr.Price.IsPositive() {
			continue
		}
		orders = append(orders, model.SellOrder{
			ID:          uuid.New().String(),
			LoanID:      loanID,
			BTCAmount:   pr.BTCAmount,
			PricePerBTC: pr.Price,
			Status:      model.StatusPlanned,
			// Stagger creation times so listings keep ladder order.
			CreatedAt: now.Add(time.Duration(len(orders)) * time.Microsecond),
		})
	}

	if err := s.store.ReplacePlannedOrders(ctx, loanID, orders); err != nil {
		return nil, err
	}

	metrics.LaddersApplied.WithLabelValues(string(p.Kind())).Inc()
	slog.Info("ladder applied",
		"loan", loanID,
		"kind", p.Kind(),
		"orders", len(orders),
		"sellable_btc", pos.SellableBTC.String(),
	)
	for _, o := range orders {
		s.notify(o)
	}
	return orders, nil
}

// --- Exchange operations ---

// Open submits a PLANNED order. A transport failure leaves the order
// untouched; an explicit rejection commits FAILED. Both return an
// *ExchangeError.
func (s *Service) Open(ctx context.Context, orderID string) (*model.SellOrder, error) {
	o, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if o.Status != model.StatusPlanned {
		return nil, illegal("open", o)
	}

	exchangeID, err := s.gateway.OpenOrder(ctx, *o)
	if err != nil {
		xerr := &ExchangeError{Op: "open", OrderID: o.ID, Err: err}
		metrics.ExchangeErrors.WithLabelValues("open").Inc()
		if !xerr.Rejected() {
			metrics.OrdersOpened.WithLabelValues("error").Inc()
			slog.Warn("open order failed", "order", o.ID, "loan", o.LoanID, "err", err)
			return nil, xerr
		}

		metrics.OrdersOpened.WithLabelValues("rejected").Inc()
		o.Status = model.StatusFailed
		if err := s.store.UpdateSellOrder(ctx, o); err != nil {
			slog.Error("recording rejected order failed", "order", o.ID, "err", err)
			return nil, xerr
		}
		slog.Info("order rejected by exchange", "order", o.ID, "loan", o.LoanID, "err", err)
		s.notify(*o)
		return o, xerr
	}

	o.Status = model.StatusSubmitted
	o.ExchangeOrderID = exchangeID
	if err := s.store.UpdateSellOrder(ctx, o); err != nil {
		// The exchange holds the order now; the next sync adopts it back
		// through its client order ID.
		slog.Error("recording submitted order failed",
			"order", o.ID, "exchange_order_id", exchangeID, "err", err)
		return nil, err
	}

	metrics.OrdersOpened.WithLabelValues("submitted").Inc()
	slog.Info("order submitted",
		"order", o.ID,
		"loan", o.LoanID,
		"exchange_order_id", exchangeID,
		"btc", o.BTCAmount.String(),
		"price", o.PricePerBTC.String(),
	)
	s.notify(*o)
	return o, nil
}

// Cancel cancels a SUBMITTED order. The local status changes only after the
// exchange confirms.
func (s *Service) Cancel(ctx context.Context, orderID string) (*model.SellOrder, error) {
	o, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if o.Status != model.StatusSubmitted {
		return nil, illegal("cancel", o)
	}

	if err := s.gateway.CancelOrder(ctx, o.ExchangeOrderID); err != nil {
		metrics.ExchangeErrors.WithLabelValues("cancel").Inc()
		slog.Warn("cancel order failed", "order", o.ID, "exchange_order_id", o.ExchangeOrderID, "err", err)
		return nil, &ExchangeError{Op: "cancel", OrderID: o.ID, Err: err}
	}

	o.Status = model.StatusCancelled
	if err := s.store.UpdateSellOrder(ctx, o); err != nil {
		return nil, err
	}

	metrics.OrdersCancelled.Inc()
	slog.Info("order cancelled", "order", o.ID, "loan", o.LoanID, "exchange_order_id", o.ExchangeOrderID)
	s.notify(*o)
	return o, nil
}

// Withdraw deletes a PLANNED or FAILED order without exchange interaction.
func (s *Service) Withdraw(ctx context.Context, orderID string) error {
	o, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	if !Withdrawable(o.Status) {
		return illegal("withdraw", o)
	}
	if err := s.store.DeleteSellOrder(ctx, o.ID); err != nil {
		return err
	}
	slog.Info("order withdrawn", "order", o.ID, "loan", o.LoanID, "status", o.Status)
	return nil
}

// Sync reconciles the user's orders with the exchange in one batch call.
// Only legal forward transitions are applied, so repeating a sync is a no-op
// and terminal orders never change. An exchange order opened from a local
// order that never recorded its exchange ID is attached to that order; other
// orders the exchange executed for one of the user's loans are imported.
//
// A store failure on one report does not stop the others. Every failure is
// returned joined, and since sync is idempotent a later run retries them.
func (s *Service) Sync(ctx context.Context, userID string) (SyncSummary, error) {
	var sum SyncSummary

	loans, err := s.store.ListLoansByUser(ctx, userID)
	if err != nil {
		return sum, err
	}
	loanIDs := lo.Map(loans, func(l model.Loan, _ int) string { return l.ID })
	owned := lo.SliceToMap(loanIDs, func(id string) (string, bool) { return id, true })

	unlock := s.locks.lockAll(loanIDs)
	defer unlock()

	reports, err := s.gateway.SyncOrders(ctx, userID)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues("sync").Inc()
		return sum, &ExchangeError{Op: "sync", OrderID: userID, Err: err}
	}

	var errs []error
	for _, rep := range reports {
		if rep.ExchangeOrderID == "" || !rep.Status.Valid() {
			sum.Skipped++
			continue
		}

		res, err := s.reconcile(ctx, rep, owned)
		if err != nil {
			slog.Error("reconciling order failed",
				"user", userID, "exchange_order_id", rep.ExchangeOrderID, "err", err)
			errs = append(errs, err)
			continue
		}
		switch res {
		case synced:
			sum.Updated++
		case imported:
			sum.Created++
		default:
			sum.Skipped++
		}
	}

	slog.Info("orders synced",
		"user", userID,
		"updated", sum.Updated,
		"created", sum.Created,
		"skipped", sum.Skipped,
		"failed", len(errs),
	)
	return sum, errors.Join(errs...)
}

type syncResult int

const (
	unchanged syncResult = iota
	synced
	imported
)

func (s *Service) reconcile(ctx context.Context, rep Report, owned map[string]bool) (syncResult, error) {
	cur, err := s.store.GetSellOrderByExchangeID(ctx, rep.ExchangeOrderID)
	if errors.Is(err, store.ErrNotFound) {
		adopted, err := s.adoptOrder(ctx, rep, owned)
		if err != nil {
			return unchanged, err
		}
		if adopted {
			return synced, nil
		}
		created, err := s.importOrder(ctx, rep, owned)
		if err != nil || !created {
			return unchanged, err
		}
		return imported, nil
	}
	if err != nil {
		return unchanged, err
	}

	if !owned[cur.LoanID] || cur.Status == rep.Status {
		return unchanged, nil
	}
	if !CanTransition(cur.Status, rep.Status) {
		slog.Warn("ignoring illegal sync transition",
			"order", cur.ID, "from", cur.Status, "to", rep.Status)
		return unchanged, nil
	}

	from := cur.Status
	cur.Status = rep.Status
	cur.CompletedAt = s.completedAt(rep)
	if err := s.store.UpdateSellOrder(ctx, cur); err != nil {
		return unchanged, err
	}
	metrics.OrderTransitions.WithLabelValues(string(from), string(rep.Status)).Inc()
	s.notify(*cur)
	return synced, nil
}

// adoptOrder attaches an exchange order to the PLANNED order it was opened
// from, for opens the exchange accepted but the store never recorded.
func (s *Service) adoptOrder(ctx context.Context, rep Report, owned map[string]bool) (bool, error) {
	if rep.ClientOrderID == "" || rep.Status == model.StatusPlanned {
		return false, nil
	}
	o, err := s.store.GetSellOrder(ctx, rep.ClientOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !owned[o.LoanID] || o.Status != model.StatusPlanned || o.ExchangeOrderID != "" {
		return false, nil
	}

	o.Status = rep.Status
	o.ExchangeOrderID = rep.ExchangeOrderID
	o.CompletedAt = s.completedAt(rep)
	if err := s.store.UpdateSellOrder(ctx, o); err != nil {
		return false, err
	}
	metrics.OrderTransitions.WithLabelValues(string(model.StatusPlanned), string(rep.Status)).Inc()
	slog.Info("adopted exchange order",
		"order", o.ID, "loan", o.LoanID, "exchange_order_id", o.ExchangeOrderID, "status", o.Status)
	s.notify(*o)
	return true, nil
}

func (s *Service) importOrder(ctx context.Context, rep Report, owned map[string]bool) (bool, error) {
	if !owned[rep.LoanID] || rep.Status == model.StatusPlanned ||
		!rep.BTCAmount.IsPositive() || !rep.Price.IsPositive() {
		return false, nil
	}

	o := model.SellOrder{
		ID:              uuid.New().String(),
		LoanID:          rep.LoanID,
		ExchangeOrderID: rep.ExchangeOrderID,
		BTCAmount:       rep.BTCAmount,
		PricePerBTC:     rep.Price,
		Status:          rep.Status,
		CreatedAt:       s.now().UTC(),
		CompletedAt:     s.completedAt(rep),
	}
	if err := s.store.InsertSellOrder(ctx, &o); err != nil {
		return false, err
	}
	slog.Info("imported exchange order",
		"order", o.ID, "loan", o.LoanID, "exchange_order_id", o.ExchangeOrderID, "status", o.Status)
	s.notify(o)
	return true, nil
}

func (s *Service) completedAt(rep Report) *time.Time {
	if rep.CompletedAt != nil {
		t := rep.CompletedAt.UTC()
		return &t
	}
	if rep.Status == model.StatusCompleted {
		t := s.now().UTC()
		return &t
	}
	return nil
}

// lockOrder resolves the order's loan, takes its lock and re-reads the
// order under it.
func (s *Service) lockOrder(ctx context.Context, orderID string) (*model.SellOrder, func(), error) {
	o, err := s.store.GetSellOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.locks.lock(o.LoanID)
	o, err = s.store.GetSellOrder(ctx, orderID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return o, unlock, nil
}

func (s *Service) loadStrategy(ctx context.Context, loanID string) (strategy.Params, error) {
	rec, err := s.store.GetStrategy(ctx, loanID)
	if errors.Is(err, store.ErrNotFound) {
		return strategy.Hodl{}, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := strategy.Unmarshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("stored strategy for loan %s: %w", loanID, err)
	}
	return p, nil
}

func (s *Service) notify(o model.SellOrder) {
	if s.notifier != nil {
		s.notifier.OrderChanged(o)
	}
}

// Uncommitted is the loan's sellable BTC not yet working on or sold through
// the exchange, never below zero. It is what a new ladder may distribute.
func Uncommitted(loan model.Loan, orders []model.SellOrder) decimal.Decimal {
	committed := lo.Reduce(orders, func(acc decimal.Decimal, o model.SellOrder, _ int) decimal.Decimal {
		if o.Status.OnExchange() || o.Status == model.StatusCompleted {
			return acc.Add(o.BTCAmount)
		}
		return acc
	}, decimal.Zero)
	return decimal.Max(loan.BoughtBTC().Sub(committed), decimal.Zero)
}
