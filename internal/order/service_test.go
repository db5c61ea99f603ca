package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/store"
	"github.com/satlend/exit-engine/internal/strategy"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeGateway records calls and returns canned results.
type fakeGateway struct {
	mu        sync.Mutex
	openErr   error
	cancelErr error
	syncErr   error
	reports   []Report
	opened    []string
	cancelled []string
	seq       int
}

func (g *fakeGateway) OpenOrder(_ context.Context, o model.SellOrder) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return "", g.openErr
	}
	g.seq++
	g.opened = append(g.opened, o.ID)
	return fmt.Sprintf("ex-%d", g.seq), nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, exchangeOrderID)
	return nil
}

func (g *fakeGateway) SyncOrders(context.Context, string) ([]Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.syncErr != nil {
		return nil, g.syncErr
	}
	return append([]Report(nil), g.reports...), nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.SellOrder
}

func (r *recorder) OrderChanged(o model.SellOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, o)
}

type testEnv struct {
	svc   *Service
	store *store.MemoryStore
	gw    *fakeGateway
	rec   *recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := &fakeGateway{}
	rec := &recorder{}
	svc := NewService(ms, gw, rec)
	svc.now = func() time.Time { return fixedNow }
	return &testEnv{svc: svc, store: ms, gw: gw, rec: rec}
}

func (e *testEnv) seedLoan(t *testing.T, id, userID string, bought float64) *model.Loan {
	t.Helper()
	loan := &model.Loan{
		ID:            id,
		UserID:        userID,
		PurchasedBTC:  d(bought),
		RepaymentCZK:  d(250000),
		RepaymentDate: fixedNow.AddDate(1, 0, 0),
		CreatedAt:     fixedNow.AddDate(0, -1, 0),
	}
	if err := e.store.CreateLoan(context.Background(), loan); err != nil {
		t.Fatalf("failed to seed loan: %v", err)
	}
	return loan
}

func (e *testEnv) seedOrder(t *testing.T, id, loanID string, status model.OrderStatus, exchangeID string) *model.SellOrder {
	t.Helper()
	o := &model.SellOrder{
		ID:              id,
		LoanID:          loanID,
		ExchangeOrderID: exchangeID,
		BTCAmount:       d(0.05),
		PricePerBTC:     d(2500000),
		Status:          status,
		CreatedAt:       fixedNow,
	}
	if err := e.store.InsertSellOrder(context.Background(), o); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	return o
}

func (e *testEnv) status(t *testing.T, id string) model.OrderStatus {
	t.Helper()
	o, err := e.store.GetSellOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o.Status
}

// --- Open ---

func TestOpen_PlannedToSubmitted(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")

	o, err := env.svc.Open(context.Background(), "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != model.StatusSubmitted || o.ExchangeOrderID != "ex-1" {
		t.Errorf("got %s/%q, want SUBMITTED/ex-1", o.Status, o.ExchangeOrderID)
	}
	if got := env.status(t, "o1"); got != model.StatusSubmitted {
		t.Errorf("stored status = %s", got)
	}
	if len(env.rec.events) != 1 {
		t.Errorf("notifications = %d, want 1", len(env.rec.events))
	}
}

func TestOpen_OnlyFromPlanned(t *testing.T) {
	for _, status := range []model.OrderStatus{
		model.StatusSubmitted, model.StatusPartiallyFilled, model.StatusCompleted,
		model.StatusCancelled, model.StatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			env.seedLoan(t, "loan-1", "user-1", 1)
			env.seedOrder(t, "o1", "loan-1", status, "")

			_, err := env.svc.Open(context.Background(), "o1")
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			if len(env.gw.opened) != 0 {
				t.Error("gateway must not be called")
			}
			if got := env.status(t, "o1"); got != status {
				t.Errorf("status changed to %s", got)
			}
		})
	}
}

func TestOpen_TransportFailureLeavesOrderPlanned(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")
	env.gw.openErr = errors.New("connection refused")

	o, err := env.svc.Open(context.Background(), "o1")
	var xerr *ExchangeError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected *ExchangeError, got %v", err)
	}
	if xerr.Rejected() {
		t.Error("transport failure must not count as rejection")
	}
	if o != nil {
		t.Error("no order expected on transport failure")
	}
	if got := env.status(t, "o1"); got != model.StatusPlanned {
		t.Errorf("status = %s, want PLANNED", got)
	}
	if len(env.rec.events) != 0 {
		t.Error("nothing should be broadcast")
	}
}

func TestOpen_RejectionCommitsFailed(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")
	env.gw.openErr = fmt.Errorf("%w: below minimum size", ErrRejected)

	o, err := env.svc.Open(context.Background(), "o1")
	var xerr *ExchangeError
	if !errors.As(err, &xerr) || !xerr.Rejected() {
		t.Fatalf("expected rejected *ExchangeError, got %v", err)
	}
	if o == nil || o.Status != model.StatusFailed {
		t.Fatalf("expected FAILED order, got %+v", o)
	}
	if got := env.status(t, "o1"); got != model.StatusFailed {
		t.Errorf("stored status = %s, want FAILED", got)
	}
}

func TestOpen_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Open(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpen_ConcurrentCallsSubmitOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Open(context.Background(), "o1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrIllegalTransition):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || len(env.gw.opened) != 1 {
		t.Errorf("successes = %d, gateway opens = %d, want 1 and 1", ok, len(env.gw.opened))
	}
}

// --- Cancel & Withdraw ---

func TestCancel_Submitted(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-9")

	o, err := env.svc.Cancel(context.Background(), "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != model.StatusCancelled {
		t.Errorf("status = %s", o.Status)
	}
	if len(env.gw.cancelled) != 1 || env.gw.cancelled[0] != "ex-9" {
		t.Errorf("gateway cancels = %v", env.gw.cancelled)
	}
}

func TestCancel_OnlyFromSubmitted(t *testing.T) {
	for _, status := range []model.OrderStatus{
		model.StatusPlanned, model.StatusPartiallyFilled, model.StatusCompleted,
		model.StatusCancelled, model.StatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			env.seedLoan(t, "loan-1", "user-1", 1)
			env.seedOrder(t, "o1", "loan-1", status, "")

			if _, err := env.svc.Cancel(context.Background(), "o1"); !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			if len(env.gw.cancelled) != 0 {
				t.Error("gateway must not be called")
			}
		})
	}
}

func TestCancel_GatewayFailureLeavesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-9")
	env.gw.cancelErr = errors.New("timeout")

	_, err := env.svc.Cancel(context.Background(), "o1")
	var xerr *ExchangeError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected *ExchangeError, got %v", err)
	}
	if got := env.status(t, "o1"); got != model.StatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", got)
	}
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "planned", "loan-1", model.StatusPlanned, "")
	env.seedOrder(t, "failed", "loan-1", model.StatusFailed, "")
	env.seedOrder(t, "working", "loan-1", model.StatusSubmitted, "ex-1")
	ctx := context.Background()

	for _, id := range []string{"planned", "failed"} {
		if err := env.svc.Withdraw(ctx, id); err != nil {
			t.Errorf("withdraw %s: %v", id, err)
		}
	}
	if err := env.svc.Withdraw(ctx, "working"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("withdraw submitted: expected ErrIllegalTransition, got %v", err)
	}

	orders, _ := env.store.ListSellOrders(ctx, "loan-1")
	if len(orders) != 1 || orders[0].ID != "working" {
		t.Errorf("remaining orders = %+v", orders)
	}
}

// --- Sync ---

func TestSync_AppliesForwardTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-1")
	env.seedOrder(t, "o2", "loan-1", model.StatusSubmitted, "ex-2")
	env.seedOrder(t, "o3", "loan-1", model.StatusPartiallyFilled, "ex-3")
	env.gw.reports = []Report{
		{ExchangeOrderID: "ex-1", LoanID: "loan-1", Status: model.StatusPartiallyFilled},
		{ExchangeOrderID: "ex-2", LoanID: "loan-1", Status: model.StatusCompleted},
		{ExchangeOrderID: "ex-3", LoanID: "loan-1", Status: model.StatusCancelled},
	}

	sum, err := env.svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Updated != 3 {
		t.Errorf("updated = %d, want 3", sum.Updated)
	}

	want := map[string]model.OrderStatus{
		"o1": model.StatusPartiallyFilled,
		"o2": model.StatusCompleted,
		"o3": model.StatusCancelled,
	}
	for id, status := range want {
		if got := env.status(t, id); got != status {
			t.Errorf("%s = %s, want %s", id, got, status)
		}
	}

	o2, _ := env.store.GetSellOrder(context.Background(), "o2")
	if o2.CompletedAt == nil || !o2.CompletedAt.Equal(fixedNow) {
		t.Errorf("completed order without report time should be stamped now, got %v", o2.CompletedAt)
	}
}

func TestSync_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-1")
	env.gw.reports = []Report{
		{ExchangeOrderID: "ex-1", LoanID: "loan-1", Status: model.StatusCompleted},
		{ExchangeOrderID: "ex-new", LoanID: "loan-1", Status: model.StatusCompleted, BTCAmount: d(0.01), Price: d(2400000)},
	}
	ctx := context.Background()

	first, err := env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Updated != 1 || first.Created != 1 {
		t.Errorf("first sync = %+v", first)
	}

	second, err := env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Updated != 0 || second.Created != 0 || second.Skipped != 2 {
		t.Errorf("second sync = %+v, want all skipped", second)
	}

	orders, _ := env.store.ListSellOrders(ctx, "loan-1")
	if len(orders) != 2 {
		t.Errorf("orders = %d, want 2", len(orders))
	}
}

func TestSync_NeverRegressesTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "done", "loan-1", model.StatusCompleted, "ex-1")
	env.seedOrder(t, "gone", "loan-1", model.StatusCancelled, "ex-2")
	env.gw.reports = []Report{
		{ExchangeOrderID: "ex-1", LoanID: "loan-1", Status: model.StatusSubmitted},
		{ExchangeOrderID: "ex-2", LoanID: "loan-1", Status: model.StatusCompleted},
	}

	sum, err := env.svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Updated != 0 || sum.Skipped != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if env.status(t, "done") != model.StatusCompleted || env.status(t, "gone") != model.StatusCancelled {
		t.Error("terminal orders changed")
	}
}

func TestSync_IgnoresForeignLoans(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedLoan(t, "loan-2", "user-2", 1)
	env.seedOrder(t, "theirs", "loan-2", model.StatusSubmitted, "ex-2")
	env.gw.reports = []Report{
		{ExchangeOrderID: "ex-2", LoanID: "loan-2", Status: model.StatusCompleted},
		{ExchangeOrderID: "ex-9", LoanID: "loan-2", Status: model.StatusCompleted, BTCAmount: d(0.1), Price: d(1)},
		{ExchangeOrderID: "", LoanID: "loan-1", Status: model.StatusCompleted},
	}

	sum, err := env.svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Skipped != 3 || sum.Updated != 0 || sum.Created != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if env.status(t, "theirs") != model.StatusSubmitted {
		t.Error("another user's order was touched")
	}
}

func TestSync_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-1")
	env.gw.syncErr = errors.New("503")

	_, err := env.svc.Sync(context.Background(), "user-1")
	var xerr *ExchangeError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected *ExchangeError, got %v", err)
	}
	if env.status(t, "o1") != model.StatusSubmitted {
		t.Error("order changed despite failed sync")
	}
}

// flakyStore fails the next failUpdates order updates.
type flakyStore struct {
	*store.MemoryStore
	failUpdates int
}

func (f *flakyStore) UpdateSellOrder(ctx context.Context, o *model.SellOrder) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return &store.PersistenceError{Op: "update sell order", Err: errors.New("connection reset")}
	}
	return f.MemoryStore.UpdateSellOrder(ctx, o)
}

func newFlakyEnv(t *testing.T) (*testEnv, *flakyStore) {
	t.Helper()
	env := newTestEnv(t)
	flaky := &flakyStore{MemoryStore: env.store}
	env.svc = NewService(flaky, env.gw, env.rec)
	env.svc.now = func() time.Time { return fixedNow }
	return env, flaky
}

func TestSync_AdoptsOpenThatWasNotRecorded(t *testing.T) {
	env, flaky := newFlakyEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")
	ctx := context.Background()

	flaky.failUpdates = 1
	if _, err := env.svc.Open(ctx, "o1"); err == nil {
		t.Fatal("expected the failed commit to be reported")
	}
	if env.status(t, "o1") != model.StatusPlanned {
		t.Fatal("order should still be PLANNED locally")
	}

	env.gw.reports = []Report{{
		ExchangeOrderID: "ex-1",
		ClientOrderID:   "o1",
		LoanID:          "loan-1",
		Status:          model.StatusSubmitted,
		BTCAmount:       d(0.05),
		Price:           d(2500000),
	}}
	sum, err := env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Updated != 1 || sum.Created != 0 {
		t.Errorf("summary = %+v, want 1 updated and nothing imported", sum)
	}

	orders, _ := env.store.ListSellOrders(ctx, "loan-1")
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].ID != "o1" || orders[0].Status != model.StatusSubmitted || orders[0].ExchangeOrderID != "ex-1" {
		t.Errorf("order = %+v, want o1 SUBMITTED as ex-1", orders[0])
	}

	if _, err := env.svc.Open(ctx, "o1"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("reopening an adopted order: expected ErrIllegalTransition, got %v", err)
	}

	again, err := env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.Updated != 0 || again.Created != 0 || again.Skipped != 1 {
		t.Errorf("second sync = %+v, want all skipped", again)
	}
}

func TestSync_AdoptsAfterOpenTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusPlanned, "")
	env.gw.openErr = context.DeadlineExceeded
	ctx := context.Background()

	if _, err := env.svc.Open(ctx, "o1"); err == nil {
		t.Fatal("expected the timeout to be reported")
	}

	completed := fixedNow.Add(-time.Minute)
	env.gw.reports = []Report{{
		ExchangeOrderID: "ex-7",
		ClientOrderID:   "o1",
		LoanID:          "loan-1",
		Status:          model.StatusCompleted,
		BTCAmount:       d(0.05),
		Price:           d(2500000),
		CompletedAt:     &completed,
	}}
	sum, err := env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Updated != 1 || sum.Created != 0 {
		t.Errorf("summary = %+v", sum)
	}
	o, _ := env.store.GetSellOrder(ctx, "o1")
	if o.Status != model.StatusCompleted || o.ExchangeOrderID != "ex-7" {
		t.Errorf("order = %+v", o)
	}
	if o.CompletedAt == nil || !o.CompletedAt.Equal(completed) {
		t.Errorf("completed at = %v, want %v", o.CompletedAt, completed)
	}
}

func TestSync_ContinuesPastStoreFailure(t *testing.T) {
	env, flaky := newFlakyEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "o1", "loan-1", model.StatusSubmitted, "ex-1")
	env.seedOrder(t, "o2", "loan-1", model.StatusSubmitted, "ex-2")
	env.gw.reports = []Report{
		{ExchangeOrderID: "ex-1", LoanID: "loan-1", Status: model.StatusCompleted},
		{ExchangeOrderID: "ex-2", LoanID: "loan-1", Status: model.StatusCompleted},
	}
	ctx := context.Background()

	flaky.failUpdates = 1
	sum, err := env.svc.Sync(ctx, "user-1")
	var perr *store.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *store.PersistenceError, got %v", err)
	}
	if sum.Updated != 1 {
		t.Errorf("updated = %d, want 1", sum.Updated)
	}
	if env.status(t, "o1") != model.StatusSubmitted || env.status(t, "o2") != model.StatusCompleted {
		t.Errorf("o1 = %s, o2 = %s", env.status(t, "o1"), env.status(t, "o2"))
	}

	// A rerun picks up what the failed write missed.
	sum, err = env.svc.Sync(ctx, "user-1")
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if sum.Updated != 1 || env.status(t, "o1") != model.StatusCompleted {
		t.Errorf("rerun = %+v, o1 = %s", sum, env.status(t, "o1"))
	}
}

// --- Strategy & Apply ---

func TestStrategy_DefaultsToHodl(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)

	p, err := env.svc.Strategy(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind() != strategy.KindHodl {
		t.Errorf("kind = %s, want HODL", p.Kind())
	}

	if _, err := env.svc.Strategy(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown loan, got %v", err)
	}
}

func TestSaveStrategy_RejectsInvalidWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	ctx := context.Background()

	valid := strategy.SmartDistribution{TargetProfitPercent: d(20), OrderCount: d(5), BTCProfitRatioPercent: d(50)}
	if _, err := env.svc.SaveStrategy(ctx, "loan-1", valid); err != nil {
		t.Fatalf("save valid: %v", err)
	}

	res, err := env.svc.SaveStrategy(ctx, "loan-1", strategy.EquidistantLadder{
		StartPriceCZK: d(3000000), EndPriceCZK: d(2000000), OrderCount: d(3), DistributionType: ladder.DistributionEqual,
	})
	var ve *strategy.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if res.Valid {
		t.Error("result should be invalid")
	}

	p, err := env.svc.Strategy(ctx, "loan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Kind() != strategy.KindSmartDistribution {
		t.Errorf("stored kind = %s, invalid update must not persist", p.Kind())
	}

	if _, err := env.svc.SaveStrategy(ctx, "loan-1", nil); !errors.As(err, &ve) {
		t.Errorf("nil params: expected *ValidationError, got %v", err)
	}
}

func TestApply_ReplacesPlannedKeepsSubmitted(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 0.2)
	env.seedOrder(t, "working", "loan-1", model.StatusSubmitted, "ex-1") // 0.05 BTC
	env.seedOrder(t, "stale", "loan-1", model.StatusPlanned, "")
	env.seedOrder(t, "bounced", "loan-1", model.StatusFailed, "")
	ctx := context.Background()

	_, err := env.svc.SaveStrategy(ctx, "loan-1", strategy.EquidistantLadder{
		StartPriceCZK:    d(1500000),
		EndPriceCZK:      d(3000000),
		OrderCount:       d(3),
		DistributionType: ladder.DistributionEqual,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	planned, err := env.svc.Apply(ctx, "loan-1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(planned) != 3 {
		t.Fatalf("planned = %d, want 3", len(planned))
	}

	// 0.2 bought minus 0.05 already on the exchange.
	var sumBTC, sumCZK decimal.Decimal
	for _, o := range planned {
		sumBTC = sumBTC.Add(o.BTCAmount)
		sumCZK = sumCZK.Add(o.TotalCZK())
	}
	if !sumBTC.Equal(d(0.15)) {
		t.Errorf("planned BTC = %s, want 0.15", sumBTC)
	}
	if !sumCZK.Equal(d(337500)) {
		t.Errorf("planned CZK = %s, want 337500", sumCZK)
	}

	orders, _ := env.store.ListSellOrders(ctx, "loan-1")
	if len(orders) != 4 {
		t.Fatalf("orders = %d, want 4 (1 submitted + 3 planned)", len(orders))
	}
	if orders[0].ID != "working" {
		t.Errorf("first order = %s, want the submitted one", orders[0].ID)
	}
	for i := 2; i < len(orders); i++ {
		if !orders[i].PricePerBTC.GreaterThan(orders[i-1].PricePerBTC) {
			t.Errorf("ladder order lost at %d", i)
		}
	}
}

func TestApply_HodlClearsPlanned(t *testing.T) {
	env := newTestEnv(t)
	env.seedLoan(t, "loan-1", "user-1", 1)
	env.seedOrder(t, "stale", "loan-1", model.StatusPlanned, "")

	planned, err := env.svc.Apply(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(planned) != 0 {
		t.Errorf("planned = %d, want 0", len(planned))
	}
	orders, _ := env.store.ListSellOrders(context.Background(), "loan-1")
	if len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestUncommitted(t *testing.T) {
	loan := model.Loan{PurchasedBTC: d(0.3), FeesBTC: d(0.05), TransactionFeesBTC: d(0.05)}
	orders := []model.SellOrder{
		{BTCAmount: d(0.05), Status: model.StatusCompleted},
		{BTCAmount: d(0.05), Status: model.StatusPartiallyFilled},
		{BTCAmount: d(0.5), Status: model.StatusPlanned},
		{BTCAmount: d(0.5), Status: model.StatusCancelled},
	}
	if got := Uncommitted(loan, orders); !got.Equal(d(0.1)) {
		t.Errorf("uncommitted = %s, want 0.1", got)
	}

	orders = append(orders, model.SellOrder{BTCAmount: d(1), Status: model.StatusSubmitted})
	if got := Uncommitted(loan, orders); !got.IsZero() {
		t.Errorf("uncommitted = %s, want clamp at 0", got)
	}
}

func TestCanTransition(t *testing.T) {
	for _, from := range []model.OrderStatus{model.StatusCompleted, model.StatusCancelled} {
		for _, to := range []model.OrderStatus{
			model.StatusPlanned, model.StatusSubmitted, model.StatusPartiallyFilled,
			model.StatusCompleted, model.StatusCancelled, model.StatusFailed,
		} {
			if CanTransition(from, to) {
				t.Errorf("%s → %s must be illegal", from, to)
			}
		}
	}
	if !CanTransition(model.StatusPlanned, model.StatusSubmitted) {
		t.Error("PLANNED → SUBMITTED must be legal")
	}
	if CanTransition(model.StatusPartiallyFilled, model.StatusSubmitted) {
		t.Error("PARTIALLY_FILLED → SUBMITTED must be illegal")
	}
}
