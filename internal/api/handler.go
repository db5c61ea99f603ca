// Package api exposes the exit engine over HTTP: strategy validation and
// preview, per-loan strategy persistence, the sell order lifecycle, loan
// valuation, and a WebSocket stream of order changes.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
	"github.com/satlend/exit-engine/internal/metrics"
	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/order"
	"github.com/satlend/exit-engine/internal/price"
	"github.com/satlend/exit-engine/internal/store"
	"github.com/satlend/exit-engine/internal/strategy"
	"github.com/satlend/exit-engine/internal/valuation"
)

// maxBodyBytes bounds request bodies; strategies are small.
const maxBodyBytes = 1 << 20

// Handler serves the /api/v1 routes.
type Handler struct {
	orders *order.Service
	store  store.Store
	prices price.Source
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *order.Service, st store.Store, prices price.Source) *Handler {
	return &Handler{orders: svc, store: st, prices: prices}
}

// Routes mounts every endpoint on r. The caller adds /ws.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/strategies/{kind}/default", h.DefaultStrategy)
	r.Post("/strategies/validate", h.ValidateStrategy)
	r.Post("/strategies/preview", h.PreviewStrategy)

	r.Get("/loans/{loanID}", h.GetLoan)
	r.Get("/loans/{loanID}/strategy", h.GetStrategy)
	r.Put("/loans/{loanID}/strategy", h.PutStrategy)
	r.Post("/loans/{loanID}/strategy/apply", h.ApplyStrategy)
	r.Get("/loans/{loanID}/orders", h.ListOrders)
	r.Get("/loans/{loanID}/valuation", h.GetValuation)

	r.Post("/orders/{orderID}/open", h.OpenOrder)
	r.Post("/orders/{orderID}/cancel", h.CancelOrder)
	r.Delete("/orders/{orderID}", h.WithdrawOrder)

	r.Post("/users/{userID}/orders/sync", h.SyncOrders)
}

// --- Request/Response types ---

// StrategyResponse carries a strategy in its tagged wire form.
type StrategyResponse struct {
	LoanID     string           `json:"loanId,omitempty"`
	Strategy   json.RawMessage  `json:"strategy"`
	Validation *strategy.Result `json:"validation,omitempty"`
}

// PreviewRequest is the JSON body for POST /strategies/preview.
type PreviewRequest struct {
	Strategy     json.RawMessage `json:"strategy"`
	SellableBTC  decimal.Decimal `json:"sellableBtc"`
	RepaymentCZK decimal.Decimal `json:"repaymentCzk"`
}

// PreviewResponse is the ladder a strategy would produce.
type PreviewResponse struct {
	Validation strategy.Result   `json:"validation"`
	Orders     []ladder.Proposal `json:"orders"`
	TotalBTC   decimal.Decimal   `json:"totalBtc"`
	TotalCZK   decimal.Decimal   `json:"totalCzk"`
}

// LoanResponse is a loan with its derived sellable balance.
type LoanResponse struct {
	model.Loan
	BoughtBTC decimal.Decimal `json:"boughtBtc"`
}

// ValuationResponse is the rounded valuation of a loan. EntryPriceCZK is
// the market price on the day the loan was created, when known.
type ValuationResponse struct {
	valuation.Report
	EntryPriceCZK *decimal.Decimal `json:"entryPriceCzk,omitempty"`
}

// --- Strategy catalogue ---

// DefaultStrategy handles GET /api/v1/strategies/{kind}/default
func (h *Handler) DefaultStrategy(w http.ResponseWriter, r *http.Request) {
	p, err := strategy.Default(strategy.Kind(chi.URLParam(r, "kind")))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeStrategy(w, "", p, nil)
}

// ValidateStrategy handles POST /api/v1/strategies/validate
// An invalid strategy is still a 200: the result is the answer.
func (h *Handler) ValidateStrategy(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeStrategy(w, r)
	if !ok {
		return
	}
	res, err := strategy.Validate(p)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PreviewStrategy handles POST /api/v1/strategies/preview
// Generates the ladder for an ad-hoc position without touching any loan.
func (h *Handler) PreviewStrategy(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellableBTC.IsNegative() || req.RepaymentCZK.IsNegative() {
		writeError(w, "sellableBtc and repaymentCzk must not be negative", http.StatusBadRequest)
		return
	}

	p, err := strategy.Unmarshal(req.Strategy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := strategy.Validate(p)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !res.Valid {
		writeValidation(w, res.Err(p.Kind()), res)
		return
	}

	proposals, err := strategy.Generate(p, ladder.Position{
		SellableBTC:  req.SellableBTC,
		RepaymentCZK: req.RepaymentCZK,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if proposals == nil {
		proposals = []ladder.Proposal{}
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		Validation: res,
		Orders:     proposals,
		TotalBTC:   ladder.TotalBTC(proposals),
		TotalCZK:   ladder.TotalCZK(proposals),
	})
}

// --- Loans ---

// GetLoan handles GET /api/v1/loans/{loanID}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.store.GetLoan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoanResponse{Loan: *loan, BoughtBTC: loan.BoughtBTC()})
}

// GetStrategy handles GET /api/v1/loans/{loanID}/strategy
func (h *Handler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanID")
	p, err := h.orders.Strategy(r.Context(), loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeStrategy(w, loanID, p, nil)
}

// PutStrategy handles PUT /api/v1/loans/{loanID}/strategy
// Switching variant replaces the stored parameters; orders change only on
// apply.
func (h *Handler) PutStrategy(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeStrategy(w, r)
	if !ok {
		return
	}

	loanID := chi.URLParam(r, "loanID")
	res, err := h.orders.SaveStrategy(r.Context(), loanID, p)
	if err != nil {
		var verr *strategy.ValidationError
		if errors.As(err, &verr) {
			writeValidation(w, err, res)
			return
		}
		writeServiceError(w, err)
		return
	}
	h.writeStrategy(w, loanID, p, &res)
}

// ApplyStrategy handles POST /api/v1/loans/{loanID}/strategy/apply
func (h *Handler) ApplyStrategy(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.Apply(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.SellOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListOrders handles GET /api/v1/loans/{loanID}/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID := chi.URLParam(r, "loanID")

	if _, err := h.store.GetLoan(ctx, loanID); err != nil {
		writeServiceError(w, err)
		return
	}
	orders, err := h.store.ListSellOrders(ctx, loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.SellOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetValuation handles GET /api/v1/loans/{loanID}/valuation?simulatedPrice=
// The simulated price only affects strategies that allow simulation.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID := chi.URLParam(r, "loanID")

	simulated := decimal.Zero
	if raw := r.URL.Query().Get("simulatedPrice"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			writeError(w, "simulatedPrice must be a non-negative number", http.StatusBadRequest)
			return
		}
		simulated = v
	}

	loan, err := h.store.GetLoan(ctx, loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	orders, err := h.store.ListSellOrders(ctx, loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	p, err := h.orders.Strategy(ctx, loanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	market, err := h.prices.CurrentPrice(ctx)
	if err != nil {
		slog.Warn("market price unavailable", "loan", loanID, "err", err)
		writeError(w, "market price unavailable", http.StatusBadGateway)
		return
	}

	report := valuation.Evaluate(valuation.Input{
		Loan:           *loan,
		Orders:         orders,
		Kind:           p.Kind(),
		MarketPrice:    market,
		SimulatedPrice: simulated,
	})

	resp := ValuationResponse{Report: report.Rounded()}
	if !loan.CreatedAt.IsZero() {
		entry, err := h.prices.HistoricalPrice(ctx, loan.CreatedAt)
		if err != nil {
			slog.Warn("entry price unavailable", "loan", loanID, "err", err)
		} else {
			rounded := valuation.RoundCZK(entry)
			resp.EntryPriceCZK = &rounded
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Order lifecycle ---

// OpenOrder handles POST /api/v1/orders/{orderID}/open
func (h *Handler) OpenOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Open(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		var xerr *order.ExchangeError
		if errors.As(err, &xerr) && xerr.Rejected() && o != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": err.Error(),
				"order": o,
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// WithdrawOrder handles DELETE /api/v1/orders/{orderID}
func (h *Handler) WithdrawOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Withdraw(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncOrders handles POST /api/v1/users/{userID}/orders/sync
func (h *Handler) SyncOrders(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sum, err := h.orders.Sync(r.Context(), chi.URLParam(r, "userID"))
	metrics.SyncDuration.WithLabelValues("api").Observe(time.Since(start).Seconds())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Helpers ---

// decodeStrategy reads a tagged strategy body. Unknown tags and malformed
// numbers are client errors.
func decodeStrategy(w http.ResponseWriter, r *http.Request) (strategy.Params, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	p, err := strategy.Unmarshal(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return p, true
}

func (h *Handler) writeStrategy(w http.ResponseWriter, loanID string, p strategy.Params, res *strategy.Result) {
	payload, err := strategy.Marshal(p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StrategyResponse{
		LoanID:     loanID,
		Strategy:   payload,
		Validation: res,
	})
}

func writeValidation(w http.ResponseWriter, err error, res strategy.Result) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":    err.Error(),
		"fields":   res.FieldErrors,
		"warnings": res.Warnings,
	})
}

// writeServiceError maps domain errors to HTTP statuses. An unsupported
// strategy kind that reaches here came out of storage, so it is a 500;
// request bodies are checked before any service call.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr *strategy.ValidationError
		xerr *order.ExchangeError
		perr *store.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrIllegalTransition), errors.Is(err, store.ErrDuplicateExchangeID):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &xerr):
		writeError(w, err.Error(), http.StatusBadGateway)
	case errors.As(err, &perr):
		slog.Error("storage failure", "err", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
