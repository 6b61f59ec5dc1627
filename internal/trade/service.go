// Package trade provides the HTTP handlers for quotes, buy/sell execution,
// and portfolio queries. All business rules live in the engine package; this
// layer parses requests, resolves the authenticated account, and maps engine
// errors to status codes.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/auth"
	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// Service handles market data and portfolio requests.
type Service struct {
	engine *engine.Engine
	store  store.Store
}

// NewService creates a new trade service.
func NewService(eng *engine.Engine, st store.Store) *Service {
	return &Service{engine: eng, store: st}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /portfolio/buy and /portfolio/sell.
type OrderRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// OrderResponse is returned from a successful buy or sell.
type OrderResponse struct {
	Message     string            `json:"message"`
	Balance     decimal.Decimal   `json:"balance"`
	Transaction model.TradeRecord `json:"transaction"`
}

// --- Market data handlers ---

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		writeError(w, "failed to fetch stocks", http.StatusInternalServerError)
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, instruments)
}

// GetStock handles GET /api/v1/stocks/{symbol}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	inst, err := s.store.GetInstrument(r.Context(), symbol)
	if err != nil {
		writeError(w, "stock not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// --- Trading handlers ---

// Buy handles POST /api/v1/portfolio/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideBuy)
}

// Sell handles POST /api/v1/portfolio/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideSell)
}

func (s *Service) executeOrder(w http.ResponseWriter, r *http.Request, side string) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeError(w, "invalid symbol or quantity", http.StatusBadRequest)
		return
	}

	start := time.Now()
	var apply *store.TradeApply
	var err error
	if side == model.SideBuy {
		apply, err = s.engine.Buy(r.Context(), accountID, req.Symbol, req.Quantity)
	} else {
		apply, err = s.engine.Sell(r.Context(), accountID, req.Symbol, req.Quantity)
	}
	if err != nil {
		writeOrderError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", apply.Trade.ID,
		"account", accountID,
		"symbol", req.Symbol,
		"side", side,
		"qty", req.Quantity,
		"price", apply.Trade.Price.String(),
		"total", apply.Trade.Total.String(),
	)

	message := "Stock purchased successfully"
	if side == model.SideSell {
		message = "Stock sold successfully"
	}
	writeJSON(w, http.StatusOK, OrderResponse{
		Message:     message,
		Balance:     apply.NewBalance,
		Transaction: apply.Trade,
	})
}

// --- Portfolio handlers ---

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	portfolio, err := s.engine.Portfolio(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// GetTransactions handles GET /api/v1/portfolio/transactions?limit=N
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := s.engine.History(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// writeOrderError maps engine failures onto status codes. All of these are
// user-visible; only ErrServiceBusy invites a retry.
func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		metrics.TradeRejections.WithLabelValues("invalid_order").Inc()
		writeError(w, "invalid symbol or quantity", http.StatusBadRequest)
	case errors.Is(err, engine.ErrUnknownInstrument):
		metrics.TradeRejections.WithLabelValues("unknown_instrument").Inc()
		writeError(w, "stock not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrInsufficientFunds):
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, "insufficient balance", http.StatusBadRequest)
	case errors.Is(err, engine.ErrInsufficientShares):
		metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
		writeError(w, "insufficient shares to sell", http.StatusBadRequest)
	case errors.Is(err, engine.ErrServiceBusy):
		metrics.TradeRejections.WithLabelValues("busy").Inc()
		writeError(w, "service busy, please retry", http.StatusServiceUnavailable)
	default:
		slog.Error("trade failed", "err", err)
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
