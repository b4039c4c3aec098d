// Package trade provides the HTTP handlers for accounts, order execution,
// portfolio queries, quotes, watchlists, badges, and competitions.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockarena/engine/internal/account"
	"github.com/stockarena/engine/internal/badge"
	"github.com/stockarena/engine/internal/cache"
	"github.com/stockarena/engine/internal/competition"
	"github.com/stockarena/engine/internal/engine"
	"github.com/stockarena/engine/internal/ledger"
	"github.com/stockarena/engine/internal/model"
	"github.com/stockarena/engine/internal/quote"
	"github.com/stockarena/engine/internal/store"
	"github.com/stockarena/engine/internal/valuation"
)

// Service handles the HTTP surface. Concurrency control lives below it: the
// order executor serializes per account, so handlers never lock.
type Service struct {
	store            store.Store
	accounts         *account.Service
	engine           *engine.Engine
	valuator         *valuation.Valuator
	competitions     *competition.Service
	sampler          *competition.Sampler
	badges           *badge.Service
	quotes           *quote.Cache
	readCache        *cache.Cache // optional; nil disables response caching
	wsHub            *WSHub       // optional; nil disables broadcasts
	displayStaleness time.Duration
}

// Deps bundles the service's collaborators.
type Deps struct {
	Store            store.Store
	Accounts         *account.Service
	Engine           *engine.Engine
	Valuator         *valuation.Valuator
	Competitions     *competition.Service
	Sampler          *competition.Sampler
	Badges           *badge.Service
	Quotes           *quote.Cache
	ReadCache        *cache.Cache
	WSHub            *WSHub
	DisplayStaleness time.Duration
}

// NewService creates the HTTP service.
func NewService(d Deps) *Service {
	return &Service{
		store:            d.Store,
		accounts:         d.Accounts,
		engine:           d.Engine,
		valuator:         d.Valuator,
		competitions:     d.Competitions,
		sampler:          d.Sampler,
		badges:           d.Badges,
		quotes:           d.Quotes,
		readCache:        d.ReadCache,
		wsHub:            d.WSHub,
		displayStaleness: d.DisplayStaleness,
	}
}

// Routes mounts every handler under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/accounts", s.CreateAccount)
	r.Get("/accounts", s.ListAccounts)
	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Post("/accounts/{accountID}/suspend", s.SuspendAccount)
	r.Post("/accounts/{accountID}/reactivate", s.ReactivateAccount)
	r.Post("/accounts/{accountID}/reset", s.ResetAccount)
	r.Post("/accounts/{accountID}/short-eligibility", s.SetShortEligibility)
	r.Get("/accounts/{accountID}/watchlist", s.GetWatchlist)
	r.Post("/accounts/{accountID}/watchlist", s.AddWatchItem)
	r.Delete("/accounts/{accountID}/watchlist/{symbol}", s.RemoveWatchItem)
	r.Get("/accounts/{accountID}/orders", s.GetOrders)
	r.Get("/accounts/{accountID}/portfolio", s.GetPortfolio)
	r.Get("/accounts/{accountID}/history", s.GetHistory)
	r.Get("/accounts/{accountID}/badges", s.GetBadges)

	r.Post("/orders", s.ExecuteOrder)
	r.Get("/quotes/{symbol}", s.GetQuote)

	r.Post("/competitions", s.CreateCompetition)
	r.Get("/competitions", s.ListCompetitions)
	r.Get("/competitions/{competitionID}", s.GetCompetition)
	r.Post("/competitions/{competitionID}/enroll", s.Enroll)
	r.Get("/competitions/{competitionID}/leaderboard", s.GetLeaderboard)
	r.Post("/competitions/{competitionID}/close", s.CloseCompetition)
}

// --- Request types ---

// CreateAccountRequest is the JSON body for POST /api/v1/accounts.
type CreateAccountRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ShortEligibilityRequest is the JSON body for the short-eligibility toggle.
type ShortEligibilityRequest struct {
	Eligible bool `json:"eligible"`
}

// WatchRequest is the JSON body for adding a watchlist symbol.
type WatchRequest struct {
	Symbol string `json:"symbol"`
}

// CreateCompetitionRequest is the JSON body for POST /api/v1/competitions.
type CreateCompetitionRequest struct {
	Name    string    `json:"name"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// EnrollRequest enrolls either a single account or a named team.
type EnrollRequest struct {
	AccountID string   `json:"account_id,omitempty"`
	TeamName  string   `json:"team_name,omitempty"`
	Members   []string `json:"members,omitempty"`
}

// --- Account handlers ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.accounts.Create(r.Context(), req.Name, req.Role)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// SuspendAccount handles POST /api/v1/accounts/{accountID}/suspend
func (s *Service) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Suspend(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ReactivateAccount handles POST /api/v1/accounts/{accountID}/reactivate
func (s *Service) ReactivateAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Reactivate(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ResetAccount handles POST /api/v1/accounts/{accountID}/reset
func (s *Service) ResetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	a, err := s.accounts.Reset(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.invalidatePortfolio(accountID)
	writeJSON(w, http.StatusOK, a)
}

// SetShortEligibility handles POST /api/v1/accounts/{accountID}/short-eligibility
func (s *Service) SetShortEligibility(w http.ResponseWriter, r *http.Request) {
	var req ShortEligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.accounts.SetShortEligibility(r.Context(), chi.URLParam(r, "accountID"), req.Eligible)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Watchlist handlers ---

// GetWatchlist handles GET /api/v1/accounts/{accountID}/watchlist
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.accounts.Watchlist(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []model.WatchItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// AddWatchItem handles POST /api/v1/accounts/{accountID}/watchlist
func (s *Service) AddWatchItem(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	item, err := s.accounts.Watch(r.Context(), chi.URLParam(r, "accountID"), req.Symbol)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// RemoveWatchItem handles DELETE /api/v1/accounts/{accountID}/watchlist/{symbol}
func (s *Service) RemoveWatchItem(w http.ResponseWriter, r *http.Request) {
	err := s.accounts.Unwatch(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Order handlers ---

// ExecuteOrder handles POST /api/v1/orders
// Executes a buy/sell/short/cover against the cached quote and returns the
// immutable order record.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	order, err := s.engine.Execute(ctx, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Post-fill fanout. None of these can fail the fill: it is already
	// committed.
	s.invalidatePortfolio(order.AccountID)
	if s.sampler != nil {
		s.sampler.RecordTrade(ctx, order.AccountID)
	}
	if s.badges != nil {
		if _, err := s.badges.EvaluateAccount(ctx, order.AccountID); err != nil {
			slog.Warn("badge evaluation failed", "account", order.AccountID, "err", err)
		}
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "fill",
			AccountID: order.AccountID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  order.Quantity.String(),
			Price:     order.Price.String(),
		})
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrders handles GET /api/v1/accounts/{accountID}/orders
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	orders, err := s.store.GetOrdersByAccount(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// --- Portfolio handlers ---

// GetPortfolio handles GET /api/v1/accounts/{accountID}/portfolio
// Returns cash, positions marked to a single price snapshot, and equity.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	key := "portfolio:" + accountID

	if s.readCache != nil {
		if v, ok := s.readCache.Get(key); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	b, err := s.valuator.Equity(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if b.Positions == nil {
		b.Positions = []model.Position{}
	}
	if s.readCache != nil {
		s.readCache.Set(key, b)
	}
	writeJSON(w, http.StatusOK, b)
}

// GetHistory handles GET /api/v1/accounts/{accountID}/history
// Returns portfolio snapshots, oldest first. ?limit=N bounds the result to
// the newest N.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	snaps, err := s.store.GetSnapshotsByAccount(r.Context(), accountID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.PortfolioSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetBadges handles GET /api/v1/accounts/{accountID}/badges
func (s *Service) GetBadges(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	badges, err := s.badges.List(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeJSON(w, http.StatusOK, badges)
}

// --- Quote handler ---

// GetQuote handles GET /api/v1/quotes/{symbol}
// Display endpoint: stale quotes are served flagged rather than rejected.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	q, err := s.quotes.Price(r.Context(), symbol, s.displayStaleness)
	if err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			writeError(w, "unknown symbol: "+symbol, http.StatusNotFound)
			return
		}
		writeError(w, "quote source unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- Competition handlers ---

// CreateCompetition handles POST /api/v1/competitions
func (s *Service) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var req CreateCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	c, err := s.competitions.Create(r.Context(), req.Name, req.StartAt, req.EndAt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCompetitions handles GET /api/v1/competitions
func (s *Service) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	comps, err := s.competitions.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if comps == nil {
		comps = []model.Competition{}
	}
	writeJSON(w, http.StatusOK, comps)
}

// GetCompetition handles GET /api/v1/competitions/{competitionID}
func (s *Service) GetCompetition(w http.ResponseWriter, r *http.Request) {
	c, err := s.competitions.Get(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Enroll handles POST /api/v1/competitions/{competitionID}/enroll
// Enrolls a single account (account_id) or a named team (team_name +
// members).
func (s *Service) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	competitionID := chi.URLParam(r, "competitionID")

	var (
		c   *model.Competition
		err error
	)
	switch {
	case req.AccountID != "":
		if _, err := s.store.GetAccount(r.Context(), req.AccountID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		c, err = s.competitions.EnrollAccount(r.Context(), competitionID, req.AccountID)
	case req.TeamName != "" && len(req.Members) > 0:
		for _, member := range req.Members {
			if _, err := s.store.GetAccount(r.Context(), member); err != nil {
				s.writeDomainError(w, err)
				return
			}
		}
		c, err = s.competitions.EnrollTeam(r.Context(), competitionID, req.TeamName, req.Members)
	default:
		writeError(w, "account_id or team_name with members is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetLeaderboard handles GET /api/v1/competitions/{competitionID}/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	key := "leaderboard:" + competitionID

	if s.readCache != nil {
		if v, ok := s.readCache.Get(key); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	entries, err := s.competitions.Leaderboard(r.Context(), competitionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []competition.LeaderboardEntry{}
	}
	if s.readCache != nil {
		s.readCache.Set(key, entries)
	}
	writeJSON(w, http.StatusOK, entries)
}

// CloseCompetition handles POST /api/v1/competitions/{competitionID}/close
// Force-closes before the scheduled end. Idempotent.
func (s *Service) CloseCompetition(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	c, err := s.competitions.ForceClose(r.Context(), competitionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.readCache != nil {
		s.readCache.Del("leaderboard:" + competitionID)
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "leaderboard", CompetitionID: competitionID})
	}
	writeJSON(w, http.StatusOK, c)
}

// --- helpers ---

func (s *Service) invalidatePortfolio(accountID string) {
	if s.readCache != nil {
		s.readCache.Del("portfolio:" + accountID)
	}
}

// writeDomainError maps domain errors onto the HTTP status taxonomy:
// validation 400, not found 404, business-rule rejections 409, quote source
// failures 502, everything else 500.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrSymbolNotTradable),
		errors.Is(err, ledger.ErrZeroQuantity),
		errors.Is(err, account.ErrEmptyName),
		errors.Is(err, account.ErrEmptySymbol),
		errors.Is(err, competition.ErrInvalidWindow):
		writeError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientPosition),
		errors.Is(err, engine.ErrShortNotEligible),
		errors.Is(err, engine.ErrShortLimitExceeded),
		errors.Is(err, engine.ErrAccountInactive),
		errors.Is(err, engine.ErrStaleQuote),
		errors.Is(err, ledger.ErrNoPositionToCover),
		errors.Is(err, competition.ErrClosed),
		errors.Is(err, competition.ErrAlreadyEnrolled):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, quote.ErrUnavailable):
		writeError(w, "quote source unavailable", http.StatusBadGateway)

	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
