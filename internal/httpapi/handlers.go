package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/betania/betting-engine/internal/account"
	"github.com/betania/betting-engine/internal/market"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/report"
)

// --- Request types ---

// RegisterRequest is the JSON body for POST /users.
type RegisterRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Email string `json:"email" validate:"max=254"`
}

// OptionRequest is one option of a market creation request. Exactly one of
// Odds and Probability is expected.
type OptionRequest struct {
	Label       string           `json:"label" validate:"max=100"`
	Odds        *decimal.Decimal `json:"odds,omitempty"`
	Probability *decimal.Decimal `json:"probability,omitempty"` // percent, 0-100
}

// CreateMarketRequest is the JSON body for POST /markets. No options means
// the default Sim/Não pair.
type CreateMarketRequest struct {
	Question    string          `json:"question" validate:"max=500"`
	Description string          `json:"description" validate:"max=2000"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Options     []OptionRequest `json:"options,omitempty" validate:"max=20,dive"`
}

// UpdateMarketRequest is the JSON body for PATCH /admin/markets/{marketID}.
// Omitting description keeps the current one.
type UpdateMarketRequest struct {
	Question    string  `json:"question" validate:"max=500"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// PlaceBetRequest is the JSON body for POST /bets.
type PlaceBetRequest struct {
	OptionID string          `json:"option_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	OptionID string `json:"option_id" validate:"required"`
}

// CorrectBetRequest is the JSON body for POST /admin/bets/{betID}/status.
type CorrectBetRequest struct {
	Status string `json:"status" validate:"required"`
}

// --- Accounts ---

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.actions.Register(r.Context(), account.RegisterInput{Name: req.Name, Email: req.Email})
	writeResult(w, http.StatusCreated, res)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, s.actions.GetUser(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) recharge(w http.ResponseWriter, r *http.Request) {
	res := s.actions.RequestRecharge(r.Context(), callerFrom(r), chi.URLParam(r, "userID"))
	writeResult(w, http.StatusOK, res)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeInvalid(w, "limit deve ser um número positivo.")
		return
	}
	writeResult(w, http.StatusOK, s.actions.Leaderboard(r.Context(), limit))
}

func (s *Server) betHistory(w http.ResponseWriter, r *http.Request) {
	res := s.actions.BetHistory(r.Context(), callerFrom(r), chi.URLParam(r, "userID"))
	writeResult(w, http.StatusOK, res)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	res := s.actions.Ledger(r.Context(), callerFrom(r), chi.URLParam(r, "userID"))
	writeResult(w, http.StatusOK, res)
}

// --- Markets ---

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := market.CreateInput{
		Question:    req.Question,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	}
	for _, o := range req.Options {
		in.Options = append(in.Options, market.OptionInput{
			Label:       o.Label,
			Odds:        o.Odds,
			Probability: o.Probability,
		})
	}
	writeResult(w, http.StatusCreated, s.actions.CreateMarket(r.Context(), callerFrom(r), in))
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	res := s.actions.GetMarket(r.Context(), callerFrom(r), chi.URLParam(r, "marketID"))
	writeResult(w, http.StatusOK, res)
}

// listMarkets handles GET /markets?status=&creator=&include_deleted=
func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := market.ListFilter{
		CreatorID: q.Get("creator"),
		Status:    model.MarketStatus(q.Get("status")),
	}
	if raw := q.Get("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeInvalid(w, "include_deleted deve ser true ou false.")
			return
		}
		f.IncludeDeleted = v
	}
	switch f.Status {
	case "", model.MarketOpen, model.MarketClosed, model.MarketSettled:
	default:
		writeInvalid(w, "status deve ser OPEN, CLOSED ou SETTLED.")
		return
	}
	writeResult(w, http.StatusOK, s.actions.ListMarkets(r.Context(), callerFrom(r), f))
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.actions.ResolveMarket(r.Context(), callerFrom(r), chi.URLParam(r, "marketID"), req.OptionID)
	writeResult(w, http.StatusOK, res)
}

func (s *Server) deleteMarket(w http.ResponseWriter, r *http.Request) {
	res := s.actions.DeleteMarket(r.Context(), callerFrom(r), chi.URLParam(r, "marketID"))
	writeResult(w, http.StatusOK, res)
}

func (s *Server) updateMarket(w http.ResponseWriter, r *http.Request) {
	var req UpdateMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.actions.UpdateMarket(r.Context(), callerFrom(r), chi.URLParam(r, "marketID"), market.TextInput{
		Question:    req.Question,
		Description: req.Description,
	})
	writeResult(w, http.StatusOK, res)
}

// --- Bets ---

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeResult(w, http.StatusCreated, s.actions.PlaceBet(r.Context(), callerFrom(r), req.OptionID, req.Amount))
}

func (s *Server) correctBet(w http.ResponseWriter, r *http.Request) {
	var req CorrectBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.actions.CorrectBet(r.Context(), callerFrom(r), chi.URLParam(r, "betID"), model.BetStatus(req.Status))
	writeResult(w, http.StatusOK, res)
}

// --- Reports ---

func (s *Server) financials(w http.ResponseWriter, r *http.Request) {
	period := report.Period(r.URL.Query().Get("period"))
	writeResult(w, http.StatusOK, s.actions.FinancialStats(r.Context(), callerFrom(r), period))
}
