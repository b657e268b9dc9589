// Package httpapi serves the action dispatcher over HTTP. Identity comes
// from the gateway in the X-User-ID and X-User-Role headers; every response
// is the {success, message, code, data} envelope.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/action"
	"github.com/betania/betting-engine/internal/events"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Server holds the HTTP handlers.
type Server struct {
	actions  *action.Dispatcher
	hub      *events.Hub
	log      *zap.Logger
	validate *validator.Validate
	service  string
}

// New creates the HTTP layer. hub may be nil to disable /ws.
func New(actions *action.Dispatcher, hub *events.Hub, log *zap.Logger, service string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		actions:  actions,
		hub:      hub,
		log:      log,
		validate: validator.New(),
		service:  service,
	}
}

// Router builds the chi router with middleware and every route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(withCaller)

			r.Post("/users", s.register)
			r.Get("/users/{userID}", s.getUser)
			r.Get("/leaderboard", s.leaderboard)
			r.Get("/markets", s.listMarkets)
			r.Get("/markets/{marketID}", s.getMarket)

			r.Group(func(r chi.Router) {
				r.Use(requireCaller)

				r.Post("/users/{userID}/recharge", s.recharge)
				r.Get("/users/{userID}/bets", s.betHistory)
				r.Get("/users/{userID}/ledger", s.ledger)

				r.Post("/markets", s.createMarket)
				r.Post("/markets/{marketID}/resolve", s.resolveMarket)
				r.Post("/bets", s.placeBet)

				r.Route("/admin", func(r chi.Router) {
					r.Patch("/markets/{marketID}", s.updateMarket)
					r.Delete("/markets/{marketID}", s.deleteMarket)
					r.Post("/bets/{betID}/status", s.correctBet)
					r.Get("/financials", s.financials)
				})
			})
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": s.service})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors allows the frontend to call from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderUserID+", "+HeaderUserRole)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Caller ---

type callerKey struct{}

func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := model.Caller{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)), Role: model.RoleUser}
		if strings.EqualFold(r.Header.Get(HeaderUserRole), string(model.RoleAdmin)) {
			c.Role = model.RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r).UserID == "" {
			writeJSON(w, http.StatusUnauthorized, action.Result{
				Message: "Faça login para continuar.",
				Code:    "unauthenticated",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFrom(r *http.Request) model.Caller {
	c, _ := r.Context().Value(callerKey{}).(model.Caller)
	return c
}

// --- Responses ---

var statusByCode = map[string]int{
	"invalid_amount":       http.StatusBadRequest,
	"invalid_option":       http.StatusBadRequest,
	"invalid_question":     http.StatusBadRequest,
	"invalid_expiry":       http.StatusBadRequest,
	"invalid_options":      http.StatusBadRequest,
	"invalid_status":       http.StatusBadRequest,
	"invalid_input":        http.StatusBadRequest,
	"user_not_found":       http.StatusNotFound,
	"market_not_found":     http.StatusNotFound,
	"bet_not_found":        http.StatusNotFound,
	"forbidden":            http.StatusForbidden,
	"insufficient_funds":   http.StatusConflict,
	"market_closed":        http.StatusConflict,
	"conflict_of_interest": http.StatusConflict,
	"already_settled":      http.StatusConflict,
	"market_not_settled":   http.StatusConflict,
	"email_taken":          http.StatusConflict,
	"recharge_not_allowed": http.StatusConflict,
	action.CodeInternal:    http.StatusInternalServerError,
}

// writeResult sends res with the status its code maps to, or okStatus on
// success.
func writeResult(w http.ResponseWriter, okStatus int, res action.Result) {
	status := okStatus
	if !res.Success {
		var ok bool
		if status, ok = statusByCode[res.Code]; !ok {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeInvalid(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, action.Result{Message: message, Code: "invalid_input"})
}

// decode reads a JSON body into dst and validates its tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeInvalid(w, "Corpo da requisição inválido.")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeInvalid(w, "Campos inválidos: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 0
}
