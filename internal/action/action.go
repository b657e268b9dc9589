// Package action is the boundary callers talk to. Every operation returns a
// Result; business failures come back as a message, never as a Go error,
// and infrastructure faults are logged and reported generically.
package action

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/betania/betting-engine/internal/account"
	"github.com/betania/betting-engine/internal/market"
	"github.com/betania/betting-engine/internal/metrics"
	"github.com/betania/betting-engine/internal/model"
	"github.com/betania/betting-engine/internal/report"
	"github.com/betania/betting-engine/internal/settlement"
	"github.com/betania/betting-engine/internal/wager"
)

// Result is the outcome of one operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CodeInternal marks an infrastructure failure.
const CodeInternal = "internal"

const internalMessage = "Algo deu errado. Tente novamente mais tarde."

type rule struct {
	err     error
	code    string
	message string
}

var rules = []rule{
	{model.ErrInvalidAmount, "invalid_amount", "Valor da aposta inválido."},
	{model.ErrUserNotFound, "user_not_found", "Usuário não encontrado."},
	{model.ErrMarketNotFound, "market_not_found", "Mercado não encontrado."},
	{model.ErrInvalidOption, "invalid_option", "Opção não pertence a este mercado."},
	{model.ErrInsufficientFunds, "insufficient_funds", "Saldo insuficiente."},
	{model.ErrMarketClosed, "market_closed", "Este mercado não está aberto para apostas."},
	{model.ErrConflictOfInterest, "conflict_of_interest", "Você não pode apostar no seu próprio mercado."},
	{model.ErrForbidden, "forbidden", "Você não tem permissão para esta ação."},
	{model.ErrAlreadySettled, "already_settled", "Este mercado já foi resolvido."},
	{model.ErrInvalidQuestion, "invalid_question", "A pergunta deve ter pelo menos 5 caracteres."},
	{model.ErrInvalidExpiry, "invalid_expiry", "A data de encerramento deve estar no futuro."},
	{model.ErrInvalidOptions, "invalid_options", "Opções do mercado inválidas."},
	{model.ErrBetNotFound, "bet_not_found", "Aposta não encontrada."},
	{model.ErrMarketNotSettled, "market_not_settled", "O mercado ainda não foi resolvido."},
	{model.ErrInvalidStatus, "invalid_status", "Status de aposta inválido."},
	{model.ErrEmailTaken, "email_taken", "Este email já está cadastrado."},
	{model.ErrRechargeNotAllowed, "recharge_not_allowed", "Recarga disponível apenas para saldos abaixo de 10."},
	{model.ErrInvalidInput, "invalid_input", "Campos inválidos. Verifique os dados e tente novamente."},
}

// Describe maps a business error to its code and message. ok is false for
// anything that is not a business error.
func Describe(err error) (code, message string, ok bool) {
	for _, r := range rules {
		if errors.Is(err, r.err) {
			return r.code, r.message, true
		}
	}
	return "", "", false
}

// Dispatcher routes operations to the services.
type Dispatcher struct {
	Markets    *market.Service
	Wagers     *wager.Service
	Settlement *settlement.Service
	Accounts   *account.Service
	Reports    *report.Service

	log *zap.Logger
}

// NewDispatcher wires a dispatcher. log may be nil.
func NewDispatcher(
	markets *market.Service,
	wagers *wager.Service,
	settle *settlement.Service,
	accounts *account.Service,
	reports *report.Service,
	log *zap.Logger,
) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Markets:    markets,
		Wagers:     wagers,
		Settlement: settle,
		Accounts:   accounts,
		Reports:    reports,
		log:        log,
	}
}

func (d *Dispatcher) run(ctx context.Context, op, ok string, fn func() (any, error)) Result {
	start := time.Now()
	data, err := fn()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil {
		return Result{Success: true, Message: ok, Data: data}
	}
	if code, msg, isBusiness := Describe(err); isBusiness {
		metrics.Rejections.WithLabelValues(op, code).Inc()
		d.log.Debug("operation rejected",
			zap.String("operation", op),
			zap.String("code", code),
			zap.Error(err),
		)
		return Result{Success: false, Message: msg, Code: code}
	}

	metrics.InfraErrors.WithLabelValues(op).Inc()
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if ctx.Err() != nil {
		fields = append(fields, zap.NamedError("context", ctx.Err()))
	}
	d.log.Error("operation failed", fields...)
	return Result{Success: false, Message: internalMessage, Code: CodeInternal}
}

// --- Accounts ---

func (d *Dispatcher) Register(ctx context.Context, in account.RegisterInput) Result {
	return d.run(ctx, "register", "Conta criada com sucesso!", func() (any, error) {
		return d.Accounts.Register(ctx, in)
	})
}

func (d *Dispatcher) GetUser(ctx context.Context, id string) Result {
	return d.run(ctx, "get_user", "", func() (any, error) {
		return d.Accounts.Get(ctx, id)
	})
}

func (d *Dispatcher) RequestRecharge(ctx context.Context, caller model.Caller, userID string) Result {
	return d.run(ctx, "request_recharge", "Recarga realizada!", func() (any, error) {
		return d.Accounts.RequestRecharge(ctx, caller, userID)
	})
}

func (d *Dispatcher) Leaderboard(ctx context.Context, limit int) Result {
	return d.run(ctx, "leaderboard", "", func() (any, error) {
		return d.Accounts.Leaderboard(ctx, limit)
	})
}

func (d *Dispatcher) BetHistory(ctx context.Context, caller model.Caller, userID string) Result {
	return d.run(ctx, "bet_history", "", func() (any, error) {
		return d.Accounts.BetHistory(ctx, caller, userID)
	})
}

func (d *Dispatcher) Ledger(ctx context.Context, caller model.Caller, userID string) Result {
	return d.run(ctx, "ledger", "", func() (any, error) {
		return d.Accounts.Ledger(ctx, caller, userID)
	})
}

// --- Markets ---

func (d *Dispatcher) CreateMarket(ctx context.Context, caller model.Caller, in market.CreateInput) Result {
	return d.run(ctx, "create_market", "Mercado criado!", func() (any, error) {
		return d.Markets.Create(ctx, caller, in)
	})
}

func (d *Dispatcher) GetMarket(ctx context.Context, caller model.Caller, id string) Result {
	return d.run(ctx, "get_market", "", func() (any, error) {
		return d.Markets.Get(ctx, caller, id)
	})
}

func (d *Dispatcher) ListMarkets(ctx context.Context, caller model.Caller, f market.ListFilter) Result {
	return d.run(ctx, "list_markets", "", func() (any, error) {
		return d.Markets.List(ctx, caller, f)
	})
}

func (d *Dispatcher) DeleteMarket(ctx context.Context, caller model.Caller, id string) Result {
	return d.run(ctx, "delete_market", "Mercado removido.", func() (any, error) {
		return nil, d.Markets.SoftDelete(ctx, caller, id)
	})
}

func (d *Dispatcher) UpdateMarket(ctx context.Context, caller model.Caller, id string, in market.TextInput) Result {
	return d.run(ctx, "update_market", "Mercado atualizado.", func() (any, error) {
		return d.Markets.UpdateText(ctx, caller, id, in)
	})
}

// --- Wagers and settlement ---

func (d *Dispatcher) PlaceBet(ctx context.Context, caller model.Caller, optionID string, amount decimal.Decimal) Result {
	return d.run(ctx, "place_bet", "Aposta realizada!", func() (any, error) {
		return d.Wagers.PlaceBet(ctx, caller, optionID, amount)
	})
}

func (d *Dispatcher) ResolveMarket(ctx context.Context, caller model.Caller, marketID, optionID string) Result {
	return d.run(ctx, "resolve_market", "Mercado resolvido!", func() (any, error) {
		return d.Settlement.ResolveMarket(ctx, caller, marketID, optionID)
	})
}

func (d *Dispatcher) CorrectBet(ctx context.Context, caller model.Caller, betID string, to model.BetStatus) Result {
	return d.run(ctx, "correct_bet", "Aposta corrigida.", func() (any, error) {
		return d.Settlement.CorrectBet(ctx, caller, betID, to)
	})
}

// --- Reports ---

func (d *Dispatcher) FinancialStats(ctx context.Context, caller model.Caller, period report.Period) Result {
	return d.run(ctx, "financial_stats", "", func() (any, error) {
		return d.Reports.FinancialStats(ctx, caller, period)
	})
}
