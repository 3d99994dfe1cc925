package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/wallet-service/dto"
	"github.com/radieske/period-bet-engine/internal/wallet-service/ledger"
	"github.com/radieske/period-bet-engine/internal/wallet-service/repo"
)

// Códigos de erro devolvidos em dto.ErrorResponse
const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeRequestTimeout    = "REQUEST_TIMEOUT"
	CodeCreditFailed      = "CREDIT_FAILED"
	CodeQueueFull         = "QUEUE_FULL"
	CodeBadRequest        = "BAD_REQUEST"
	CodeInternal          = "INTERNAL"
)

// Wallet define as operações usadas pelo handler HTTP
type Wallet interface {
	Credit(ctx context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error)
	Debit(ctx context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Reconcile(ctx context.Context, userID string) (balance, ledger int64, err error)
}

// History lista movimentações (opcional)
type History interface {
	Transactions(ctx context.Context, userID string, limit int) ([]repo.Transaction, error)
}

// Server expõe endpoints HTTP para operações de carteira (wallet)
type Server struct {
	log     *zap.Logger
	wallet  Wallet
	history History
}

// NewServer instancia o servidor HTTP de wallet
func NewServer(log *zap.Logger, wallet Wallet, history History) *Server {
	return &Server{log: log, wallet: wallet, history: history}
}

// Router retorna o roteador com as rotas da API de wallet
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/wallet/{userId}", s.getWallet)
	r.Get("/v1/wallet/{userId}/reconcile", s.reconcile)
	r.Get("/v1/wallet/{userId}/transactions", s.transactions)
	r.Post("/v1/wallet/deposit", s.deposit)
	r.Post("/v1/wallet/transactions", s.apply) // crédito ou débito genérico
	return r
}

// getWallet retorna o saldo do usuário
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	bal, err := s.wallet.Balance(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{UserID: userID, BalanceCents: bal})
}

// deposit adiciona saldo à carteira do usuário
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid payload")
		return
	}
	tx, err := s.wallet.Credit(r.Context(), req.UserID, req.AmountCents, dto.KindDeposit, dto.SourceAPI, req.ExternalRef)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tx))
}

// apply executa crédito (amount > 0) ou débito (amount < 0)
func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	var req dto.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "bad json")
		return
	}
	if req.UserID == "" || req.AmountCents == 0 || req.Kind == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid payload")
		return
	}

	var (
		tx  repo.Transaction
		err error
	)
	if req.AmountCents > 0 {
		tx, err = s.wallet.Credit(r.Context(), req.UserID, req.AmountCents, req.Kind, req.Source, req.ReferenceID)
	} else {
		tx, err = s.wallet.Debit(r.Context(), req.UserID, -req.AmountCents, req.Kind, req.Source, req.ReferenceID)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(tx))
}

// reconcile compara saldo e soma do ledger
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	bal, sum, err := s.wallet.Reconcile(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ReconcileResponse{UserID: userID, BalanceCents: bal, LedgerCents: sum, Consistent: bal == sum})
}

// transactions lista as últimas movimentações (?limit=50)
func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, CodeBadRequest, "history disabled")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	txs, err := s.history.Transactions(r.Context(), chi.URLParam(r, "userId"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]dto.TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// fail traduz erros do ledger em status HTTP + código legível
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, CodeInsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrRequestTimeout):
		writeError(w, http.StatusGatewayTimeout, CodeRequestTimeout, err.Error())
	case errors.Is(err, ledger.ErrCreditFailed):
		writeError(w, http.StatusServiceUnavailable, CodeCreditFailed, err.Error())
	case errors.Is(err, ledger.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, CodeQueueFull, err.Error())
	default:
		s.log.Error("wallet request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func toResponse(tx repo.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:           tx.ID,
		UserID:       tx.UserID,
		AmountCents:  tx.Amount,
		Kind:         tx.Kind,
		Source:       tx.Source,
		ReferenceID:  tx.ReferenceID,
		CreatedAt:    tx.CreatedAt,
		BalanceCents: tx.Balance,
		Duplicate:    tx.Duplicate,
	}
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Code: code, Message: msg})
}
