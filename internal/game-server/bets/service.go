// Package bets recebe apostas: valida contra a rodada corrente, debita a
// carteira e grava no ledger compartilhado. Se o ledger recusar, o débito é
// estornado com a mesma referência (wagerId).
package bets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/internal/wallet-service/client"
	"github.com/radieske/period-bet-engine/internal/wallet-service/dto"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// Motivos de rejeição legíveis por máquina
const (
	ReasonBettingClosed       = exposure.ReasonBettingClosed
	ReasonUserWagerLimit      = exposure.ReasonUserWagerLimit
	ReasonUserStakeLimit      = exposure.ReasonUserStakeLimit
	ReasonInvalidRound        = "INVALID_ROUND"
	ReasonInvalidSelector     = "INVALID_SELECTOR"
	ReasonStakeOutOfRange     = "STAKE_OUT_OF_RANGE"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonStoreUnavailable    = "STORE_UNAVAILABLE"
	ReasonWalletUnavailable   = "WALLET_UNAVAILABLE"
	ReasonUnknownGame         = "UNKNOWN_GAME"
)

// RejectError é devolvido para toda aposta recusada
type RejectError struct {
	Reason           string
	Balance          int64 // preenchido quando conhecido
	RemainingSeconds int
	Err              error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *RejectError) Unwrap() error { return e.Err }

// AsReject extrai a rejeição de err
func AsReject(err error) (*RejectError, bool) {
	var re *RejectError
	ok := errors.As(err, &re)
	return re, ok
}

type Wallet interface {
	Debit(ctx context.Context, userID string, amount int64, kind, source, ref string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, kind, source, ref string) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

type Ledger interface {
	RecordWager(ctx context.Context, g games.Game, key rounds.Key, w records.Wager, closeAt, now time.Time, limits exposure.Limits) error
	HasWager(ctx context.Context, key rounds.Key, wagerID string) (bool, error)
}

type Publisher interface {
	PublishWagerPlaced(ctx context.Context, e events.WagerPlaced) error
}

type Config struct {
	CloseMargin time.Duration
	FeeRate     decimal.Decimal
	MinStake    int64
	MaxStake    int64
	Limits      exposure.Limits
	Timeline    string
}

// PlaceRequest é o que o cliente envia em placeBet
type PlaceRequest struct {
	GameType string `json:"gameType"`
	Duration int    `json:"duration"` // segundos
	RoundID  string `json:"roundId"`
	Selector string `json:"selector"`
	Stake    int64  `json:"amount"` // centavos, bruto
}

// Receipt confirma uma aposta gravada
type Receipt struct {
	Wager            records.Wager
	Balance          int64
	RemainingSeconds int
}

type Service struct {
	log     *zap.Logger
	catalog *games.Catalog
	rounds  *rounds.Clock
	clock   clockwork.Clock
	wallet  Wallet
	ledger  Ledger
	pub     Publisher
	cfg     Config

	OnPlaced   func(gameType string)
	OnRejected func(reason string)
}

func NewService(log *zap.Logger, catalog *games.Catalog, rc *rounds.Clock, clock clockwork.Clock, wallet Wallet, ledger Ledger, pub Publisher, cfg Config) *Service {
	return &Service{
		log:     log,
		catalog: catalog,
		rounds:  rc,
		clock:   clock,
		wallet:  wallet,
		ledger:  ledger,
		pub:     pub,
		cfg:     cfg,
	}
}

// Fee devolve (taxa, líquido) para um valor bruto; taxa arredondada meio-para-cima
func (s *Service) Fee(gross int64) (fee, net int64) {
	fee = decimal.NewFromInt(gross).Mul(s.cfg.FeeRate).Round(0).IntPart()
	return fee, gross - fee
}

// Place valida, debita e grava uma aposta
func (s *Service) Place(ctx context.Context, userID string, req PlaceRequest) (Receipt, error) {
	now := s.clock.Now()

	g, ok := s.catalog.Game(req.GameType)
	d := time.Duration(req.Duration) * time.Second
	if !ok || !s.catalog.Supports(req.GameType, d) {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonUnknownGame})
	}
	cur := s.rounds.Current(req.GameType, d, now)
	remaining := int(cur.BettingRemaining(now, s.cfg.CloseMargin) / time.Second)

	if _, err := s.rounds.Validate(req.GameType, d, req.RoundID, now); err != nil {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonInvalidRound, RemainingSeconds: remaining, Err: err})
	}
	if req.RoundID != cur.ID {
		// rodada já encerrada (ou ainda não aberta): apostas só na corrente
		reason := ReasonInvalidRound
		if req.RoundID < cur.ID {
			reason = ReasonBettingClosed
		}
		return Receipt{}, s.reject(&RejectError{Reason: reason, RemainingSeconds: remaining})
	}
	if !cur.BettingOpen(now, s.cfg.CloseMargin) {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonBettingClosed})
	}

	selector, err := g.ParseSelector(strings.TrimSpace(req.Selector))
	if err != nil {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonInvalidSelector, RemainingSeconds: remaining, Err: err})
	}
	if req.Stake < s.cfg.MinStake || (s.cfg.MaxStake > 0 && req.Stake > s.cfg.MaxStake) {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonStakeOutOfRange, RemainingSeconds: remaining})
	}
	fee, net := s.Fee(req.Stake)
	if net <= 0 {
		return Receipt{}, s.reject(&RejectError{Reason: ReasonStakeOutOfRange, RemainingSeconds: remaining})
	}

	w := records.Wager{
		WagerID:     uuid.NewString(),
		UserID:      userID,
		RoundID:     cur.ID,
		GameType:    cur.GameType,
		Duration:    cur.DurationSeconds(),
		Selector:    selector,
		GrossStake:  req.Stake,
		PlatformFee: fee,
		NetStake:    net,
		Odds:        g.Odds(selector),
		PlacedAt:    now,
	}

	balance, err := s.wallet.Debit(ctx, userID, w.GrossStake, dto.KindBet, dto.SourceGameServer, w.WagerID)
	if err != nil {
		if errors.Is(err, client.ErrInsufficientFunds) {
			bal, _ := s.wallet.Balance(ctx, userID)
			return Receipt{}, s.reject(&RejectError{Reason: ReasonInsufficientBalance, Balance: bal, RemainingSeconds: remaining})
		}
		// com timeout o débito ainda pode ser aplicado; fica para a reconciliação
		s.log.Warn("wager debit failed",
			zap.String("wager_id", w.WagerID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return Receipt{}, s.reject(&RejectError{Reason: ReasonWalletUnavailable, RemainingSeconds: remaining, Err: err})
	}

	// o script reavalia o corte com o relógio atual, não o do início da validação
	key := cur.Key(s.cfg.Timeline)
	if err := s.ledger.RecordWager(ctx, g, key, w, cur.CloseAt(s.cfg.CloseMargin), s.clock.Now(), s.cfg.Limits); err != nil {
		if reason, rejected := exposure.IsRejected(err); rejected {
			balance = s.refund(ctx, w, balance)
			return Receipt{}, s.reject(&RejectError{Reason: reason, Balance: balance, RemainingSeconds: remaining, Err: err})
		}
		// erro sem resposta do script: a aposta pode ter sido gravada
		recorded, cerr := s.confirmRecorded(ctx, key, w.WagerID)
		switch {
		case cerr != nil:
			s.log.Error("wager state unknown, debit kept for reconciliation",
				zap.String("wager_id", w.WagerID),
				zap.String("user_id", userID),
				zap.NamedError("record_error", err),
				zap.Error(cerr),
			)
			return Receipt{}, s.reject(&RejectError{Reason: ReasonStoreUnavailable, Balance: balance, RemainingSeconds: remaining, Err: err})
		case !recorded:
			s.log.Error("record wager failed", zap.String("wager_id", w.WagerID), zap.Error(err))
			balance = s.refund(ctx, w, balance)
			return Receipt{}, s.reject(&RejectError{Reason: ReasonStoreUnavailable, Balance: balance, RemainingSeconds: remaining, Err: err})
		}
		s.log.Warn("record wager reply lost, wager is in the ledger",
			zap.String("wager_id", w.WagerID),
			zap.Error(err),
		)
	}

	if s.pub != nil {
		if err := s.pub.PublishWagerPlaced(ctx, events.WagerPlaced{
			WagerID:    w.WagerID,
			UserID:     w.UserID,
			GameType:   w.GameType,
			Duration:   w.Duration,
			RoundID:    w.RoundID,
			Selector:   w.Selector,
			GrossCents: w.GrossStake,
			FeeCents:   w.PlatformFee,
			NetCents:   w.NetStake,
			Odds:       w.Odds,
			PlacedAt:   w.PlacedAt,
		}); err != nil {
			s.log.Warn("publish wager_placed failed", zap.String("wager_id", w.WagerID), zap.Error(err))
		}
	}
	if s.OnPlaced != nil {
		s.OnPlaced(w.GameType)
	}
	s.log.Debug("wager placed",
		zap.String("wager_id", w.WagerID),
		zap.String("user_id", userID),
		zap.String("round_id", w.RoundID),
		zap.String("selector", w.Selector),
		zap.Int64("gross", w.GrossStake),
	)
	return Receipt{Wager: w, Balance: balance, RemainingSeconds: remaining}, nil
}

func (s *Service) confirmRecorded(ctx context.Context, key rounds.Key, wagerID string) (bool, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return s.ledger.HasWager(cctx, key, wagerID)
}

// refund devolve o débito de uma aposta que o ledger recusou
func (s *Service) refund(ctx context.Context, w records.Wager, fallback int64) int64 {
	bal, err := s.wallet.Credit(context.WithoutCancel(ctx), w.UserID, w.GrossStake, dto.KindRefund, dto.SourceGameServer, w.WagerID)
	if err != nil {
		s.log.Error("wager refund failed",
			zap.String("wager_id", w.WagerID),
			zap.String("user_id", w.UserID),
			zap.Int64("amount", w.GrossStake),
			zap.Error(err),
		)
		return fallback
	}
	return bal
}

func (s *Service) reject(re *RejectError) error {
	if s.OnRejected != nil {
		s.OnRejected(re.Reason)
	}
	return re
}

// ParseDuration aceita "30", "30s" ou "1m"
func ParseDuration(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return int(d / time.Second), nil
}
