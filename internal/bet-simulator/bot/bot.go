package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/game-server/bets"
	"github.com/radieske/period-bet-engine/internal/game-server/ws"
)

// Wallet é usado para dar saldo inicial e recarregar o bot
type Wallet interface {
	Deposit(ctx context.Context, userID string, amount int64, ref string) (int64, error)
}

// Hooks de métricas (opcionais)
type Hooks struct {
	OnBet      func(gameType string)
	OnRejected func(reason string)
	OnResult   func(status string)
}

// Bot simula um jogador: conecta no game-server, entra numa sala e aposta
// em cada rodada com probabilidade BetChance.
type Bot struct {
	UserID    string
	URL       string // ws://host:8080/ws
	Room      ws.Room
	Wallet    Wallet
	Log       *zap.Logger
	Rand      *rand.Rand
	BetChance float64
	Stakes    []int64 // centavos
	TopUp     int64   // depósito quando o saldo acaba
	Reconnect time.Duration
	Hooks     Hooks
}

var (
	digitSelectors = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "red", "green", "violet", "big", "small"}
	k3Selectors    = []string{"big", "small", "odd", "even", "triple", "sum:4", "sum:7", "sum:10", "sum:11", "sum:14", "triple:6"}
)

// selectorsFor devolve seletores aceitos pelo jogo
func selectorsFor(gameType string) []string {
	if gameType == "k3" {
		return k3Selectors
	}
	return digitSelectors
}

// ParseRooms lê "wingo:30,k3:60"
func ParseRooms(raw string) ([]ws.Room, error) {
	var out []ws.Room
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		game, dur, ok := strings.Cut(part, ":")
		secs, err := bets.ParseDuration(dur)
		if !ok || game == "" || err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid room %q", part)
		}
		out = append(out, ws.Room{GameType: game, Duration: secs})
	}
	if len(out) == 0 {
		return nil, errors.New("no rooms configured")
	}
	return out, nil
}

// Start mantém o bot conectado até ctx terminar, reconectando após falhas
func (b *Bot) Start(ctx context.Context) {
	if b.Reconnect <= 0 {
		b.Reconnect = 3 * time.Second
	}
	if b.TopUp > 0 {
		b.deposit(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := b.connectAndPlay(ctx); err != nil {
			b.Log.Warn("bot connection closed", zap.String("user_id", b.UserID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Reconnect):
		}
	}
}

func (b *Bot) dialURL() (string, error) {
	u, err := url.Parse(b.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", b.UserID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bot) connectAndPlay(ctx context.Context) error {
	target, err := b.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// fecha a conexão quando ctx termina para destravar ReadMessage
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(ws.ClientMsg{Type: ws.MsgJoin, GameType: b.Room.GameType, Duration: b.Room.Duration}); err != nil {
		return err
	}
	b.Log.Debug("bot joined", zap.String("user_id", b.UserID), zap.String("room", b.Room.String()))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		reply, ok := b.React(ctx, raw)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			return err
		}
	}
}

type inbound struct {
	Type    string          `json:"type"`
	RoundID string          `json:"roundId"`
	Data    json.RawMessage `json:"data"`
}

// React trata uma mensagem do servidor e devolve a aposta a enviar, se houver
func (b *Bot) React(ctx context.Context, raw []byte) (ws.ClientMsg, bool) {
	var m inbound
	if err := json.Unmarshal(raw, &m); err != nil {
		b.Log.Warn("bot got invalid message", zap.Error(err))
		return ws.ClientMsg{}, false
	}

	switch m.Type {
	case ws.MsgJoinedGame:
		var jg ws.JoinedGame
		if err := json.Unmarshal(m.Data, &jg); err != nil || !jg.BettingOpen {
			return ws.ClientMsg{}, false
		}
		return b.Decide(m.RoundID)
	case ws.MsgPeriodStart:
		return b.Decide(m.RoundID)
	case ws.MsgBetSuccess:
		if b.Hooks.OnBet != nil {
			b.Hooks.OnBet(b.Room.GameType)
		}
	case ws.MsgBetError:
		var be ws.BetError
		_ = json.Unmarshal(m.Data, &be)
		if b.Hooks.OnRejected != nil {
			b.Hooks.OnRejected(be.Reason)
		}
		if be.Reason == bets.ReasonInsufficientBalance && b.TopUp > 0 {
			b.deposit(ctx)
		}
	case ws.MsgBetResult:
		var br ws.BetResult
		if err := json.Unmarshal(m.Data, &br); err == nil && b.Hooks.OnResult != nil {
			b.Hooks.OnResult(br.Status)
		}
	}
	return ws.ClientMsg{}, false
}

// Decide sorteia se e como apostar na rodada
func (b *Bot) Decide(roundID string) (ws.ClientMsg, bool) {
	if roundID == "" || len(b.Stakes) == 0 || b.Rand.Float64() >= b.BetChance {
		return ws.ClientMsg{}, false
	}
	sels := selectorsFor(b.Room.GameType)
	return ws.ClientMsg{
		Type:      ws.MsgPlaceBet,
		GameType:  b.Room.GameType,
		Duration:  b.Room.Duration,
		RoundID:   roundID,
		Selector:  sels[b.Rand.IntN(len(sels))],
		Amount:    b.Stakes[b.Rand.IntN(len(b.Stakes))],
		RequestID: b.UserID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36),
	}, true
}

func (b *Bot) deposit(ctx context.Context) {
	if b.Wallet == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	bal, err := b.Wallet.Deposit(dctx, b.UserID, b.TopUp, uuid.NewString())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.Log.Warn("bot deposit failed", zap.String("user_id", b.UserID), zap.Error(err))
		}
		return
	}
	b.Log.Debug("bot topped up", zap.String("user_id", b.UserID), zap.Int64("balance", bal))
}
