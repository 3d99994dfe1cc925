package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/game-server/bets"
	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	ReasonNotInRoom = "NOT_IN_ROOM"
)

type Placer interface {
	Place(ctx context.Context, userID string, req bets.PlaceRequest) (bets.Receipt, error)
}

type Balances interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// Pointers devolve a rodada corrente, reparando o ponteiro compartilhado se preciso
type Pointers interface {
	Current(ctx context.Context, rc *rounds.Clock, gameType string, d time.Duration, now time.Time) (rounds.Round, bool, error)
}

type Options struct {
	CloseMargin time.Duration
	TickEvery   time.Duration
	SendBuffer  int
	AllowOrigin func(r *http.Request) bool
}

// Hooks de métricas (opcionais)
type Hooks struct {
	OnConnect       func()
	OnDisconnect    func()
	OnPointerRepair func()
	OnEvent         func(kind string)
}

// Server concentra hub, tickers e dependências de uma instância do game-server
type Server struct {
	log      *zap.Logger
	catalog  *games.Catalog
	rounds   *rounds.Clock
	clock    clockwork.Clock
	placer   Placer
	wallet   Balances
	pointers Pointers
	opts     Options
	hooks    Hooks

	upgrader websocket.Upgrader
	hub      *Hub
	tickers  *Tickers
}

func NewServer(log *zap.Logger, catalog *games.Catalog, rc *rounds.Clock, clock clockwork.Clock, placer Placer, wallet Balances, pointers Pointers, opts Options, hooks Hooks) *Server {
	if opts.TickEvery <= 0 {
		opts.TickEvery = time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	s := &Server{
		log:      log,
		catalog:  catalog,
		rounds:   rc,
		clock:    clock,
		placer:   placer,
		wallet:   wallet,
		pointers: pointers,
		opts:     opts,
		hooks:    hooks,
		upgrader: websocket.Upgrader{CheckOrigin: opts.AllowOrigin},
		hub:      NewHub(),
	}
	s.tickers = NewTickers(clock, opts.TickEvery, s.tickRoom)
	s.hub.OnRoomActive = func(r Room) { s.tickers.Start(r) }
	s.hub.OnRoomEmpty = func(r Room) { s.tickers.Stop(r) }
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Tickers() *Tickers { return s.tickers }

// Close desliga os tickers; conexões caem junto com o servidor HTTP
func (s *Server) Close() { s.tickers.StopAll() }

// HandleWS faz o upgrade e roda o laço de leitura da conexão (GET /ws?userId=)
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), userID, conn, s.opts.SendBuffer)
	s.hub.Register(c)
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect()
	}
	s.log.Debug("ws connected", zap.String("client_id", c.ID), zap.String("user_id", userID))

	go writePump(c)
	s.readPump(r.Context(), c)

	s.hub.Unregister(c)
	if s.hooks.OnDisconnect != nil {
		s.hooks.OnDisconnect()
	}
	s.log.Debug("ws disconnected", zap.String("client_id", c.ID))
}

func (s *Server) readPump(ctx context.Context, c *Client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg ClientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.hub.Send(c.ID, ServerMsg{Type: MsgError, Data: ErrorMsg{Code: "BAD_MESSAGE", Message: "invalid json"}})
			continue
		}
		s.Handle(ctx, c, msg)
	}
}

// writePump é o único escritor da conexão
func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handle executa uma mensagem do cliente
func (s *Server) Handle(ctx context.Context, c *Client, msg ClientMsg) {
	switch msg.Type {
	case MsgJoin:
		s.join(ctx, c, msg.Room())
	case MsgLeave:
		s.hub.Leave(c, msg.Room())
	case MsgPlaceBet:
		s.placeBet(ctx, c, msg)
	case MsgGetBalance:
		s.sendBalance(ctx, c.ID, c.UserID)
	case MsgPing:
		s.hub.Send(c.ID, ServerMsg{Type: MsgPong})
	default:
		s.hub.Send(c.ID, ServerMsg{Type: MsgError, Data: ErrorMsg{Code: "UNKNOWN_TYPE", Message: msg.Type}})
	}
}

func (s *Server) join(ctx context.Context, c *Client, room Room) {
	if !s.catalog.Supports(room.GameType, room.DurationValue()) {
		s.hub.Send(c.ID, ServerMsg{Type: MsgError, GameType: room.GameType, Duration: room.Duration,
			Data: ErrorMsg{Code: bets.ReasonUnknownGame, Message: "unsupported game/duration"}})
		return
	}
	s.hub.Join(c, room)

	now := s.clock.Now()
	cur, repaired, err := s.pointers.Current(ctx, s.rounds, room.GameType, room.DurationValue(), now)
	if err != nil {
		// sem store: o relógio é determinístico, segue com o valor calculado
		s.log.Warn("round pointer unavailable", zap.String("room", room.String()), zap.Error(err))
	}
	if repaired {
		if s.hooks.OnPointerRepair != nil {
			s.hooks.OnPointerRepair()
		}
		s.log.Info("round pointer repaired", zap.String("room", room.String()), zap.String("round_id", cur.ID))
	}

	s.hub.Send(c.ID, ServerMsg{
		Type:     MsgJoinedGame,
		GameType: room.GameType,
		Duration: room.Duration,
		RoundID:  cur.ID,
		Data: JoinedGame{
			StartTime:        cur.Start,
			EndTime:          cur.End,
			CloseAt:          cur.CloseAt(s.opts.CloseMargin),
			RemainingSeconds: int(cur.Remaining(now) / time.Second),
			BettingOpen:      cur.BettingOpen(now, s.opts.CloseMargin),
			Status:           string(cur.StatusAt(now, s.opts.CloseMargin, false)),
		},
	})
}

func (s *Server) placeBet(ctx context.Context, c *Client, msg ClientMsg) {
	room := msg.Room()
	if !c.inRoom(room) {
		s.hub.Send(c.ID, ServerMsg{Type: MsgBetError, GameType: room.GameType, Duration: room.Duration, RoundID: msg.RoundID,
			Data: BetError{RequestID: msg.RequestID, Reason: ReasonNotInRoom}})
		return
	}
	rec, err := s.placer.Place(ctx, c.UserID, bets.PlaceRequest{
		GameType: msg.GameType,
		Duration: msg.Duration,
		RoundID:  msg.RoundID,
		Selector: msg.Selector,
		Stake:    msg.Amount,
	})
	if err != nil {
		be := BetError{RequestID: msg.RequestID, Reason: "INTERNAL", Message: err.Error()}
		if re, ok := bets.AsReject(err); ok {
			be.Reason = re.Reason
			be.RemainingSeconds = re.RemainingSeconds
			if re.Reason == bets.ReasonInsufficientBalance || re.Balance > 0 {
				bal := re.Balance
				be.Balance = &bal
			}
		}
		s.hub.Send(c.ID, ServerMsg{Type: MsgBetError, GameType: room.GameType, Duration: room.Duration, RoundID: msg.RoundID, Data: be})
		return
	}

	c.trackWager(room, rec.Wager)
	w := rec.Wager
	s.hub.Send(c.ID, ServerMsg{
		Type:     MsgBetSuccess,
		GameType: w.GameType,
		Duration: w.Duration,
		RoundID:  w.RoundID,
		Data: BetSuccess{
			RequestID: msg.RequestID,
			WagerID:   w.WagerID,
			Selector:  w.Selector,
			Gross:     w.GrossStake,
			Fee:       w.PlatformFee,
			Net:       w.NetStake,
			Odds:      w.Odds,
			Balance:   rec.Balance,
		},
	})
	s.hub.Send(c.ID, ServerMsg{Type: MsgBalanceUpdate, Data: BalanceUpdate{Balance: rec.Balance}})
}

func (s *Server) sendBalance(ctx context.Context, clientID, userID string) {
	bal, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		s.log.Warn("balance lookup failed", zap.String("user_id", userID), zap.Error(err))
		s.hub.Send(clientID, ServerMsg{Type: MsgError, Data: ErrorMsg{Code: "WALLET_UNAVAILABLE", Message: err.Error()}})
		return
	}
	s.hub.Send(clientID, ServerMsg{Type: MsgBalanceUpdate, Data: BalanceUpdate{Balance: bal}})
}

// HandleEvent entrega um evento do barramento às conexões locais
func (s *Server) HandleEvent(env events.Envelope) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(string(env.Kind))
	}
	deliveries, err := Dispatch(env, s.hub, s.catalog)
	if err != nil {
		s.log.Warn("dispatch failed", zap.String("kind", string(env.Kind)), zap.String("round_id", env.RoundID), zap.Error(err))
	}

	winners := map[string]bool{}
	for _, d := range deliveries {
		s.hub.Send(d.ClientID, d.Msg)
		if br, ok := d.Msg.Data.(BetResult); ok && br.Status == exposure.StatusWon {
			winners[d.ClientID] = true
		}
	}
	if env.Kind != events.KindRoundResolved {
		return
	}
	s.hub.ForgetRound(Room{GameType: env.GameType, Duration: env.Duration}, env.RoundID)

	// o pagamento já foi creditado antes do roundResolved; só atualiza o saldo exibido
	for id := range winners {
		userID, ok := s.hub.UserOf(id)
		if !ok {
			continue
		}
		go func(id, userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.sendBalance(ctx, id, userID)
		}(id, userID)
	}
}

// tickRoom envia o tempo restante da rodada corrente para a sala
func (s *Server) tickRoom(room Room) {
	now := s.clock.Now()
	cur := s.rounds.Current(room.GameType, room.DurationValue(), now)
	n := s.hub.Broadcast(room, ServerMsg{
		Type:     MsgTimeUpdate,
		GameType: room.GameType,
		Duration: room.Duration,
		RoundID:  cur.ID,
		Data: TimeUpdate{
			RemainingSeconds:        int(cur.Remaining(now) / time.Second),
			BettingRemainingSeconds: int(cur.BettingRemaining(now, s.opts.CloseMargin) / time.Second),
			Status:                  string(cur.StatusAt(now, s.opts.CloseMargin, false)),
		},
	})
	if n == 0 {
		s.hub.ReleaseIfEmpty(room)
	}
}
