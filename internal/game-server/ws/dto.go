package ws

import (
	"fmt"
	"time"
)

// Mensagens cliente -> servidor
const (
	MsgJoin       = "join"
	MsgLeave      = "leave"
	MsgPlaceBet   = "placeBet"
	MsgGetBalance = "getBalance"
	MsgPing       = "ping"
)

// Mensagens servidor -> cliente
const (
	MsgJoinedGame    = "joinedGame"
	MsgPeriodStart   = "periodStart"
	MsgTimeUpdate    = "timeUpdate"
	MsgBettingClosed = "bettingClosed"
	MsgPeriodResult  = "periodResult"
	MsgBetResult     = "betResult"
	MsgBetSuccess    = "betSuccess"
	MsgBetError      = "betError"
	MsgBalanceUpdate = "balanceUpdate"
	MsgPong          = "pong"
	MsgError         = "error"
)

// Room identifica uma sala: um par (gameType, duração em segundos)
type Room struct {
	GameType string `json:"gameType"`
	Duration int    `json:"duration"`
}

func (r Room) String() string { return fmt.Sprintf("%s:%d", r.GameType, r.Duration) }

// DurationValue devolve a duração como time.Duration
func (r Room) DurationValue() time.Duration { return time.Duration(r.Duration) * time.Second }

// ClientMsg representa uma mensagem recebida do cliente WebSocket
type ClientMsg struct {
	Type      string `json:"type"`
	GameType  string `json:"gameType,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	RoundID   string `json:"roundId,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	RequestID string `json:"requestId,omitempty"` // ecoado em betSuccess/betError
}

func (m ClientMsg) Room() Room { return Room{GameType: m.GameType, Duration: m.Duration} }

// ServerMsg é o envelope de tudo que o servidor envia
type ServerMsg struct {
	Type     string `json:"type"`
	GameType string `json:"gameType,omitempty"`
	Duration int    `json:"duration,omitempty"`
	RoundID  string `json:"roundId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type JoinedGame struct {
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	CloseAt          time.Time `json:"closeAt"`
	RemainingSeconds int       `json:"remainingSeconds"`
	BettingOpen      bool      `json:"bettingOpen"`
	Status           string    `json:"status"`
}

type TimeUpdate struct {
	RemainingSeconds        int    `json:"remainingSeconds"`
	BettingRemainingSeconds int    `json:"bettingRemainingSeconds"`
	Status                  string `json:"status"`
}

type BetSuccess struct {
	RequestID string  `json:"requestId,omitempty"`
	WagerID   string  `json:"wagerId"`
	Selector  string  `json:"selector"`
	Gross     int64   `json:"gross"`
	Fee       int64   `json:"fee"`
	Net       int64   `json:"net"`
	Odds      float64 `json:"odds"`
	Balance   int64   `json:"balance"`
}

type BetError struct {
	RequestID        string `json:"requestId,omitempty"`
	Reason           string `json:"reason"`
	Message          string `json:"message,omitempty"`
	Balance          *int64 `json:"balance,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds,omitempty"`
}

type BetResult struct {
	WagerID  string `json:"wagerId"`
	Selector string `json:"selector"`
	Outcome  string `json:"outcome"`
	Status   string `json:"status"` // won | lost
	Net      int64  `json:"net"`
	Payout   int64  `json:"payout"`
}

type BalanceUpdate struct {
	Balance int64 `json:"balance"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
