package ws

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// Registry é a visão local de quem está em cada sala e o que apostou
type Registry interface {
	Members(room Room) []string
	WagersFor(room Room, roundID string) map[string][]records.Wager
}

// Delivery é uma mensagem endereçada a uma conexão
type Delivery struct {
	ClientID string
	Msg      ServerMsg
}

// PeriodStart é o payload de periodStart
type PeriodStart struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	CloseAt   time.Time `json:"closeAt"`
}

// Dispatch traduz um evento do barramento em entregas locais. Eventos de sala vão
// para todos os membros; betResult vai apenas para as conexões que apostaram na
// rodada, calculado com a tabela de pagamento do jogo.
func Dispatch(env events.Envelope, reg Registry, catalog *games.Catalog) ([]Delivery, error) {
	room := Room{GameType: env.GameType, Duration: env.Duration}
	base := ServerMsg{GameType: env.GameType, Duration: env.Duration, RoundID: env.RoundID}

	switch env.Kind {
	case events.KindRoundOpened:
		var p events.RoundOpened
		if err := env.Into(&p); err != nil {
			return nil, fmt.Errorf("roundOpened payload: %w", err)
		}
		base.Type = MsgPeriodStart
		base.Data = PeriodStart{StartTime: p.StartTime, EndTime: p.EndTime, CloseAt: p.CloseAt}
		return toRoom(reg, room, base), nil

	case events.KindBettingClosed:
		var p events.BettingClosed
		if err := env.Into(&p); err != nil {
			return nil, fmt.Errorf("bettingClosed payload: %w", err)
		}
		base.Type = MsgBettingClosed
		base.Data = p
		return toRoom(reg, room, base), nil

	case events.KindRoundError:
		var p events.RoundError
		if err := env.Into(&p); err != nil {
			return nil, fmt.Errorf("roundError payload: %w", err)
		}
		base.Type = MsgError
		base.Data = ErrorMsg{Code: "ROUND_" + strings.ToUpper(p.Stage), Message: p.Message}
		return toRoom(reg, room, base), nil

	case events.KindRoundResolved:
		var p events.RoundResolved
		if err := env.Into(&p); err != nil {
			return nil, fmt.Errorf("roundResolved payload: %w", err)
		}
		base.Type = MsgPeriodResult
		base.Data = p
		out := toRoom(reg, room, base)

		g, ok := catalog.Game(env.GameType)
		if !ok {
			return out, fmt.Errorf("unknown game %q", env.GameType)
		}
		byClient := reg.WagersFor(room, env.RoundID)
		ids := make([]string, 0, len(byClient))
		for id := range byClient {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, w := range byClient[id] {
				payout := g.Payout(w.Selector, p.Outcome, w.NetStake)
				status := exposure.StatusLost
				if payout > 0 {
					status = exposure.StatusWon
				}
				out = append(out, Delivery{ClientID: id, Msg: ServerMsg{
					Type:     MsgBetResult,
					GameType: env.GameType,
					Duration: env.Duration,
					RoundID:  env.RoundID,
					Data: BetResult{
						WagerID:  w.WagerID,
						Selector: w.Selector,
						Outcome:  p.Outcome,
						Status:   status,
						Net:      w.NetStake,
						Payout:   payout,
					},
				}})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", env.Kind)
}

func toRoom(reg Registry, room Room, msg ServerMsg) []Delivery {
	members := reg.Members(room)
	sort.Strings(members)
	out := make([]Delivery, 0, len(members))
	for _, id := range members {
		out = append(out, Delivery{ClientID: id, Msg: msg})
	}
	return out
}
