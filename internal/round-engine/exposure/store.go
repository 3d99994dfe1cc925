// Package exposure guarda apostas e a tabela de responsabilidade de cada rodada no Redis.
// Toda escrita concorrente passa por scripts Lua: a lista de apostas e a exposição por
// resultado nunca divergem, mesmo com vários game-servers gravando na mesma rodada.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// Motivos de rejeição devolvidos pelo script de gravação
const (
	ReasonBettingClosed  = "BETTING_CLOSED"
	ReasonUserWagerLimit = "USER_WAGER_LIMIT"
	ReasonUserStakeLimit = "USER_STAKE_LIMIT"
)

// Status de liquidação de uma aposta (escrito uma única vez)
const (
	StatusWon  = "won"
	StatusLost = "lost"
)

// RejectedError indica que o store recusou a aposta no momento da escrita
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "wager rejected: " + e.Reason }

// IsRejected extrai o motivo quando err é uma rejeição do ledger
func IsRejected(err error) (string, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// Limits são os tetos por usuário em uma rodada (0 = sem limite)
type Limits struct {
	MaxWagers int64
	MaxStake  int64
}

// Population resume quem apostou na rodada
type Population struct {
	UniqueUsers int64
	WagerCount  int64
	TotalStake  int64
}

// Store é o ledger de apostas por rodada
type Store struct {
	r   *redis.Client
	ttl time.Duration
}

// NewStore cria o ledger; ttl é a retenção de todas as chaves por rodada
func NewStore(r *redis.Client, ttl time.Duration) *Store {
	return &Store{r: r, ttl: ttl}
}

// KEYS: wagers, exposure, population, bettors, user_stats, wager_ids
// ARGV: now_ms, close_ms, user, gross, max_wagers, max_stake, ttl_ms, record, wager_id, [outcome, payout]...
var recordWagerScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[6], ARGV[9]) == 1 then
  return 'OK'
end
if tonumber(ARGV[1]) >= tonumber(ARGV[2]) then
  return 'BETTING_CLOSED'
end
local countField = ARGV[3] .. ':count'
local stakeField = ARGV[3] .. ':stake'
local maxWagers = tonumber(ARGV[5])
local maxStake = tonumber(ARGV[6])
local count = tonumber(redis.call('HGET', KEYS[5], countField) or '0')
if maxWagers > 0 and count + 1 > maxWagers then
  return 'USER_WAGER_LIMIT'
end
local staked = tonumber(redis.call('HGET', KEYS[5], stakeField) or '0')
if maxStake > 0 and staked + tonumber(ARGV[4]) > maxStake then
  return 'USER_STAKE_LIMIT'
end
redis.call('RPUSH', KEYS[1], ARGV[8])
redis.call('SADD', KEYS[6], ARGV[9])
for i = 10, #ARGV, 2 do
  redis.call('HINCRBY', KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call('HINCRBY', KEYS[5], countField, 1)
redis.call('HINCRBY', KEYS[5], stakeField, ARGV[4])
redis.call('SADD', KEYS[4], ARGV[3])
redis.call('HINCRBY', KEYS[3], 'wager_count', 1)
redis.call('HINCRBY', KEYS[3], 'total_stake', ARGV[4])
for i = 1, #KEYS do
  redis.call('PEXPIRE', KEYS[i], ARGV[7])
end
return 'OK'
`)

// RecordWager grava a aposta e soma, para cada resultado em que ela ganharia,
// o pagamento correspondente na exposição. Corte de apostas e limites são
// reavaliados dentro do script com o relógio do servidor. Regravar o mesmo
// wagerId não soma nada de novo.
func (s *Store) RecordWager(ctx context.Context, g games.Game, key rounds.Key, w records.Wager, closeAt, now time.Time, limits Limits) error {
	raw, err := records.Encode(records.KindWager, &w)
	if err != nil {
		return err
	}

	args := []any{
		now.UnixMilli(),
		closeAt.UnixMilli(),
		w.UserID,
		w.GrossStake,
		limits.MaxWagers,
		limits.MaxStake,
		s.ttl.Milliseconds(),
		raw,
		w.WagerID,
	}
	for _, o := range g.Outcomes() {
		if p := g.Payout(w.Selector, o, w.NetStake); p > 0 {
			args = append(args, o, p)
		}
	}

	keys := []string{
		key.With("wagers"),
		key.With("exposure"),
		key.With("population"),
		key.With("bettors"),
		key.With("user_stats"),
		key.With("wager_ids"),
	}
	res, err := recordWagerScript.Run(ctx, s.r, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("record wager %s: %w", w.WagerID, err)
	}
	if res != "OK" {
		return &RejectedError{Reason: res}
	}
	return nil
}

// HasWager diz se a aposta já está no ledger da rodada. Usado quando a
// resposta de RecordWager se perde e não dá para saber se o script rodou.
func (s *Store) HasWager(ctx context.Context, key rounds.Key, wagerID string) (bool, error) {
	ok, err := s.r.SIsMember(ctx, key.With("wager_ids"), wagerID).Result()
	if err != nil {
		return false, fmt.Errorf("check wager %s: %w", wagerID, err)
	}
	return ok, nil
}

// Exposure lê a responsabilidade por resultado; resultados ausentes valem 0
func (s *Store) Exposure(ctx context.Context, key rounds.Key) (map[string]int64, error) {
	m, err := s.r.HGetAll(ctx, key.With("exposure")).Result()
	if err != nil {
		return nil, fmt.Errorf("read exposure %s: %w", key, err)
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("exposure %s field %s: %w", key, k, err)
		}
		out[k] = n
	}
	return out, nil
}

// Population devolve usuários únicos, quantidade e soma de stakes
func (s *Store) Population(ctx context.Context, key rounds.Key) (Population, error) {
	pipe := s.r.Pipeline()
	users := pipe.SCard(ctx, key.With("bettors"))
	stats := pipe.HMGet(ctx, key.With("population"), "wager_count", "total_stake")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Population{}, fmt.Errorf("read population %s: %w", key, err)
	}
	p := Population{UniqueUsers: users.Val()}
	vals := stats.Val()
	if len(vals) == 2 {
		p.WagerCount = toInt64(vals[0])
		p.TotalStake = toInt64(vals[1])
	}
	return p, nil
}

// Wagers decodifica todas as apostas da rodada; um registro de outra versão falha
func (s *Store) Wagers(ctx context.Context, key rounds.Key) ([]records.Wager, error) {
	raws, err := s.r.LRange(ctx, key.With("wagers"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read wagers %s: %w", key, err)
	}
	out := make([]records.Wager, 0, len(raws))
	for _, raw := range raws {
		w, err := records.Decode[records.Wager](records.KindWager, raw)
		if err != nil {
			return nil, fmt.Errorf("wagers %s: %w", key, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// MarkSettled grava o status da aposta só se ainda estiver pendente.
// Devolve false quando outro processo já liquidou a aposta.
func (s *Store) MarkSettled(ctx context.Context, key rounds.Key, wagerID, status string) (bool, error) {
	k := key.With("wager_status")
	ok, err := s.r.HSetNX(ctx, k, wagerID, status).Result()
	if err != nil {
		return false, fmt.Errorf("mark wager %s: %w", wagerID, err)
	}
	if ok {
		s.r.Expire(ctx, k, s.ttl)
	}
	return ok, nil
}

// Statuses devolve wagerId -> status das apostas já liquidadas
func (s *Store) Statuses(ctx context.Context, key rounds.Key) (map[string]string, error) {
	m, err := s.r.HGetAll(ctx, key.With("wager_status")).Result()
	if err != nil {
		return nil, fmt.Errorf("read statuses %s: %w", key, err)
	}
	return m, nil
}

func toInt64(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
