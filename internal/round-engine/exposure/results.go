package exposure

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

var ErrResultAlreadySet = errors.New("result already set")

// KEYS: result, override  ARGV: candidate, ttl_ms
// Resultado existente vence; senão o override gravado; senão o candidato.
var commitResultScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  return {0, cur}
end
local v = redis.call('GET', KEYS[2])
if not v then
  v = ARGV[1]
end
redis.call('SET', KEYS[1], v, 'PX', ARGV[2])
return {1, v}
`)

// KEYS: result, override  ARGV: override, ttl_ms
var recordOverrideScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'RESULT_SET'
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
return 'OK'
`)

// CommitResult compromete o resultado da rodada uma única vez.
// committed=false significa que outro caminho já tinha comprometido; o valor
// devolvido é sempre o resultado efetivo.
func (s *Store) CommitResult(ctx context.Context, key rounds.Key, candidate records.Result) (records.Result, bool, error) {
	raw, err := records.Encode(records.KindResult, &candidate)
	if err != nil {
		return records.Result{}, false, err
	}
	keys := []string{key.With("result"), key.With("override")}
	res, err := commitResultScript.Run(ctx, s.r, keys, raw, s.ttl.Milliseconds()).Slice()
	if err != nil {
		return records.Result{}, false, fmt.Errorf("commit result %s: %w", key, err)
	}
	if len(res) != 2 {
		return records.Result{}, false, fmt.Errorf("commit result %s: unexpected reply %v", key, res)
	}
	committed, _ := res[0].(int64)
	stored, _ := res[1].(string)
	out, err := records.Decode[records.Result](records.KindResult, stored)
	if err != nil {
		return records.Result{}, false, err
	}
	return out, committed == 1, nil
}

// RecordOverride grava o resultado forçado pelo operador se nada foi comprometido
func (s *Store) RecordOverride(ctx context.Context, key rounds.Key, override records.Result) error {
	raw, err := records.Encode(records.KindResult, &override)
	if err != nil {
		return err
	}
	keys := []string{key.With("result"), key.With("override")}
	res, err := recordOverrideScript.Run(ctx, s.r, keys, raw, s.ttl.Milliseconds()).Text()
	if err != nil {
		return fmt.Errorf("record override %s: %w", key, err)
	}
	if res == "RESULT_SET" {
		return ErrResultAlreadySet
	}
	return nil
}

// Result lê o resultado comprometido, se houver
func (s *Store) Result(ctx context.Context, key rounds.Key) (records.Result, bool, error) {
	raw, err := s.r.Get(ctx, key.With("result")).Result()
	if errors.Is(err, redis.Nil) {
		return records.Result{}, false, nil
	}
	if err != nil {
		return records.Result{}, false, fmt.Errorf("read result %s: %w", key, err)
	}
	r, err := records.Decode[records.Result](records.KindResult, raw)
	if err != nil {
		return records.Result{}, false, err
	}
	return r, true, nil
}
