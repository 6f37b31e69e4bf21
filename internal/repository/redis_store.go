package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"idle_mining/internal/domain"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisPlayerPrefix = "player:"
	redisLedgerPrefix = "ledger:"
	redisPlayersIndex = "players"
	redisEventKeys    = "referral_events"
	redisLedgerSeq    = "ledger:seq"

	redisLedgerCap = 1000
)

// casScript replaces a record only if its stored version matches and
// none of the entries' event keys was applied before.
// KEYS: player, events, ledger, index, ledger seq
// ARGV: expected version, record json, entries json array, address, ledger cap
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local ver = 0
if cur then ver = tonumber(cjson.decode(cur)['version']) end
if ver ~= tonumber(ARGV[1]) then return 'CONFLICT' end
local entries = cjson.decode(ARGV[3])
for _, e in ipairs(entries) do
  local k = e['event_key']
  if type(k) == 'string' and k ~= '' and redis.call('SISMEMBER', KEYS[2], k) == 1 then return 'DUPLICATE' end
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[4], 0, ARGV[4])
for _, e in ipairs(entries) do
  local k = e['event_key']
  if type(k) == 'string' and k ~= '' then redis.call('SADD', KEYS[2], k) end
  e['id'] = redis.call('INCR', KEYS[5])
  redis.call('LPUSH', KEYS[3], cjson.encode(e))
end
redis.call('LTRIM', KEYS[3], 0, tonumber(ARGV[5]) - 1)
return 'OK'
`)

// deleteScript removes a record at an expected version.
// KEYS: player, ledger, index, ledger seq
// ARGV: expected version, ledger json, address, ledger cap
var deleteScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 'CONFLICT' end
if tonumber(cjson.decode(cur)['version']) ~= tonumber(ARGV[1]) then return 'CONFLICT' end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[3], ARGV[3])
if ARGV[2] ~= '' then
  local e = cjson.decode(ARGV[2])
  e['id'] = redis.call('INCR', KEYS[4])
  redis.call('LPUSH', KEYS[2], cjson.encode(e))
  redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[4]) - 1)
end
return 'OK'
`)

// RedisStore is a Store backed by a single Redis instance. Records are JSON
// documents; conditional writes run as Lua scripts.
type RedisStore struct {
	client  *redis.Client
	catalog domain.Catalog
	now     func() time.Time
}

func NewRedisStore(client *redis.Client, catalog domain.Catalog) *RedisStore {
	return &RedisStore{client: client, catalog: catalog, now: time.Now}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Get(ctx context.Context, address string) (*domain.PlayerRecord, error) {
	b, err := s.client.Get(ctx, redisPlayerPrefix+address).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewPlayerRecord(address, s.now()), nil
	}
	if err != nil {
		return nil, classify("get player", err)
	}
	var rec domain.PlayerRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, domain.ErrInvariantViolation.WithDetail("decode %s: %v", address, err)
	}
	return &rec, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, w Write) (*domain.PlayerRecord, error) {
	next, err := PrepareWrite(w, s.catalog)
	if err != nil {
		return nil, err
	}
	recJSON, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.LedgerEntry, 0, len(w.Entries))
	for _, e := range w.Entries {
		e.Address = next.Address
		e.Version = next.Version
		e.CreatedAt = next.UpdatedAt
		entries = append(entries, e)
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{redisPlayerPrefix + next.Address, redisEventKeys, redisLedgerPrefix + next.Address, redisPlayersIndex, redisLedgerSeq},
		w.ExpectedVersion, string(recJSON), string(entriesJSON), next.Address, redisLedgerCap,
	).Text()
	if err != nil {
		return nil, classify("compare and swap", err)
	}

	switch res {
	case "OK":
		return next, nil
	case "DUPLICATE":
		return nil, domain.ErrDuplicateReferral.WithDetail("%s", next.Address)
	default:
		return nil, domain.ErrConflict.WithDetail("%s at version %d", next.Address, w.ExpectedVersion)
	}
}

func (s *RedisStore) Delete(ctx context.Context, address string, expectedVersion int64, entry *domain.LedgerEntry) error {
	var entryJSON string
	if entry != nil {
		entry.Address = address
		entry.Version = expectedVersion
		entry.CreatedAt = s.now().UTC()
		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		entryJSON = string(b)
	}

	res, err := deleteScript.Run(ctx, s.client,
		[]string{redisPlayerPrefix + address, redisLedgerPrefix + address, redisPlayersIndex, redisLedgerSeq},
		expectedVersion, entryJSON, address, redisLedgerCap,
	).Text()
	if err != nil {
		return classify("delete player", err)
	}
	if res != "OK" {
		return domain.ErrConflict.WithDetail("%s at version %d", address, expectedVersion)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, p ListParams) ([]*domain.PlayerRecord, error) {
	lo := "-"
	if p.After != "" {
		lo = "(" + p.After
	}
	addrs, err := s.client.ZRangeByLex(ctx, redisPlayersIndex, &redis.ZRangeBy{
		Min:   lo,
		Max:   "+",
		Count: int64(p.PageSize()),
	}).Result()
	if err != nil {
		return nil, classify("list players", err)
	}
	return s.load(ctx, addrs)
}

func (s *RedisStore) load(ctx context.Context, addrs []string) ([]*domain.PlayerRecord, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = redisPlayerPrefix + a
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify("load players", err)
	}

	res := make([]*domain.PlayerRecord, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between the index read and the load
			continue
		}
		var rec domain.PlayerRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, domain.ErrInvariantViolation.WithDetail("decode record: %v", err)
		}
		res = append(res, &rec)
	}
	return res, nil
}

func (s *RedisStore) Ledger(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 || limit > redisLedgerCap {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, redisLedgerPrefix+address, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, classify("ledger", err)
	}
	entries := make([]*domain.LedgerEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.LedgerEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	after := ""
	for {
		page, err := s.List(ctx, ListParams{After: after, Limit: maxListLimit})
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			st.Add(rec)
			after = rec.Address
		}
		if len(page) < maxListLimit {
			return &st, nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return classify("ping", s.client.Ping(ctx).Err())
}
