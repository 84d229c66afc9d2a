package risk

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Hash fields of the state key.
const (
	fieldEquity        = "equity"
	fieldPeak          = "peak_equity"
	fieldDay           = "day_key"
	fieldDailyRealized = "daily_realized_pnl"
	fieldUnrealized    = "unrealized_pnl"
	fieldBuyingPower   = "buying_power"
	fieldOpen          = "open_positions"
	fieldStatus        = "account_status"
)

// Counter updates run as Lua so each read-modify-write is atomic on the
// server, even with several service replicas sharing the key.
var (
	updateEquityScript = redis.NewScript(`
local eq = tonumber(ARGV[1])
redis.call('HSET', KEYS[1], 'equity', ARGV[1])
local peak = tonumber(redis.call('HGET', KEYS[1], 'peak_equity') or '0')
if eq > peak then
  redis.call('HSET', KEYS[1], 'peak_equity', ARGV[1])
end
return redis.call('HGETALL', KEYS[1])
`)

	addRealizedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'day_key') ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'day_key', ARGV[1], 'daily_realized_pnl', '0')
end
redis.call('HINCRBYFLOAT', KEYS[1], 'daily_realized_pnl', ARGV[2])
local eq = tonumber(redis.call('HINCRBYFLOAT', KEYS[1], 'equity', ARGV[2]))
local peak = tonumber(redis.call('HGET', KEYS[1], 'peak_equity') or '0')
if eq > peak then
  redis.call('HSET', KEYS[1], 'peak_equity', tostring(eq))
end
return redis.call('HGETALL', KEYS[1])
`)

	adjustBuyingPowerScript = redis.NewScript(`
redis.call('HINCRBYFLOAT', KEYS[1], 'buying_power', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)
)

// RedisStateStore keeps risk counters in a Redis hash shared by all
// replicas of the service.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates the store and seeds fields that do not yet
// exist from initial. Existing counters are left untouched.
func NewRedisStateStore(ctx context.Context, client *redis.Client, prefix string, initial State) (*RedisStateStore, error) {
	s := &RedisStateStore{client: client, key: prefix + ":state"}

	if initial.PeakEquity < initial.Equity {
		initial.PeakEquity = initial.Equity
	}
	if initial.AccountStatus == "" {
		initial.AccountStatus = AccountActive
	}

	pipe := client.TxPipeline()
	for field, value := range encodeState(initial) {
		pipe.HSetNX(ctx, s.key, field, value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("seed risk state: %w", err)
	}
	return s, nil
}

func (s *RedisStateStore) Snapshot(ctx context.Context) (State, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return State{}, fmt.Errorf("read risk state: %w", err)
	}
	return decodeState(m)
}

func (s *RedisStateStore) UpdateEquity(ctx context.Context, equity float64) (State, error) {
	return s.run(ctx, updateEquityScript, formatFloat(equity))
}

func (s *RedisStateStore) AddRealizedPnL(ctx context.Context, day string, delta float64) (State, error) {
	return s.run(ctx, addRealizedScript, day, formatFloat(delta))
}

func (s *RedisStateStore) AdjustBuyingPower(ctx context.Context, delta float64) (State, error) {
	return s.run(ctx, adjustBuyingPowerScript, formatFloat(delta))
}

func (s *RedisStateStore) SetUnrealizedPnL(ctx context.Context, pnl float64) error {
	return s.hset(ctx, fieldUnrealized, formatFloat(pnl))
}

func (s *RedisStateStore) SetAccountStatus(ctx context.Context, status AccountStatus) error {
	return s.hset(ctx, fieldStatus, string(status))
}

func (s *RedisStateStore) SetOpenPositions(ctx context.Context, symbols []string) error {
	return s.hset(ctx, fieldOpen, strings.Join(symbols, ","))
}

func (s *RedisStateStore) hset(ctx context.Context, field, value string) error {
	if err := s.client.HSet(ctx, s.key, field, value).Err(); err != nil {
		return fmt.Errorf("write risk state %s: %w", field, err)
	}
	return nil
}

func (s *RedisStateStore) run(ctx context.Context, script *redis.Script, args ...interface{}) (State, error) {
	res, err := script.Run(ctx, s.client, []string{s.key}, args...).StringSlice()
	if err != nil {
		return State{}, fmt.Errorf("update risk state: %w", err)
	}
	m := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		m[res[i]] = res[i+1]
	}
	return decodeState(m)
}

func encodeState(st State) map[string]string {
	return map[string]string{
		fieldEquity:        formatFloat(st.Equity),
		fieldPeak:          formatFloat(st.PeakEquity),
		fieldDay:           st.DayKey,
		fieldDailyRealized: formatFloat(st.DailyRealizedPnL),
		fieldUnrealized:    formatFloat(st.UnrealizedPnL),
		fieldBuyingPower:   formatFloat(st.BuyingPower),
		fieldOpen:          strings.Join(st.OpenPositions, ","),
		fieldStatus:        string(st.AccountStatus),
	}
}

func decodeState(m map[string]string) (State, error) {
	var st State
	floats := []struct {
		field string
		dst   *float64
	}{
		{fieldEquity, &st.Equity},
		{fieldPeak, &st.PeakEquity},
		{fieldDailyRealized, &st.DailyRealizedPnL},
		{fieldUnrealized, &st.UnrealizedPnL},
		{fieldBuyingPower, &st.BuyingPower},
	}
	for _, f := range floats {
		v, ok := m[f.field]
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return State{}, fmt.Errorf("parse %s: %w", f.field, err)
		}
		*f.dst = parsed
	}

	st.DayKey = m[fieldDay]
	st.AccountStatus = AccountStatus(m[fieldStatus])
	if open := m[fieldOpen]; open != "" {
		st.OpenPositions = strings.Split(open, ",")
	}
	return st, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
