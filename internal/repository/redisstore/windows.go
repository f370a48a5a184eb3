// Package redisstore keeps daily rate limit windows in Redis so several
// service instances share one view of each user's allowance.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/repository"

	redis "github.com/redis/go-redis/v9"
)

var _ repository.RateLimitRepository = (*Windows)(nil)

// windowTTL outlives the day so late releases still find the key.
const windowTTL = 48 * time.Hour

var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local remaining = tonumber(ARGV[2]) - used
if remaining < 0 then remaining = 0 end
local grant = tonumber(ARGV[1])
if grant > remaining then
	if ARGV[3] ~= '1' then return 0 end
	grant = remaining
end
if grant <= 0 then return 0 end
redis.call('INCRBY', KEYS[1], grant)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return grant
`)

var releaseScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used == 0 then return 0 end
local next = used - tonumber(ARGV[1])
if next < 0 then next = 0 end
redis.call('SET', KEYS[1], next, 'KEEPTTL')
return next
`)

type Windows struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Windows {
	if prefix == "" {
		prefix = "tola:rl"
	}
	return &Windows{rdb: rdb, prefix: prefix}
}

// Connect builds a client and pings it. A failed ping returns the error so
// the caller can fall back to the database-backed windows.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// key format: <prefix>:<limit type>:<period>:<user id>
func (w *Windows) key(userID int64, limitType, period string) string {
	return w.prefix + ":" + limitType + ":" + period + ":" + strconv.FormatInt(userID, 10)
}

func (w *Windows) Reserve(ctx context.Context, userID int64, limitType, period string, amount, limit int64, clamp bool) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	clampArg := "0"
	if clamp {
		clampArg = "1"
	}
	granted, err := reserveScript.Run(ctx, w.rdb, []string{w.key(userID, limitType, period)},
		amount, limit, clampArg, int64(windowTTL.Seconds())).Int64()
	if err != nil {
		return 0, err
	}
	if granted <= 0 {
		return 0, domain.ErrDailyLimitReached
	}
	return granted, nil
}

func (w *Windows) Release(ctx context.Context, userID int64, limitType, period string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return releaseScript.Run(ctx, w.rdb, []string{w.key(userID, limitType, period)}, amount).Err()
}

func (w *Windows) GetWindow(ctx context.Context, userID int64, limitType, period string, limit int64) (domain.RateLimitWindow, error) {
	win := domain.RateLimitWindow{UserID: userID, LimitType: limitType, Period: period, Cap: limit}
	used, err := w.rdb.Get(ctx, w.key(userID, limitType, period)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return win, err
	}
	win.Used = used
	return win, nil
}
