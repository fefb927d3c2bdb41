package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	// Addr is host:port or a redis:// URL. A URL's password and db take
	// precedence over Password and DB.
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration // default 5s
}

func redisOptions(opts RedisOpts) (*redis.Options, error) {
	var ro *redis.Options
	if strings.Contains(opts.Addr, "://") {
		var err error
		if ro, err = redis.ParseURL(opts.Addr); err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
	} else {
		ro = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}
	ro.DialTimeout = pingTimeoutOr(opts.DialTimeout, 5*time.Second)
	return ro, nil
}

// NewRedisClient connects and pings. Checkpoints, wake signals and the rate
// limiter share the client.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	ro, err := redisOptions(opts)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ro)

	ctx, cancel := context.WithTimeout(context.Background(), ro.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
