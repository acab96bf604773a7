// Package accounts provides a read-through cache over the account
// directory. Accounts are provisioned externally and read-only to the
// engine, so caching them is safe; wallet balances are never cached.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/logging"
	"wallet-engine/pkg/metrics"
	"wallet-engine/pkg/wallet"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds the directory cache configuration.
type Config struct {
	// Addr is the Redis server address.
	Addr      string
	Username  string
	Password  string
	KeyPrefix string

	// TTL bounds how long a cached account may be served. Account
	// classification changes made externally become visible after at
	// most one TTL.
	TTL time.Duration

	DialTimeout time.Duration
}

// DefaultConfig returns default directory cache configuration.
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		KeyPrefix:   "account:",
		TTL:         5 * time.Minute,
		DialTimeout: 5 * time.Second,
	}
}

// CachedDirectory implements engine.Directory with a Redis read-through
// cache in front of another directory (normally the Postgres store).
// Concurrent misses for the same account collapse into one upstream
// lookup. Redis being down degrades to plain upstream lookups.
type CachedDirectory struct {
	next    engine.Directory
	client  rueidis.Client
	sf      singleflight.Group
	config  Config
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

// NewCachedDirectory connects to Redis and wraps next with the cache.
func NewCachedDirectory(next engine.Directory, config Config, logger *logging.Logger, collector metrics.MetricsCollector) (*CachedDirectory, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{config.Addr},
		Username:    config.Username,
		Password:    config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("accounts: failed to create redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("accounts: failed to ping redis: %w", err)
	}

	return &CachedDirectory{
		next:    next,
		client:  client,
		config:  config,
		logger:  logger.Named("accounts"),
		metrics: collector,
	}, nil
}

// FindAccount implements engine.Directory.
func (d *CachedDirectory) FindAccount(ctx context.Context, id int64) (*wallet.Account, error) {
	start := time.Now()
	key := d.config.KeyPrefix + strconv.FormatInt(id, 10)

	if a, ok := d.cached(ctx, key); ok {
		d.metrics.RecordDirectoryLookup(true, time.Since(start))
		return a, nil
	}

	v, err, _ := d.sf.Do(key, func() (interface{}, error) {
		a, err := d.next.FindAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		d.store(ctx, key, a)
		return a, nil
	})
	d.metrics.RecordDirectoryLookup(false, time.Since(start))
	if err != nil {
		return nil, err
	}
	return v.(*wallet.Account), nil
}

func (d *CachedDirectory) cached(ctx context.Context, key string) (*wallet.Account, bool) {
	resp := d.client.Do(ctx, d.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if !rueidis.IsRedisNil(err) {
			d.logger.Warn("redis get failed, falling through", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, false
	}
	var a wallet.Account
	if err := json.Unmarshal(data, &a); err != nil {
		d.logger.Warn("corrupt cached account, falling through", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &a, true
}

// store is best-effort: a failed cache write only costs a future miss.
func (d *CachedDirectory) store(ctx context.Context, key string, a *wallet.Account) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	cmd := d.client.B().Set().Key(key).Value(string(data)).Ex(d.config.TTL).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		d.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close closes the Redis client.
func (d *CachedDirectory) Close() error {
	d.client.Close()
	return nil
}
