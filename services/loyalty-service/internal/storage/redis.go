package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps accounts as JSON documents in Redis. It is the local
// cache behind FallbackStore. Multi-key updates run under WATCH/MULTI and
// retry when a watched key changes. Events are logged, not published. The
// inbound event id of an update is kept as a marker key with the accounts so
// the fallback path also applies a redelivered event once.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	retries int
	logger  *slog.Logger
}

type RedisStoreConfig struct {
	Prefix  string
	TTL     time.Duration
	Retries int
}

func NewRedisStore(rdb *redis.Client, logger *slog.Logger, cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "loyalty"
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	return &RedisStore{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL, retries: cfg.Retries, logger: logger}
}

func (s *RedisStore) accountKey(k loyalty.AccountKey) string {
	return s.prefix + ":acct:" + k.TenantID + ":" + k.Customer
}

func (s *RedisStore) inboxKey(eventID string) string {
	return s.prefix + ":inbox:" + eventID
}

func (s *RedisStore) referralKey(tenantID, code string) string {
	return s.prefix + ":ref:" + tenantID + ":" + loyalty.NormalizeReferralCode(code)
}

func (s *RedisStore) Get(ctx context.Context, key loyalty.AccountKey) (loyalty.Account, bool, error) {
	return s.get(ctx, s.rdb, key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, key loyalty.AccountKey) (loyalty.Account, bool, error) {
	raw, err := c.Get(ctx, s.accountKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return loyalty.Account{}, false, nil
	}
	if err != nil {
		return loyalty.Account{}, false, err
	}
	var acct loyalty.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return loyalty.Account{}, false, fmt.Errorf("decode cached account: %w", err)
	}
	return acct, true, nil
}

func (s *RedisStore) Put(ctx context.Context, acct loyalty.Account) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.write(ctx, pipe, acct)
	})
	return err
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, acct loyalty.Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.accountKey(acct.Key()), raw, s.ttl)
	if acct.ReferralCode != "" {
		pipe.Set(ctx, s.referralKey(acct.TenantID, acct.ReferralCode), acct.Customer, s.ttl)
	}
	return nil
}

func (s *RedisStore) FindByReferralCode(ctx context.Context, tenantID, code string) (loyalty.Account, bool, error) {
	customer, err := s.rdb.Get(ctx, s.referralKey(tenantID, code)).Result()
	if errors.Is(err, redis.Nil) {
		return loyalty.Account{}, false, nil
	}
	if err != nil {
		return loyalty.Account{}, false, err
	}
	return s.Get(ctx, loyalty.AccountKey{TenantID: tenantID, Customer: customer})
}

// inboxTTL bounds how long an applied event id is remembered.
const inboxTTL = 7 * 24 * time.Hour

func (s *RedisStore) Update(ctx context.Context, keys []loyalty.AccountKey, fn loyalty.UpdateFunc, opts ...loyalty.UpdateOption) error {
	o := loyalty.ResolveUpdateOptions(opts)
	watched := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		watched = append(watched, s.accountKey(k))
	}
	if o.EventID != "" {
		watched = append(watched, s.inboxKey(o.EventID))
	}

	txf := func(tx *redis.Tx) error {
		if o.EventID != "" {
			n, err := tx.Exists(ctx, s.inboxKey(o.EventID)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", loyalty.ErrDuplicateEvent, o.EventID)
			}
		}
		accts := make([]*loyalty.Account, len(keys))
		for i, k := range keys {
			acct, ok, err := s.get(ctx, tx, k)
			if err != nil {
				return err
			}
			if !ok {
				acct = loyalty.Account{TenantID: k.TenantID, Customer: k.Customer}
			}
			accts[i] = &acct
		}

		events, err := fn(accts)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, acct := range accts {
				if err := s.write(ctx, pipe, *acct); err != nil {
					return err
				}
			}
			if o.EventID != "" {
				pipe.Set(ctx, s.inboxKey(o.EventID), o.EventType, inboxTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, evt := range events {
			s.logger.Warn("event dropped by cache store", "event_type", evt.Type, "tenant_id", evt.TenantID, "customer", evt.Customer)
		}
		return nil
	}

	for i := 0; i < s.retries; i++ {
		err := s.rdb.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis account update: %w", redis.TxFailedErr)
}
