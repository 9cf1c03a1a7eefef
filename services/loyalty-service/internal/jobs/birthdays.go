package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
)

type birthdayLister interface {
	ListBirthdays(ctx context.Context, month time.Month, days []int, year int, after loyalty.AccountKey, limit int) ([]loyalty.AccountKey, error)
}

type birthdayGranter interface {
	CheckBirthdayBonus(ctx context.Context, key loyalty.AccountKey) (loyalty.Result, error)
}

// BirthdayWorker grants birthday bonuses once a day. Only the replica
// holding the advisory lock sweeps.
type BirthdayWorker struct {
	pool      *db.Pool
	lister    birthdayLister
	svc       birthdayGranter
	logger    *slog.Logger
	loc       *time.Location
	interval  time.Duration
	batchSize int
	lockKey   int64
	now       func() time.Time
}

type BirthdayWorkerConfig struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
	Location        *time.Location
}

func NewBirthdayWorker(pool *db.Pool, lister birthdayLister, svc birthdayGranter, logger *slog.Logger, cfg BirthdayWorkerConfig) *BirthdayWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 5150001
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &BirthdayWorker{
		pool:      pool,
		lister:    lister,
		svc:       svc,
		logger:    logger,
		loc:       cfg.Location,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		lockKey:   cfg.AdvisoryLockKey,
		now:       time.Now,
	}
}

func (w *BirthdayWorker) Run(ctx context.Context) {
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *BirthdayWorker) tick(ctx context.Context) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("birthday sweep: acquire conn failed", "err", err)
		return
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, w.lockKey).Scan(&locked); err != nil {
		w.logger.Error("birthday sweep: advisory lock failed", "err", err)
		return
	}
	if !locked {
		return
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, w.lockKey)
	}()

	granted, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Error("birthday sweep failed", "err", err, "granted", granted)
		return
	}
	if granted > 0 {
		w.logger.Info("birthday sweep finished", "granted", granted)
	}
}

// Sweep pages through today's celebrants and runs the birthday check for
// each. The check itself is idempotent, so overlapping sweeps are harmless.
func (w *BirthdayWorker) Sweep(ctx context.Context) (int, error) {
	today := loyalty.Date(w.now(), w.loc)
	month, days := CelebrationDays(today)

	granted := 0
	var after loyalty.AccountKey
	for {
		keys, err := w.lister.ListBirthdays(ctx, month, days, today.Year(), after, w.batchSize)
		if err != nil {
			return granted, err
		}
		for _, key := range keys {
			res, err := w.svc.CheckBirthdayBonus(ctx, key)
			if err != nil {
				w.logger.Warn("birthday bonus failed", "err", err, "tenant_id", key.TenantID)
				continue
			}
			if res.Success {
				granted++
			}
		}
		if len(keys) < w.batchSize {
			return granted, nil
		}
		after = keys[len(keys)-1]
	}
}

// CelebrationDays lists the birthday days of month that fall on today.
// Feb 29 birthdays are celebrated on Feb 28 in non-leap years.
func CelebrationDays(today time.Time) (time.Month, []int) {
	days := []int{today.Day()}
	if today.Month() == time.February && today.Day() == 28 {
		if leap := time.Date(today.Year(), time.February, 29, 0, 0, 0, 0, time.UTC); leap.Month() != time.February {
			days = append(days, 29)
		}
	}
	return today.Month(), days
}
