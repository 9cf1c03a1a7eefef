package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/libs/inbox"
	"github.com/md-rashed-zaman/slicehub/libs/outbox"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
)

// PostgresStore is the primary AccountStore. Update locks every row with
// FOR UPDATE and writes outbox events and the inbox mark of the causing
// event in the same transaction.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

const accountColumns = `
	tenant_id, customer, points, total_spent_cents, tier, consecutive_days,
	last_order_date, birthday, COALESCE(referral_code, ''), COALESCE(referred_by, ''),
	last_birthday_bonus_year, last_consecutive_bonus_at, created_at, updated_at`

func scanAccount(row pgx.Row) (loyalty.Account, error) {
	var (
		a         loyalty.Account
		tier      string
		lastOrder *time.Time
		birthday  *time.Time
	)
	err := row.Scan(&a.TenantID, &a.Customer, &a.Points, &a.TotalSpentCents, &tier, &a.ConsecutiveDays,
		&lastOrder, &birthday, &a.ReferralCode, &a.ReferredBy,
		&a.LastBirthdayBonus, &a.LastConsecutiveBonusAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return loyalty.Account{}, err
	}
	a.Tier = tiers.Key(tier)
	if lastOrder != nil {
		a.LastOrderDate = *lastOrder
	}
	if birthday != nil {
		a.Birthday = *birthday
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, key loyalty.AccountKey) (loyalty.Account, bool, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM loyalty_accounts
		WHERE tenant_id = $1 AND customer = $2
	`, key.TenantID, key.Customer))
	if err != nil {
		if db.IsNotFound(err) {
			return loyalty.Account{}, false, nil
		}
		return loyalty.Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, acct loyalty.Account) error {
	return upsertAccount(ctx, s.pool, acct)
}

func (s *PostgresStore) FindByReferralCode(ctx context.Context, tenantID, code string) (loyalty.Account, bool, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM loyalty_accounts
		WHERE tenant_id = $1 AND referral_code = $2
	`, tenantID, loyalty.NormalizeReferralCode(code)))
	if err != nil {
		if db.IsNotFound(err) {
			return loyalty.Account{}, false, nil
		}
		return loyalty.Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, keys []loyalty.AccountKey, fn loyalty.UpdateFunc, opts ...loyalty.UpdateOption) error {
	o := loyalty.ResolveUpdateOptions(opts)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.EventID != "" {
		fresh, err := inbox.Record(ctx, tx, o.EventID, o.EventType)
		if err != nil {
			return fmt.Errorf("inbox record: %w", err)
		}
		if !fresh {
			return fmt.Errorf("%w: %s", loyalty.ErrDuplicateEvent, o.EventID)
		}
	}

	// Lock in a stable order so concurrent multi-account updates cannot deadlock.
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return keys[order[a]].String() < keys[order[b]].String()
	})

	accts := make([]*loyalty.Account, len(keys))
	for _, i := range order {
		key := keys[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO loyalty_accounts (tenant_id, customer)
			VALUES ($1, $2)
			ON CONFLICT (tenant_id, customer) DO NOTHING
		`, key.TenantID, key.Customer); err != nil {
			return err
		}
		a, err := scanAccount(tx.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM loyalty_accounts
			WHERE tenant_id = $1 AND customer = $2
			FOR UPDATE
		`, key.TenantID, key.Customer))
		if err != nil {
			return err
		}
		accts[i] = &a
	}

	events, err := fn(accts)
	if err != nil {
		return err
	}

	for _, a := range accts {
		if err := upsertAccount(ctx, tx, *a); err != nil {
			return err
		}
	}
	for _, evt := range events {
		out, err := outbox.NewEvent(evt.TenantID, "loyalty_account", evt.TenantID+":"+evt.Customer, evt.Type, evt.Payload)
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, out); err != nil {
			return fmt.Errorf("outbox insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertAccount(ctx context.Context, q execer, a loyalty.Account) error {
	_, err := q.Exec(ctx, `
		INSERT INTO loyalty_accounts (
			tenant_id, customer, points, total_spent_cents, tier, consecutive_days,
			last_order_date, birthday, referral_code, referred_by,
			last_birthday_bonus_year, last_consecutive_bonus_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()), now())
		ON CONFLICT (tenant_id, customer)
		DO UPDATE SET points = EXCLUDED.points,
		              total_spent_cents = EXCLUDED.total_spent_cents,
		              tier = EXCLUDED.tier,
		              consecutive_days = EXCLUDED.consecutive_days,
		              last_order_date = EXCLUDED.last_order_date,
		              birthday = EXCLUDED.birthday,
		              referral_code = EXCLUDED.referral_code,
		              referred_by = EXCLUDED.referred_by,
		              last_birthday_bonus_year = EXCLUDED.last_birthday_bonus_year,
		              last_consecutive_bonus_at = EXCLUDED.last_consecutive_bonus_at,
		              updated_at = now()
	`, a.TenantID, a.Customer, a.Points, a.TotalSpentCents, string(a.Tier), a.ConsecutiveDays,
		nullIfZeroTime(a.LastOrderDate), nullIfZeroTime(a.Birthday), nullIfEmpty(a.ReferralCode), nullIfEmpty(a.ReferredBy),
		a.LastBirthdayBonus, a.LastConsecutiveBonusAt, nullIfZeroTime(a.CreatedAt))
	return err
}

// ListBirthdays returns the keys of accounts celebrating on month/day that
// have not received the bonus in year. Keys sort after `after` for paging.
func (s *PostgresStore) ListBirthdays(ctx context.Context, month time.Month, days []int, year int, after loyalty.AccountKey, limit int) ([]loyalty.AccountKey, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, customer
		FROM loyalty_accounts
		WHERE birthday IS NOT NULL
		  AND EXTRACT(MONTH FROM birthday) = $1
		  AND EXTRACT(DAY FROM birthday) = ANY($2)
		  AND last_birthday_bonus_year < $3
		  AND (tenant_id, customer) > ($4, $5)
		ORDER BY tenant_id, customer
		LIMIT $6
	`, int(month), days, year, after.TenantID, after.Customer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loyalty.AccountKey
	for rows.Next() {
		var k loyalty.AccountKey
		if err := rows.Scan(&k.TenantID, &k.Customer); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
