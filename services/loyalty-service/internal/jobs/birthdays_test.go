package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCelebrationDays(t *testing.T) {
	m, days := CelebrationDays(time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.February, m)
	assert.Equal(t, []int{28, 29}, days)

	_, days = CelebrationDays(time.Date(2028, 2, 28, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{28}, days)

	m, days = CelebrationDays(time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.July, m)
	assert.Equal(t, []int{14}, days)
}

type pagedLister struct {
	keys  []loyalty.AccountKey
	calls int
}

func (p *pagedLister) ListBirthdays(_ context.Context, _ time.Month, _ []int, _ int, after loyalty.AccountKey, limit int) ([]loyalty.AccountKey, error) {
	p.calls++
	var out []loyalty.AccountKey
	for _, k := range p.keys {
		if k.String() > after.String() && len(out) < limit {
			out = append(out, k)
		}
	}
	return out, nil
}

type countingGranter struct{ seen map[loyalty.AccountKey]int }

func (c *countingGranter) CheckBirthdayBonus(_ context.Context, key loyalty.AccountKey) (loyalty.Result, error) {
	c.seen[key]++
	return loyalty.Result{Success: c.seen[key] == 1}, nil
}

func TestSweepPagesThroughCelebrants(t *testing.T) {
	lister := &pagedLister{keys: []loyalty.AccountKey{
		{TenantID: "a", Customer: "1"},
		{TenantID: "a", Customer: "2"},
		{TenantID: "b", Customer: "1"},
	}}
	granter := &countingGranter{seen: map[loyalty.AccountKey]int{}}
	w := NewBirthdayWorker(nil, lister, granter, slog.New(slog.NewTextHandler(io.Discard, nil)), BirthdayWorkerConfig{BatchSize: 2})
	w.now = func() time.Time { return time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC) }

	granted, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, granted)
	assert.Equal(t, 2, lister.calls)
	assert.Len(t, granter.seen, 3)
}
