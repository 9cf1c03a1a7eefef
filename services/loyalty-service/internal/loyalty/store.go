package loyalty

import (
	"context"
	"errors"
)

// ErrDuplicateEvent is returned by Update when the inbound event it carries
// was already applied. Nothing is written.
var ErrDuplicateEvent = errors.New("event already applied")

// UpdateFunc mutates the loaded accounts and returns the events to persist
// with them.
type UpdateFunc func(accts []*Account) ([]Event, error)

// AccountStore persists accounts. Get reports found=false for an absent
// record. Update loads every key (absent keys arrive as zero-value accounts),
// runs fn, and persists the accounts and returned events as one unit; an
// error from fn aborts without writing anything.
type AccountStore interface {
	Get(ctx context.Context, key AccountKey) (Account, bool, error)
	Put(ctx context.Context, acct Account) error
	FindByReferralCode(ctx context.Context, tenantID, code string) (Account, bool, error)
	Update(ctx context.Context, keys []AccountKey, fn UpdateFunc, opts ...UpdateOption) error
}

// UpdateOptions are resolved from the options passed to Update.
type UpdateOptions struct {
	// EventID, when set, is recorded in the same unit as the accounts. A
	// second Update with the same id fails with ErrDuplicateEvent.
	EventID   string
	EventType string
}

type UpdateOption func(*UpdateOptions)

// FromEvent ties an update to the inbound event that caused it.
func FromEvent(eventID, eventType string) UpdateOption {
	return func(o *UpdateOptions) {
		o.EventID = eventID
		o.EventType = eventType
	}
}

func ResolveUpdateOptions(opts []UpdateOption) UpdateOptions {
	var o UpdateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
