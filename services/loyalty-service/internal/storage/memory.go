package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
)

// MemoryStore is an in-process AccountStore. Update is serialized by a
// single mutex, which makes it trivially atomic across keys.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[loyalty.AccountKey]loyalty.Account
	events   []loyalty.Event
	applied  map[string]bool
	// Err, when set, fails every call. Tests use it to simulate an outage.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[loyalty.AccountKey]loyalty.Account{}, applied: map[string]bool{}}
}

func (s *MemoryStore) Get(_ context.Context, key loyalty.AccountKey) (loyalty.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return loyalty.Account{}, false, s.Err
	}
	acct, ok := s.accounts[key]
	return acct, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, acct loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.accounts[acct.Key()] = acct
	return nil
}

func (s *MemoryStore) FindByReferralCode(_ context.Context, tenantID, code string) (loyalty.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return loyalty.Account{}, false, s.Err
	}
	code = loyalty.NormalizeReferralCode(code)
	for key, acct := range s.accounts {
		if key.TenantID == tenantID && acct.ReferralCode == code {
			return acct, true, nil
		}
	}
	return loyalty.Account{}, false, nil
}

func (s *MemoryStore) Update(_ context.Context, keys []loyalty.AccountKey, fn loyalty.UpdateFunc, opts ...loyalty.UpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	o := loyalty.ResolveUpdateOptions(opts)
	if o.EventID != "" && s.applied[o.EventID] {
		return fmt.Errorf("%w: %s", loyalty.ErrDuplicateEvent, o.EventID)
	}

	accts := make([]*loyalty.Account, len(keys))
	for i, key := range keys {
		acct, ok := s.accounts[key]
		if !ok {
			acct = loyalty.Account{TenantID: key.TenantID, Customer: key.Customer}
		}
		accts[i] = &acct
	}
	events, err := fn(accts)
	if err != nil {
		return err
	}
	for _, acct := range accts {
		s.accounts[acct.Key()] = *acct
	}
	s.events = append(s.events, events...)
	if o.EventID != "" {
		s.applied[o.EventID] = true
	}
	return nil
}

// Events returns the events recorded so far.
func (s *MemoryStore) Events() []loyalty.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]loyalty.Event, len(s.events))
	copy(out, s.events)
	return out
}
