package pool

import (
	"context"
	"sync"

	"github.com/mjansen/mailsync/internal/models"
)

// accountPools holds the readonly and writable Pool for one account,
// built lazily and guarded by its own mutex so two concurrent first-uses
// for the same account never race to construct two pools (§9's
// process-scoped `get_or_init` registry).
type accountPools struct {
	mu       sync.Mutex
	readonly *Pool
	writable *Pool
}

// Registry is the process-scoped home for every account's pools. One
// Registry is shared by the whole process; teardown only happens at
// process exit, mirroring the donor's per-account worker-pool map in
// `internal/imap/pool.go`.
type Registry struct {
	dial Dialer

	mu       sync.Mutex
	accounts map[int64]*accountPools
}

func NewRegistry(dial Dialer) *Registry {
	return &Registry{dial: dial, accounts: make(map[int64]*accountPools)}
}

func (r *Registry) entryFor(accountID int64) *accountPools {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.accounts[accountID]
	if !ok {
		e = &accountPools{}
		r.accounts[accountID] = e
	}
	return e
}

// Get acquires a Lease from the (account, readonly) pool, lazily building
// the pool on first use. If ctx carries no deadline, the default 30s
// acquire timeout from §4.3 is installed.
func (r *Registry) Get(ctx context.Context, account *models.Account, readonly bool) (*Lease, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
	}

	entry := r.entryFor(account.ID)
	entry.mu.Lock()
	p := r.poolFor(entry, account, readonly)
	entry.mu.Unlock()

	return p.Get(ctx)
}

// poolFor must be called with entry.mu held; it builds the requested
// pool variant on first use.
func (r *Registry) poolFor(entry *accountPools, account *models.Account, readonly bool) *Pool {
	if readonly {
		if entry.readonly == nil {
			entry.readonly = New(account, true, r.dial)
		}
		return entry.readonly
	}
	if entry.writable == nil {
		entry.writable = New(account, false, r.dial)
	}
	return entry.writable
}

// Forget drops both pools for an account, e.g. when the account is
// stopped or its credentials are invalidated (§4.6's terminal states).
// Outstanding leases are unaffected; their Release still returns into the
// (now-orphaned) pool's slot channel harmlessly.
func (r *Registry) Forget(accountID int64) {
	r.mu.Lock()
	delete(r.accounts, accountID)
	r.mu.Unlock()
}
