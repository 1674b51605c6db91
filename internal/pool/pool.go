// Package pool implements the Connection Pool (SPEC_FULL.md §4.3): one
// bounded pool per (account, readonly) pair, backed by a counting
// semaphore for FIFO-fair acquisition and a slot queue holding either a
// live *crispin.Client or an empty slot to be filled lazily.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/mjansen/mailsync/internal/models"
)

// Client is the narrow surface the pool needs from a Crispin Client: a
// way to build one (via Dialer) and a way to end its session cleanly.
// internal/crispin.Client satisfies this.
type Client interface {
	Logout() error
}

// Dialer builds a freshly authenticated Client for one account, readonly
// or writable as requested (§4.2's connect+authenticate sequence).
type Dialer func(ctx context.Context, account *models.Account, readonly bool) (Client, error)

const (
	readonlyPoolSize         = 3
	readonlyThrottledSize    = 1
	writablePoolSize         = 1
)

// Pool is one bounded connection pool for a single (account, readonly)
// pair.
type Pool struct {
	accountID int64
	readonly  bool
	dial      Dialer
	account   *models.Account

	sem   chan struct{} // counting semaphore, FIFO via buffered-channel ordering
	slots chan Client   // a nil interface value in a slot means "build on acquire"
}

// New constructs a pool of the size §4.3 specifies for the given
// account/readonly combination. Every slot starts empty (nil); clients
// are built lazily on first acquisition.
func New(account *models.Account, readonly bool, dial Dialer) *Pool {
	size := writablePoolSize
	if readonly {
		size = readonlyPoolSize
		if account.Throttled {
			size = readonlyThrottledSize
		}
	}

	p := &Pool{
		accountID: account.ID,
		readonly:  readonly,
		dial:      dial,
		account:   account,
		sem:       make(chan struct{}, size),
		slots:     make(chan Client, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- nil
	}
	return p
}

// Lease is the scoped-acquisition guard object of §9: it wraps exactly
// one Client checked out of the pool. Callers must call Release exactly
// once, typically via `defer lease.Release(resultErr)`, mirroring the
// donor's `defer`-based cleanup idiom.
type Lease struct {
	pool     *Pool
	client   Client
	released bool
}

// Client returns the checked-out connection. Valid until Release is
// called.
func (l *Lease) Client() Client { return l.client }

// Release returns the connection to the pool (or discards it, per the
// error classification of §4.3 step 5) and always releases the semaphore
// permit. Calling Release more than once is a no-op past the first call.
func (l *Lease) Release(err error) {
	if l.released {
		return
	}
	l.released = true
	l.pool.release(l.client, err)
}

// Get acquires a Lease, blocking until a permit is available or ctx is
// done. A context deadline exceeded surfaces as PoolTimeoutError per §4.3
// step 1.
func (p *Pool) Get(ctx context.Context) (*Lease, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &models.PoolTimeoutError{AccountID: p.accountID, Readonly: p.readonly}
	}

	var slot Client
	select {
	case slot = <-p.slots:
	case <-ctx.Done():
		<-p.sem // release the permit we already took before failing
		return nil, &models.PoolTimeoutError{AccountID: p.accountID, Readonly: p.readonly}
	}

	if slot == nil {
		built, err := p.dial(ctx, p.account, p.readonly)
		if err != nil {
			// Acquisition failed before a Client existed: return the empty
			// slot and the permit, there is nothing to discard.
			p.slots <- nil
			<-p.sem
			return nil, fmt.Errorf("build connection for account %d: %w", p.accountID, err)
		}
		slot = built
	}

	return &Lease{pool: p, client: slot}, nil
}

// release implements §4.3 steps 4-6: writable connections are always
// single-use (logged out and replaced with an empty slot); readonly
// connections are kept unless the operation's error falls in the discard
// set, in which case a logout is attempted first unless the error is
// already known-unusable.
func (p *Pool) release(client Client, opErr error) {
	defer func() { <-p.sem }()

	if !p.readonly {
		p.logoutAndDiscard(client)
		return
	}

	if opErr == nil || !isDiscardable(opErr) {
		p.slots <- client
		return
	}

	if !isUnusable(opErr) {
		_ = client.Logout()
	}
	p.slots <- nil
}

func (p *Pool) logoutAndDiscard(client Client) {
	_ = client.Logout()
	p.slots <- nil
}

// isDiscardable reports whether opErr means the connection must not be
// reused: network, abort, protocol, folder-missing and uid-invalid errors
// imply discard. Any other error, including one of these wrapped in
// another error, keeps the connection.
func isDiscardable(err error) bool {
	switch err.(type) {
	case *models.NetworkError, *models.ImapAbortError, *models.ImapProtocolError,
		*models.FolderMissingError, *models.UidInvalidError:
		return true
	default:
		return false
	}
}

// isUnusable reports whether the connection is already known dead, so a
// logout attempt would itself hang or error pointlessly.
func isUnusable(err error) bool {
	switch err.(type) {
	case *models.NetworkError, *models.ImapAbortError:
		return true
	default:
		return false
	}
}

// acquireTimeout is the default deadline installed by Registry.Get when
// the caller does not already carry one on its context (§4.3's
// `timeout?` parameter).
const acquireTimeout = 30 * time.Second
