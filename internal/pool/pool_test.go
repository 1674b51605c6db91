package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mjansen/mailsync/internal/models"
)

type fakeClient struct {
	id         int
	loggedOut  bool
}

func (c *fakeClient) Logout() error {
	c.loggedOut = true
	return nil
}

func newCountingDialer() (Dialer, *int32) {
	var n int32
	dial := func(_ context.Context, _ *models.Account, _ bool) (Client, error) {
		id := atomic.AddInt32(&n, 1)
		return &fakeClient{id: int(id)}, nil
	}
	return dial, &n
}

func TestPoolSizes(t *testing.T) {
	dial, _ := newCountingDialer()

	account := &models.Account{ID: 1}
	ro := New(account, true, dial)
	if cap(ro.slots) != readonlyPoolSize {
		t.Errorf("readonly pool size = %d, want %d", cap(ro.slots), readonlyPoolSize)
	}

	wr := New(account, false, dial)
	if cap(wr.slots) != writablePoolSize {
		t.Errorf("writable pool size = %d, want %d", cap(wr.slots), writablePoolSize)
	}

	throttled := &models.Account{ID: 2, Throttled: true}
	roThrottled := New(throttled, true, dial)
	if cap(roThrottled.slots) != readonlyThrottledSize {
		t.Errorf("throttled readonly pool size = %d, want %d", cap(roThrottled.slots), readonlyThrottledSize)
	}
}

func TestGetBuildsLazilyAndReleaseReturnsClient(t *testing.T) {
	dial, builds := newCountingDialer()
	account := &models.Account{ID: 1}
	p := New(account, false, dial)

	lease, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if atomic.LoadInt32(builds) != 1 {
		t.Fatalf("expected exactly 1 build, got %d", *builds)
	}
	lease.Release(nil)

	// Writable connections are single-use: releasing clears the slot, so
	// the next Get must build a second client.
	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if atomic.LoadInt32(builds) != 2 {
		t.Errorf("expected a fresh build after writable release, got %d", *builds)
	}
}

func TestReadonlyReleaseReusesClientOnSuccess(t *testing.T) {
	dial, builds := newCountingDialer()
	// A throttled readonly pool has one slot, so the released client is the
	// next slot handed out; the slot queue is FIFO, so a size-3 pool would
	// hand out one of its still-empty slots first.
	account := &models.Account{ID: 1, Throttled: true}
	p := New(account, true, dial)

	lease, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	lease.Release(nil)

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if atomic.LoadInt32(builds) != 1 {
		t.Errorf("expected the readonly connection to be reused, got %d builds", *builds)
	}
}

func TestReadonlyReleaseDiscardsOnNetworkError(t *testing.T) {
	dial, builds := newCountingDialer()
	account := &models.Account{ID: 1}
	p := New(account, true, dial)

	lease, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	client := lease.Client().(*fakeClient)
	lease.Release(&models.NetworkError{Cause: errors.New("connection reset")})

	if client.loggedOut {
		t.Error("expected no logout attempt for a network-error discard")
	}

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if atomic.LoadInt32(builds) != 2 {
		t.Errorf("expected a rebuilt connection after discard, got %d builds", *builds)
	}
}

func TestGetTimesOutWhenPoolExhausted(t *testing.T) {
	dial, _ := newCountingDialer()
	account := &models.Account{ID: 1, Throttled: true} // readonly pool size 1
	p := New(account, true, dial)

	lease, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer lease.Release(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Get(ctx)
	var poolTimeout *models.PoolTimeoutError
	if !errors.As(err, &poolTimeout) {
		t.Fatalf("expected PoolTimeoutError, got %v", err)
	}
}

func TestRegistryReusesSamePoolAcrossCalls(t *testing.T) {
	dial, builds := newCountingDialer()
	registry := NewRegistry(dial)
	// Throttled: a one-slot readonly pool hands the released client straight
	// back, so a second build would mean a second pool.
	account := &models.Account{ID: 7, Throttled: true}

	lease1, err := registry.Get(context.Background(), account, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	lease1.Release(nil)

	lease2, err := registry.Get(context.Background(), account, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	lease2.Release(nil)

	if atomic.LoadInt32(builds) != 1 {
		t.Errorf("expected the registry to reuse one pool across calls, got %d builds", *builds)
	}
}

func TestRegistryKeepsReadonlyAndWritablePoolsDistinct(t *testing.T) {
	dial, builds := newCountingDialer()
	registry := NewRegistry(dial)
	account := &models.Account{ID: 9}

	roLease, err := registry.Get(context.Background(), account, true)
	if err != nil {
		t.Fatalf("Get readonly: %v", err)
	}
	wrLease, err := registry.Get(context.Background(), account, false)
	if err != nil {
		t.Fatalf("Get writable: %v", err)
	}
	roLease.Release(nil)
	wrLease.Release(nil)

	if atomic.LoadInt32(builds) != 2 {
		t.Errorf("expected distinct readonly/writable pools to build 2 connections, got %d", *builds)
	}
}
