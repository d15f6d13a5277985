package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
)

type fakeActiveLister struct {
	active []domain.Deployment
	err    error
	calls  int
}

func (f *fakeActiveLister) ListActiveDeployments(_ context.Context, _, _ string, _ domain.Environment, _ string) ([]domain.Deployment, error) {
	f.calls++
	return f.active, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(store ActiveLister, at time.Time) (*Manager, *time.Time) {
	m := NewManager(store, discardLogger(), time.Minute)
	current := at
	m.now = func() time.Time { return current }
	return m, &current
}

var testKey = Key{OwnerID: "user-1", ProjectID: "proj-1", Environment: domain.EnvProduction}

func TestAcquireGrantsFreeKey(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())

	res, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected acquisition, got %+v", res)
	}
	if holder, ok := m.Held(testKey); !ok || holder != "dep-1" {
		t.Fatalf("expected dep-1 to hold the key, got %q ok=%v", holder, ok)
	}
}

func TestAcquireDeniesHeldKey(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	res, err := m.Acquire(context.Background(), testKey, "dep-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if res.Acquired {
		t.Fatal("expected denial while key is held")
	}
	if res.HeldBy != "dep-1" {
		t.Fatalf("expected holder dep-1, got %q", res.HeldBy)
	}
}

func TestAcquireRefreshesSameDeployment(t *testing.T) {
	m, current := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	// 50s later a refresh restarts the TTL, so at +100s the lock still holds.
	*current = current.Add(50 * time.Second)
	res, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !res.Acquired || res.Reason != "refreshed" {
		t.Fatalf("expected refresh, got %+v", res)
	}

	*current = current.Add(50 * time.Second)
	if holder, ok := m.Held(testKey); !ok || holder != "dep-1" {
		t.Fatalf("expected refreshed lock to survive, got %q ok=%v", holder, ok)
	}
}

func TestAcquireExactTTLBoundaryExpires(t *testing.T) {
	m, current := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	*current = current.Add(time.Minute)
	if _, ok := m.Held(testKey); ok {
		t.Fatal("expected lock expired exactly at TTL boundary")
	}

	res, err := m.Acquire(context.Background(), testKey, "dep-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected acquisition over expired lock, got %+v", res)
	}
}

func TestAcquireConsultsStoreBackstop(t *testing.T) {
	store := &fakeActiveLister{active: []domain.Deployment{{ID: "dep-other"}}}
	m, _ := newTestManager(store, time.Now())

	res, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if res.Acquired {
		t.Fatal("expected denial from store backstop")
	}
	if res.HeldBy != "dep-other" {
		t.Fatalf("expected blocking deployment dep-other, got %q", res.HeldBy)
	}
	if store.calls != 1 {
		t.Fatalf("expected one store query, got %d", store.calls)
	}
}

func TestAcquirePropagatesStoreError(t *testing.T) {
	storeErr := errors.New("db down")
	m, _ := newTestManager(&fakeActiveLister{err: storeErr}, time.Now())

	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestReleaseFreesKeyByDeploymentID(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	m.Release("dep-1")

	res, err := m.Acquire(context.Background(), testKey, "dep-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected acquisition after release, got %+v", res)
	}
}

func TestReleaseUnknownDeploymentIsNoop(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	m.Release("dep-unknown")

	if holder, ok := m.Held(testKey); !ok || holder != "dep-1" {
		t.Fatalf("expected dep-1 still holding, got %q ok=%v", holder, ok)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res, err := m.Acquire(context.Background(), testKey, "dep-"+string(rune('a'+id)), time.Minute)
			if err != nil {
				t.Errorf("Acquire returned error: %v", err)
				return
			}
			if res.Acquired {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestSweepEvictsExpiredLocks(t *testing.T) {
	m, current := newTestManager(&fakeActiveLister{}, time.Now())
	if _, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	*current = current.Add(2 * time.Minute)
	m.sweep()

	m.mu.Lock()
	remaining := len(m.locks)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected sweep to evict expired lock, %d remain", remaining)
	}
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	m, _ := newTestManager(&fakeActiveLister{}, time.Now())
	other := Key{OwnerID: "user-2", ProjectID: "proj-1", Environment: domain.EnvProduction}

	if res, err := m.Acquire(context.Background(), testKey, "dep-1", time.Minute); err != nil || !res.Acquired {
		t.Fatalf("first acquire failed: res=%+v err=%v", res, err)
	}
	if res, err := m.Acquire(context.Background(), other, "dep-2", time.Minute); err != nil || !res.Acquired {
		t.Fatalf("expected different owner to acquire independently: res=%+v err=%v", res, err)
	}
}
