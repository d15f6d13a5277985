// Package lock serializes active deployments per (owner, project,
// environment) key. The in-memory map is the same-process fast path; the
// deployment store query is the backstop when several instances share one
// database but not one memory space.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
)

const (
	// DefaultTTL matches the maximum expected run duration.
	DefaultTTL           = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Key identifies one serialization domain. Locking is per owner: different
// users may deploy the same project and environment concurrently.
type Key struct {
	OwnerID     string
	ProjectID   string
	Environment domain.Environment
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.OwnerID, k.ProjectID, k.Environment)
}

// Result reports an acquisition outcome.
type Result struct {
	Acquired bool
	HeldBy   string
	Reason   string
}

// ActiveLister is the slice of the deployment store the conflict backstop needs.
type ActiveLister interface {
	ListActiveDeployments(ctx context.Context, userID, projectID string, env domain.Environment, excludeID string) ([]domain.Deployment, error)
}

type entry struct {
	deploymentID string
	acquiredAt   time.Time
	ttl          time.Duration
}

func (e entry) expiresAt() time.Time {
	return e.acquiredAt.Add(e.ttl)
}

// Manager hands out TTL locks. All map access is serialized by mu; no lock is
// held across a store call.
type Manager struct {
	store         ActiveLister
	logger        *slog.Logger
	sweepInterval time.Duration

	mu    sync.Mutex
	locks map[string]entry

	now func() time.Time
}

// NewManager constructs a Manager backed by the deployment store.
func NewManager(store ActiveLister, logger *slog.Logger, sweepInterval time.Duration) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Manager{
		store:         store,
		logger:        logger.With("component", "lock"),
		sweepInterval: sweepInterval,
		locks:         make(map[string]entry),
		now:           time.Now,
	}
}

// Acquire grants the key to deploymentID for ttl. Re-acquisition by the same
// deployment refreshes the timestamp. A live lock held by another deployment,
// or another active deployment found in the store, denies the request.
func (m *Manager) Acquire(ctx context.Context, key Key, deploymentID string, ttl time.Duration) (Result, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()

	m.mu.Lock()
	if existing, ok := m.locks[key.String()]; ok {
		switch {
		case existing.deploymentID == deploymentID:
			existing.acquiredAt = now
			existing.ttl = ttl
			m.locks[key.String()] = existing
			m.mu.Unlock()
			return Result{Acquired: true, Reason: "refreshed"}, nil
		case now.Before(existing.expiresAt()):
			m.mu.Unlock()
			return Result{
				Acquired: false,
				HeldBy:   existing.deploymentID,
				Reason:   fmt.Sprintf("locked by deployment %s", existing.deploymentID),
			}, nil
		default:
			// Expired: evict and fall through to the store check.
			delete(m.locks, key.String())
		}
	}
	m.mu.Unlock()

	active, err := m.store.ListActiveDeployments(ctx, key.OwnerID, key.ProjectID, key.Environment, deploymentID)
	if err != nil {
		return Result{}, fmt.Errorf("lock conflict check: %w", err)
	}
	if len(active) > 0 {
		return Result{
			Acquired: false,
			HeldBy:   active[0].ID,
			Reason:   fmt.Sprintf("active deployment %s exists", active[0].ID),
		}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another request may have inserted while the store call ran.
	if existing, ok := m.locks[key.String()]; ok && existing.deploymentID != deploymentID && m.now().Before(existing.expiresAt()) {
		return Result{
			Acquired: false,
			HeldBy:   existing.deploymentID,
			Reason:   fmt.Sprintf("locked by deployment %s", existing.deploymentID),
		}, nil
	}
	m.locks[key.String()] = entry{deploymentID: deploymentID, acquiredAt: m.now(), ttl: ttl}
	return Result{Acquired: true, Reason: "acquired"}, nil
}

// Release removes the lock owned by deploymentID regardless of key.
func (m *Manager) Release(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, existing := range m.locks {
		if existing.deploymentID == deploymentID {
			delete(m.locks, key)
			return
		}
	}
}

// Held reports which deployment currently holds the key, if any.
func (m *Manager) Held(key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.locks[key.String()]
	if !ok || !m.now().Before(existing.expiresAt()) {
		return "", false
	}
	return existing.deploymentID, true
}

// Run evicts expired locks on a fixed interval until the context is
// cancelled, so a crash between acquire and release cannot leak a lock
// forever.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	m.logger.Info("lock sweep started", "interval", m.sweepInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lock sweep stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, existing := range m.locks {
		if !now.Before(existing.expiresAt()) {
			delete(m.locks, key)
			m.logger.Warn("evicted expired lock", "key", key, "deployment_id", existing.deploymentID)
		}
	}
}
