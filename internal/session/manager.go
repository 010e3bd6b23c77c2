package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/store"
	"github.com/ashureev/persona-lab/internal/wizard"
	"golang.org/x/sync/singleflight"
)

// Notifier pushes session events to a device's connected clients.
type Notifier interface {
	Navigate(deviceID, path string)
	AuthChanged(deviceID string, ev auth.Event)
}

// Manager owns the sessions of all devices.
type Manager struct {
	repo     store.Repository
	backend  auth.Backend
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	creating singleflight.Group

	// generating holds the keys with a generation in flight.
	genMu      sync.Mutex
	generating map[string]struct{}
}

// NewManager creates a manager. notifier may be nil.
func NewManager(repo store.Repository, backend auth.Backend, notifier Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:       repo,
		backend:    backend,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		generating: make(map[string]struct{}),
	}
}

type deviceNavigator struct {
	deviceID string
	notifier Notifier
}

func (n deviceNavigator) Navigate(path string) {
	if n.notifier != nil {
		n.notifier.Navigate(n.deviceID, path)
	}
}

// Get returns the device's session, creating it on first use. A new
// session restores the persisted auth snapshot and runs the backend session
// check before it is returned.
func (m *Manager) Get(ctx context.Context, deviceID string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	if ok {
		s.Touch(m.now())
		return s
	}

	// Concurrent first requests from one device share a single creation.
	v, _, _ := m.creating.Do(deviceID, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.sessions[deviceID]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created := m.create(context.WithoutCancel(ctx), deviceID)
		m.mu.Lock()
		m.sessions[deviceID] = created
		m.mu.Unlock()

		m.logger.Info("Session created", "device_id", deviceID, "authenticated", created.Auth.IsAuthenticated())
		return created, nil
	})

	s = v.(*Session)
	s.Touch(m.now())
	return s
}

func (m *Manager) create(ctx context.Context, deviceID string) *Session {
	entries := store.Entries(m.repo, deviceID)
	nav := deviceNavigator{deviceID: deviceID, notifier: m.notifier}

	authStore := auth.NewStore(entries)
	if err := authStore.Restore(ctx); err != nil {
		m.logger.Warn("Failed to restore auth snapshot", "device_id", deviceID, "error", err)
	}
	client := auth.NewClient(m.backend, entries, m.logger)
	if err := client.Restore(ctx); err != nil {
		m.logger.Warn("Failed to restore auth session", "device_id", deviceID, "error", err)
	}

	provider := auth.NewProvider(authStore, nav, m.logger)
	// Subscribed before the provider attaches so the initial session event
	// reaches clients after the store has been updated.
	var unsubscribeNotify func()
	if m.notifier != nil {
		unsubscribeNotify = client.OnAuthStateChange(func(_ context.Context, ev auth.Event) {
			m.notifier.AuthChanged(deviceID, ev)
		})
	}
	unsubscribeProvider := provider.Attach(ctx, client)

	return &Session{
		DeviceID: deviceID,
		Auth:     authStore,
		Client:   client,
		Wizard:   wizard.New(nav),
		Entries:  entries,
		lastSeen: m.now(),
		detach: func() {
			unsubscribeProvider()
			if unsubscribeNotify != nil {
				unsubscribeNotify()
			}
		},
	}
}

// Peek returns an existing session without creating one.
func (m *Manager) Peek(deviceID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Remove drops a device's session.
func (m *Manager) Remove(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TryLockGeneration acquires the generation guard for key. ok is false when
// a generation for key is already running.
func (m *Manager) TryLockGeneration(key string) (unlock func(), ok bool) {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if _, busy := m.generating[key]; busy {
		return nil, false
	}
	m.generating[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.genMu.Lock()
			delete(m.generating, key)
			m.genMu.Unlock()
		})
	}, true
}

// SweepIdle removes sessions idle for longer than ttl and returns their
// device IDs.
func (m *Manager) SweepIdle(ttl time.Duration) []string {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		s.close()
		ids = append(ids, s.DeviceID)
	}
	return ids
}
