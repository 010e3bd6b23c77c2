package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu      sync.Mutex
	entries map[string]string
	putErr  error
}

func newMemPersister() *memPersister {
	return &memPersister{entries: make(map[string]string)}
}

func (m *memPersister) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return "", ErrEntryNotFound
	}
	return v, nil
}

func (m *memPersister) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[key] = value
	return nil
}

type fakeBackend struct {
	signInErr  error
	getUserErr error
	signedOut  []string
}

func (f *fakeBackend) SignUp(_ context.Context, email, _ string) (*domain.AuthSession, error) {
	return &domain.AuthSession{}, nil
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, _ string) (*domain.AuthSession, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &domain.AuthSession{
		AccessToken: "tok-" + email,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        &domain.User{ID: "u-" + email, Email: email},
	}, nil
}

func (f *fakeBackend) SignOut(_ context.Context, token string) error {
	f.signedOut = append(f.signedOut, token)
	return nil
}

func (f *fakeBackend) GetUser(_ context.Context, token string) (*domain.User, error) {
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	return &domain.User{ID: "checked", Email: token}, nil
}

type recordingNav struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingNav) Navigate(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p)
}

func TestStoreInvariantHoldsAfterEveryMutation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)

	check := func() {
		t.Helper()
		assert.Equal(t, s.User() != nil, s.IsAuthenticated())
		snap := s.Snapshot()
		assert.Equal(t, snap.User != nil, snap.IsAuthenticated)
	}

	check()
	require.NoError(t, s.SetUser(ctx, &domain.User{ID: "1"}))
	check()
	require.NoError(t, s.SetIsAuthenticated(ctx, true))
	check()
	require.NoError(t, s.SetIsAuthenticated(ctx, false))
	check()
	assert.Nil(t, s.User())
	require.NoError(t, s.SetIsAuthenticated(ctx, true))
	check()
	assert.False(t, s.IsAuthenticated())
	require.NoError(t, s.SetUser(ctx, nil))
	check()
}

func TestStorePersistsAndRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()

	s := NewStore(p)
	require.NoError(t, s.SetUser(ctx, &domain.User{ID: "42", Email: "a@b.c"}))
	assert.Contains(t, p.entries[StorageKey], `"isAuthenticated":true`)
	assert.Contains(t, p.entries[StorageKey], `"state"`)

	restored := NewStore(p)
	require.NoError(t, restored.Restore(ctx))
	require.NotNil(t, restored.User())
	assert.Equal(t, "42", restored.User().ID)
	assert.True(t, restored.IsAuthenticated())
	assert.False(t, restored.Snapshot().Verified)
}

func TestStoreRestoreMissingEntry(t *testing.T) {
	s := NewStore(newMemPersister())
	require.NoError(t, s.Restore(context.Background()))
	assert.False(t, s.IsAuthenticated())
}

func TestStoreRestoreDoesNotOverrideVerifiedState(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	require.NoError(t, NewStore(p).SetUser(ctx, &domain.User{ID: "stale"}))

	s := NewStore(p)
	s.MarkVerified()
	require.NoError(t, s.Restore(ctx))
	assert.Nil(t, s.User())
}

func TestStoreKeepsMemoryStateWhenPersistFails(t *testing.T) {
	p := newMemPersister()
	p.putErr = errors.New("disk full")
	s := NewStore(p)

	err := s.SetUser(context.Background(), &domain.User{ID: "1"})
	require.Error(t, err)
	assert.True(t, s.IsAuthenticated())
}

func TestProviderRedirectsOnSignInAndOut(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	client := NewClient(backend, nil, nil)
	store := NewStore(nil)
	nav := &recordingNav{}

	detach := NewProvider(store, nav, nil).Attach(ctx, client)
	defer detach()

	assert.True(t, store.Snapshot().Verified)
	assert.False(t, store.IsAuthenticated())

	_, err := client.SignIn(ctx, "amy@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, store.IsAuthenticated())
	assert.Equal(t, "amy@example.com", store.User().Email)

	require.NoError(t, client.SignOut(ctx))
	assert.False(t, store.IsAuthenticated())
	assert.Equal(t, []string{"tok-amy@example.com"}, backend.signedOut)

	assert.Equal(t, []string{RouteDashboard, RouteAuth}, nav.paths)
}

func TestProviderIgnoresNavigationForOtherEvents(t *testing.T) {
	store := NewStore(nil)
	nav := &recordingNav{}
	p := NewProvider(store, nav, nil)

	p.Handle(context.Background(), Event{
		Type:    EventTokenRefreshed,
		Session: &domain.AuthSession{User: &domain.User{ID: "1"}},
	})

	assert.True(t, store.IsAuthenticated())
	assert.Empty(t, nav.paths)
}

func TestClientFailedSignInEmitsNothing(t *testing.T) {
	client := NewClient(&fakeBackend{signInErr: errors.New("invalid login")}, nil, nil)
	var events []Event
	client.OnAuthStateChange(func(_ context.Context, ev Event) { events = append(events, ev) })

	_, err := client.SignIn(context.Background(), "x@y.z", "bad")
	require.Error(t, err)
	assert.Empty(t, events)
	assert.Nil(t, client.Session())
}

func TestClientUnsubscribe(t *testing.T) {
	client := NewClient(&fakeBackend{}, nil, nil)
	calls := 0
	unsubscribe := client.OnAuthStateChange(func(context.Context, Event) { calls++ })

	_, err := client.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	unsubscribe()
	require.NoError(t, client.SignOut(context.Background()))

	assert.Equal(t, 1, calls)
}

func TestClientRestoreAndCheckSession(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()

	first := NewClient(&fakeBackend{}, p, nil)
	_, err := first.SignIn(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	second := NewClient(&fakeBackend{}, p, nil)
	require.NoError(t, second.Restore(ctx))
	require.NotNil(t, second.Session())

	var got []Event
	second.OnAuthStateChange(func(_ context.Context, ev Event) { got = append(got, ev) })
	sess, err := second.CheckSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "checked", sess.User.ID)
	require.Len(t, got, 1)
	assert.Equal(t, EventInitialSession, got[0].Type)
}

func TestClientCheckSessionDropsRejectedToken(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	backend := &fakeBackend{}
	c := NewClient(backend, p, nil)
	_, err := c.SignIn(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	backend.getUserErr = errors.New("jwt expired")
	sess, err := c.CheckSession(ctx)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Nil(t, c.Session())
	assert.Equal(t, "", p.entries[SessionKey])
}

func TestClientLogsPersistFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := newMemPersister()
	p.putErr = errors.New("disk full")

	c := NewClient(&fakeBackend{}, p, logger)
	sess, err := c.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotNil(t, c.Session())

	assert.Contains(t, buf.String(), "Failed to persist auth session")
	assert.Contains(t, buf.String(), "disk full")
}
