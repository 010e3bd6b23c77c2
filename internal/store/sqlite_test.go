package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func historyItem(id, userID string, at time.Time) *domain.ExecutionHistoryItem {
	return &domain.ExecutionHistoryItem{
		ID:     id,
		UserID: userID,
		Input: domain.ExecutionInput{
			PersonaForm: domain.PersonaForm{ServiceDescription: "fitness app", TargetAge: "20s"},
			Content:     "Try our new plan",
			ImageURLs:   []string{"https://cdn/u1.png"},
		},
		Personas: []string{"Aiko, 24, nurse"},
		Feedbacks: []domain.Feedback{{
			Persona: "Aiko, 24, nurse",
			Feedback: domain.FeedbackDetail{
				FirstImpression: "Bright",
				AppealPoints:    []string{"price"},
				Improvements:    []string{"font"},
				Summary:         "Would try",
			},
			SelectedImageURL: "https://cdn/u1.png",
		}},
		CreatedAt: at,
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	now := time.UnixMilli(time.Now().UnixMilli())

	want := historyItem("h1", "user-1", now)
	require.NoError(t, repo.SaveHistory(ctx, want))

	got, err := repo.GetHistory(ctx, "user-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, want.Input, got.Input)
	assert.Equal(t, want.Personas, got.Personas)
	assert.Equal(t, want.Feedbacks, got.Feedbacks)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestHistoryIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	require.NoError(t, repo.SaveHistory(ctx, historyItem("h1", "user-1", time.Now())))

	_, err := repo.GetHistory(ctx, "user-2", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	items, err := repo.ListHistory(ctx, "user-2", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListHistoryNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.SaveHistory(ctx, historyItem(id, "u", base.Add(time.Duration(i)*time.Minute))))
	}

	items, err := repo.ListHistory(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "new", items[0].ID)
	assert.Equal(t, "old", items[2].ID)

	items, err = repo.ListHistory(ctx, "u", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestEntriesArePerDevice(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	a := Entries(repo, "device-a")
	b := Entries(repo, "device-b")

	require.NoError(t, a.Put(ctx, APIKeyEntry, "key-a"))
	require.NoError(t, a.Put(ctx, APIKeyEntry, "key-a2"))

	v, err := a.Get(ctx, APIKeyEntry)
	require.NoError(t, err)
	assert.Equal(t, "key-a2", v)

	_, err = b.Get(ctx, APIKeyEntry)
	require.ErrorIs(t, err, auth.ErrEntryNotFound)

	require.NoError(t, a.Delete(ctx, APIKeyEntry))
	require.NoError(t, a.Delete(ctx, APIKeyEntry))
	_, err = repo.GetEntry(ctx, "device-a", APIKeyEntry)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuthSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	repo, err := NewSQLite(path)
	require.NoError(t, err)
	s := auth.NewStore(Entries(repo, "dev"))
	require.NoError(t, s.SetUser(ctx, &domain.User{ID: "u1", Email: "u1@example.com"}))
	require.NoError(t, repo.Close())

	repo, err = NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	restored := auth.NewStore(Entries(repo, "dev"))
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.IsAuthenticated())
	assert.Equal(t, "u1@example.com", restored.User().Email)
}
