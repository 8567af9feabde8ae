package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/audit"
)

// fakeTemplateRepo keeps templates by (type, language) and counts
// reads so caching behavior is observable.
type fakeTemplateRepo struct {
	mu    sync.Mutex
	rows  map[string]*model.NotificationTemplate
	reads atomic.Int64
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{rows: make(map[string]*model.NotificationTemplate)}
}

func tplKey(notificationType, language string) string {
	return notificationType + "/" + language
}

func (r *fakeTemplateRepo) put(tpl *model.NotificationTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tpl
	cp.IsActive = true
	r.rows[tplKey(tpl.Type, tpl.Language)] = &cp
}

func (r *fakeTemplateRepo) GetByTypeAndLanguage(_ context.Context, notificationType, language string) (*model.NotificationTemplate, error) {
	r.reads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.rows[tplKey(notificationType, language)]
	if !ok || !tpl.IsActive {
		return nil, model.ErrTemplateNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (r *fakeTemplateRepo) ListActive(_ context.Context) ([]model.NotificationTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationTemplate
	for _, tpl := range r.rows {
		if tpl.IsActive {
			out = append(out, *tpl)
		}
	}
	return out, nil
}

func (r *fakeTemplateRepo) List(_ context.Context, notificationType *string, limit, offset int) ([]model.NotificationTemplate, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationTemplate
	for _, tpl := range r.rows {
		if notificationType == nil || tpl.Type == *notificationType {
			out = append(out, *tpl)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeTemplateRepo) Upsert(_ context.Context, tpl *model.NotificationTemplate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tplKey(tpl.Type, tpl.Language)
	existing, ok := r.rows[key]
	if ok {
		tpl.Version = existing.Version + 1
	} else {
		tpl.Version = 1
	}
	tpl.IsActive = true
	cp := *tpl
	r.rows[key] = &cp
	return !ok, nil
}

func (r *fakeTemplateRepo) Deactivate(_ context.Context, notificationType, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.rows[tplKey(notificationType, language)]
	if !ok {
		return model.ErrTemplateNotFound
	}
	tpl.IsActive = false
	return nil
}

func newTestTemplateStore(repo *fakeTemplateRepo) TemplateStore {
	renderer := NewTemplateRenderer(testCacheConfig(), nil)
	return NewTemplateStore(repo, renderer, testCacheConfig(), audit.NewLoggerWithSink(zerolog.Nop()))
}

func securityAlertTemplate(language string) *model.NotificationTemplate {
	return &model.NotificationTemplate{
		Type:              model.TypeSecurityAlert,
		Language:          language,
		Version:           1,
		Subject:           "Security alert",
		BodyText:          "Hi {{name}}, we saw a new login.",
		RequiredVariables: []string{"name"},
	}
}

func TestTemplateStoreGet(t *testing.T) {
	repo := newFakeTemplateRepo()
	repo.put(securityAlertTemplate("en"))
	repo.put(securityAlertTemplate("de"))
	store := newTestTemplateStore(repo)
	ctx := context.Background()

	t.Run("exact language", func(t *testing.T) {
		tpl, err := store.Get(ctx, model.TypeSecurityAlert, "de")
		require.NoError(t, err)
		assert.Equal(t, "de", tpl.Language)
	})

	t.Run("falls back to the default language", func(t *testing.T) {
		tpl, err := store.Get(ctx, model.TypeSecurityAlert, "fr")
		require.NoError(t, err)
		assert.Equal(t, "en", tpl.Language)
	})

	t.Run("miss on both languages", func(t *testing.T) {
		_, err := store.Get(ctx, model.TypeMarketing, "fr")
		assert.ErrorIs(t, err, model.ErrTemplateNotFound)
	})

	t.Run("repeat reads are served from cache", func(t *testing.T) {
		before := repo.reads.Load()
		for i := 0; i < 5; i++ {
			_, err := store.Get(ctx, model.TypeSecurityAlert, "de")
			require.NoError(t, err)
		}
		assert.Equal(t, before, repo.reads.Load())
	})
}

func TestTemplateStorePut(t *testing.T) {
	repo := newFakeTemplateRepo()
	store := newTestTemplateStore(repo)
	ctx := context.Background()

	req := model.UpsertTemplateRequest{
		Type:     model.TypeSessionReminder,
		Language: "en",
		Subject:  "Session with {{mentor_name}}",
		BodyText: "Starts at ${start_time}.",
	}

	tpl, created, err := store.Put(ctx, "admin-1", req)
	require.NoError(t, err)
	assert.True(t, created)

	// Required variables come from the placeholders, not the caller.
	assert.Equal(t, []string{"mentor_name", "start_time"}, tpl.RequiredVariables)

	t.Run("replacing bumps the version", func(t *testing.T) {
		req.BodyText = "Starts at ${start_time} sharp."
		tpl, created, err := store.Put(ctx, "admin-1", req)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 2, tpl.Version)
	})

	t.Run("put invalidates the cached copy", func(t *testing.T) {
		stale, err := store.Get(ctx, model.TypeSessionReminder, "en")
		require.NoError(t, err)

		req.Subject = "Reminder: session with {{mentor_name}}"
		_, _, err = store.Put(ctx, "admin-1", req)
		require.NoError(t, err)

		fresh, err := store.Get(ctx, model.TypeSessionReminder, "en")
		require.NoError(t, err)
		assert.NotEqual(t, stale.Subject, fresh.Subject)
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		bad := model.UpsertTemplateRequest{Type: "order_shipped", Language: "en", Subject: "s", BodyText: "b"}
		_, _, err := store.Put(ctx, "admin-1", bad)
		assert.Error(t, err)
	})
}

func TestTemplateStoreDeactivate(t *testing.T) {
	repo := newFakeTemplateRepo()
	repo.put(securityAlertTemplate("de"))
	store := newTestTemplateStore(repo)
	ctx := context.Background()

	// Warm the cache first so deactivation must also evict.
	_, err := store.Get(ctx, model.TypeSecurityAlert, "de")
	require.NoError(t, err)

	require.NoError(t, store.Deactivate(ctx, "admin-1", model.TypeSecurityAlert, "de"))

	_, err = store.Get(ctx, model.TypeSecurityAlert, "de")
	assert.ErrorIs(t, err, model.ErrTemplateNotFound)

	t.Run("unknown template", func(t *testing.T) {
		err := store.Deactivate(ctx, "admin-1", model.TypeSecurityAlert, "vi")
		assert.ErrorIs(t, err, model.ErrTemplateNotFound)
	})
}

func TestTemplateStoreWarmUp(t *testing.T) {
	repo := newFakeTemplateRepo()
	repo.put(securityAlertTemplate("en"))
	repo.put(securityAlertTemplate("de"))
	store := newTestTemplateStore(repo)

	store.WarmUp(context.Background(), []string{model.TypeSecurityAlert, model.TypeMarketing}, []string{"en", "de"})

	progress := store.WarmUpStatus()
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 4, progress.Processed)
	// Marketing has no template in either language.
	assert.Equal(t, 2, progress.Failed)
	assert.NotNil(t, progress.StartedAt)
	assert.NotNil(t, progress.FinishedAt)

	t.Run("warmed entries hit the cache", func(t *testing.T) {
		before := repo.reads.Load()
		_, err := store.Get(context.Background(), model.TypeSecurityAlert, "de")
		require.NoError(t, err)
		assert.Equal(t, before, repo.reads.Load())
	})
}
