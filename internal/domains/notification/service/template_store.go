package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/audit"
)

// ================================================
// TEMPLATE STORE
// ================================================

// WarmUpProgress is a point-in-time view of a warm-up run.
type WarmUpProgress struct {
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TemplateStore serves templates through a TTL cache with a language
// fallback chain. Concurrent misses for the same key collapse into one
// repository read.
type templateStore struct {
	repo     repository.TemplateRepository
	renderer *TemplateRenderer
	cache    *lru.LRU[string, *model.NotificationTemplate]
	group    singleflight.Group
	audit    *audit.Logger

	warmMu   sync.Mutex
	progress WarmUpProgress
}

// TemplateStore is the template resolution and admin surface.
type TemplateStore interface {
	Get(ctx context.Context, notificationType, language string) (*model.NotificationTemplate, error)
	Put(ctx context.Context, subject string, req model.UpsertTemplateRequest) (*model.NotificationTemplate, bool, error)
	Deactivate(ctx context.Context, subject, notificationType, language string) error
	Invalidate(notificationType, language string)
	List(ctx context.Context, notificationType *string, limit, offset int) ([]model.NotificationTemplate, int64, error)
	WarmUp(ctx context.Context, types, languages []string)
	WarmUpStatus() WarmUpProgress
}

func NewTemplateStore(repo repository.TemplateRepository, renderer *TemplateRenderer, cfg config.CacheConfig, a *audit.Logger) TemplateStore {
	return &templateStore{
		repo:     repo,
		renderer: renderer,
		cache:    lru.NewLRU[string, *model.NotificationTemplate](cfg.TemplateEntries, nil, cfg.TemplateTTL),
		audit:    a,
	}
}

// Get resolves the template for (type, language), falling back to the
// default language when the requested one has no template. A miss on
// both is ErrTemplateNotFound.
func (s *templateStore) Get(ctx context.Context, notificationType, language string) (*model.NotificationTemplate, error) {
	tpl, err := s.load(ctx, notificationType, language)
	if err == nil {
		return tpl, nil
	}
	if !errors.Is(err, model.ErrTemplateNotFound) || language == model.DefaultLanguage {
		return nil, err
	}

	tpl, err = s.load(ctx, notificationType, model.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("type", notificationType).
		Str("requested", language).
		Msg("[TemplateStore] Falling back to default language")
	return tpl, nil
}

func (s *templateStore) load(ctx context.Context, notificationType, language string) (*model.NotificationTemplate, error) {
	key := notificationType + "/" + language

	if tpl, ok := s.cache.Get(key); ok {
		return tpl, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		tpl, err := s.repo.GetByTypeAndLanguage(ctx, notificationType, language)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, tpl)
		return tpl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.NotificationTemplate), nil
}

// Put creates or replaces a template. Required variables are derived
// from the placeholders; the caller never supplies them. The cached
// copy and all rendered output are invalidated together.
func (s *templateStore) Put(ctx context.Context, subject string, req model.UpsertTemplateRequest) (*model.NotificationTemplate, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	tpl := &model.NotificationTemplate{
		Type:     req.Type,
		Language: req.Language,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}
	tpl.RequiredVariables = ExtractVariables(tpl)

	created, err := s.repo.Upsert(ctx, tpl)
	if err != nil {
		return nil, false, fmt.Errorf("put template: %w", err)
	}

	s.Invalidate(req.Type, req.Language)
	s.audit.TemplateCreated(subject, req.Type, req.Language)

	log.Info().
		Str("type", req.Type).
		Str("language", req.Language).
		Int("version", tpl.Version).
		Msg("[TemplateStore] Template stored")

	return tpl, created, nil
}

// Deactivate retires a template and drops its cached copies.
func (s *templateStore) Deactivate(ctx context.Context, subject, notificationType, language string) error {
	if err := s.repo.Deactivate(ctx, notificationType, language); err != nil {
		return err
	}

	s.Invalidate(notificationType, language)
	s.audit.TemplateDeleted(subject, notificationType, language)
	return nil
}

// Invalidate drops the cached template and purges rendered output.
// Rendered messages embed template content, so they go together.
func (s *templateStore) Invalidate(notificationType, language string) {
	s.cache.Remove(notificationType + "/" + language)
	s.renderer.Purge()
}

func (s *templateStore) List(ctx context.Context, notificationType *string, limit, offset int) ([]model.NotificationTemplate, int64, error) {
	return s.repo.List(ctx, notificationType, limit, offset)
}

// ================================================
// WARM-UP
// ================================================

// warmUpParallelism bounds concurrent repository reads during warm-up
// so startup never saturates the pool.
const warmUpParallelism = 3

// WarmUp pre-loads the given type x language matrix into the cache.
// Individual misses are counted, not fatal; a deployment without a
// marketing template in every language is normal.
func (s *templateStore) WarmUp(ctx context.Context, types, languages []string) {
	started := time.Now()

	s.warmMu.Lock()
	s.progress = WarmUpProgress{
		Total:     len(types) * len(languages),
		StartedAt: &started,
	}
	s.warmMu.Unlock()

	sem := make(chan struct{}, warmUpParallelism)
	var wg sync.WaitGroup

	for _, t := range types {
		for _, lang := range languages {
			wg.Add(1)
			sem <- struct{}{}

			go func(t, lang string) {
				defer wg.Done()
				defer func() { <-sem }()

				_, err := s.load(ctx, t, lang)

				s.warmMu.Lock()
				s.progress.Processed++
				if err != nil {
					s.progress.Failed++
				}
				s.warmMu.Unlock()
			}(t, lang)
		}
	}

	wg.Wait()

	finished := time.Now()
	s.warmMu.Lock()
	s.progress.FinishedAt = &finished
	processed, failed := s.progress.Processed, s.progress.Failed
	s.warmMu.Unlock()

	log.Info().
		Int("processed", processed).
		Int("failed", failed).
		Dur("took", finished.Sub(started)).
		Msg("[TemplateStore] Warm-up finished")
}

// WarmUpStatus reports progress of the current or last warm-up run.
func (s *templateStore) WarmUpStatus() WarmUpProgress {
	s.warmMu.Lock()
	defer s.warmMu.Unlock()
	return s.progress
}
