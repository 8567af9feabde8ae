package userinfo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
)

// ================================================
// USER INFO PROVIDER
// ================================================

// Source is the upstream identity service.
type Source interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*model.UserInfo, error)
}

// Provider resolves user contact records through a TTL cache. When the
// upstream is down, the last known value is served with Stale set so
// callers can decide whether a possibly outdated address is acceptable.
type Provider struct {
	source Source
	cache  *lru.LRU[uuid.UUID, *model.UserInfo]
	group  singleflight.Group

	// lastKnown outlives the TTL cache and backs stale reads.
	mu        sync.RWMutex
	lastKnown map[uuid.UUID]*model.UserInfo
}

func NewProvider(source Source, cfg config.CacheConfig) *Provider {
	return &Provider{
		source:    source,
		cache:     lru.NewLRU[uuid.UUID, *model.UserInfo](cfg.UserInfoEntries, nil, cfg.UserInfoTTL),
		lastKnown: make(map[uuid.UUID]*model.UserInfo),
	}
}

// Resolve returns the contact record for userID. Concurrent misses for
// the same user collapse into one upstream call.
func (p *Provider) Resolve(ctx context.Context, userID uuid.UUID) (*model.UserInfo, error) {
	if info, ok := p.cache.Get(userID); ok {
		return info, nil
	}

	v, err, _ := p.group.Do(userID.String(), func() (interface{}, error) {
		info, err := p.source.Lookup(ctx, userID)
		if err != nil {
			return nil, err
		}
		p.cache.Add(userID, info)
		p.remember(userID, info)
		return info, nil
	})
	if err == nil {
		return v.(*model.UserInfo), nil
	}

	if stale := p.staleCopy(userID); stale != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Msg("[UserInfo] Upstream lookup failed, serving stale entry")
		return stale, nil
	}
	return nil, fmt.Errorf("resolve user %s: %w", userID, err)
}

// Invalidate drops the cached record, forcing a fresh lookup.
func (p *Provider) Invalidate(userID uuid.UUID) {
	p.cache.Remove(userID)
}

func (p *Provider) remember(userID uuid.UUID, info *model.UserInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastKnown[userID] = info
}

func (p *Provider) staleCopy(userID uuid.UUID) *model.UserInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, ok := p.lastKnown[userID]
	if !ok {
		return nil
	}
	out := *info
	out.Stale = true
	return &out
}

// ================================================
// STATIC SOURCE (development)
// ================================================

// StaticSource serves a fixed user set. Useful for development and
// tests; unknown users fail the way the real identity service does.
type StaticSource struct {
	mu    sync.RWMutex
	users map[uuid.UUID]model.UserInfo
}

func NewStaticSource() *StaticSource {
	return &StaticSource{users: make(map[uuid.UUID]model.UserInfo)}
}

func (s *StaticSource) Put(info model.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[info.UserID] = info
}

func (s *StaticSource) Lookup(_ context.Context, userID uuid.UUID) (*model.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, model.ErrUnknownUser)
	}
	out := info
	return &out, nil
}
