package restaurant

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// Profile is a restaurant with its ring configuration already validated.
type Profile struct {
	ID       string
	Name     string
	Location geo.Point
	Rings    proximity.Rings
}

type cacheEntry struct {
	profile  *Profile
	loadedAt time.Time
}

// Directory resolves restaurant profiles. Ring sets are validated when a
// restaurant is loaded and cached, so classification never re-sorts.
type Directory struct {
	repo     Repository
	defaults proximity.Rings
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewDirectory creates a Directory. A non-positive ttl caches profiles
// for the lifetime of the process.
func NewDirectory(repo Repository, defaults proximity.Rings, ttl time.Duration) *Directory {
	return &Directory{
		repo:     repo,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Lookup returns the profile for id, loading it on a cache miss.
func (d *Directory) Lookup(ctx context.Context, id string) (*Profile, error) {
	now := d.now()

	d.mu.RLock()
	e, ok := d.cache[id]
	d.mu.RUnlock()
	if ok && (d.ttl <= 0 || now.Sub(e.loadedAt) < d.ttl) {
		return e.profile, nil
	}

	r, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &Profile{ID: r.ID, Name: r.Name, Location: r.Location, Rings: d.defaults}
	if len(r.Rings) > 0 {
		rings, err := proximity.NewRings(r.Rings)
		if err != nil {
			zctx.From(ctx).Warn("Invalid restaurant rings, using defaults",
				zap.String("restaurant_id", r.ID),
				zap.Error(err),
			)
		} else {
			p.Rings = rings
		}
	}

	d.mu.Lock()
	d.cache[id] = cacheEntry{profile: p, loadedAt: now}
	d.mu.Unlock()
	return p, nil
}

// Invalidate drops a cached profile.
func (d *Directory) Invalidate(id string) {
	d.mu.Lock()
	delete(d.cache, id)
	d.mu.Unlock()
}
