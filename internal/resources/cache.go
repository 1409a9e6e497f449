// Package resources caches reference data (questions, comments, location data)
// fetched from the survey server.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
)

// DefaultValidity is how long a fetched resource is served before it is refetched.
const DefaultValidity = 12 * time.Hour

// Names lists every resource the cache manages.
var Names = []string{
	models.ResourceQuestions,
	models.ResourceComments,
	models.ResourceLocations,
	models.ResourcePeerResponses,
}

// Fetcher retrieves a resource payload from the server.
type Fetcher interface {
	FetchResource(ctx context.Context, name string) ([]byte, error)
}

// Backing persists payloads between runs.
type Backing interface {
	GetResource(name string) ([]byte, time.Time, bool)
	PutResource(name string, data []byte, fetchedAt time.Time) error
}

// Cache is a read-through cache with a single staleness policy. Concurrent
// readers of a stale resource share one fetch.
type Cache struct {
	backing  Backing
	fetcher  Fetcher
	log      *zap.Logger
	now      func() time.Time
	validity time.Duration

	group singleflight.Group

	// Generations order refreshes and invalidations: a stored payload is stale
	// when it is older than the latest invalidation, and a refresh that finishes
	// after a newer one has been stored is discarded.
	mu          sync.Mutex
	seq         uint64
	invalidated map[string]uint64
	stored      map[string]uint64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithValidity overrides DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.validity = d
		}
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache reading through backing to fetcher.
func New(backing Backing, fetcher Fetcher, log *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		backing:     backing,
		fetcher:     fetcher,
		log:         logging.OrNop(log).Named("resources"),
		now:         func() time.Time { return time.Now().UTC() },
		validity:    DefaultValidity,
		invalidated: map[string]uint64{},
		stored:      map[string]uint64{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Questions returns the active questions ordered for display.
func (c *Cache) Questions(ctx context.Context) ([]models.Question, error) {
	var qs []models.Question
	if err := c.decode(ctx, models.ResourceQuestions, &qs); err != nil {
		return nil, err
	}
	active := qs[:0]
	for _, q := range qs {
		if q.Active {
			active = append(active, q)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Order != active[j].Order {
			return active[i].Order < active[j].Order
		}
		return active[i].ID < active[j].ID
	})
	return active, nil
}

// Comments returns the comments available for rating, in server order.
func (c *Cache) Comments(ctx context.Context) ([]models.Comment, error) {
	var cs []models.Comment
	if err := c.decode(ctx, models.ResourceComments, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// Locations returns the province/city/barangay tree.
func (c *Cache) Locations(ctx context.Context) (*models.LocationData, error) {
	var loc models.LocationData
	if err := c.decode(ctx, models.ResourceLocations, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// PeerResponses returns the aggregate of submitted ratings.
func (c *Cache) PeerResponses(ctx context.Context) (*models.PeerResponses, error) {
	var peers models.PeerResponses
	if err := c.decode(ctx, models.ResourcePeerResponses, &peers); err != nil {
		return nil, err
	}
	return &peers, nil
}

func (c *Cache) decode(ctx context.Context, name string, dst any) error {
	data, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Invalidate marks resources stale so the next access refetches them. With no
// names, every resource is invalidated.
func (c *Cache) Invalidate(names ...string) {
	if len(names) == 0 {
		names = Names
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.seq++
		c.invalidated[n] = c.seq
		c.group.Forget(n)
	}
}

// Refresh is the manual refresh hook: it invalidates every resource and reloads
// each one. Failures are logged and the stale copies stay in place.
func (c *Cache) Refresh(ctx context.Context) {
	c.Invalidate()
	for _, name := range Names {
		if _, err := c.Get(ctx, name); err != nil {
			c.log.Warn("refresh failed", zap.String("resource", name), zap.Error(err))
		}
	}
}

// Stale reports whether name would be refetched on the next access.
func (c *Cache) Stale(name string) bool {
	_, fetchedAt, ok := c.backing.GetResource(name)
	return !ok || c.isStale(name, fetchedAt)
}

func (c *Cache) isStale(name string, fetchedAt time.Time) bool {
	c.mu.Lock()
	invalid := c.invalidated[name] > c.stored[name]
	c.mu.Unlock()
	return invalid || c.now().Sub(fetchedAt) >= c.validity
}

// Get returns the raw payload for name, refreshing it first when stale. When the
// refresh fails a cached copy is served with a warning; with no cached copy the
// NetworkError is returned.
func (c *Cache) Get(ctx context.Context, name string) ([]byte, error) {
	data, fetchedAt, ok := c.backing.GetResource(name)
	if ok && !c.isStale(name, fetchedAt) {
		return data, nil
	}

	fresh, err, _ := c.group.Do(name, func() (any, error) {
		return c.refresh(ctx, name)
	})
	if err != nil {
		if ok {
			c.log.Warn("serving stale resource",
				zap.String("resource", name),
				zap.Time("fetched_at", fetchedAt),
				zap.Error(err))
			return data, nil
		}
		return nil, err
	}
	return fresh.([]byte), nil
}

func (c *Cache) refresh(ctx context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	c.seq++
	gen := c.seq
	c.mu.Unlock()

	data, err := c.fetcher.FetchResource(ctx, name)
	if err != nil {
		return nil, &record.NetworkError{Op: "fetch " + name, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.stored[name] {
		c.log.Debug("discarding superseded refresh", zap.String("resource", name), zap.Uint64("generation", gen))
		if newer, _, ok := c.backing.GetResource(name); ok {
			return newer, nil
		}
		return data, nil
	}
	if err := c.backing.PutResource(name, data, c.now()); err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	c.stored[name] = gen
	c.log.Info("loaded resource", zap.String("resource", name), zap.Int("bytes", len(data)))
	return data, nil
}
