package enrollment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ProfileCache memoizes resolved profiles per student.
// Concurrent misses for the same student share a single resolution.
//
// The cache only sees enrollments made through it. Entries expire after ttl so
// changes written by another process are picked up; ttl <= 0 never expires.
type ProfileCache struct {
	builder *Builder
	ttl     time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	profiles map[string]cachedProfile
	// generations is bumped on every invalidation; a resolution started under
	// an older generation must not populate the cache.
	generations map[string]uint64
	group       singleflight.Group
}

type cachedProfile struct {
	profile  *Profile
	storedAt time.Time
}

// NewProfileCache wraps builder with a profile cache.
func NewProfileCache(builder *Builder, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		builder:     builder,
		ttl:         ttl,
		now:         time.Now,
		profiles:    make(map[string]cachedProfile),
		generations: make(map[string]uint64),
	}
}

func (c *ProfileCache) fresh(e cachedProfile) bool {
	return c.ttl <= 0 || c.now().Sub(e.storedAt) < c.ttl
}

// Profile returns the cached profile of studentID, resolving it on a miss.
// Failed resolutions are not cached.
func (c *ProfileCache) Profile(ctx context.Context, studentID string) (*Profile, error) {
	c.mu.RLock()
	e, ok := c.profiles[studentID]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return e.profile, nil
	}

	v, err, _ := c.group.Do(studentID, func() (any, error) {
		c.mu.RLock()
		gen := c.generations[studentID]
		c.mu.RUnlock()

		p, err := c.builder.Profile(ctx, studentID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generations[studentID] == gen {
			c.profiles[studentID] = cachedProfile{profile: p, storedAt: c.now()}
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// Enroll enrolls studentID through the builder and caches the new profile.
func (c *ProfileCache) Enroll(ctx context.Context, studentID string, images []string) (*Profile, error) {
	c.Invalidate(studentID)

	p, err := c.builder.Enroll(ctx, studentID, images)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.generations[studentID]++
	c.profiles[studentID] = cachedProfile{profile: p, storedAt: c.now()}
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached profile of studentID. Resolutions already in
// flight still return to their callers but are not cached.
func (c *ProfileCache) Invalidate(studentID string) {
	c.mu.Lock()
	delete(c.profiles, studentID)
	c.generations[studentID]++
	c.mu.Unlock()
	c.group.Forget(studentID)
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
