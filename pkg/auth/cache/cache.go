// Package cache provides a caching decorator for auth.Resolver.
//
// Entries are keyed by a keyed BLAKE3 hash of the header name, the
// presented secret and the values of the vary headers (the client id hint
// stores narrow lookups by), so the cache never holds a value that maps
// back to a secret. The hash key is random per process. A cached success
// never outlives the credential's ValidUntil.
//
// Do not wrap signed-request resolvers: a cached success would outlive the
// request timestamp it was verified against and turn into a replay window.
package cache

import (
	"container/list"
	"context"
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/observability"
)

// Options tunes the cache.
type Options struct {
	// SuccessTTL is how long a resolved identity is served from cache.
	// Default: 5 minutes.
	SuccessTTL time.Duration

	// NotFoundTTL is how long a not-found result is remembered when
	// NegativeCaching is set. Default: 30 seconds.
	NotFoundTTL time.Duration

	// MaxEntries bounds the cache. Default: 10000.
	MaxEntries int

	// NegativeCaching enables remembering not-found results.
	NegativeCaching bool

	// VaryHeaders are auxiliary request headers whose values become part
	// of the cache key, because the inner resolver's answer depends on
	// them. Default: X-Client-Id.
	VaryHeaders []string
}

// DefaultOptions returns the default TTLs and bound with negative caching on.
func DefaultOptions() Options {
	return Options{
		SuccessTTL:      5 * time.Minute,
		NotFoundTTL:     30 * time.Second,
		MaxEntries:      10000,
		NegativeCaching: true,
		VaryHeaders:     []string{auth.HeaderClientID},
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.SuccessTTL <= 0 {
		o.SuccessTTL = d.SuccessTTL
	}
	if o.NotFoundTTL <= 0 {
		o.NotFoundTTL = d.NotFoundTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = d.MaxEntries
	}
	if o.VaryHeaders == nil {
		o.VaryHeaders = d.VaryHeaders
	}
}

type cacheKey [32]byte

// entry is a cached result. A nil identity marks a not-found result.
type entry struct {
	key      cacheKey
	identity *auth.Identity
	expires  time.Time
}

// Resolver caches the results of an inner resolver.
type Resolver struct {
	inner   auth.Resolver
	opts    Options
	clock   clock.Clock
	hashKey [32]byte

	mu        sync.Mutex
	lru       *list.List // front = most recently used
	items     map[cacheKey]*list.Element
	lastSweep time.Time

	group singleflight.Group
}

// Ensure Resolver implements auth.Resolver at compile time.
var _ auth.Resolver = (*Resolver)(nil)

// New wraps inner. Zero-valued options take their defaults except
// NegativeCaching, and a nil VaryHeaders means X-Client-Id. A nil clk uses
// the wall clock.
func New(inner auth.Resolver, opts Options, clk clock.Clock) *Resolver {
	if inner == nil {
		panic("cache: nil inner resolver")
	}
	opts.applyDefaults()
	if clk == nil {
		clk = clock.WallClock
	}
	r := &Resolver{
		inner: inner,
		opts:  opts,
		clock: clk,
		lru:   list.New(),
		items: make(map[cacheKey]*list.Element),
	}
	rand.Read(r.hashKey[:])
	return r
}

// Headers returns the inner resolver's headers.
func (r *Resolver) Headers() []string {
	return r.inner.Headers()
}

// Resolve serves cached results and otherwise delegates to the inner
// resolver. Concurrent misses for the same credential share one inner call.
func (r *Resolver) Resolve(ctx context.Context, presented string, lc auth.LookupContext) (auth.Result, error) {
	if err := ctx.Err(); err != nil {
		return auth.Result{}, err
	}

	key := r.key(lc.HeaderName, presented, lc)
	if result, ok := r.get(key); ok {
		return result, nil
	}
	observability.CacheRequestsTotal.WithLabelValues("miss").Inc()

	ch := r.group.DoChan(string(key[:]), func() (any, error) {
		result, err := r.inner.Resolve(ctx, presented, lc)
		if err == nil {
			r.store(key, result)
		}
		return result, err
	})

	select {
	case <-ctx.Done():
		return auth.Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// The leading caller was cancelled; this one is still live.
			if auth.IsContextError(res.Err) && ctx.Err() == nil {
				return r.inner.Resolve(ctx, presented, lc)
			}
			return auth.Result{}, res.Err
		}
		result := res.Val.(auth.Result)
		if result.Identity != nil {
			result.Identity = result.Identity.Clone()
		}
		return result, nil
	}
}

// Invalidate drops the cached results for secret presented in header.
// vary holds the vary header values the entry was cached under; pass nil
// for requests that carried none.
func (r *Resolver) Invalidate(header, secret string, vary http.Header) {
	key := r.key(header, secret, auth.NewLookupContext(header, vary))
	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.items[key]; ok {
		r.remove(elem)
	}
}

// Purge drops every cached result.
func (r *Resolver) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	observability.CacheEntries.Sub(float64(len(r.items)))
	r.lru.Init()
	r.items = make(map[cacheKey]*list.Element)
}

// Len returns the number of cached entries, expired ones included.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Resolver) key(header, secret string, lc auth.LookupContext) cacheKey {
	h, err := blake3.NewKeyed(r.hashKey[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write([]byte(strings.ToLower(header)))
	h.Write([]byte{0})
	h.Write([]byte(secret))
	for _, name := range r.opts.VaryHeaders {
		h.Write([]byte{0})
		v, ok := lc.Header(name)
		if !ok {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		h.Write([]byte(v))
	}

	var k cacheKey
	copy(k[:], h.Sum(nil))
	return k
}

func (r *Resolver) get(key cacheKey) (auth.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.items[key]
	if !ok {
		return auth.Result{}, false
	}
	e := elem.Value.(*entry)
	if !r.clock.Now().Before(e.expires) {
		r.remove(elem)
		return auth.Result{}, false
	}
	r.lru.MoveToFront(elem)

	if e.identity == nil {
		observability.CacheRequestsTotal.WithLabelValues("negative_hit").Inc()
		return auth.NotFound(), true
	}
	observability.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return auth.Success(e.identity.Clone()), true
}

// store caches successes and, when enabled, not-found results. Every
// other outcome is recomputed on the next request. A success is kept no
// longer than its identity's ValidUntil.
func (r *Resolver) store(key cacheKey, result auth.Result) {
	now := r.clock.Now()

	var ttl time.Duration
	var id *auth.Identity
	switch {
	case result.Succeeded():
		ttl = r.opts.SuccessTTL
		id = result.Identity.Clone()
		if id.ValidUntil != nil {
			left := id.ValidUntil.Sub(now)
			if left <= 0 {
				return
			}
			ttl = min(ttl, left)
		}
	case result.IsNotFound() && r.opts.NegativeCaching:
		ttl = r.opts.NotFoundTTL
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.items[key]; ok {
		e := elem.Value.(*entry)
		e.identity = id
		e.expires = now.Add(ttl)
		r.lru.MoveToFront(elem)
		return
	}

	if len(r.items) >= r.opts.MaxEntries {
		r.evict(now)
	}
	r.items[key] = r.lru.PushFront(&entry{key: key, identity: id, expires: now.Add(ttl)})
	observability.CacheEntries.Inc()
}

// evict makes room for one entry: expired entries go first, then the
// least recently used one. The full sweep runs at most once per
// NotFoundTTL. Must be called with r.mu held.
func (r *Resolver) evict(now time.Time) {
	if now.Sub(r.lastSweep) >= r.opts.NotFoundTTL {
		r.lastSweep = now
		removed := 0
		for elem := r.lru.Back(); elem != nil; {
			prev := elem.Prev()
			if !now.Before(elem.Value.(*entry).expires) {
				r.remove(elem)
				removed++
			}
			elem = prev
		}
		if removed > 0 {
			debug.Log("cache", "swept expired entries", "count", removed)
			return
		}
	}
	if back := r.lru.Back(); back != nil {
		r.remove(back)
	}
}

// remove drops elem. Must be called with r.mu held.
func (r *Resolver) remove(elem *list.Element) {
	r.lru.Remove(elem)
	delete(r.items, elem.Value.(*entry).key)
	observability.CacheEntries.Dec()
}
