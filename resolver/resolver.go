// Package resolver turns host names into a single dialable address using the
// system resolver. Results are cached in memory for a TTL and concurrent
// lookups of the same host share one query.
package resolver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/go-wsexchange/wserrors"
)

const (
	// DefaultTTL is how long a successful lookup is reused.
	DefaultTTL = 5 * time.Minute

	// DefaultLookupTimeout bounds one shared query regardless of how long
	// its callers are willing to wait.
	DefaultLookupTimeout = 10 * time.Second
)

var (
	errEmptyHost = errors.New("empty host name")
	errNoAddress = errors.New("no addresses found")
)

// LookupFunc resolves host to its IP addresses. net.DefaultResolver.LookupIPAddr
// has this signature.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the system lookup, mainly for tests.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) {
		r.lookup = fn
	}
}

// WithLookupTimeout bounds each system query. Values <= 0 are ignored.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Resolver resolves host names and caches the chosen address. It is safe for
// concurrent use.
type Resolver struct {
	lookup  LookupFunc
	ttl     time.Duration
	timeout time.Duration
	cache   *cache.Cache
	group   singleflight.Group
}

// NewResolver creates a Resolver that caches results for ttl. A ttl <= 0
// disables caching.
//
// Parameters:
//   - ttl: Time-to-live of a cached address
//   - opts: Optional overrides such as WithLookup
//
// Returns:
//   - A new Resolver
func NewResolver(ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:  net.DefaultResolver.LookupIPAddr,
		ttl:     ttl,
		timeout: DefaultLookupTimeout,
	}

	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns one address for host, preferring IPv4. IP literals are
// returned unchanged without a lookup. Failed lookups are not cached.
//
// Parameters:
//   - ctx: Context for cancellation of the lookup
//   - host: Host name or IP literal
//
// Returns:
//   - The address as a string (e.g. "192.168.10.20")
//   - A *wserrors.ResolutionError if the host cannot be resolved or ctx ends
//     first
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", &wserrors.ResolutionError{Host: host, Err: errEmptyHost}
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	if r.cache != nil {
		if addr, found := r.cache.Get(host); found {
			return addr.(string), nil
		}
	}

	// The shared query outlives any single caller; each caller stops waiting
	// on its own context.
	ch := r.group.DoChan(host, func() (interface{}, error) {
		if r.cache != nil {
			if addr, found := r.cache.Get(host); found {
				return addr, nil
			}
		}

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		addrs, err := r.lookup(lookupCtx, host)
		if err != nil {
			return "", &wserrors.ResolutionError{Host: host, Err: err}
		}

		addr, ok := pickAddress(addrs)
		if !ok {
			return "", &wserrors.ResolutionError{Host: host, Err: errNoAddress}
		}

		if r.cache != nil {
			r.cache.Set(host, addr, r.ttl)
		}

		return addr, nil
	})

	select {
	case <-ctx.Done():
		return "", &wserrors.ResolutionError{Host: host, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Forget drops any cached address for host.
func (r *Resolver) Forget(host string) {
	if r.cache != nil {
		r.cache.Delete(strings.TrimSpace(host))
	}
}

// CachedCount returns the number of cached hosts.
func (r *Resolver) CachedCount() int {
	if r.cache == nil {
		return 0
	}

	return r.cache.ItemCount()
}

func pickAddress(addrs []net.IPAddr) (string, bool) {
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), true
		}
	}

	for _, a := range addrs {
		if a.IP != nil {
			return a.IP.String(), true
		}
	}

	return "", false
}
