package feedback

import (
	"context"
	"sync"

	platform "github.com/jmgilman/go/errors"
)

// AuthGate decides whether an actor may use the feedback use cases.
type AuthGate interface {
	IsAuthorized(ctx context.Context, actor string) bool
}

// AuthFunc adapts a function to AuthGate.
type AuthFunc func(ctx context.Context, actor string) bool

// IsAuthorized calls f.
func (f AuthFunc) IsAuthorized(ctx context.Context, actor string) bool { return f(ctx, actor) }

// AllowList authorizes a fixed set of actors.
type AllowList map[string]bool

// IsAuthorized reports whether actor is in the list.
func (a AllowList) IsAuthorized(_ context.Context, actor string) bool { return a[actor] }

// Directory is the upstream holding tourists and sites. Lookups of unknown
// IDs fail with a platform NOT_FOUND error; transport failures should use a
// retryable code such as NETWORK or TIMEOUT.
type Directory interface {
	Tourist(ctx context.Context, id string) (Tourist, error)
	Site(ctx context.Context, id string) (Site, error)
}

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	tourists map[string]Tourist
	sites    map[string]Site
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a directory holding the given entries.
func NewMemoryDirectory(tourists []Tourist, sites []Site) *MemoryDirectory {
	d := &MemoryDirectory{tourists: make(map[string]Tourist), sites: make(map[string]Site)}
	for _, t := range tourists {
		d.tourists[t.ID] = t
	}
	for _, s := range sites {
		d.sites[s.ID] = s
	}
	return d
}

// AddSite adds or replaces a site.
func (d *MemoryDirectory) AddSite(s Site) {
	d.mu.Lock()
	d.sites[s.ID] = s
	d.mu.Unlock()
}

func (d *MemoryDirectory) Tourist(ctx context.Context, id string) (Tourist, error) {
	if err := ctx.Err(); err != nil {
		return Tourist{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tourists[id]
	if !ok {
		return Tourist{}, platform.Newf(platform.CodeNotFound, "tourist %s not found", id)
	}
	return t, nil
}

func (d *MemoryDirectory) Site(ctx context.Context, id string) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sites[id]
	if !ok {
		return Site{}, platform.Newf(platform.CodeNotFound, "site %s not found", id)
	}
	return s, nil
}
