// Package clientpool owns one lazily-built Kubernetes client per
// registered cluster, rebuilding a cluster's client when its credentials
// expire or a call through it reports an authentication failure.
package clientpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/fleetview/fleetview/internal/pkg/credentials"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

// ClusterUnavailableError wraps any failure to produce a usable client
// for a cluster, tagged with the cluster alias.
type ClusterUnavailableError struct {
	Alias string
	Err   error
}

func (e *ClusterUnavailableError) Error() string {
	return fmt.Sprintf("cluster %s unavailable: %v", e.Alias, e.Err)
}

func (e *ClusterUnavailableError) Unwrap() error { return e.Err }

// Handle is a pooled client for one cluster. It records the credential
// expiry and generation it was built against so the pool can detect
// staleness.
type Handle struct {
	Alias  string
	Client kubernetes.Interface

	generation uint64
	expiresAt  time.Time // zero means the credentials never expire
	invalid    atomic.Bool
}

// Generation returns the handle's build generation.
func (h *Handle) Generation() uint64 { return h.generation }

// MarkUnhealthy flags the handle so the next Get for its alias rebuilds
// instead of reusing it. Callers invoke this when an API call through
// the handle fails with an authentication error.
func (h *Handle) MarkUnhealthy() { h.invalid.Store(true) }

func (h *Handle) usable(now time.Time) bool {
	if h.invalid.Load() {
		return false
	}
	if !h.expiresAt.IsZero() && !now.Before(h.expiresAt) {
		return false
	}

	return true
}

// DescriptorSource supplies cluster descriptors by alias.
type DescriptorSource interface {
	Get(alias string) (descriptors.Descriptor, error)
}

// Resolver turns a descriptor plus optional credentials into a REST
// configuration.
type Resolver interface {
	Resolve(ctx context.Context, d descriptors.Descriptor, creds *credentials.TemporaryCredentialSet) (*rest.Config, error)
}

// ClientBuilder constructs a Kubernetes client from a resolved
// configuration. Swapped for a fake in tests.
type ClientBuilder func(cfg *rest.Config) (kubernetes.Interface, error)

// DefaultClientBuilder builds a real clientset.
func DefaultClientBuilder(cfg *rest.Config) (kubernetes.Interface, error) {
	return kubernetes.NewForConfig(cfg)
}

// Pool caches one Handle per cluster alias. Concurrent Gets for the
// same alias share a single rebuild; different aliases never block each
// other.
type Pool struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	group       singleflight.Group
	descriptors DescriptorSource
	creds       credentials.Provider
	resolver    Resolver
	build       ClientBuilder
	logger      *slog.Logger
	generation  atomic.Uint64
	now         func() time.Time
}

// New creates a Pool.
func New(descSource DescriptorSource, creds credentials.Provider, resolver Resolver, build ClientBuilder, logger *slog.Logger) *Pool {
	if build == nil {
		build = DefaultClientBuilder
	}

	return &Pool{
		handles:     make(map[string]*Handle),
		descriptors: descSource,
		creds:       creds,
		resolver:    resolver,
		build:       build,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns a usable handle for the alias, rebuilding one if none
// exists, the cached one's credentials have expired, or it was marked
// unhealthy. At most one rebuild per alias is in flight at a time.
func (p *Pool) Get(ctx context.Context, alias string) (*Handle, error) {
	p.mu.RLock()
	h, exists := p.handles[alias]
	p.mu.RUnlock()

	if exists && h.usable(p.now()) {
		return h, nil
	}

	v, err, _ := p.group.Do(alias, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have finished
		// the rebuild while we were queued behind it.
		p.mu.RLock()
		h, exists := p.handles[alias]
		p.mu.RUnlock()
		if exists && h.usable(p.now()) {
			return h, nil
		}

		return p.rebuild(ctx, alias)
	})
	if err != nil {
		return nil, &ClusterUnavailableError{Alias: alias, Err: err}
	}

	return v.(*Handle), nil
}

func (p *Pool) rebuild(ctx context.Context, alias string) (*Handle, error) {
	d, err := p.descriptors.Get(alias)
	if err != nil {
		return nil, err
	}

	var creds *credentials.TemporaryCredentialSet
	if d.AuthMode == store.AuthModeCloudSSO {
		creds, err = p.creds.Current(ctx)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := p.resolver.Resolve(ctx, d, creds)
	if err != nil {
		return nil, err
	}

	client, err := p.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	h := &Handle{
		Alias:      alias,
		Client:     client,
		generation: p.generation.Add(1),
	}
	if creds != nil {
		h.expiresAt = creds.ExpiresAt
	}

	// The owning descriptor may have been deleted while the build was in
	// flight. Re-verify under the pool lock so a removed cluster never
	// gets its handle resurrected after Remove has run.
	p.mu.Lock()
	if _, err := p.descriptors.Get(alias); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.handles[alias] = h
	p.mu.Unlock()

	p.logger.Info("Cluster client built",
		"alias", alias,
		"generation", h.generation,
		"credentialExpiry", h.expiresAt)

	return h, nil
}

// Invalidate marks the cached handle for an alias unhealthy, forcing a
// rebuild on the next Get.
func (p *Pool) Invalidate(alias string) {
	p.mu.RLock()
	h, exists := p.handles[alias]
	p.mu.RUnlock()

	if exists {
		h.MarkUnhealthy()
	}
}

// Remove drops the handle for an alias entirely. Called when the owning
// descriptor is deleted.
func (p *Pool) Remove(alias string) {
	p.mu.Lock()
	delete(p.handles, alias)
	p.mu.Unlock()
}
