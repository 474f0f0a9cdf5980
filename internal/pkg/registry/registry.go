package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fleetview/fleetview/internal/pkg/store"
)

var (
	// ErrDuplicateServiceAlias is returned when a service alias is already taken.
	ErrDuplicateServiceAlias = errors.New("service alias already exists")

	// ErrDuplicateMapping is returned when the (cluster, namespace, workload)
	// tuple is already mapped to another service alias.
	ErrDuplicateMapping = errors.New("workload already mapped")

	// ErrNotFound is returned when no entry exists for a service alias.
	ErrNotFound = errors.New("service not found")
)

// Entry is one service mapping row. Field layout matches the durable
// record, so entries round-trip through the store unchanged.
type Entry = store.ServiceRecord

// Registry is the source of truth for which workloads are monitored.
// All mutations persist through the shared Persister before returning.
type Registry struct {
	mu        sync.RWMutex
	byAlias   map[string]Entry
	byTarget  map[string]string // mapping tuple -> service alias
	persister *store.Persister
	logger    *slog.Logger
}

// New creates an empty registry and registers it with the persister.
func New(persister *store.Persister, logger *slog.Logger) *Registry {
	r := &Registry{
		byAlias:   make(map[string]Entry),
		byTarget:  make(map[string]string),
		persister: persister,
		logger:    logger,
	}
	persister.Register(r)

	return r
}

func targetKey(e Entry) string {
	return e.ClusterAlias + "/" + e.Namespace + "/" + e.Workload
}

// Add registers a new service mapping, rejecting duplicates on either
// the service alias or the mapping tuple.
func (r *Registry) Add(ctx context.Context, e Entry) error {
	if e.ServiceAlias == "" || e.ClusterAlias == "" || e.Namespace == "" || e.Workload == "" {
		return fmt.Errorf("service mapping requires alias, cluster, namespace and workload")
	}

	err := r.persister.Mutate(ctx,
		func() error {
			r.mu.Lock()
			defer r.mu.Unlock()

			if _, exists := r.byAlias[e.ServiceAlias]; exists {
				return fmt.Errorf("%w: %s", ErrDuplicateServiceAlias, e.ServiceAlias)
			}
			if owner, exists := r.byTarget[targetKey(e)]; exists {
				return fmt.Errorf("%w: %s/%s in cluster %s is mapped to %q",
					ErrDuplicateMapping, e.Namespace, e.Workload, e.ClusterAlias, owner)
			}

			r.byAlias[e.ServiceAlias] = e
			r.byTarget[targetKey(e)] = e.ServiceAlias

			return nil
		},
		func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.byAlias, e.ServiceAlias)
			delete(r.byTarget, targetKey(e))
		},
	)
	if err != nil {
		return err
	}

	r.logger.Info("Service mapped",
		"serviceAlias", e.ServiceAlias,
		"cluster", e.ClusterAlias,
		"namespace", e.Namespace,
		"workload", e.Workload)

	return nil
}

// Remove deletes a service mapping by its alias.
func (r *Registry) Remove(ctx context.Context, serviceAlias string) error {
	var removed Entry

	err := r.persister.Mutate(ctx,
		func() error {
			r.mu.Lock()
			defer r.mu.Unlock()

			e, exists := r.byAlias[serviceAlias]
			if !exists {
				return fmt.Errorf("%w: %s", ErrNotFound, serviceAlias)
			}
			removed = e
			delete(r.byAlias, serviceAlias)
			delete(r.byTarget, targetKey(e))

			return nil
		},
		func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.byAlias[removed.ServiceAlias] = removed
			r.byTarget[targetKey(removed)] = removed.ServiceAlias
		},
	)
	if err != nil {
		return err
	}

	r.logger.Info("Service unmapped", "serviceAlias", serviceAlias)

	return nil
}

// Get returns the entry for a service alias.
func (r *Registry) Get(serviceAlias string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.byAlias[serviceAlias]
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, serviceAlias)
	}

	return e, nil
}

// List returns a snapshot of all entries ordered by service alias.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.byAlias))
	for _, e := range r.byAlias {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceAlias < out[j].ServiceAlias })

	return out
}

// Aliases returns the set of service aliases currently registered.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byAlias))
	for alias := range r.byAlias {
		out = append(out, alias)
	}
	sort.Strings(out)

	return out
}

// DeleteByCluster removes every entry referencing the cluster and
// returns the removed rows. In-memory only: the caller is responsible
// for persisting, as part of a larger mutation (cascading cluster
// delete).
func (r *Registry) DeleteByCluster(clusterAlias string) []store.ServiceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []store.ServiceRecord
	for alias, e := range r.byAlias {
		if e.ClusterAlias == clusterAlias {
			removed = append(removed, e)
			delete(r.byAlias, alias)
			delete(r.byTarget, targetKey(e))
		}
	}

	return removed
}

// RestoreRecords reinserts rows removed by DeleteByCluster. Used to
// roll back a failed cascading delete.
func (r *Registry) RestoreRecords(records []store.ServiceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range records {
		r.byAlias[e.ServiceAlias] = e
		r.byTarget[targetKey(e)] = e.ServiceAlias
	}
}

// Restore replaces the in-memory set from durable state. Called once at
// startup, before the registry is shared.
func (r *Registry) Restore(records []store.ServiceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byAlias = make(map[string]Entry, len(records))
	r.byTarget = make(map[string]string, len(records))
	for _, e := range records {
		r.byAlias[e.ServiceAlias] = e
		r.byTarget[targetKey(e)] = e.ServiceAlias
	}
}

// Fill contributes the service section to a durable save.
func (r *Registry) Fill(state *store.State) {
	state.Services = r.List()
}
