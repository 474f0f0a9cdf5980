package descriptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"k8s.io/client-go/tools/clientcmd"

	"github.com/fleetview/fleetview/internal/pkg/store"
)

var (
	// ErrDuplicateAlias is returned when registering an alias that already exists.
	ErrDuplicateAlias = errors.New("cluster alias already exists")

	// ErrNotFound is returned when no descriptor exists for an alias.
	ErrNotFound = errors.New("cluster not found")

	// ErrConfigInvalid is returned when a kubeconfig blob cannot be parsed.
	ErrConfigInvalid = errors.New("invalid cluster configuration")
)

// Descriptor describes one registered cluster: an operator-chosen alias,
// the raw kubeconfig blob, and how credentials are obtained.
type Descriptor struct {
	Alias      string
	Kubeconfig []byte
	AuthMode   store.AuthMode
}

// ServiceUnmapper removes and restores service mappings for a cluster.
// Implemented by the service map registry; used for cascading deletes.
type ServiceUnmapper interface {
	DeleteByCluster(clusterAlias string) []store.ServiceRecord
	RestoreRecords(records []store.ServiceRecord)
}

// Store holds the registered cluster descriptors. All mutations persist
// through the shared Persister before they are acknowledged.
type Store struct {
	mu        sync.RWMutex
	clusters  map[string]Descriptor
	persister *store.Persister
	logger    *slog.Logger
}

// NewStore creates an empty descriptor store and registers it with the
// persister.
func NewStore(persister *store.Persister, logger *slog.Logger) *Store {
	s := &Store{
		clusters:  make(map[string]Descriptor),
		persister: persister,
		logger:    logger,
	}
	persister.Register(s)

	return s
}

// ValidateKubeconfig checks that a blob parses as a kubeconfig with at
// least one cluster entry.
func ValidateKubeconfig(blob []byte) error {
	cfg, err := clientcmd.Load(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if len(cfg.Clusters) == 0 {
		return fmt.Errorf("%w: no clusters defined", ErrConfigInvalid)
	}

	return nil
}

// Add registers a new cluster. The alias must be unused and the blob
// must be a parseable kubeconfig.
func (s *Store) Add(ctx context.Context, d Descriptor) error {
	if d.Alias == "" {
		return fmt.Errorf("%w: alias must not be empty", ErrConfigInvalid)
	}

	if d.AuthMode != store.AuthModeStatic && d.AuthMode != store.AuthModeCloudSSO {
		return fmt.Errorf("%w: unknown auth mode %q", ErrConfigInvalid, d.AuthMode)
	}

	if err := ValidateKubeconfig(d.Kubeconfig); err != nil {
		return err
	}

	err := s.persister.Mutate(ctx,
		func() error {
			s.mu.Lock()
			defer s.mu.Unlock()

			if _, exists := s.clusters[d.Alias]; exists {
				return fmt.Errorf("%w: %s", ErrDuplicateAlias, d.Alias)
			}
			s.clusters[d.Alias] = d

			return nil
		},
		func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.clusters, d.Alias)
		},
	)
	if err != nil {
		return err
	}

	s.logger.Info("Cluster registered", "alias", d.Alias, "authMode", d.AuthMode)

	return nil
}

// Remove deletes a cluster descriptor together with every service
// mapping that references it. Both removals land in one persisted write.
func (s *Store) Remove(ctx context.Context, alias string, unmapper ServiceUnmapper) error {
	var (
		removed        Descriptor
		removedRecords []store.ServiceRecord
	)

	err := s.persister.Mutate(ctx,
		func() error {
			s.mu.Lock()
			defer s.mu.Unlock()

			d, exists := s.clusters[alias]
			if !exists {
				return fmt.Errorf("%w: %s", ErrNotFound, alias)
			}
			removed = d
			delete(s.clusters, alias)

			if unmapper != nil {
				removedRecords = unmapper.DeleteByCluster(alias)
			}

			return nil
		},
		func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.clusters[alias] = removed

			if unmapper != nil {
				unmapper.RestoreRecords(removedRecords)
			}
		},
	)
	if err != nil {
		return err
	}

	s.logger.Info("Cluster removed", "alias", alias, "unmappedServices", len(removedRecords))

	return nil
}

// Get returns the descriptor for an alias.
func (s *Store) Get(alias string) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.clusters[alias]
	if !exists {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, alias)
	}

	return d, nil
}

// List returns all descriptors ordered by alias.
func (s *Store) List() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.clusters))
	for _, d := range s.clusters {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })

	return out
}

// Restore replaces the in-memory set from durable state. Called once at
// startup, before the store is shared.
func (s *Store) Restore(records []store.ClusterRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters = make(map[string]Descriptor, len(records))
	for _, r := range records {
		s.clusters[r.Alias] = Descriptor{
			Alias:      r.Alias,
			Kubeconfig: r.Kubeconfig,
			AuthMode:   r.AuthMode,
		}
	}
}

// Fill contributes the cluster section to a durable save.
func (s *Store) Fill(state *store.State) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state.Clusters = make([]store.ClusterRecord, 0, len(s.clusters))
	for _, d := range s.clusters {
		state.Clusters = append(state.Clusters, store.ClusterRecord{
			Alias:      d.Alias,
			Kubeconfig: d.Kubeconfig,
			AuthMode:   d.AuthMode,
		})
	}
	sort.Slice(state.Clusters, func(i, j int) bool {
		return state.Clusters[i].Alias < state.Clusters[j].Alias
	})
}
