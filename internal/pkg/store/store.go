package store

import (
	"context"
	"fmt"
	"sync"
)

// AuthMode selects how credentials for a cluster are obtained.
type AuthMode string

const (
	// AuthModeStatic uses the kubeconfig blob as-is.
	AuthModeStatic AuthMode = "static"
	// AuthModeCloudSSO injects temporary AWS credentials at client build time.
	AuthModeCloudSSO AuthMode = "cloud-sso"
)

// ClusterRecord is the durable form of a registered cluster. Temporary
// credentials are never part of this record.
type ClusterRecord struct {
	Alias      string   `json:"alias" bson:"alias"`
	Kubeconfig []byte   `json:"kubeconfig" bson:"kubeconfig"`
	AuthMode   AuthMode `json:"authMode" bson:"auth_mode"`
}

// ServiceRecord is the durable form of one service mapping.
type ServiceRecord struct {
	ServiceAlias string `json:"serviceAlias" bson:"service_alias"`
	ClusterAlias string `json:"clusterAlias" bson:"cluster_alias"`
	Namespace    string `json:"namespace" bson:"namespace"`
	Workload     string `json:"workload" bson:"workload"`
}

// State is the full durable record. Every save replaces it wholesale.
type State struct {
	Clusters []ClusterRecord `json:"clusters" bson:"clusters"`
	Services []ServiceRecord `json:"services" bson:"services"`
}

// Store defines the interface for durable state operations
type Store interface {
	// Load reads the last saved state, returning an empty state if none exists
	Load(ctx context.Context) (*State, error)

	// Save atomically replaces the durable state
	Save(ctx context.Context, state *State) error

	// Close shuts down the store
	Close(ctx context.Context) error
}

// Source contributes its section of the durable state to a save.
type Source interface {
	Fill(state *State)
}

// PersistenceError marks a durable write that could not complete. The
// in-memory mutation that triggered it has been rolled back.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting state: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persister serializes all mutations against the durable store. Holding
// its lock across apply+save keeps in-memory and on-disk state from
// diverging under concurrent writers.
type Persister struct {
	mu      sync.Mutex
	backend Store
	sources []Source
}

// NewPersister creates a Persister over the given backend.
func NewPersister(backend Store) *Persister {
	return &Persister{backend: backend}
}

// Register adds a source whose section is included in every save.
// Call during wiring, before any mutation.
func (p *Persister) Register(src Source) {
	p.sources = append(p.sources, src)
}

// Mutate applies an in-memory change and persists the resulting state
// before returning. If apply fails nothing is persisted. If the save
// fails, rollback is invoked and a PersistenceError is returned.
func (p *Persister) Mutate(ctx context.Context, apply func() error, rollback func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := apply(); err != nil {
		return err
	}

	state := &State{}
	for _, src := range p.sources {
		src.Fill(state)
	}

	if err := p.backend.Save(ctx, state); err != nil {
		rollback()
		return &PersistenceError{Err: err}
	}

	return nil
}
