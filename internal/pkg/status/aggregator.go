// Package status assembles the cross-cluster service status matrix. A
// failure querying one service never aborts or delays the others; the
// failing entry carries a reason instead of status fields.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/registry"
	"github.com/fleetview/fleetview/internal/pkg/scanner"
)

// FailureReason classifies why a snapshot carries no status fields.
type FailureReason string

const (
	FailureTimeout            FailureReason = "Timeout"
	FailureClusterUnavailable FailureReason = "ClusterUnavailable"
	FailureNotFound           FailureReason = "NotFound"
	FailureQuery              FailureReason = "QueryFailed"
)

// Event is one recent event attached to a workload, most recent first
// in a snapshot.
type Event struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Message  string    `json:"message"`
	Count    int32     `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// Snapshot is the point-in-time status of one mapped service. Failure
// is empty when the query succeeded.
type Snapshot struct {
	ServiceAlias string `json:"serviceAlias"`
	ClusterAlias string `json:"clusterAlias"`
	Namespace    string `json:"namespace"`
	Workload     string `json:"workload"`

	ReadyReplicas      int32     `json:"readyReplicas"`
	DesiredReplicas    int32     `json:"desiredReplicas"`
	ImageTags          []string  `json:"imageTags,omitempty"`
	LastTransitionTime time.Time `json:"lastTransitionTime,omitzero"`
	Events             []Event   `json:"events,omitempty"`

	Failure       FailureReason `json:"failure,omitempty"`
	FailureDetail string        `json:"failureDetail,omitempty"`

	ObservedAt time.Time `json:"observedAt"`
}

// Options tunes the aggregation fan-out.
type Options struct {
	// PerClusterLimit caps simultaneous in-flight calls per cluster.
	// Distinct clusters are independent failure domains and are not
	// bounded against each other.
	PerClusterLimit int64

	// EntryTimeout is the per-entry query deadline.
	EntryTimeout time.Duration

	// MaxEvents caps how many recent events a snapshot carries.
	MaxEvents int

	// CacheTTL is how long a computed matrix is served before a
	// non-forced aggregation recomputes it.
	CacheTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.PerClusterLimit <= 0 {
		o.PerClusterLimit = 4
	}
	if o.EntryTimeout <= 0 {
		o.EntryTimeout = 10 * time.Second
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 10
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 30 * time.Second
	}
}

// Aggregator queries every mapped service concurrently and merges the
// results into one matrix keyed by service alias.
type Aggregator struct {
	registry *registry.Registry
	pool     *clientpool.Pool
	opts     Options
	logger   *slog.Logger

	cacheMu  sync.RWMutex
	cached   map[string]Snapshot
	cachedAt time.Time
	group    singleflight.Group
}

// New creates an Aggregator.
func New(reg *registry.Registry, pool *clientpool.Pool, opts Options, logger *slog.Logger) *Aggregator {
	opts.withDefaults()

	return &Aggregator{
		registry: reg,
		pool:     pool,
		opts:     opts,
		logger:   logger,
	}
}

// Matrix returns the status matrix and when it was computed. A fresh
// cached matrix is served as-is unless force is set; concurrent
// refreshes collapse into one aggregation pass.
func (a *Aggregator) Matrix(ctx context.Context, force bool) (map[string]Snapshot, time.Time) {
	if !force {
		a.cacheMu.RLock()
		if a.cached != nil && time.Since(a.cachedAt) < a.opts.CacheTTL {
			snap, at := a.cached, a.cachedAt
			a.cacheMu.RUnlock()
			return snap, at
		}
		a.cacheMu.RUnlock()
	}

	type pass struct {
		matrix map[string]Snapshot
		at     time.Time
	}

	// The matrix and its timestamp travel together so a concurrent pass
	// finishing in between cannot pair one call's matrix with another's
	// computation time.
	v, _, _ := a.group.Do("aggregate", func() (interface{}, error) {
		p := pass{matrix: a.Aggregate(ctx), at: time.Now()}

		a.cacheMu.Lock()
		a.cached = p.matrix
		a.cachedAt = p.at
		a.cacheMu.Unlock()

		return p, nil
	})

	result := v.(pass)

	return result.matrix, result.at
}

// LastUpdated reports when the cached matrix was computed, zero if
// never.
func (a *Aggregator) LastUpdated() time.Time {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()

	return a.cachedAt
}

// Aggregate queries every registry entry concurrently and returns one
// snapshot per service alias. The result always contains every entry
// that was in the registry when the pass started.
func (a *Aggregator) Aggregate(ctx context.Context) map[string]Snapshot {
	entries := a.registry.List()

	// One semaphore per cluster alias: bounded within a cluster,
	// unbounded across clusters.
	limits := make(map[string]*semaphore.Weighted)
	for _, e := range entries {
		if _, ok := limits[e.ClusterAlias]; !ok {
			limits[e.ClusterAlias] = semaphore.NewWeighted(a.opts.PerClusterLimit)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Snapshot, len(entries))
	)

	g := new(errgroup.Group)
	for _, e := range entries {
		entry := e
		sem := limits[entry.ClusterAlias]

		g.Go(func() error {
			var snap Snapshot
			if err := sem.Acquire(ctx, 1); err != nil {
				// Caller-supplied deadline fired while queued.
				snap = failedSnapshot(entry, FailureTimeout, err.Error())
			} else {
				snap = a.collect(ctx, entry)
				sem.Release(1)
			}

			mu.Lock()
			results[entry.ServiceAlias] = snap
			mu.Unlock()

			return nil
		})
	}
	g.Wait()

	a.logger.Info("Aggregation pass complete", "services", len(results))

	return results
}

func failedSnapshot(e registry.Entry, reason FailureReason, detail string) Snapshot {
	return Snapshot{
		ServiceAlias:  e.ServiceAlias,
		ClusterAlias:  e.ClusterAlias,
		Namespace:     e.Namespace,
		Workload:      e.Workload,
		Failure:       reason,
		FailureDetail: detail,
		ObservedAt:    time.Now(),
	}
}

func (a *Aggregator) collect(ctx context.Context, e registry.Entry) Snapshot {
	qctx, cancel := context.WithTimeout(ctx, a.opts.EntryTimeout)
	defer cancel()

	h, err := a.pool.Get(qctx, e.ClusterAlias)
	if err != nil {
		return failedSnapshot(e, classify(qctx, err), err.Error())
	}

	dep, err := h.Client.AppsV1().Deployments(e.Namespace).Get(qctx, e.Workload, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsUnauthorized(err) {
			h.MarkUnhealthy()
		}

		return failedSnapshot(e, classify(qctx, err), err.Error())
	}

	snap := snapshotFromDeployment(e, dep)

	// Events are best-effort: a failure here degrades the snapshot to
	// status-only rather than failing it.
	events, err := a.recentEvents(qctx, h.Client.CoreV1().Events(e.Namespace), e)
	if err != nil {
		a.logger.Warn("Failed to list events",
			"serviceAlias", e.ServiceAlias,
			"cluster", e.ClusterAlias,
			"error", err)
	} else {
		snap.Events = events
	}

	return snap
}

func snapshotFromDeployment(e registry.Entry, dep *appsv1.Deployment) Snapshot {
	snap := Snapshot{
		ServiceAlias:  e.ServiceAlias,
		ClusterAlias:  e.ClusterAlias,
		Namespace:     e.Namespace,
		Workload:      e.Workload,
		ReadyReplicas: dep.Status.ReadyReplicas,
		ObservedAt:    time.Now(),
	}

	if dep.Spec.Replicas != nil {
		snap.DesiredReplicas = *dep.Spec.Replicas
	}

	for _, c := range dep.Spec.Template.Spec.Containers {
		snap.ImageTags = append(snap.ImageTags, scanner.ShortImageTag(c.Image))
	}

	for _, cond := range dep.Status.Conditions {
		if cond.LastTransitionTime.Time.After(snap.LastTransitionTime) {
			snap.LastTransitionTime = cond.LastTransitionTime.Time
		}
	}

	return snap
}

// eventLister is the slice of the events API the aggregator needs.
type eventLister interface {
	List(ctx context.Context, opts metav1.ListOptions) (*corev1.EventList, error)
}

func (a *Aggregator) recentEvents(ctx context.Context, lister eventLister, e registry.Entry) ([]Event, error) {
	selector := fmt.Sprintf("involvedObject.name=%s,involvedObject.namespace=%s,involvedObject.kind=Deployment",
		e.Workload, e.Namespace)

	list, err := lister.List(ctx, metav1.ListOptions{FieldSelector: selector})
	if err != nil {
		return nil, err
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool {
		return eventTime(&items[i]).After(eventTime(&items[j]))
	})

	if len(items) > a.opts.MaxEvents {
		items = items[:a.opts.MaxEvents]
	}

	events := make([]Event, 0, len(items))
	for i := range items {
		ev := &items[i]
		events = append(events, Event{
			Type:     ev.Type,
			Reason:   ev.Reason,
			Message:  ev.Message,
			Count:    ev.Count,
			LastSeen: eventTime(ev),
		})
	}

	return events, nil
}

// eventTime picks the most meaningful timestamp an event carries.
func eventTime(ev *corev1.Event) time.Time {
	if !ev.LastTimestamp.IsZero() {
		return ev.LastTimestamp.Time
	}
	if !ev.EventTime.IsZero() {
		return ev.EventTime.Time
	}

	return ev.CreationTimestamp.Time
}

func classify(ctx context.Context, err error) FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return FailureTimeout
	case apierrors.IsNotFound(err):
		return FailureNotFound
	default:
		var unavailable *clientpool.ClusterUnavailableError
		if errors.As(err, &unavailable) {
			return FailureClusterUnavailable
		}

		return FailureQuery
	}
}
