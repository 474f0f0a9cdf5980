// Package scanner lists deployment-like workloads in one namespace of
// one cluster, producing candidates an operator can import into the
// service map. Read-only: nothing here mutates the registry.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
)

// ErrNamespaceNotFound is returned when the namespace does not exist in
// the target cluster. Distinct from cluster-level failures so callers
// can present different remediation.
var ErrNamespaceNotFound = errors.New("namespace not found")

// WorkloadCandidate is one importable workload.
type WorkloadCandidate struct {
	Name           string `json:"name"`
	ReadyReplicas  int32  `json:"readyReplicas"`
	Replicas       int32  `json:"replicas"`
	ImageTag       string `json:"imageTag"`
	SuggestedAlias string `json:"suggestedAlias"`
}

// Scanner lists workloads through the cluster client pool.
type Scanner struct {
	pool   *clientpool.Pool
	logger *slog.Logger
}

// New creates a Scanner.
func New(pool *clientpool.Pool, logger *slog.Logger) *Scanner {
	return &Scanner{pool: pool, logger: logger}
}

// Scan lists deployments in the namespace and projects them into
// candidates. existingAliases feeds the per-candidate alias suggestion.
func (s *Scanner) Scan(ctx context.Context, clusterAlias, namespace string, existingAliases []string) ([]WorkloadCandidate, error) {
	h, err := s.pool.Get(ctx, clusterAlias)
	if err != nil {
		return nil, err
	}

	if _, err := h.Client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s in cluster %s", ErrNamespaceNotFound, namespace, clusterAlias)
		}
		if apierrors.IsUnauthorized(err) {
			h.MarkUnhealthy()
		}
		return nil, &clientpool.ClusterUnavailableError{Alias: clusterAlias, Err: err}
	}

	deployments, err := h.Client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		if apierrors.IsUnauthorized(err) {
			h.MarkUnhealthy()
		}
		return nil, &clientpool.ClusterUnavailableError{Alias: clusterAlias, Err: err}
	}

	candidates := make([]WorkloadCandidate, 0, len(deployments.Items))
	for _, dep := range deployments.Items {
		image := ""
		if containers := dep.Spec.Template.Spec.Containers; len(containers) > 0 {
			image = containers[0].Image
		}

		var desired int32
		if dep.Spec.Replicas != nil {
			desired = *dep.Spec.Replicas
		}

		candidates = append(candidates, WorkloadCandidate{
			Name:           dep.Name,
			ReadyReplicas:  dep.Status.ReadyReplicas,
			Replicas:       desired,
			ImageTag:       ShortImageTag(image),
			SuggestedAlias: SuggestAlias(dep.Name, existingAliases),
		})
	}

	s.logger.Info("Namespace scanned",
		"cluster", clusterAlias,
		"namespace", namespace,
		"candidates", len(candidates))

	return candidates, nil
}

// deploySuffix matches rollout-strategy suffixes that should not leak
// into a service alias.
var deploySuffix = regexp.MustCompile(`-(blue|green|canary|prod|dev|staging|v\d+)$`)

// SuggestAlias proposes a service alias for a deployment name: an exact
// match against an existing alias wins, then the longest existing alias
// the name extends, then the name with any rollout suffix stripped.
func SuggestAlias(deploymentName string, existingAliases []string) string {
	best := ""
	for _, alias := range existingAliases {
		if alias == deploymentName {
			return alias
		}
		if strings.HasPrefix(deploymentName, alias) && len(alias) > len(best) {
			best = alias
		}
	}
	if best != "" {
		return best
	}

	return deploySuffix.ReplaceAllString(deploymentName, "")
}

// ShortImageTag reduces a full image reference to its tag, defaulting
// to "latest" for untagged references.
func ShortImageTag(image string) string {
	last := image
	if idx := strings.LastIndex(image, "/"); idx >= 0 {
		last = image[idx+1:]
	}

	if idx := strings.Index(last, ":"); idx >= 0 {
		return last[idx+1:]
	}

	return "latest"
}
