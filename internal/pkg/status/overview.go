package status

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ClusterOverview is a reachability probe result for one cluster.
type ClusterOverview struct {
	Alias         string `json:"alias"`
	Reachable     bool   `json:"reachable"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Nodes         int    `json:"nodes"`
	Error         string `json:"error,omitempty"`
}

// Overview probes a single cluster for its server version and node
// count. An unreachable cluster yields Reachable=false with the cause,
// never an error: per-cluster failures surface as degraded status.
func (a *Aggregator) Overview(ctx context.Context, clusterAlias string) ClusterOverview {
	out := ClusterOverview{Alias: clusterAlias}

	qctx, cancel := context.WithTimeout(ctx, a.opts.EntryTimeout)
	defer cancel()

	h, err := a.pool.Get(qctx, clusterAlias)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	version, err := h.Client.Discovery().ServerVersion()
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.ServerVersion = version.GitVersion

	nodes, err := h.Client.CoreV1().Nodes().List(qctx, metav1.ListOptions{})
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Reachable = true
	out.Nodes = len(nodes.Items)

	return out
}
