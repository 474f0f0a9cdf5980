package scanner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/credentials"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

type staticDescriptors struct{}

func (staticDescriptors) Get(alias string) (descriptors.Descriptor, error) {
	return descriptors.Descriptor{Alias: alias, AuthMode: store.AuthModeStatic}, nil
}

type nilCreds struct{}

func (nilCreds) Current(context.Context) (*credentials.TemporaryCredentialSet, error) {
	return nil, nil
}

type staticResolver struct{}

func (staticResolver) Resolve(context.Context, descriptors.Descriptor, *credentials.TemporaryCredentialSet) (*rest.Config, error) {
	return &rest.Config{}, nil
}

func poolFor(client kubernetes.Interface) *clientpool.Pool {
	builder := func(*rest.Config) (kubernetes.Interface, error) { return client, nil }
	return clientpool.New(staticDescriptors{}, nilCreds{}, staticResolver{}, builder, slog.New(slog.DiscardHandler))
}

func deployment(name, image string, desired, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "payments"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &desired,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: name, Image: image}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: ready},
	}
}

func TestScanListsCandidates(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "payments"}},
		deployment("checkout", "registry.example.com/team/checkout:v1.4.2", 3, 3),
		deployment("ledger-canary", "ledger", 2, 1),
	)

	s := New(poolFor(client), slog.New(slog.DiscardHandler))

	candidates, err := s.Scan(context.Background(), "prod", "payments", []string{"checkout"})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byName := map[string]WorkloadCandidate{}
	for _, c := range candidates {
		byName[c.Name] = c
	}

	checkout := byName["checkout"]
	assert.Equal(t, int32(3), checkout.Replicas)
	assert.Equal(t, int32(3), checkout.ReadyReplicas)
	assert.Equal(t, "v1.4.2", checkout.ImageTag)
	assert.Equal(t, "checkout", checkout.SuggestedAlias)

	ledger := byName["ledger-canary"]
	assert.Equal(t, int32(2), ledger.Replicas)
	assert.Equal(t, int32(1), ledger.ReadyReplicas)
	assert.Equal(t, "latest", ledger.ImageTag)
	assert.Equal(t, "ledger", ledger.SuggestedAlias)
}

func TestScanMissingNamespace(t *testing.T) {
	client := fake.NewSimpleClientset()
	s := New(poolFor(client), slog.New(slog.DiscardHandler))

	_, err := s.Scan(context.Background(), "prod", "ghost", nil)
	assert.ErrorIs(t, err, ErrNamespaceNotFound)
}

func TestScanEmptyNamespace(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "payments"}},
	)
	s := New(poolFor(client), slog.New(slog.DiscardHandler))

	candidates, err := s.Scan(context.Background(), "prod", "payments", nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSuggestAlias(t *testing.T) {
	existing := []string{"checkout", "checkout-api", "ledger"}

	tests := []struct {
		name       string
		deployment string
		want       string
	}{
		{"exact match wins", "ledger", "ledger"},
		{"longest prefix wins", "checkout-api-v2", "checkout-api"},
		{"rollout suffix stripped", "billing-green", "billing"},
		{"version suffix stripped", "billing-v12", "billing"},
		{"plain name kept", "billing", "billing"},
		{"suffix mid-name kept", "blue-billing", "blue-billing"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SuggestAlias(tc.deployment, existing))
		})
	}
}

func TestShortImageTag(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"registry.example.com/team/checkout:v1.4.2", "v1.4.2"},
		{"nginx:1.27", "1.27"},
		{"nginx", "latest"},
		{"localhost:5000/team/checkout:sha-abc123", "sha-abc123"},
		{"localhost:5000/team/checkout", "latest"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ShortImageTag(tc.image), tc.image)
	}
}
