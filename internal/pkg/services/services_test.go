package services_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/credentials"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/registry"
	"github.com/fleetview/fleetview/internal/pkg/router"
	"github.com/fleetview/fleetview/internal/pkg/scanner"
	"github.com/fleetview/fleetview/internal/pkg/services"
	"github.com/fleetview/fleetview/internal/pkg/status"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

type stubCreds struct{}

func (stubCreds) Current(context.Context) (*credentials.TemporaryCredentialSet, error) {
	return nil, credentials.ErrNotAuthenticated
}

// stubResolver fails for the "dr" alias, standing in for a cluster the
// network cannot reach.
type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, d descriptors.Descriptor, _ *credentials.TemporaryCredentialSet) (*rest.Config, error) {
	if d.Alias == "dr" {
		return nil, errors.New("connection refused")
	}
	return &rest.Config{Host: d.Alias}, nil
}

func testDeployment(name string, desired, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "payments"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &desired,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: name, Image: name + ":v1"}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: ready},
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	backend, err := store.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	persister := store.NewPersister(backend)
	descStore := descriptors.NewStore(persister, logger)
	reg := registry.New(persister, logger)

	client := fake.NewSimpleClientset(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "payments"}},
		testDeployment("checkout-deploy", 3, 3),
		testDeployment("ledger-deploy", 2, 2),
	)
	builder := func(*rest.Config) (kubernetes.Interface, error) { return client, nil }
	pool := clientpool.New(descStore, stubCreds{}, stubResolver{}, builder, logger)

	sc := scanner.New(pool, logger)
	agg := status.New(reg, pool, status.Options{}, logger)

	app := fiber.New()
	router.SetupRoutes(app,
		services.NewClusterService(descStore, reg, pool, sc, agg, logger),
		services.NewServiceMapService(reg, descStore, logger),
		services.NewStatusService(agg, 0, logger),
	)

	return app
}

func testKubeconfig(t *testing.T) []byte {
	t.Helper()

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters["c"] = &clientcmdapi.Cluster{
		Server:                "https://c.example.com",
		InsecureSkipTLSVerify: true,
	}
	cfg.AuthInfos["c"] = &clientcmdapi.AuthInfo{Token: "static-token"}
	cfg.Contexts["c"] = &clientcmdapi.Context{Cluster: "c", AuthInfo: "c"}
	cfg.CurrentContext = "c"

	blob, err := clientcmd.Write(*cfg)
	require.NoError(t, err)

	return blob
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func registerCluster(t *testing.T, app *fiber.App, alias, authMode string) *http.Response {
	t.Helper()

	return doJSON(t, app, http.MethodPost, "/api/v1/clusters", map[string]string{
		"alias":      alias,
		"authMode":   authMode,
		"kubeconfig": base64.StdEncoding.EncodeToString(testKubeconfig(t)),
	})
}

func addService(t *testing.T, app *fiber.App, serviceAlias, cluster, workload string) *http.Response {
	t.Helper()

	return doJSON(t, app, http.MethodPost, "/api/v1/services", map[string]string{
		"serviceAlias": serviceAlias,
		"clusterAlias": cluster,
		"namespace":    "payments",
		"workload":     workload,
	})
}

func TestRegisterListAndDeleteCluster(t *testing.T) {
	app := newTestApp(t)

	resp := registerCluster(t, app, "prod", "static")
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var clusters []struct {
		Alias    string `json:"alias"`
		AuthMode string `json:"authMode"`
	}
	decodeJSON(t, doJSON(t, app, http.MethodGet, "/api/v1/clusters", nil), &clusters)
	require.Len(t, clusters, 1)
	assert.Equal(t, "prod", clusters[0].Alias)
	assert.Equal(t, "static", clusters[0].AuthMode)

	resp = doJSON(t, app, http.MethodDelete, "/api/v1/clusters/prod", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodDelete, "/api/v1/clusters/prod", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRegisterClusterDuplicateConflicts(t *testing.T) {
	app := newTestApp(t)

	require.Equal(t, fiber.StatusCreated, registerCluster(t, app, "prod", "static").StatusCode)
	assert.Equal(t, fiber.StatusConflict, registerCluster(t, app, "prod", "static").StatusCode)
}

func TestRegisterClusterInvalidBlob(t *testing.T) {
	app := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/clusters", map[string]string{
		"alias":      "broken",
		"authMode":   "static",
		"kubeconfig": base64.StdEncoding.EncodeToString([]byte("{not a kubeconfig")),
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAddServiceUnknownCluster(t *testing.T) {
	app := newTestApp(t)

	resp := addService(t, app, "checkout", "ghost", "checkout-deploy")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAddAndRemoveService(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")

	assert.Equal(t, fiber.StatusCreated, addService(t, app, "checkout", "prod", "checkout-deploy").StatusCode)
	assert.Equal(t, fiber.StatusConflict, addService(t, app, "checkout", "prod", "other-deploy").StatusCode)

	resp := doJSON(t, app, http.MethodDelete, "/api/v1/services/checkout", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodDelete, "/api/v1/services/checkout", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteClusterUnmapsServices(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")
	addService(t, app, "checkout", "prod", "checkout-deploy")

	resp := doJSON(t, app, http.MethodDelete, "/api/v1/clusters/prod", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var entries []registry.Entry
	decodeJSON(t, doJSON(t, app, http.MethodGet, "/api/v1/services", nil), &entries)
	assert.Empty(t, entries)
}

func TestImportBulkMixedBatch(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")
	require.Equal(t, fiber.StatusCreated, addService(t, app, "checkout", "prod", "checkout-deploy").StatusCode)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/clusters/prod/namespaces/payments/import",
		[]map[string]string{
			{"workload": "checkout-deploy", "serviceAlias": "checkout"},
			{"workload": "ledger-deploy", "serviceAlias": "ledger"},
		})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var results []struct {
		ServiceAlias string `json:"serviceAlias"`
		Imported     bool   `json:"imported"`
		Error        string `json:"error"`
	}
	decodeJSON(t, resp, &results)
	require.Len(t, results, 2)

	assert.False(t, results[0].Imported, "duplicate must be rejected")
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Imported, "duplicate must not stop the rest of the batch")
	assert.Empty(t, results[1].Error)

	var entries []registry.Entry
	decodeJSON(t, doJSON(t, app, http.MethodGet, "/api/v1/services", nil), &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "ledger", entries[1].ServiceAlias)
}

func TestScanWorkloads(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/clusters/prod/namespaces/payments/workloads", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var candidates []scanner.WorkloadCandidate
	decodeJSON(t, resp, &candidates)
	require.Len(t, candidates, 2)
}

func TestScanMissingNamespace(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/clusters/prod/namespaces/ghost/workloads", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestScanUnreachableClusterMapsToBadGateway(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "dr", "static")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/clusters/dr/namespaces/payments/workloads", nil)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestScanCredentialFailureMapsToUnauthorized(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "sso", "cloud-sso")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/clusters/sso/namespaces/payments/workloads", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestStatusMatrixEndpoint(t *testing.T) {
	app := newTestApp(t)
	registerCluster(t, app, "prod", "static")
	addService(t, app, "checkout", "prod", "checkout-deploy")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Services map[string]status.Snapshot `json:"services"`
	}
	decodeJSON(t, resp, &payload)

	snap, ok := payload.Services["checkout"]
	require.True(t, ok)
	assert.Empty(t, snap.Failure)
	assert.Equal(t, int32(3), snap.ReadyReplicas)
	assert.Equal(t, int32(3), snap.DesiredReplicas)
}
