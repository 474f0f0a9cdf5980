package services

import (
	"encoding/base64"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/registry"
	"github.com/fleetview/fleetview/internal/pkg/scanner"
	"github.com/fleetview/fleetview/internal/pkg/status"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

type ClusterService struct {
	BaseService
	descriptors *descriptors.Store
	registry    *registry.Registry
	pool        *clientpool.Pool
	scanner     *scanner.Scanner
	aggregator  *status.Aggregator
}

func NewClusterService(
	descStore *descriptors.Store,
	reg *registry.Registry,
	pool *clientpool.Pool,
	sc *scanner.Scanner,
	agg *status.Aggregator,
	logger *slog.Logger,
) *ClusterService {
	return &ClusterService{
		BaseService: BaseService{Logger: logger},
		descriptors: descStore,
		registry:    reg,
		pool:        pool,
		scanner:     sc,
		aggregator:  agg,
	}
}

type clusterResponse struct {
	Alias    string         `json:"alias"`
	AuthMode store.AuthMode `json:"authMode"`
}

func (s *ClusterService) ListClusters(c *fiber.Ctx) error {
	descs := s.descriptors.List()

	response := make([]clusterResponse, 0, len(descs))
	for _, d := range descs {
		response = append(response, clusterResponse{Alias: d.Alias, AuthMode: d.AuthMode})
	}

	return c.JSON(response)
}

type registerClusterRequest struct {
	Alias      string `json:"alias"`
	AuthMode   string `json:"authMode"`
	Kubeconfig string `json:"kubeconfig"` // base64-encoded blob
}

// RegisterCluster accepts either a multipart form with a kubeconfig
// file upload or a JSON body with the blob base64-encoded.
func (s *ClusterService) RegisterCluster(c *fiber.Ctx) error {
	var (
		alias    string
		authMode string
		blob     []byte
	)

	if file, err := c.FormFile("kubeconfig"); err == nil {
		alias = c.FormValue("alias")
		authMode = c.FormValue("authMode", string(store.AuthModeStatic))

		f, err := file.Open()
		if err != nil {
			return s.BadRequest(c, "could not read uploaded kubeconfig")
		}
		defer f.Close()

		blob, err = io.ReadAll(f)
		if err != nil {
			return s.BadRequest(c, "could not read uploaded kubeconfig")
		}
	} else {
		var req registerClusterRequest
		if err := c.BodyParser(&req); err != nil {
			return s.BadRequest(c, "invalid request body")
		}

		alias = req.Alias
		authMode = req.AuthMode
		if authMode == "" {
			authMode = string(store.AuthModeStatic)
		}

		decoded, err := base64.StdEncoding.DecodeString(req.Kubeconfig)
		if err != nil {
			return s.BadRequest(c, "kubeconfig must be base64-encoded")
		}
		blob = decoded
	}

	if alias == "" {
		return s.BadRequest(c, "missing cluster alias")
	}

	err := s.descriptors.Add(c.Context(), descriptors.Descriptor{
		Alias:      alias,
		Kubeconfig: blob,
		AuthMode:   store.AuthMode(authMode),
	})
	if err != nil {
		return s.DomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clusterResponse{
		Alias:    alias,
		AuthMode: store.AuthMode(authMode),
	})
}

// DeleteCluster removes a cluster and every service mapping that
// references it, then drops its pooled client.
func (s *ClusterService) DeleteCluster(c *fiber.Ctx) error {
	alias := c.Params("clusterAlias")
	if alias == "" {
		return s.BadRequest(c, "missing cluster alias")
	}

	if err := s.descriptors.Remove(c.Context(), alias, s.registry); err != nil {
		return s.DomainError(c, err)
	}

	s.pool.Remove(alias)

	return c.SendStatus(fiber.StatusNoContent)
}

// GetClusterOverview probes the cluster for version and node count.
func (s *ClusterService) GetClusterOverview(c *fiber.Ctx) error {
	alias := c.Params("clusterAlias")
	if alias == "" {
		return s.BadRequest(c, "missing cluster alias")
	}

	if _, err := s.descriptors.Get(alias); err != nil {
		return s.DomainError(c, err)
	}

	return c.JSON(s.aggregator.Overview(c.Context(), alias))
}

// ScanNamespace lists importable workloads in one namespace.
func (s *ClusterService) ScanNamespace(c *fiber.Ctx) error {
	alias := c.Params("clusterAlias")
	namespace := c.Params("namespace")
	if alias == "" || namespace == "" {
		return s.BadRequest(c, "missing cluster alias or namespace")
	}

	candidates, err := s.scanner.Scan(c.Context(), alias, namespace, s.registry.Aliases())
	if err != nil {
		return s.DomainError(c, err)
	}

	return c.JSON(candidates)
}
