package services

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/registry"
)

type ServiceMapService struct {
	BaseService
	registry    *registry.Registry
	descriptors *descriptors.Store
}

func NewServiceMapService(reg *registry.Registry, descStore *descriptors.Store, logger *slog.Logger) *ServiceMapService {
	return &ServiceMapService{
		BaseService: BaseService{Logger: logger},
		registry:    reg,
		descriptors: descStore,
	}
}

func (s *ServiceMapService) ListServices(c *fiber.Ctx) error {
	return c.JSON(s.registry.List())
}

// AddService maps one workload to a service alias.
func (s *ServiceMapService) AddService(c *fiber.Ctx) error {
	var entry registry.Entry
	if err := c.BodyParser(&entry); err != nil {
		return s.BadRequest(c, "invalid request body")
	}

	if _, err := s.descriptors.Get(entry.ClusterAlias); err != nil {
		return s.DomainError(c, err)
	}

	if err := s.registry.Add(c.Context(), entry); err != nil {
		return s.DomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (s *ServiceMapService) RemoveService(c *fiber.Ctx) error {
	serviceAlias := c.Params("serviceAlias")
	if serviceAlias == "" {
		return s.BadRequest(c, "missing service alias")
	}

	if err := s.registry.Remove(c.Context(), serviceAlias); err != nil {
		return s.DomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type importItem struct {
	Workload     string `json:"workload"`
	ServiceAlias string `json:"serviceAlias"`
}

type importResult struct {
	Workload     string `json:"workload"`
	ServiceAlias string `json:"serviceAlias"`
	Imported     bool   `json:"imported"`
	Error        string `json:"error,omitempty"`
}

// ImportBulk maps several scanned workloads in one call. Each item is
// imported independently: duplicates are reported per item and do not
// stop the rest.
func (s *ServiceMapService) ImportBulk(c *fiber.Ctx) error {
	clusterAlias := c.Params("clusterAlias")
	namespace := c.Params("namespace")
	if clusterAlias == "" || namespace == "" {
		return s.BadRequest(c, "missing cluster alias or namespace")
	}

	if _, err := s.descriptors.Get(clusterAlias); err != nil {
		return s.DomainError(c, err)
	}

	var items []importItem
	if err := c.BodyParser(&items); err != nil {
		return s.BadRequest(c, "invalid request body")
	}

	results := make([]importResult, 0, len(items))
	for _, item := range items {
		result := importResult{Workload: item.Workload, ServiceAlias: item.ServiceAlias}

		err := s.registry.Add(c.Context(), registry.Entry{
			ServiceAlias: item.ServiceAlias,
			ClusterAlias: clusterAlias,
			Namespace:    namespace,
			Workload:     item.Workload,
		})
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Imported = true
		}

		results = append(results, result)
	}

	return c.JSON(results)
}
