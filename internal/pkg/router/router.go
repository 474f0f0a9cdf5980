package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fleetview/fleetview/internal/pkg/services"
)

func SetupRoutes(app *fiber.App, clusterService *services.ClusterService, serviceMapService *services.ServiceMapService, statusService *services.StatusService) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	// API group with versioning
	api := app.Group("/api/v1")

	// Cluster routes
	api.Get("/clusters", clusterService.ListClusters)
	api.Post("/clusters", clusterService.RegisterCluster)
	api.Delete("/clusters/:clusterAlias", clusterService.DeleteCluster)
	api.Get("/clusters/:clusterAlias/overview", clusterService.GetClusterOverview)
	api.Get("/clusters/:clusterAlias/namespaces/:namespace/workloads", clusterService.ScanNamespace)

	// Service map routes
	api.Get("/services", serviceMapService.ListServices)
	api.Post("/services", serviceMapService.AddService)
	api.Delete("/services/:serviceAlias", serviceMapService.RemoveService)
	api.Post("/clusters/:clusterAlias/namespaces/:namespace/import", serviceMapService.ImportBulk)

	// Status matrix
	api.Get("/status", statusService.GetMatrix)
	api.Post("/status/refresh", statusService.Refresh)

	// Live status matrix via WebSocket
	api.Get("/ws/status", websocket.New(statusService.StreamStatus))
}
