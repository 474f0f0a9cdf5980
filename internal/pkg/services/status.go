package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fleetview/fleetview/internal/pkg/status"
)

type StatusService struct {
	BaseService
	aggregator     *status.Aggregator
	streamInterval time.Duration
}

func NewStatusService(agg *status.Aggregator, streamInterval time.Duration, logger *slog.Logger) *StatusService {
	if streamInterval <= 0 {
		streamInterval = 15 * time.Second
	}

	return &StatusService{
		BaseService:    BaseService{Logger: logger},
		aggregator:     agg,
		streamInterval: streamInterval,
	}
}

type matrixResponse struct {
	Services    map[string]status.Snapshot `json:"services"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

// GetMatrix returns the status matrix, recomputing when ?refresh=true.
func (s *StatusService) GetMatrix(c *fiber.Ctx) error {
	force := c.QueryBool("refresh")

	matrix, at := s.aggregator.Matrix(c.Context(), force)

	return c.JSON(matrixResponse{Services: matrix, LastUpdated: at})
}

// Refresh forces a new aggregation pass.
func (s *StatusService) Refresh(c *fiber.Ctx) error {
	matrix, at := s.aggregator.Matrix(c.Context(), true)

	return c.JSON(matrixResponse{Services: matrix, LastUpdated: at})
}

// StreamStatus pushes the status matrix over a websocket on a fixed
// interval until the client disconnects.
func (s *StatusService) StreamStatus(c *websocket.Conn) {
	defer c.Close()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	// Detect client disconnect; reads are otherwise unused.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() bool {
		matrix, at := s.aggregator.Matrix(context.Background(), false)
		if err := c.WriteJSON(matrixResponse{Services: matrix, LastUpdated: at}); err != nil {
			return false
		}
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
