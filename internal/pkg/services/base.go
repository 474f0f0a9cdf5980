package services

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/credentials"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/registry"
	"github.com/fleetview/fleetview/internal/pkg/scanner"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

// BaseService provides common functionality for all services
type BaseService struct {
	Logger *slog.Logger
}

// Error returns a standardized error response
func (s *BaseService) Error(c *fiber.Ctx, status int, format string, args ...interface{}) error {
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	if s.Logger != nil {
		s.Logger.Error(message)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// NotFound returns a standardized 404 response
func (s *BaseService) NotFound(c *fiber.Ctx, resourceType string, id string) error {
	message := fmt.Sprintf("%s not found with id: %s", resourceType, id)
	if s.Logger != nil {
		s.Logger.Warn(message)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": message,
	})
}

// BadRequest returns a standardized 400 response
func (s *BaseService) BadRequest(c *fiber.Ctx, message string) error {
	if s.Logger != nil {
		s.Logger.Warn("Bad request: " + message)
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
	})
}

// DomainError maps a domain error to the matching HTTP response:
// duplicates conflict, unknown aliases 404, credential problems 401,
// unreachable clusters 502, failed persists 500.
func (s *BaseService) DomainError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var (
		persistErr     *store.PersistenceError
		unavailableErr *clientpool.ClusterUnavailableError
	)

	switch {
	case errors.Is(err, descriptors.ErrDuplicateAlias),
		errors.Is(err, registry.ErrDuplicateServiceAlias),
		errors.Is(err, registry.ErrDuplicateMapping):
		status = fiber.StatusConflict
	case errors.Is(err, descriptors.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, scanner.ErrNamespaceNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, descriptors.ErrConfigInvalid):
		status = fiber.StatusBadRequest
	case errors.Is(err, credentials.ErrCredentialMissing),
		errors.Is(err, credentials.ErrCredentialExpired),
		errors.Is(err, credentials.ErrNotAuthenticated):
		status = fiber.StatusUnauthorized
	case errors.As(err, &unavailableErr):
		// The wrapped cause may still be a credential problem.
		if errors.Is(err, credentials.ErrCredentialMissing) ||
			errors.Is(err, credentials.ErrCredentialExpired) ||
			errors.Is(err, credentials.ErrNotAuthenticated) {
			status = fiber.StatusUnauthorized
		} else {
			status = fiber.StatusBadGateway
		}
	case errors.As(err, &persistErr):
		status = fiber.StatusInternalServerError
	}

	if s.Logger != nil {
		s.Logger.Warn("Request failed", "status", status, "error", err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
