package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Pinger is anything that can report liveness; the Redis store satisfies
// it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and dependency status.
type HealthHandler struct {
	store Pinger // nil when the in-memory store is active
	db    *gorm.DB
	hub   *BoardHub
}

func NewHealthHandler(store Pinger, db *gorm.DB, hub *BoardHub) *HealthHandler {
	return &HealthHandler{store: store, db: db, hub: hub}
}

// Check returns 200 when the primary store is reachable, 503 otherwise.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := fiber.StatusOK
	checks := fiber.Map{}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["redis"] = "unreachable"
			status = "degraded"
			httpStatus = fiber.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not configured (in-memory store)"
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["database"] = "unreachable"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"connections": h.hub.ClientCount(),
		"checks":      checks,
	})
}
