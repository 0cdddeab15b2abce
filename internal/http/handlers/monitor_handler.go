package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/monitor"
)

// MonitorHandler serves the chain monitor status from the snapshot the
// monitor process periodically writes to redis.
type MonitorHandler struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewMonitorHandler(rdb *redis.Client, log *zap.Logger) *MonitorHandler {
	return &MonitorHandler{rdb: rdb, log: log}
}

func (h *MonitorHandler) Status(c *fiber.Ctx) error {
	raw, err := h.rdb.Get(c.Context(), monitor.StatusKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "monitor status unavailable"})
		}
		h.log.Error("failed to read monitor status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	var snap monitor.StatusSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		h.log.Error("corrupt monitor status snapshot", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.MonitorStatusResponse{
		Networks:      snap.Networks,
		WatchedCount:  snap.WatchedCount,
		UpdatedAtUnix: snap.UpdatedAtUnix,
	})
}
