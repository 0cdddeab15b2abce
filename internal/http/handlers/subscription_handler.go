package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/middleware"
	"github.com/channelpass/backend/internal/services"
)

type SubscriptionHandler struct {
	subs *services.SubscriptionService
	log  *zap.Logger
}

func NewSubscriptionHandler(subs *services.SubscriptionService, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, log: log}
}

func (h *SubscriptionHandler) GetSubscription(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid subscription id"})
	}

	sub, err := h.subs.GetSubscription(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "subscription not found"})
	}
	if sub.BuyerUserID != middleware.GetUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your subscription"})
	}
	return c.JSON(sub)
}

func (h *SubscriptionHandler) ListMySubscriptions(c *fiber.Ctx) error {
	subs, err := h.subs.ListBuyerSubscriptions(c.Context(), middleware.GetUserID(c), c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		h.log.Error("failed to list subscriptions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(subs)
}
