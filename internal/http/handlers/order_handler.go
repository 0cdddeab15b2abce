package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/middleware"
	"github.com/channelpass/backend/internal/services"
)

type OrderHandler struct {
	orders *services.OrderService
	log    *zap.Logger
}

func NewOrderHandler(orders *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log}
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req dto.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid listing_id"})
	}

	order, err := h.orders.CreateOrder(c.Context(), middleware.GetUserID(c), listingID, req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCurrencyUnsupported):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unsupported currency"})
		case errors.Is(err, services.ErrListingInactive):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "listing is not active"})
		}
		h.log.Error("failed to create order", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	order, err := h.orders.GetOrder(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "order not found"})
	}
	if order.BuyerUserID != middleware.GetUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your order"})
	}
	return c.JSON(order)
}

func (h *OrderHandler) ListMyOrders(c *fiber.Ctx) error {
	orders, err := h.orders.ListBuyerOrders(c.Context(), middleware.GetUserID(c), c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		h.log.Error("failed to list orders", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(orders)
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	if err := h.orders.CancelOrder(c.Context(), middleware.GetUserID(c), id); err != nil {
		switch {
		case errors.Is(err, services.ErrNotOrderOwner):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your order"})
		case errors.Is(err, services.ErrOrderNotCancelable):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "order can no longer be cancelled"})
		}
		h.log.Error("failed to cancel order", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
