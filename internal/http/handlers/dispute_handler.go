package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/dispute"
	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/middleware"
)

type DisputeHandler struct {
	disputes *dispute.Service
	log      *zap.Logger
}

func NewDisputeHandler(disputes *dispute.Service, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, log: log}
}

func (h *DisputeHandler) CreateDispute(c *fiber.Ctx) error {
	var req dto.CreateDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order_id"})
	}

	d, err := h.disputes.CreateDispute(c.Context(), middleware.GetUserID(c), orderID, req.Issue)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrEmptyIssue), errors.Is(err, dispute.ErrIssueTooLong):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, dispute.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "order not found"})
		case errors.Is(err, dispute.ErrNotOrderBuyer):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your order"})
		case errors.Is(err, dispute.ErrOrderNotPaid), errors.Is(err, dispute.ErrNoSubscription):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, dispute.ErrDuplicateDispute):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "an active dispute already exists for this order"})
		case errors.Is(err, dispute.ErrWindowClosed):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: "dispute window has closed"})
		}
		h.log.Error("failed to create dispute", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(d)
}

func (h *DisputeHandler) GetDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	d, err := h.disputes.GetDispute(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "dispute not found"})
	}
	return c.JSON(d)
}

// ListDisputes is admin-only, the status query filters by dispute status.
func (h *DisputeHandler) ListDisputes(c *fiber.Ctx) error {
	disputes, err := h.disputes.ListByStatus(c.Context(), c.Query("status"), c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		h.log.Error("failed to list disputes", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(disputes)
}

func (h *DisputeHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	var req dto.UpdateDisputeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	d, err := h.disputes.UpdateStatus(c.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "dispute not found"})
		case errors.Is(err, dispute.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("failed to update dispute status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(d)
}

func (h *DisputeHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	d, err := h.disputes.ResolveDispute(c.Context(), id, middleware.GetUserID(c), req.Resolution)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "dispute not found"})
		case errors.Is(err, dispute.ErrInvalidResolution):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, dispute.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "dispute already resolved or closed"})
		}
		h.log.Error("failed to resolve dispute", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(d)
}
