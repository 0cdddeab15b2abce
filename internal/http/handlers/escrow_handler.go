package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/escrow"
	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/middleware"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/repositories"
)

type EscrowHandler struct {
	escrow   *escrow.Service
	balances *repositories.BalanceRepo
	log      *zap.Logger
}

func NewEscrowHandler(escrowSvc *escrow.Service, balances *repositories.BalanceRepo, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrow: escrowSvc, balances: balances, log: log}
}

func (h *EscrowHandler) GetByOrder(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("orderId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.GetByOrderID(c.Context(), orderID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow entry not found"})
		}
		h.log.Error("failed to fetch escrow entry", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(entry)
}

// MyBalances returns the calling merchant's per-currency balances.
func (h *EscrowHandler) MyBalances(c *fiber.Ctx) error {
	balances, err := h.balances.ListByMerchant(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("failed to list merchant balances", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(balances)
}

// MyBalance returns one currency's balance, zero-valued when the
// merchant has never sold in it.
func (h *EscrowHandler) MyBalance(c *fiber.Ctx) error {
	currency := c.Params("currency")
	if !models.IsSupportedCurrency(currency) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unsupported currency"})
	}

	balance, err := h.escrow.MerchantBalance(c.Context(), middleware.GetUserID(c), currency)
	if err != nil {
		h.log.Error("failed to fetch merchant balance", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(balance)
}

func (h *EscrowHandler) MyTotals(c *fiber.Ctx) error {
	held, released, err := h.escrow.MerchantTotals(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("failed to compute merchant totals", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.MerchantTotalsResponse{Held: held, Released: released})
}

// HeldTotals is admin-only, it reports platform-wide custody per currency.
func (h *EscrowHandler) HeldTotals(c *fiber.Ctx) error {
	totals, err := h.escrow.HeldTotalsByCurrency(c.Context())
	if err != nil {
		h.log.Error("failed to compute held totals", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(totals)
}

func (h *EscrowHandler) AuditTrail(c *fiber.Ctx) error {
	filter := models.AuditFilter{
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if v := c.Query("entity_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid entity_id"})
		}
		filter.EntityID = &id
	}
	if v := c.Query("order_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order_id"})
		}
		filter.OrderID = &id
	}
	if v := c.Query("subscription_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid subscription_id"})
		}
		filter.SubscriptionID = &id
	}
	if v := c.Query("action"); v != "" {
		filter.Action = &v
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid from timestamp, expected RFC3339"})
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid to timestamp, expected RFC3339"})
		}
		filter.To = &t
	}

	entries, err := h.escrow.AuditTrail(c.Context(), filter)
	if err != nil {
		h.log.Error("failed to query audit trail", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(entries)
}

func (h *EscrowHandler) GetFee(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"fee_percentage": h.escrow.GetPlatformFeePercentage()})
}

func (h *EscrowHandler) SetFee(c *fiber.Ctx) error {
	var req dto.SetFeeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := h.escrow.SetPlatformFeePercentage(req.FeePercentage); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(fiber.Map{"fee_percentage": h.escrow.GetPlatformFeePercentage()})
}
