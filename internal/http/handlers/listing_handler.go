package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/http/dto"
	"github.com/channelpass/backend/internal/middleware"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/repositories"
)

type ListingHandler struct {
	listings *repositories.ListingRepo
	users    *repositories.UserRepo
	log      *zap.Logger
}

func NewListingHandler(listings *repositories.ListingRepo, users *repositories.UserRepo, log *zap.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, users: users, log: log}
}

func (h *ListingHandler) CreateListing(c *fiber.Ctx) error {
	var req dto.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Title == "" || req.PriceUSD <= 0 || req.DurationDays <= 0 || req.ChannelID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title, channel_id, positive price_usd and duration_days are required"})
	}

	userID := middleware.GetUserID(c)
	user, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unknown user"})
	}
	if !user.IsMerchant {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "merchant account required"})
	}

	listing := &models.Listing{
		MerchantUserID: userID,
		ChannelID:      req.ChannelID,
		Title:          req.Title,
		Description:    req.Description,
		PriceUSD:       req.PriceUSD,
		DurationDays:   req.DurationDays,
		IsActive:       true,
	}
	if err := h.listings.Create(c.Context(), listing); err != nil {
		h.log.Error("failed to create listing", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(listing)
}

func (h *ListingHandler) ListListings(c *fiber.Ctx) error {
	filter := repositories.ListingFilter{
		ActiveOnly: c.QueryBool("active", true),
		Limit:      c.QueryInt("limit", 20),
		Offset:     c.QueryInt("offset", 0),
	}
	if merchant := c.Query("merchant_id"); merchant != "" {
		id, err := uuid.Parse(merchant)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid merchant_id"})
		}
		filter.MerchantUserID = &id
	}

	listings, err := h.listings.List(c.Context(), filter)
	if err != nil {
		h.log.Error("failed to list listings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(listings)
}

func (h *ListingHandler) GetListing(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid listing id"})
	}

	listing, err := h.listings.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "listing not found"})
	}
	return c.JSON(listing)
}

func (h *ListingHandler) DeactivateListing(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid listing id"})
	}

	listing, err := h.listings.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "listing not found"})
	}
	if listing.MerchantUserID != middleware.GetUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your listing"})
	}

	if err := h.listings.SetActive(c.Context(), id, false); err != nil {
		h.log.Error("failed to deactivate listing", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
