package handlers

import (
	"context"
	"errors"

	"rentdesk/internal/domain"
	applog "rentdesk/internal/log"
	"rentdesk/internal/services"
	"rentdesk/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type APIHandler struct {
	Rentals *services.RentalService
	Stock   *services.StockService
	retry   retrier
}

type createRentalReq struct {
	ItemID       int64 `json:"item_id"`
	RequesterID  int64 `json:"requester_id"`
	DurationDays int   `json:"duration_days"`
}

// apiError maps a coded error onto a status without leaking internals.
func apiError(c *fiber.Ctx, action string, err error) error {
	var se *services.Error
	errors.As(err, &se)
	switch services.Code(err) {
	case services.CodeInvalidArgument:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": se.Message})
	case services.CodeNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case services.CodeTransient:
		applog.Warn(c, action+".busy", err, nil)
		c.Set(fiber.HeaderRetryAfter, "1")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy, retry shortly"})
	}
	applog.Error(c, action+".fail", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// GET /api/v1/items/:id/availability
// Advisory only; approval re-checks stock atomically.
func (h *APIHandler) Availability(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid item id"})
	}
	var s domain.Stock
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		s, err = h.Stock.AvailableUnits(ctx, id)
		return err
	})
	if err != nil {
		return apiError(c, "api.availability", err)
	}
	return c.JSON(s)
}

// POST /api/v1/rentals
func (h *APIHandler) Create(c *fiber.Ctx) error {
	var req createRentalReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if req.ItemID <= 0 || req.RequesterID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "item_id and requester_id must be positive"})
	}
	if req.DurationDays < 1 || req.DurationDays > validate.MaxDays {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_days out of range"})
	}

	var res services.CreateResult
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		res, err = h.Rentals.Create(ctx, req.ItemID, req.RequesterID, req.DurationDays)
		return err
	})
	if err != nil {
		return apiError(c, "rental.request", err)
	}

	switch res.Outcome {
	case services.OutcomeNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "item not found"})
	case services.OutcomeOutOfStock:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "out_of_stock",
			"message": "All units of this item are rented out right now.",
		})
	}
	applog.Info(c, "rental.request", map[string]any{
		"rental_id": res.RentalID, "item_id": req.ItemID, "requester_id": req.RequesterID, "days": req.DurationDays,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":        res.RentalID,
		"ref":       res.Ref,
		"status":    "requested",
		"fee_total": res.FeeTotal,
	})
}

// GET /api/v1/rentals/:id (id or ref)
func (h *APIHandler) Get(c *fiber.Ctx) error {
	// numeric id or public ref
	var get func(ctx context.Context) (services.RentalView, error)
	if id, ok := validate.ID(c.Params("id")); ok {
		get = func(ctx context.Context) (services.RentalView, error) { return h.Rentals.Get(ctx, id) }
	} else if ref, ok := validate.Ref(c.Params("id")); ok {
		get = func(ctx context.Context) (services.RentalView, error) { return h.Rentals.GetByRef(ctx, ref) }
	} else {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid rental id"})
	}
	var v services.RentalView
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		v, err = get(ctx)
		return err
	})
	if err != nil {
		return apiError(c, "api.rental.get", err)
	}
	return c.JSON(v)
}

// GET /api/v1/requesters/:id/rentals
func (h *APIHandler) ListByRequester(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid requester id"})
	}
	var list []services.RentalView
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		list, err = h.Rentals.ListByRequester(ctx, id, 100)
		return err
	})
	if err != nil {
		return apiError(c, "api.rentals.list", err)
	}
	return c.JSON(fiber.Map{"rentals": list})
}
