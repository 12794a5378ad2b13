package handlers

import (
	"context"

	"rentdesk/internal/domain"
	applog "rentdesk/internal/log"
	"rentdesk/internal/services"
	"rentdesk/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	Rentals *services.RentalService
	Stock   *services.StockService
	Scanner *services.Scanner
	retry   retrier
}

const overduePageSize = 25

// Console notices, keyed by the ?m= value the actions redirect with. No stock
// and already decided must read differently.
var notices = map[string]string{
	"approved":        "Rental approved. The requester can collect the item now.",
	"no_stock":        "No units of this item are free right now. The request stays pending.",
	"already_decided": "Another authority already handled this rental. Nothing to do.",
	"not_found":       "That rental does not exist.",
	"rejected":        "Request rejected.",
	"returned":        "Rental closed.",
	"penalty_saved":   "Penalty terms updated.",
	"rate_saved":      "Default penalty rate updated.",
	"busy":            "The store is busy. Please try again in a moment.",
	"pinged":          "Reminder sent to the requester.",
	"ping_failed":     "The reminder could not be delivered. Try again later.",
}

func authorityID(c *fiber.Ctx) int64 {
	id, _ := c.Locals("authority_id").(int64)
	return id
}

func back(c *fiber.Ctx, notice string) error {
	return c.Redirect("/admin/rentals?m=" + notice)
}

// failed handles faults common to all console actions.
func failed(c *fiber.Ctx, action string, rentalID int64, err error) error {
	if services.IsTransient(err) {
		applog.Warn(c, action+".busy", err, map[string]any{"rental_id": rentalID})
		return back(c, "busy")
	}
	applog.Error(c, action+".fail", err, map[string]any{"rental_id": rentalID})
	return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not complete the action"})
}

// loadFailed handles a console page whose reads failed after retries.
func loadFailed(c *fiber.Ctx, action string, err error, what string) error {
	if services.IsTransient(err) {
		applog.Warn(c, action+".busy", err, nil)
		c.Set(fiber.HeaderRetryAfter, "1")
		return c.Status(fiber.StatusServiceUnavailable).Render("notfound", fiber.Map{"Message": notices["busy"]})
	}
	applog.Error(c, action+".fail", err, nil)
	return c.Status(500).Render("notfound", fiber.Map{"Message": "Could not load " + what})
}

func decidedNotice(alreadyDecided bool) string {
	if alreadyDecided {
		return "already_decided"
	}
	return "not_found"
}

// GET /admin/rentals
func (h *AdminHandler) RentalsPage(c *fiber.Ctx) error {
	var pending, active []services.RentalView
	var stock []domain.Stock
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		if pending, err = h.Rentals.ListByStatus(ctx, domain.StatusRequested, 100); err != nil {
			return err
		}
		if active, err = h.Rentals.ListByStatus(ctx, domain.StatusApproved, 100); err != nil {
			return err
		}
		stock, err = h.Stock.Overview(ctx)
		return err
	})
	if err != nil {
		return loadFailed(c, "admin.rentals.list", err, "rentals")
	}
	return render(c, "admin_rentals", fiber.Map{
		"Notice":  notices[c.Query("m")],
		"Pending": pending,
		"Active":  active,
		"Stock":   stock,
	})
}

// GET /admin/overdue
func (h *AdminHandler) Overdue(c *fiber.Ctx) error {
	page := validate.Page(c.Query("page"))
	var rows []services.RentalView
	var total int
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		rows, total, err = h.Rentals.ListOverdue(ctx, overduePageSize, (page-1)*overduePageSize)
		return err
	})
	if err != nil {
		return loadFailed(c, "admin.overdue.list", err, "overdue rentals")
	}
	return render(c, "admin_overdue", fiber.Map{
		"Rows":    rows,
		"Total":   total,
		"Page":    page,
		"Prev":    page - 1,
		"Next":    page + 1,
		"HasNext": page*overduePageSize < total,
	})
}

// GET /admin/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	var st services.RenterStats
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		st, err = h.Rentals.Stats(ctx)
		return err
	})
	if err != nil {
		return loadFailed(c, "admin.stats", err, "statistics")
	}
	return render(c, "admin_stats", fiber.Map{
		"Top":         st.Top,
		"NotReturned": st.NotReturned,
		"Blacklist":   st.Blacklist,
		"MinLate":     services.BlacklistMinLate,
	})
}

// POST /admin/rentals/:id/ping
// One-off reminder; the daily reminder ledger is left alone.
func (h *AdminHandler) Ping(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(400).SendString("invalid rental id")
	}
	var res services.PingResult
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		res, err = h.Scanner.Ping(ctx, id)
		return err
	})
	if err != nil {
		return failed(c, "rental.ping", id, err)
	}
	switch res.Outcome {
	case services.OutcomeSent:
		applog.Audit(c, "rental.ping", map[string]any{"rental_id": id, "requester_id": res.Rental.RequesterID})
		return back(c, "pinged")
	case services.OutcomeNotDelivered:
		applog.Warn(c, "rental.ping.fail", res.Err, map[string]any{"rental_id": id})
		return back(c, "ping_failed")
	}
	return back(c, decidedNotice(res.AlreadyDecided))
}

// POST /admin/rentals/:id/approve
func (h *AdminHandler) Approve(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(400).SendString("invalid rental id")
	}
	var res services.ApproveResult
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		res, err = h.Rentals.ApproveIfAvailable(ctx, id, authorityID(c))
		return err
	})
	if err != nil {
		return failed(c, "rental.approve", id, err)
	}

	switch res.Outcome {
	case services.OutcomeApproved:
		fields := map[string]any{"rental_id": id, "item_id": res.Rental.ItemID, "requester_id": res.Rental.RequesterID}
		if res.Rental.DueAt != nil {
			fields["due_at"] = res.Rental.DueAt.Format("2006-01-02T15:04:05Z07:00")
		}
		applog.Audit(c, "rental.approve", fields)
		return back(c, "approved")
	case services.OutcomeRejectedNoStock:
		applog.Info(c, "rental.approve.no_stock", map[string]any{"rental_id": id})
		return back(c, "no_stock")
	}
	applog.Info(c, "rental.approve.noop", map[string]any{"rental_id": id, "already_decided": res.AlreadyDecided})
	return back(c, decidedNotice(res.AlreadyDecided))
}

// POST /admin/rentals/:id/reject
func (h *AdminHandler) Reject(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(400).SendString("invalid rental id")
	}
	var res services.RejectResult
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		res, err = h.Rentals.Reject(ctx, id, authorityID(c))
		return err
	})
	if err != nil {
		return failed(c, "rental.reject", id, err)
	}
	if res.Outcome != services.OutcomeRejected {
		return back(c, decidedNotice(res.AlreadyDecided))
	}
	applog.Audit(c, "rental.reject", map[string]any{"rental_id": id, "requester_id": res.Rental.RequesterID})
	return back(c, "rejected")
}

// POST /admin/rentals/:id/return
func (h *AdminHandler) Return(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(400).SendString("invalid rental id")
	}
	req := services.ReturnRequest{RentalID: id, AuthorityID: authorityID(c)}
	override, given, ok := validate.Amount(c.FormValue("penalty_override"))
	if !ok {
		return c.Status(400).SendString("invalid penalty override")
	}
	if given {
		req.PenaltyOverride = &override
	}
	if validate.Flag(c.FormValue("waive")) {
		waive := true
		req.Waived = &waive
	}

	var res services.ReturnResult
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		res, err = h.Rentals.Return(ctx, req)
		return err
	})
	if err != nil {
		return failed(c, "rental.return", id, err)
	}
	if res.Outcome != services.OutcomeReturned {
		return back(c, decidedNotice(res.AlreadyDecided))
	}
	applog.Audit(c, "rental.return", map[string]any{
		"rental_id": id, "penalty": res.Penalty, "days_late": res.DaysLate,
	})
	return back(c, "returned")
}

// POST /admin/rentals/:id/penalty
func (h *AdminHandler) UpdatePenalty(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(400).SendString("invalid rental id")
	}
	var ch services.PenaltyChange

	perDay, given, ok := validate.Amount(c.FormValue("per_day"))
	if !ok {
		return c.Status(400).SendString("invalid per-day penalty")
	}
	if given {
		ch.PerDay = &perDay
	}
	fixed, given, ok := validate.Amount(c.FormValue("fixed"))
	if !ok {
		return c.Status(400).SendString("invalid fixed penalty")
	}
	if given {
		ch.Fixed = &fixed
	}
	ch.ClearPerDay = validate.Flag(c.FormValue("clear_per_day"))
	ch.ClearFixed = validate.Flag(c.FormValue("clear_fixed"))

	// waived: "1" on, "0" off, empty keeps the current flag
	switch c.FormValue("waived") {
	case "1":
		v := true
		ch.Waived = &v
	case "0":
		v := false
		ch.Waived = &v
	}
	if raw := c.FormValue("note"); raw != "" {
		note, ok := validate.Note(raw)
		if !ok {
			return c.Status(400).SendString("note too long")
		}
		ch.Note = &note
	}

	var v services.RentalView
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		v, err = h.Rentals.UpdatePenalty(ctx, id, authorityID(c), ch)
		return err
	})
	if services.Code(err) == services.CodeNotFound {
		return back(c, "already_decided")
	}
	if err != nil {
		return failed(c, "rental.penalty.update", id, err)
	}
	applog.Audit(c, "rental.penalty.update", map[string]any{
		"rental_id": id, "per_day": v.Penalty.PerDay, "fixed": v.Penalty.Fixed, "waived": v.Penalty.Waived,
	})
	return back(c, "penalty_saved")
}

// GET /admin/settings/penalty
func (h *AdminHandler) PenaltySettings(c *fiber.Ctx) error {
	var rate int64
	err := h.retry.do(c, func(ctx context.Context) (err error) {
		rate, err = h.Rentals.PenaltyPerDay(ctx)
		return err
	})
	if err != nil {
		return loadFailed(c, "admin.settings.load", err, "settings")
	}
	return render(c, "admin_penalty", fiber.Map{"Rate": rate})
}

// POST /admin/settings/penalty
func (h *AdminHandler) SavePenaltySettings(c *fiber.Ctx) error {
	rate, given, ok := validate.Amount(c.FormValue("per_day"))
	if !ok || !given {
		return c.Status(400).SendString("invalid penalty rate")
	}
	err := h.retry.do(c, func(ctx context.Context) error {
		return h.Rentals.SetPenaltyPerDay(ctx, rate)
	})
	if err != nil {
		return failed(c, "settings.penalty", 0, err)
	}
	applog.Audit(c, "settings.penalty.update", map[string]any{"per_day": rate})
	return back(c, "rate_saved")
}
