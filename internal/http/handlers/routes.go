package handlers

import (
	"errors"
	"strings"
	"time"

	applog "rentdesk/internal/log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Mount registers every route. Global middleware (request id, CSRF, ...) is
// the caller's business.
func Mount(app *fiber.App, d *Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })

	// JSON API for the requester front-end
	api := app.Group("/api/v1")
	availLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	})
	api.Get("/items/:id/availability", availLimiter, d.APIHandler.Availability)
	api.Post("/rentals", d.APIHandler.Create)
	api.Get("/rentals/:id", d.APIHandler.Get)
	api.Get("/requesters/:id/rentals", d.APIHandler.ListByRequester)

	// Authority console
	app.Get("/login", d.AuthHandler.LoginForm)
	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("login", fiber.Map{"Err": "Too many attempts. Please try again later."})
		},
	}), d.AuthHandler.Login)
	app.Post("/logout", d.AuthHandler.Logout)

	admin := app.Group("/admin", RequireAuthority(d.Auth))
	admin.Get("/", func(c *fiber.Ctx) error { return c.Redirect("/admin/rentals") })
	admin.Get("/rentals", d.AdminHandler.RentalsPage)
	admin.Get("/overdue", d.AdminHandler.Overdue)
	admin.Post("/rentals/:id/approve", d.AdminHandler.Approve)
	admin.Post("/rentals/:id/reject", d.AdminHandler.Reject)
	admin.Post("/rentals/:id/return", d.AdminHandler.Return)
	admin.Post("/rentals/:id/penalty", d.AdminHandler.UpdatePenalty)
	admin.Post("/rentals/:id/ping", d.AdminHandler.Ping)
	admin.Get("/stats", d.AdminHandler.Stats)
	admin.Get("/settings/penalty", d.AdminHandler.PenaltySettings)
	admin.Post("/settings/penalty", d.AdminHandler.SavePenaltySettings)
}

// NotFound is the catch-all; register it last.
func NotFound(c *fiber.Ctx) error {
	return c.Status(404).Render("notfound", fiber.Map{"Message": "Page not found"})
}

// ErrorHandler logs the fault and shows a friendly page without internals.
// Client errors raised by middleware (CSRF, body limits) keep their status.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code >= 400 && fe.Code < 500 {
		applog.Security(c, "request.rejected", map[string]any{"status": fe.Code, "reason": fe.Message})
		if strings.HasPrefix(c.Path(), "/api/") {
			return c.Status(fe.Code).JSON(fiber.Map{"error": strings.ToLower(fe.Message)})
		}
		if rerr := c.Status(fe.Code).Render("notfound", fiber.Map{"Message": fe.Message}); rerr != nil {
			return c.Status(fe.Code).SendString(fe.Message)
		}
		return nil
	}
	applog.Error(c, "server.error", err, nil)
	if strings.HasPrefix(c.Path(), "/api/") {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if rerr := c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{
		"Message": "Something went wrong. Please try again.",
	}); rerr != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong. Please try again.")
	}
	return nil
}
