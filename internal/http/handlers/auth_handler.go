package handlers

import (
	"time"

	"rentdesk/internal/log"
	"rentdesk/internal/services"
	"rentdesk/internal/validate"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AuthHandler struct {
	Auth *services.AuthService
}

func ensureSID(c *fiber.Ctx) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   false,
		})
	}
	return sid
}

func (h *AuthHandler) LoginForm(c *fiber.Ctx) error {
	return render(c, "login", fiber.Map{"Err": ""})
}

func (h *AuthHandler) loginFailed(c *fiber.Ctx, fields map[string]any) error {
	log.Security(c, "auth.login.fail", fields)
	return c.Status(401).Render("login", fiber.Map{"Err": "Invalid authority id or key", "CSRFToken": c.Cookies("csrf_")})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	sid := ensureSID(c)
	raw := c.FormValue("authority_id")
	id, ok := validate.ID(raw)
	if !ok {
		return h.loginFailed(c, map[string]any{"authority_id": raw, "reason": "bad_format"})
	}
	key := c.FormValue("key")
	if !validate.Key(key) {
		return h.loginFailed(c, map[string]any{"authority_id": id, "reason": "bad_key_format"})
	}

	a, err := h.Auth.Login(c.UserContext(), sid, id, key)
	if err != nil {
		return h.loginFailed(c, map[string]any{"authority_id": id})
	}

	c.Locals("authority_id", a.ID)
	log.Audit(c, "auth.login.success", map[string]any{"authority_id": a.ID, "name": a.Name})
	return c.Redirect("/admin/rentals")
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := ensureSID(c)
	_ = h.Auth.Logout(c.UserContext(), sid)
	// Expire cookie
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   false,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c, "auth.logout", map[string]any{"sid": sidTag(sid)})
	return c.Redirect("/login")
}
