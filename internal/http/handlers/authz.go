package handlers

import (
	"crypto/sha256"
	"encoding/hex"

	applog "rentdesk/internal/log"
	"rentdesk/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RequireAuthority admits requests whose session is bound to an authority.
// This is the permission gate; the rental core trusts the id it is given.
func RequireAuthority(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return c.Redirect("/login")
		}
		a, err := auth.Current(c.UserContext(), sid)
		if err != nil || a == nil {
			applog.Security(c, "access.denied.admin", map[string]any{"sid": sidTag(sid)})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Access denied"})
		}
		c.Locals("authority", a)
		c.Locals("authority_id", a.ID)
		return c.Next()
	}
}

// sidTag identifies a session in logs without exposing the cookie value.
func sidTag(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:6])
}
