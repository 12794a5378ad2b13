package handlers

import (
	"context"
	"time"

	"rentdesk/internal/config"
	applog "rentdesk/internal/log"
	"rentdesk/internal/notify"
	"rentdesk/internal/repos"
	"rentdesk/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
)

type Deps struct {
	Auth    *services.AuthService
	Rentals *services.RentalService
	Stock   *services.StockService
	Scanner *services.Scanner

	APIHandler   *APIHandler
	AdminHandler *AdminHandler
	AuthHandler  *AuthHandler
}

func NewDeps(db *sqlx.DB, cfg config.Config, clock services.Clock) *Deps {
	itemRepo := repos.NewItemRepo(db)
	invRepo := repos.NewInventoryRepo(db)
	rentalRepo := repos.NewRentalRepo(db)
	settingsRepo := repos.NewSettingsRepo(db)
	authRepo := repos.NewAuthorityRepo(db)

	rentalSvc := services.NewRentalService(itemRepo, rentalRepo, settingsRepo, clock)
	if cfg.PenaltyPerDay > 0 {
		rentalSvc.DefaultRate = cfg.PenaltyPerDay
	}
	stockSvc := services.NewStockService(invRepo)
	authSvc := &services.AuthService{Authorities: authRepo}
	r := retrier{attempts: cfg.RetryAttempts, backoff: 50 * time.Millisecond}

	loc, err := cfg.Location()
	if err != nil {
		applog.Warn(nil, "config.timezone.invalid", err, map[string]any{"fallback": "UTC"})
		loc = time.UTC
	}
	var n notify.Notifier = notify.LogNotifier{}
	if cfg.WebhookURL != "" {
		n = notify.NewWebhookNotifier(cfg.WebhookURL)
	}
	ledger := services.NewLedgerService(repos.NewNotificationRepo(db), clock, loc)
	scanner := services.NewScanner(rentalSvc, ledger, n, clock, loc)
	if cfg.RetryAttempts > 0 {
		scanner.RetryAttempts = cfg.RetryAttempts
	}

	return &Deps{
		Auth:         authSvc,
		Rentals:      rentalSvc,
		Stock:        stockSvc,
		Scanner:      scanner,
		APIHandler:   &APIHandler{Rentals: rentalSvc, Stock: stockSvc, retry: r},
		AdminHandler: &AdminHandler{Rentals: rentalSvc, Stock: stockSvc, Scanner: scanner, retry: r},
		AuthHandler:  &AuthHandler{Auth: authSvc},
	}
}

// retrier re-runs a whole operation on TRANSIENT store errors.
type retrier struct {
	attempts int
	backoff  time.Duration
}

func (r retrier) do(c *fiber.Ctx, fn func(ctx context.Context) error) error {
	ctx := c.UserContext()
	return services.Retry(ctx, r.attempts, r.backoff, func() error { return fn(ctx) })
}
