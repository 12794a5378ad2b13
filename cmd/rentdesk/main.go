package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"rentdesk/internal/config"
	"rentdesk/internal/http/handlers"
	applog "rentdesk/internal/log"
	"rentdesk/internal/repos"
	"rentdesk/internal/services"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "rentdesk",
		Short:         "Inventory-aware rental desk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file (env vars override it)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the reminder scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Run one reminder pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return err
			}
			return scanOnce(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema and seed authorities",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return err
			}
			db, err := open(cfg)
			if err != nil {
				return err
			}
			return db.Close()
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogFile(path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[warn] could not open log file %s: %v", path, err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
}

func open(cfg config.Config) (*sqlx.DB, error) {
	db, err := repos.OpenDB(cfg.DBDSN, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	seeds := make([]repos.AuthoritySeed, 0, len(cfg.Authorities))
	for _, a := range cfg.Authorities {
		seeds = append(seeds, repos.AuthoritySeed{ID: a.ID, Name: a.Name, Key: a.Key})
	}
	if err := repos.Seed(db, repos.SeedOptions{
		PenaltyPerDay: cfg.PenaltyPerDay,
		Authorities:   seeds,
		Demo:          cfg.SeedDemo,
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func scanOnce(ctx context.Context, cfg config.Config) error {
	setupLogFile(cfg.LogFile)
	db, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	deps := handlers.NewDeps(db, cfg, services.SystemClock{})
	rep, err := deps.Scanner.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: due-soon %d/%d sent, overdue %d/%d sent\n",
		rep.RunID, rep.DueSoon.Sent, rep.DueSoon.Candidates, rep.Overdue.Sent, rep.Overdue.Candidates)
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	setupLogFile(cfg.LogFile)

	db, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	deps := handlers.NewDeps(db, cfg, services.SystemClock{})

	engine := html.New(cfg.TemplatesDir, ".html")
	engine.Reload(true)

	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   false, // set true behind HTTPS
		ContextKey:     "csrf",
		// The JSON API carries no browser session.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"path": c.Path()})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		if tok, ok := c.Locals("csrf").(string); ok {
			c.Locals("CSRFToken", tok)
		}
		return c.Next()
	})

	handlers.Mount(app, deps)
	app.Use(handlers.NotFound)

	if cfg.RemindersEnabled {
		go deps.Scanner.Run(ctx, cfg.ReminderInterval)
	}

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()
	applog.Info(nil, "server.start", map[string]any{"port": cfg.Port})
	return app.Listen(":" + cfg.Port)
}
