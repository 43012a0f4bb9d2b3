// Package server exposes the trigger surface: one idempotent endpoint per
// pipeline stage plus liveness and metrics. The endpoints are thin; all
// extraction and reconciliation logic lives in internal/pipeline.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/campusops/facsync/config"
	"github.com/campusops/facsync/internal/courses"
	"github.com/campusops/facsync/internal/directory"
	"github.com/campusops/facsync/internal/identity"
	"github.com/campusops/facsync/internal/pipeline"
	"github.com/campusops/facsync/internal/store"
)

// Run wires the service together and serves HTTP until the listener
// fails. Dependencies are constructed here once and passed down; nothing
// reads config ambiently.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"ok": false, "error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	resolver := identity.NewResolver(cfg.Identity.Domain, cfg.Identity.TitleTokens)
	dir, err := directory.New(cfg.Sources.Faculty, resolver)
	if err != nil {
		return err
	}
	svc := pipeline.New(cfg, st, dir, courses.NewClient(cfg.Sources.Courses, resolver))

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	h := &SyncHandler{Pipeline: svc, Rdb: rdb, Logger: baseLogger}
	h.Register(e.Group("/api/sync"))

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
