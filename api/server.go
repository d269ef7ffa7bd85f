// Package api serves read-only archive status over HTTP.
package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"archive-bot/archiver"
	"archive-bot/database"
	"archive-bot/normalize"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultSnapshotLimit = 100

// Server exposes status.json, audit snapshots and metrics for one output directory.
type Server struct {
	outputDir string
	app       *fiber.App
}

// NewServer builds the fiber app. Request logging is skipped when quiet is set.
func NewServer(outputDir string, quiet bool) *Server {
	s := &Server{outputDir: outputDir}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	if !quiet {
		app.Use(logger.New())
	}
	s.app = app
	s.SetupRoutes(app)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until the app is shut down.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// SetupRoutes registers the read-only routes on app.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/healthz", s.Health)
	app.Get("/status", s.Status)
	app.Get("/guilds", s.Guilds)
	app.Get("/guilds/:guild/snapshots", s.Snapshots)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Health reports liveness.
func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Status returns the content of status.json, or an empty object before any run.
func (s *Server) Status(c *fiber.Ctx) error {
	status, err := database.ReadStatus(filepath.Join(s.outputDir, database.StatusFileName))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to read status: %s", err.Error()),
		})
	}
	if status == nil {
		return c.JSON(fiber.Map{"guilds": fiber.Map{}})
	}
	return c.JSON(status)
}

// Guilds lists the guild directories under the output directory.
func (s *Server) Guilds(c *fiber.Ctx) error {
	guilds, err := archiver.DiscoverGuilds(s.outputDir)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to list guilds: %s", err.Error()),
		})
	}
	if guilds == nil {
		guilds = []string{}
	}
	return c.JSON(fiber.Map{"guilds": guilds})
}

// Snapshots returns a guild's audit snapshots newest-first, optionally for one channel.
func (s *Server) Snapshots(c *fiber.Ctx) error {
	guildID := c.Params("guild")
	if !normalize.IsSnowflake(guildID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Guild ID must be a snowflake",
		})
	}
	channelID := c.Query("channel")
	if channelID != "" && !normalize.IsSnowflake(channelID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Channel ID must be a snowflake",
		})
	}
	limit := c.QueryInt("limit", defaultSnapshotLimit)
	if limit <= 0 || limit > 1000 {
		limit = defaultSnapshotLimit
	}

	store, err := database.OpenStore(s.outputDir, guildID)
	if errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Guild %s has no store", guildID),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to open store: %s", err.Error()),
		})
	}
	defer store.Close()

	ss, err := store.Snapshots()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to open snapshots: %s", err.Error()),
		})
	}
	snaps, err := ss.History(c.UserContext(), channelID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to list snapshots: %s", err.Error()),
		})
	}
	return c.JSON(snaps)
}
