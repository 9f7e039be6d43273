package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/services"
)

// ConsoleHandler holds dependencies for the console API endpoints.
type ConsoleHandler struct {
	console services.ConsoleService
	logger  customlog.Logger
}

// NewConsoleHandler creates a new handler for console endpoints.
func NewConsoleHandler(console services.ConsoleService, logger customlog.Logger) *ConsoleHandler {
	if console == nil {
		panic("ConsoleService cannot be nil in NewConsoleHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConsoleHandler")
	}
	return &ConsoleHandler{
		console: console,
		logger:  logger,
	}
}

// RegisterConsoleRoutes registers the console API endpoints with the Fiber app.
func RegisterConsoleRoutes(app *fiber.App, console services.ConsoleService, logger customlog.Logger) {
	h := NewConsoleHandler(console, logger)

	apiGroup := app.Group("/api")

	apiGroup.Get("/status", h.handleStatus)
	apiGroup.Get("/telemetry", h.handleTelemetry)

	apiGroup.Post("/link/connect", h.handleConnect)
	apiGroup.Post("/link/disconnect", h.handleDisconnect)
	apiGroup.Post("/link/enable", h.handleEnable)
	apiGroup.Put("/link/mode", h.handleMode)

	apiGroup.Get("/devices", h.handleListDevices)
	apiGroup.Put("/devices/selected", h.handleSelectDevice)
	apiGroup.Put("/devices/deadzone", h.handleDeadzone)

	logger.Infof("Registered console API endpoints under /api")
}

func (h *ConsoleHandler) handleStatus(c *fiber.Ctx) error {
	return c.JSON(h.console.Status())
}

func (h *ConsoleHandler) handleTelemetry(c *fiber.Ctx) error {
	return c.JSON(h.console.Telemetry())
}

func (h *ConsoleHandler) handleConnect(c *fiber.Ctx) error {
	var req ConnectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, fmt.Errorf("invalid connect request: %w", err))
		}
	}

	h.logger.Debugf("Handling connect request for team %d", req.Identifier)
	err := h.console.Connect(c.UserContext(), req.Identifier)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"connected": true, "status": h.console.Status().Link})
	case errors.Is(err, link.ErrInvalidIdentifier):
		return badRequest(c, err)
	default:
		h.logger.Warnf("Connect failed: %v", err)
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{
			"connected": false,
			"error":     err.Error(),
		})
	}
}

func (h *ConsoleHandler) handleDisconnect(c *fiber.Ctx) error {
	h.console.Disconnect()
	return c.JSON(fiber.Map{"connected": false})
}

func (h *ConsoleHandler) handleEnable(c *fiber.Ctx) error {
	var req EnableRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return badRequest(c, errors.New("body must be {\"enabled\": true|false}"))
	}

	if !h.console.SetEnabled(*req.Enabled) {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"enabled": false,
			"error":   "not connected",
		})
	}
	return c.JSON(fiber.Map{"enabled": *req.Enabled})
}

func (h *ConsoleHandler) handleMode(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Errorf("invalid mode request: %w", err))
	}
	mode, err := link.ParseMode(req.Mode)
	if err != nil {
		return badRequest(c, err)
	}
	if err := h.console.SetMode(mode); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(fiber.Map{"mode": mode})
}

func (h *ConsoleHandler) handleListDevices(c *fiber.Ctx) error {
	devices, err := h.console.ListDevices()
	if err != nil {
		h.logger.Errorf("Failed to list devices: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to list devices: %v", err),
		})
	}
	if devices == nil {
		devices = []joystick.DeviceEntry{}
	}
	return c.JSON(fiber.Map{"devices": devices})
}

func (h *ConsoleHandler) handleSelectDevice(c *fiber.Ctx) error {
	var req SelectRequest
	if err := c.BodyParser(&req); err != nil || req.Index == nil {
		return badRequest(c, errors.New("body must be {\"index\": n}"))
	}
	if err := h.console.SelectDevice(*req.Index); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(fiber.Map{"selected": *req.Index})
}

func (h *ConsoleHandler) handleDeadzone(c *fiber.Ctx) error {
	var req DeadzoneRequest
	if err := c.BodyParser(&req); err != nil || req.Deadzone == nil {
		return badRequest(c, errors.New("body must be {\"deadzone\": x}"))
	}
	if err := h.console.SetDeadzone(*req.Deadzone); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(fiber.Map{"deadzone": *req.Deadzone})
}
