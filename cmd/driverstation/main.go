package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/open-teleop/driverstation/pkg/api"
	"github.com/open-teleop/driverstation/pkg/config"
	"github.com/open-teleop/driverstation/pkg/dispatch"
	"github.com/open-teleop/driverstation/pkg/events"
	"github.com/open-teleop/driverstation/pkg/joystick"
	"github.com/open-teleop/driverstation/pkg/joystick/hid"
	"github.com/open-teleop/driverstation/pkg/joystick/sdl"
	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/natsbridge"
	"github.com/open-teleop/driverstation/pkg/zeromq"
	"github.com/open-teleop/driverstation/services"
)

// SDL must be initialized and pumped from the same OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	configDir := flag.String("config", "./config", "directory containing "+config.FileName)
	flag.Parse()

	cfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rootLogger, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	rootLogger.Infof("Driver station starting for team %d (%s %d)", cfg.Team.Number, cfg.Team.Alliance, cfg.Team.Station)

	bus := events.NewBus(rootLogger.WithField(customlog.ComponentField, "events"))
	defer bus.Close()

	subsystem, err := newSubsystem(cfg.Input, rootLogger.WithField(customlog.ComponentField, "input"))
	if err != nil {
		rootLogger.Fatalf("Failed to initialize %s input backend: %v", cfg.Input.Backend, err)
	}

	source, err := joystick.NewSource(subsystem, joystick.Options{
		PollInterval: cfg.Input.PollInterval(),
		Deadzone:     cfg.Input.Deadzone,
		DeviceIndex:  cfg.Input.DeviceIndex,
		MaxDevices:   cfg.Input.MaxDevices,
	}, bus, rootLogger.WithField(customlog.ComponentField, "joystick"))
	if err != nil {
		rootLogger.Fatalf("Failed to create controller source: %v", err)
	}

	store := zeromq.NewClient(zeromq.ClientOptions{
		Port:              cfg.Link.Port,
		RequestTimeout:    cfg.Link.RequestTimeout(),
		HeartbeatInterval: cfg.Link.HeartbeatInterval(),
	}, rootLogger.WithField(customlog.ComponentField, "zeromq"))

	linkOpts := link.DefaultOptions()
	linkOpts.ConnectTimeout = cfg.Link.ConnectTimeout()
	linkOpts.TelemetryInterval = cfg.Link.TelemetryInterval()
	linkOpts.MaxReadFailures = cfg.Link.MaxReadFailures
	linkOpts.AddressOverride = cfg.Link.AddressOverride
	linkOpts.Alliance = cfg.Team.Alliance
	linkOpts.Station = cfg.Team.Station
	robot := link.New(store, linkOpts, bus, rootLogger.WithField(customlog.ComponentField, "link"))

	dispatcher := dispatch.New(robot, source, cfg.Dispatch.Interval(), bus, rootLogger.WithField(customlog.ComponentField, "dispatch"))

	console, err := services.NewConsoleService(robot, source, dispatcher, cfg.Team.Number, rootLogger.WithField(customlog.ComponentField, "console"))
	if err != nil {
		rootLogger.Fatalf("Failed to create console service: %v", err)
	}

	var bridge *natsbridge.Bridge
	if cfg.Events.NatsURL != "" {
		nc, err := natsbridge.Connect(cfg.Events.NatsURL, rootLogger.WithField(customlog.ComponentField, "nats"))
		if err != nil {
			rootLogger.Warnf("Event relay disabled: %v", err)
		} else {
			defer nc.Close()
			bridge = natsbridge.New(nc, cfg.Events.SubjectPrefix, rootLogger.WithField(customlog.ComponentField, "nats"))
			bridge.Start(bus)
		}
	}

	source.Start()
	dispatcher.Start()

	var app *fiber.App
	if cfg.Server.Enabled {
		app = newApp(console, bus, rootLogger.WithField(customlog.ComponentField, "api"))
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
			rootLogger.Infof("Control API listening on %s", addr)
			if err := app.Listen(addr); err != nil {
				rootLogger.Errorf("Control API stopped: %v", err)
			}
		}()
	}

	if cfg.Team.ConnectOnStartup {
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := console.Connect(context.Background(), cfg.Team.Number); err != nil {
				rootLogger.Warnf("Startup connect failed: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignal(quit, source, cfg.Input.PollInterval())
	rootLogger.Infof("Shutting down driver station...")

	if app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.ShutdownWithContext(ctx); err != nil {
			rootLogger.Errorf("Control API forced to shutdown: %v", err)
		}
		cancel()
	}

	// Disable and disconnect before anything upstream of the link stops.
	console.Disconnect()
	if err := dispatcher.Stop(); err != nil {
		rootLogger.Errorf("Failed to stop dispatch loop: %v", err)
	}
	if err := source.Close(); err != nil {
		rootLogger.Errorf("Failed to close controller source: %v", err)
	}
	if bridge != nil {
		bridge.Stop()
	}

	rootLogger.Infof("Driver station exited properly")
}

func newSubsystem(cfg config.InputConfig, logger customlog.Logger) (joystick.Subsystem, error) {
	switch cfg.Backend {
	case "hid":
		opts := hid.DefaultOptions()
		opts.VendorID = cfg.HID.VendorID
		opts.ProductID = cfg.HID.ProductID
		opts.Layout = hid.Layout{
			ReportSize:   cfg.HID.ReportSize,
			AxisOffsets:  cfg.HID.AxisOffsets,
			ButtonOffset: cfg.HID.ButtonOffset,
			ButtonCount:  cfg.HID.ButtonCount,
		}
		return hid.New(opts, logger)
	default:
		return sdl.New(logger)
	}
}

// waitForSignal blocks until quit fires, pumping the input subsystem on this
// thread when the backend needs it.
func waitForSignal(quit <-chan os.Signal, source *joystick.Source, interval time.Duration) {
	if !source.RequiresExternalPump() {
		<-quit
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			source.Pump()
		}
	}
}

func newApp(console services.ConsoleService, bus *events.Bus, apiLogger customlog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Driver Station",
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "driverstation",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api.RegisterConsoleRoutes(app, console, apiLogger)
	api.RegisterEventRoutes(app, bus, apiLogger)
	return app
}
