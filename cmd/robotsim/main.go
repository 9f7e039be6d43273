// Command robotsim serves the robot end of the key-value store so the console
// can be exercised without hardware. Telemetry drifts slowly and every console
// write is logged.
package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-teleop/driverstation/pkg/link"
	customlog "github.com/open-teleop/driverstation/pkg/log"
	"github.com/open-teleop/driverstation/pkg/zeromq"
)

func main() {
	endpoint := flag.String("listen", "tcp://*:5810", "ZeroMQ endpoint to bind")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*level, "")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	srv := zeromq.NewServer(logger.WithField(customlog.ComponentField, "robot"))
	srv.OnPut(func(e link.Entry) {
		switch e.Key {
		case link.KeyEnabled, link.KeyMode, link.KeyAlliance, link.KeyStation:
			logger.Infof("Console set %s", e)
		default:
			logger.Debugf("Console set %s", e)
		}
	})

	bound, err := srv.Listen(*endpoint)
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}
	logger.Infof("Robot simulator ready on %s", bound)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		publishTelemetry(srv, time.Since(start))
		select {
		case <-quit:
			if err := srv.Stop(); err != nil {
				logger.Errorf("Failed to stop server: %v", err)
			}
			return
		case <-ticker.C:
		}
	}
}

func publishTelemetry(srv *zeromq.Server, elapsed time.Duration) {
	t := elapsed.Seconds()
	srv.Set(link.Number(link.KeyBatteryVoltage, 12.6-0.002*t+0.05*math.Sin(t)))
	srv.Set(link.Number(link.KeyCPUPercent, 35+10*math.Sin(t/3)))
	srv.Set(link.Number(link.KeyRAMPercent, 48+2*math.Cos(t/7)))
}
