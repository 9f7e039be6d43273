package api

import (
	"errors"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/driverstation/pkg/events"
	customlog "github.com/open-teleop/driverstation/pkg/log"
)

// Subscriber hands out event subscriptions; *events.Bus implements it.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// RegisterEventRoutes serves the event stream at /ws/events.
func RegisterEventRoutes(app *fiber.App, bus Subscriber, logger customlog.Logger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		EventsWebSocketHandler(conn, bus, logger)
	}))
	logger.Infof("Registered event stream at /ws/events")
}

// EventsWebSocketHandler pushes every bus event to the client as JSON until
// either side closes.
func EventsWebSocketHandler(conn *websocket.Conn, bus Subscriber, logger customlog.Logger) {
	logger.Infof("Events WebSocket connected: %s", conn.RemoteAddr())

	ch, cancel := bus.Subscribe(events.DefaultBuffer)
	defer cancel()

	// Inbound messages are ignored; reading is how a close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClose(logger, err)
				return
			}
		}
	}()

	if err := streamEvents(ch, conn, closed); err != nil {
		logClose(logger, err)
	}
	logger.Infof("Events WebSocket disconnected: %s", conn.RemoteAddr())
}

// streamEvents writes events from ch until ch closes, done fires, or a write fails.
func streamEvents(ch <-chan events.Event, w jsonWriter, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := w.WriteJSON(e); err != nil {
				return err
			}
		}
	}
}

func logClose(logger customlog.Logger, err error) {
	switch {
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.Errorf("Events WS error: %v", err)
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		logger.Infof("Events WS connection closed normally.")
	default:
		logger.Infof("Events WS connection closed: %v", err)
	}
}
