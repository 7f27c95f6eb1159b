package openrgb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// Connection tracks whether the OpenRGB server is reachable.
//
// The online flag flips to false on the first connection error seen by a
// poll or a write, and back to true when a poll reconnects. Every call of
// Failed or Recovered broadcasts an update so entities republish their
// availability; the availability signal itself is only sent on change.
//
// Thread Safety: All methods are safe for concurrent use.
type Connection struct {
	client sdk.Connector
	bus    EventBus

	online   atomic.Bool
	since    atomic.Time
	failures atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewConnection creates a connection tracker. The initial online flag
// mirrors client.IsConnected().
func NewConnection(client sdk.Connector, bus EventBus) *Connection {
	c := &Connection{
		client: client,
		bus:    bus,
	}
	c.online.Store(client.IsConnected())
	c.since.Store(time.Now())
	return c
}

// Online reports whether the server is currently considered reachable.
func (c *Connection) Online() bool {
	return c.online.Load()
}

// Since returns when the online flag last changed.
func (c *Connection) Since() time.Time {
	return c.since.Load()
}

// Failures returns how many times the connection was marked lost.
func (c *Connection) Failures() uint64 {
	return c.failures.Load()
}

// Reconnect dials the server again.
func (c *Connection) Reconnect(ctx context.Context) error {
	return c.client.Connect(ctx)
}

// Failed marks the connection lost. When it was online the client is
// disconnected and a warning logged.
func (c *Connection) Failed(cause error) {
	if c.online.CompareAndSwap(true, false) {
		c.client.Disconnect()
		c.failures.Inc()
		c.since.Store(time.Now())
		c.logWarn("connection lost, marking lights unavailable", "error", cause)
		c.bus.Publish(dispatcher.NewEvent(dispatcher.SignalAvailability, "", false))
	}
	c.online.Store(false)
	c.bus.Publish(dispatcher.NewEvent(dispatcher.SignalUpdate, "", nil))
}

// Recovered marks the connection reachable again.
func (c *Connection) Recovered() {
	if c.online.CompareAndSwap(false, true) {
		c.since.Store(time.Now())
		c.logInfo("connection reestablished")
		c.bus.Publish(dispatcher.NewEvent(dispatcher.SignalAvailability, "", true))
	}
	c.bus.Publish(dispatcher.NewEvent(dispatcher.SignalUpdate, "", nil))
}

// SetLogger sets the logger for the connection tracker.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
