package openrgb

import (
	"sync"

	"github.com/nerrad567/openrgb-bridge/internal/color"
	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/influxdb"
)

// TelemetryWriter records light observations.
// *influxdb.Client implements it.
type TelemetryWriter interface {
	WriteLightState(m influxdb.LightMetric)
	WriteAvailability(server string, online bool)
}

// Telemetry forwards state and availability events to a TelemetryWriter.
type Telemetry struct {
	server string
	bus    EventBus
	writer TelemetryWriter

	mu          sync.Mutex
	unsubscribe []func()
}

// NewTelemetry creates a recorder for one OpenRGB server.
// Call Start to begin recording.
func NewTelemetry(server string, bus EventBus, writer TelemetryWriter) *Telemetry {
	return &Telemetry{server: server, bus: bus, writer: writer}
}

// Start subscribes to state and availability events.
// Calling Start on a started recorder is a no-op.
func (t *Telemetry) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubscribe != nil {
		return
	}
	t.unsubscribe = []func(){
		t.bus.Subscribe(dispatcher.SignalState, t.handleState),
		t.bus.Subscribe(dispatcher.SignalAvailability, t.handleAvailability),
	}
}

// Stop unsubscribes from the bus.
func (t *Telemetry) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, unsub := range t.unsubscribe {
		unsub()
	}
	t.unsubscribe = nil
}

func (t *Telemetry) handleState(ev dispatcher.Event) {
	state, ok := ev.Payload.(LightState)
	if !ok {
		return
	}
	t.writer.WriteLightState(LightMetric(t.server, state, ev))
}

func (t *Telemetry) handleAvailability(ev dispatcher.Event) {
	online, ok := ev.Payload.(bool)
	if !ok {
		return
	}
	t.writer.WriteAvailability(t.server, online)
}

// LightMetric converts a published light state into a telemetry point.
// The RGB fields carry the color the light shows, black when off.
func LightMetric(server string, state LightState, ev dispatcher.Event) influxdb.LightMetric {
	var rgb struct{ R, G, B uint8 }
	if state.On {
		c := color.HSVToRGB(state.HS.H, state.HS.S, color.ValueFromBrightness(state.Brightness))
		rgb.R, rgb.G, rgb.B = c.R, c.G, c.B
	}
	return influxdb.LightMetric{
		Server:     server,
		Key:        state.Key,
		Kind:       string(state.Kind),
		On:         state.On,
		Available:  state.Available,
		Brightness: state.Brightness,
		Hue:        state.HS.H,
		Saturation: state.HS.S,
		R:          rgb.R,
		G:          rgb.G,
		B:          rgb.B,
		Time:       ev.Time,
	}
}
