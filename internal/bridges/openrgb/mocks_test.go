package openrgb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/openrgb-bridge/internal/audit"
	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/entity"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/mqtt"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SimulateMessage delivers a message to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", pattern)
	}
	return handler(topic, payload)
}

// Messages returns the messages published on topic, oldest first.
func (m *MockMQTTClient) Messages(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the last payload published on topic.
func (m *MockMQTTClient) Last(topic string) ([]byte, bool) {
	msgs := m.Messages(topic)
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[len(msgs)-1].Payload, true
}

// LastPayloads returns the last payload of every topic published so far.
func (m *MockMQTTClient) LastPayloads() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for _, p := range m.published {
		out[p.Topic] = p.Payload
	}
	return out
}

// TopicsWithPrefix returns every distinct topic published under prefix.
func (m *MockMQTTClient) TopicsWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range m.published {
		if strings.HasPrefix(p.Topic, prefix) && !seen[p.Topic] {
			seen[p.Topic] = true
			out = append(out, p.Topic)
		}
	}
	return out
}

// MockConnector implements sdk.Connector with an in-memory server.
type MockConnector struct {
	mu sync.Mutex

	// server is what the next Update returns; cache is what the last one did.
	server []*sdk.Device
	cache  []*sdk.Device

	connected  bool
	connectErr error
	updateErr  error
	writeErr   error

	connects    int
	updates     int
	disconnects int
	colorWrites []colorWrite
	modeWrites  []modeWrite

	listUpdated chan struct{}
}

type colorWrite struct {
	Device int
	LED    int // -1 for the whole device
	Color  sdk.Color
}

type modeWrite struct {
	Device int
	Mode   string
}

var _ sdk.Connector = (*MockConnector)(nil)

func NewMockConnector(devices ...*sdk.Device) *MockConnector {
	m := &MockConnector{
		connected:   true,
		listUpdated: make(chan struct{}, 1),
	}
	m.SetDevices(devices...)
	return m
}

// SetDevices replaces the server's device list. Device IDs follow order.
func (m *MockConnector) SetDevices(devices ...*sdk.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = make([]*sdk.Device, len(devices))
	for i, d := range devices {
		c := d.Clone()
		c.ID = i
		m.server[i] = c
	}
}

func (m *MockConnector) SetUpdateError(err error) {
	m.mu.Lock()
	m.updateErr = err
	m.mu.Unlock()
}

func (m *MockConnector) SetConnectError(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *MockConnector) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *MockConnector) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *MockConnector) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.disconnects++
	m.mu.Unlock()
}

func (m *MockConnector) Update(_ context.Context) ([]*sdk.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if !m.connected {
		return nil, sdk.ErrNotConnected
	}
	m.cache = make([]*sdk.Device, len(m.server))
	out := make([]*sdk.Device, len(m.server))
	for i, d := range m.server {
		m.cache[i] = d.Clone()
		out[i] = d.Clone()
	}
	return out, nil
}

func (m *MockConnector) Devices() []*sdk.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sdk.Device, len(m.cache))
	for i, d := range m.cache {
		out[i] = d.Clone()
	}
	return out
}

// apply runs fn on the cached and the server copy of device id.
func (m *MockConnector) apply(id int, fn func(d *sdk.Device)) {
	for _, list := range [][]*sdk.Device{m.cache, m.server} {
		if id >= 0 && id < len(list) {
			fn(list[id])
		}
	}
}

func (m *MockConnector) SetDeviceColor(_ context.Context, deviceID int, c sdk.Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if deviceID < 0 || deviceID >= len(m.cache) {
		return sdk.ErrDeviceNotFound
	}
	m.colorWrites = append(m.colorWrites, colorWrite{Device: deviceID, LED: -1, Color: c})
	m.apply(deviceID, func(d *sdk.Device) {
		for i := range d.Colors {
			d.Colors[i] = c
		}
	})
	return nil
}

func (m *MockConnector) SetLEDColor(_ context.Context, deviceID, led int, c sdk.Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if deviceID < 0 || deviceID >= len(m.cache) {
		return sdk.ErrDeviceNotFound
	}
	m.colorWrites = append(m.colorWrites, colorWrite{Device: deviceID, LED: led, Color: c})
	m.apply(deviceID, func(d *sdk.Device) {
		if led < len(d.Colors) {
			d.Colors[led] = c
		}
	})
	return nil
}

func (m *MockConnector) SetMode(_ context.Context, deviceID int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if deviceID < 0 || deviceID >= len(m.cache) {
		return sdk.ErrDeviceNotFound
	}
	idx := -1
	for i, mode := range m.cache[deviceID].Modes {
		if strings.EqualFold(mode.Name, name) {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", sdk.ErrModeNotFound, name)
	}
	m.modeWrites = append(m.modeWrites, modeWrite{Device: deviceID, Mode: name})
	m.apply(deviceID, func(d *sdk.Device) { d.ActiveMode = idx })
	return nil
}

func (m *MockConnector) DeviceListUpdated() <-chan struct{} {
	return m.listUpdated
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockConnector) Close() error {
	m.Disconnect()
	return nil
}

func (m *MockConnector) ColorWrites() []colorWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]colorWrite(nil), m.colorWrites...)
}

func (m *MockConnector) ModeWrites() []modeWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]modeWrite(nil), m.modeWrites...)
}

func (m *MockConnector) Counts() (connects, updates, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.updates, m.disconnects
}

// recordingBus implements EventBus by recording events without delivering them.
type recordingBus struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (r *recordingBus) Publish(ev dispatcher.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingBus) Subscribe(dispatcher.Signal, dispatcher.Handler) func() {
	return func() {}
}

func (r *recordingBus) Signals(signal dispatcher.Signal) []dispatcher.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatcher.Event
	for _, ev := range r.events {
		if ev.Signal == signal {
			out = append(out, ev)
		}
	}
	return out
}

// recordingLogger implements Logger and keeps warning messages.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (r *recordingLogger) Debug(string, ...any) {}
func (r *recordingLogger) Info(string, ...any)  {}
func (r *recordingLogger) Error(string, ...any) {}

func (r *recordingLogger) Warn(msg string, _ ...any) {
	r.mu.Lock()
	r.warns = append(r.warns, msg)
	r.mu.Unlock()
}

func (r *recordingLogger) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warns...)
}

// recordingAuditor implements CommandAuditor.
type recordingAuditor struct {
	mu       sync.Mutex
	commands []audit.Command
}

func (r *recordingAuditor) RecordCommand(_ context.Context, c audit.Command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
}

func (r *recordingAuditor) Commands() []audit.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Command(nil), r.commands...)
}

// Test fixtures.

func testStrip() *sdk.Device {
	return &sdk.Device{
		Type:        sdk.DeviceTypeLEDStrip,
		Name:        "Desk Strip",
		Vendor:      "Acme",
		Description: "ARGB strip",
		Version:     "1.2",
		Serial:      "SN-001",
		Modes: []sdk.Mode{
			{Index: 0, Name: "Direct"},
			{Index: 1, Name: "Static"},
			{Index: 2, Name: "Breathing"},
			{Index: 3, Name: "Off"},
		},
		ActiveMode: 1,
		LEDs:       []sdk.LED{{Name: "LED 1"}, {Name: "LED 2"}, {Name: "LED 3"}},
		Colors:     []sdk.Color{{R: 255}, {R: 255}, {R: 255}},
	}
}

// testFan has no serial, no Off mode and only a Direct mode.
func testFan() *sdk.Device {
	return &sdk.Device{
		Type:   sdk.DeviceTypeCooler,
		Name:   "Case Fan",
		Vendor: "FanCo",
		Modes: []sdk.Mode{
			{Index: 0, Name: "Direct"},
			{Index: 1, Name: "Rainbow"},
		},
		ActiveMode: 0,
		LEDs:       []sdk.LED{{Name: "Ring"}},
		Colors:     []sdk.Color{{G: 255}},
	}
}

func testConfig(addLEDs bool) *config.Config {
	cfg := config.Default()
	cfg.OpenRGB.Host = "10.0.0.5"
	cfg.OpenRGB.Port = 6742
	cfg.OpenRGB.AddLEDs = addLEDs
	cfg.OpenRGB.PollInterval = 3600
	cfg.OpenRGB.WriteRate = 1000
	cfg.HomeAssistant.Discovery = true
	cfg.HomeAssistant.DiscoveryPrefix = "homeassistant"
	cfg.HomeAssistant.BaseTopic = "openrgb-bridge"
	cfg.MQTT.QoS = 1
	return cfg
}

func testServer() entity.Server {
	return entity.Server{
		ID:            "server-1",
		UniqueID:      entity.ServerUniqueID("10.0.0.5", 6742),
		Host:          "10.0.0.5",
		Port:          6742,
		AddLEDs:       true,
		ConfigVersion: entity.CurrentConfigVersion,
	}
}

type testEnv struct {
	bridge *Bridge
	client *MockConnector
	mqtt   *MockMQTTClient
	bus    *dispatcher.Dispatcher
	reg    *entity.Registry
}

// newTestBridge builds a bridge over mocks with a real dispatcher. It is
// not started.
func newTestBridge(t *testing.T, addLEDs bool, devices ...*sdk.Device) *testEnv {
	t.Helper()
	client := NewMockConnector(devices...)
	mq := NewMockMQTTClient()
	bus := dispatcher.New(nil)
	reg := entity.NewRegistry(nil, testServer())

	b, err := NewBridge(BridgeOptions{
		Config:     testConfig(addLEDs),
		Client:     client,
		MQTTClient: mq,
		Registry:   reg,
		Bus:        bus,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(func() {
		b.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})
	return &testEnv{bridge: b, client: client, mqtt: mq, bus: bus, reg: reg}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	waitForWithin(t, what, 2*time.Second, cond)
}

func waitForWithin(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeState(t *testing.T, payload []byte) StateMessage {
	t.Helper()
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal state %q: %v", payload, err)
	}
	return msg
}
