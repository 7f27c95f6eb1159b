package openrgb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nerrad567/openrgb-bridge/internal/audit"
	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/entity"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/mqtt"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one light command, including rate limiter waits.
	commandTimeout = 10 * time.Second

	// defaultStateCacheSize is used when no state cache size is configured.
	defaultStateCacheSize = 512
)

// Logger defines the logging interface used by the bridge.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// EventBus delivers signals between the sync loop, the lights and the
// outward surfaces. Satisfied by *dispatcher.Dispatcher.
type EventBus interface {
	Publish(event dispatcher.Event)
	Subscribe(signal dispatcher.Signal, handler dispatcher.Handler) func()
}

// Bridge keeps the light entities of one OpenRGB server in sync and
// exposes them over MQTT. It handles:
//   - Polling the server and announcing new, changed and vanished lights
//   - Translating light commands into SDK writes
//   - Availability, discovery and health publishing
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *config.Config
	client   sdk.Connector
	mqtt     MQTTClient
	registry *entity.Registry
	bus      EventBus
	conn     *Connection
	health   *HealthReporter
	topics   mqtt.Topics
	qos      byte

	addLEDs      bool
	pollInterval time.Duration
	limiter      *rate.Limiter

	// Sync coordination
	flight       singleflight.Group
	pullRequests chan struct{}
	lastPoll     atomic.Time

	// Light adapters by key, and keys by their topic segment.
	lights    map[string]*Light
	topicKeys map[string]string
	lightsMu  sync.RWMutex

	// published remembers the last state payload per key so unchanged
	// states are not republished.
	published gcache.Cache

	unsubscribe []func()

	// Statistics
	polls         atomic.Uint64
	pollFailures  atomic.Uint64
	commandsRx    atomic.Uint64
	commandErrors atomic.Uint64
	errorsTotal   atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	audit CommandAuditor

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *config.Config

	// Client is the OpenRGB SDK connection.
	Client sdk.Connector

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Registry records the light entities of this server.
	Registry *entity.Registry

	// Bus delivers signals to the bridge and to other subscribers.
	Bus EventBus

	// Version is reported in health messages.
	Version string

	// Audit records MQTT commands. Optional.
	Audit CommandAuditor

	// Logger is optional structured logger.
	Logger Logger
}

// CommandAuditor records the outcome of light commands and service calls.
// *audit.Recorder implements it.
type CommandAuditor interface {
	RecordCommand(ctx context.Context, c audit.Command)
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("OpenRGB client is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	cfg := opts.Config
	ctx, ctxCancel := context.WithCancel(context.Background())

	limit := rate.Limit(cfg.OpenRGB.WriteRate)
	if cfg.OpenRGB.WriteRate <= 0 {
		limit = rate.Inf
	}
	burst := max(1, int(cfg.OpenRGB.WriteRate))

	cacheSize := cfg.HomeAssistant.StateCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultStateCacheSize
	}

	server := opts.Registry.Server()

	b := &Bridge{
		cfg:          cfg,
		client:       opts.Client,
		mqtt:         opts.MQTTClient,
		registry:     opts.Registry,
		bus:          opts.Bus,
		topics:       mqtt.NewTopics(cfg.HomeAssistant.BaseTopic, server.UniqueID),
		qos:          byte(cfg.MQTT.QoS),
		addLEDs:      cfg.OpenRGB.AddLEDs,
		pollInterval: cfg.GetPollInterval(),
		limiter:      rate.NewLimiter(limit, burst),
		pullRequests: make(chan struct{}, 1),
		lights:       make(map[string]*Light),
		topicKeys:    make(map[string]string),
		published:    gcache.New(cacheSize).LRU().Build(),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		audit:        opts.Audit,
		logger:       opts.Logger,
	}
	b.conn = NewConnection(opts.Client, opts.Bus)

	b.health = NewHealthReporter(HealthReporterConfig{
		ServerID:   server.UniqueID,
		Version:    opts.Version,
		Topic:      b.topics.Health(),
		Interval:   b.pollInterval,
		Publisher:  opts.MQTTClient,
		Connection: b.connectionStatus,
		Statistics: b.Statistics,
	})

	if opts.Logger != nil {
		b.conn.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
//
// It restores the persisted entities, subscribes to the event bus and the
// MQTT command and service topics, runs a first sync cycle and then starts
// the sync loop and health reporting. A failing first cycle is not fatal;
// the loop keeps retrying.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.registry.Load(ctx); err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.unsubscribe = append(b.unsubscribe,
		b.bus.Subscribe(dispatcher.SignalUpdate, b.handleUpdate),
		b.bus.Subscribe(dispatcher.SignalDelete, b.handleDelete),
		b.bus.Subscribe(dispatcher.SignalDiscoveryNew, b.handleDiscoveryNew),
		b.bus.Subscribe(dispatcher.SignalState, b.handleState),
		b.bus.Subscribe(dispatcher.SignalAvailability, b.handleAvailability),
	)

	commandTopic := b.topics.AllLightCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleLightCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	serviceTopic := b.topics.AllServices()
	if err := b.mqtt.Subscribe(serviceTopic, 1, b.handleServiceCall); err != nil {
		return fmt.Errorf("subscribe to services: %w", err)
	}
	b.logInfo("subscribed to services", "topic", serviceTopic)

	b.publishAvailability(b.conn.Online())

	if _, err := b.Pull(ctx); err != nil {
		b.logError("initial device sync failed", err)
	}

	b.wg.Add(1)
	go b.syncLoop()

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"server", b.registry.Server().UniqueID,
		"lights", b.LightCount(),
		"poll_interval", b.pollInterval,
	)
	return nil
}

// Stop gracefully shuts down the bridge: the sync loop and health
// reporting stop, bus subscriptions are dropped and availability is set
// offline. The OpenRGB and MQTT connections are left to the caller.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight polls and writes
		b.ctxCancel()

		b.wg.Wait()

		for _, unsub := range b.unsubscribe {
			unsub()
		}

		b.health.Stop()
		b.publishAvailability(false)

		b.logInfo("bridge stopped")
	})
}

// HandleMQTTConnect republishes availability, discovery and every light
// state. Register it as the MQTT client's on-connect callback so a broker
// restart does not leave retained topics stale.
func (b *Bridge) HandleMQTTConnect() {
	b.published.Purge()
	b.publishAvailability(b.conn.Online())
	for _, l := range b.lightList() {
		if b.cfg.HomeAssistant.Discovery {
			b.publishDiscovery(l)
		}
		b.publishState(l.State(b.conn.Online()))
	}
}

// Online reports whether the OpenRGB server is reachable.
func (b *Bridge) Online() bool {
	return b.conn.Online()
}

// Server returns the server this bridge manages.
func (b *Bridge) Server() entity.Server {
	return b.registry.Server()
}

// LightCount returns the number of light entities.
func (b *Bridge) LightCount() int {
	b.lightsMu.RLock()
	defer b.lightsMu.RUnlock()
	return len(b.lights)
}

// Lights returns a snapshot of every light, ordered by key.
func (b *Bridge) Lights() []LightState {
	online := b.conn.Online()
	lights := b.lightList()
	out := make([]LightState, len(lights))
	for i, l := range lights {
		out[i] = l.State(online)
	}
	return out
}

// Light returns a snapshot of one light.
func (b *Bridge) Light(key string) (LightState, error) {
	l, err := b.light(key)
	if err != nil {
		return LightState{}, err
	}
	return l.State(b.conn.Online()), nil
}

// TurnOn switches a light on. See Light.TurnOn for the argument rules.
//
// Returns:
//   - LightState: The light after the command
//   - error: ErrLightNotFound, ErrOffline, or the write error
func (b *Bridge) TurnOn(ctx context.Context, key string, p TurnOnParams) (LightState, error) {
	l, err := b.writableLight(key)
	if err != nil {
		return LightState{}, err
	}
	err = l.TurnOn(ctx, p)
	state := b.emitState(l)
	if err != nil {
		b.commandErrors.Inc()
		return state, fmt.Errorf("turn on %s: %w", key, err)
	}
	return state, nil
}

// TurnOff switches a light off.
//
// Returns:
//   - LightState: The light after the command
//   - error: ErrLightNotFound, ErrOffline, or the write error
func (b *Bridge) TurnOff(ctx context.Context, key string) (LightState, error) {
	l, err := b.writableLight(key)
	if err != nil {
		return LightState{}, err
	}
	err = l.TurnOff(ctx)
	state := b.emitState(l)
	if err != nil {
		b.commandErrors.Inc()
		return state, fmt.Errorf("turn off %s: %w", key, err)
	}
	return state, nil
}

// ForceUpdate asks every light to re-read its state and republish it.
func (b *Bridge) ForceUpdate() {
	b.bus.Publish(dispatcher.NewEvent(dispatcher.SignalUpdate, "", nil))
}

// CallService runs a named service: force_update or pull_devices.
func (b *Bridge) CallService(ctx context.Context, name string) error {
	switch name {
	case ServiceForceUpdate:
		b.ForceUpdate()
		return nil
	case ServicePullDevices:
		_, err := b.Pull(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
}

// Services lists the service names CallService accepts.
func Services() []string {
	return []string{ServiceForceUpdate, ServicePullDevices}
}

// Status reports bridge health for the HTTP API.
func (b *Bridge) Status() HealthMessage {
	status, reason := b.health.Status()
	return b.health.Message(status, reason)
}

// Statistics returns the bridge and SDK counters.
func (b *Bridge) Statistics() BridgeStatistics {
	stats := BridgeStatistics{
		Polls:            b.polls.Load(),
		PollFailures:     b.pollFailures.Load(),
		CommandsReceived: b.commandsRx.Load(),
		CommandErrors:    b.commandErrors.Load(),
		Errors:           b.errorsTotal.Load(),
	}
	if sp, ok := b.client.(interface{ Stats() sdk.Stats }); ok {
		s := sp.Stats()
		stats.PacketsSent = s.PacketsTx
		stats.PacketsReceived = s.PacketsRx
		stats.Errors += s.ErrorsTotal
	}
	return stats
}

// LastPoll returns when the last successful sync cycle finished.
func (b *Bridge) LastPoll() time.Time {
	return b.lastPoll.Load()
}

func (b *Bridge) connectionStatus() ConnectionStatus {
	cs := ConnectionStatus{
		Status:  "disconnected",
		Address: fmt.Sprintf("%s:%d", b.cfg.OpenRGB.Host, b.cfg.OpenRGB.Port),
	}
	if b.conn.Online() {
		cs.Status = "connected"
	}
	if sp, ok := b.client.(interface{ Stats() sdk.Stats }); ok {
		s := sp.Stats()
		cs.ProtocolVersion = s.ProtocolVersion
		if !s.LastActivity.IsZero() {
			last := s.LastActivity
			cs.LastActivity = &last
		}
	}
	return cs
}

// addLight creates the light for t unless one exists. It reports whether
// a light was created.
func (b *Bridge) addLight(t lightTarget, activeMode string) bool {
	if t.key == "" {
		return false
	}
	b.lightsMu.Lock()
	defer b.lightsMu.Unlock()
	if _, ok := b.lights[t.key]; ok {
		return false
	}
	b.lights[t.key] = newLight(t, activeMode, b.client, b.conn, b.limiter, b.currentLogger())
	b.topicKeys[mqtt.SanitiseSegment(t.key)] = t.key
	return true
}

func (b *Bridge) removeLight(key string) {
	b.lightsMu.Lock()
	defer b.lightsMu.Unlock()
	delete(b.lights, key)
	delete(b.topicKeys, mqtt.SanitiseSegment(key))
}

func (b *Bridge) light(key string) (*Light, error) {
	b.lightsMu.RLock()
	defer b.lightsMu.RUnlock()
	l, ok := b.lights[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLightNotFound, key)
	}
	return l, nil
}

func (b *Bridge) writableLight(key string) (*Light, error) {
	l, err := b.light(key)
	if err != nil {
		return nil, err
	}
	if !b.conn.Online() {
		return nil, fmt.Errorf("%w: %s", ErrOffline, key)
	}
	return l, nil
}

func (b *Bridge) lightList() []*Light {
	b.lightsMu.RLock()
	out := make([]*Light, 0, len(b.lights))
	for _, l := range b.lights {
		out = append(out, l)
	}
	b.lightsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// refresh re-reads a light and announces its state.
func (b *Bridge) refresh(l *Light) {
	if err := l.Update(); err != nil {
		b.logDebug("light refresh skipped", "light", l.Key(), "error", err)
	}
	b.emitState(l)
}

// emitState announces a light's current state on the bus.
func (b *Bridge) emitState(l *Light) LightState {
	state := l.State(b.conn.Online())
	b.bus.Publish(dispatcher.NewEvent(dispatcher.SignalState, state.Key, state))
	return state
}

func (b *Bridge) handleUpdate(ev dispatcher.Event) {
	if ev.Key == "" {
		for _, l := range b.lightList() {
			b.refresh(l)
		}
		return
	}
	if l, err := b.light(ev.Key); err == nil {
		b.refresh(l)
	}
}

func (b *Bridge) handleDelete(ev dispatcher.Event) {
	b.published.Remove(ev.Key)
	if err := b.mqtt.Publish(b.topics.LightState(ev.Key), nil, b.qos, true); err != nil {
		b.logError("failed to clear light state", err)
	}
	if b.cfg.HomeAssistant.Discovery {
		topic := mqtt.DiscoveryConfig(b.cfg.HomeAssistant.DiscoveryPrefix, b.topics.Node, ev.Key)
		if err := b.mqtt.Publish(topic, nil, b.qos, true); err != nil {
			b.logError("failed to clear light discovery", err)
		}
	}
	b.logInfo("light removed", "light", ev.Key)
}

func (b *Bridge) handleDiscoveryNew(ev dispatcher.Event) {
	for _, key := range ev.Keys {
		l, err := b.light(key)
		if err != nil {
			continue
		}
		if b.cfg.HomeAssistant.Discovery {
			b.publishDiscovery(l)
		}
		b.refresh(l)
		b.logInfo("light added", "light", key, "kind", l.Kind())
	}
}

func (b *Bridge) handleState(ev dispatcher.Event) {
	state, ok := ev.Payload.(LightState)
	if !ok {
		return
	}
	if _, err := b.light(state.Key); err != nil {
		// Deleted while the event was queued.
		return
	}
	b.publishState(state)
}

func (b *Bridge) handleAvailability(ev dispatcher.Event) {
	online, _ := ev.Payload.(bool)
	b.publishAvailability(online)
}

func (b *Bridge) publishState(state LightState) {
	payload, err := json.Marshal(NewStateMessage(state))
	if err != nil {
		b.logError("failed to encode light state", err)
		return
	}
	if last, err := b.published.Get(state.Key); err == nil && last.(string) == string(payload) {
		return
	}
	if err := b.mqtt.Publish(b.topics.LightState(state.Key), payload, b.qos, true); err != nil {
		b.errorsTotal.Inc()
		b.logError("failed to publish light state", err)
		return
	}
	//nolint:errcheck // Set only fails for a nil key
	b.published.Set(state.Key, string(payload))
}

func (b *Bridge) publishDiscovery(l *Light) {
	dev, err := l.Device()
	if err != nil {
		b.logDebug("discovery skipped", "light", l.Key(), "error", err)
		return
	}
	state := l.State(b.conn.Online())

	msg := DiscoveryMessage{
		Name:                state.Name,
		UniqueID:            state.UniqueID,
		ObjectID:            sdk.Slugify(state.Name),
		Schema:              "json",
		StateTopic:          b.topics.LightState(state.Key),
		CommandTopic:        b.topics.LightCommand(state.Key),
		AvailabilityTopic:   b.topics.Availability(),
		Icon:                dev.Type.Icon(),
		Brightness:          true,
		SupportedColorModes: []string{ColorModeHS},
		Device:              NewDiscoveryDevice(b.registry.Server().UniqueID, dev),
	}
	if l.Kind() == entity.KindDevice {
		msg.Effect = true
		for _, m := range dev.ModeNames() {
			if !isOff(m) {
				msg.EffectList = append(msg.EffectList, m)
			}
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode discovery config", err)
		return
	}
	topic := mqtt.DiscoveryConfig(b.cfg.HomeAssistant.DiscoveryPrefix, b.topics.Node, state.Key)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.errorsTotal.Inc()
		b.logError("failed to publish discovery config", err)
	}
}

func (b *Bridge) publishAvailability(online bool) {
	payload := mqtt.PayloadOffline
	if online {
		payload = mqtt.PayloadOnline
	}
	if err := b.mqtt.Publish(b.topics.Availability(), []byte(payload), b.qos, true); err != nil {
		b.logError("failed to publish availability", err)
	}
}

// handleLightCommand processes a JSON command from a light's command topic.
func (b *Bridge) handleLightCommand(topic string, payload []byte) error {
	segment, ok := b.topics.ParseLightCommand(topic)
	if !ok {
		return nil
	}
	b.commandsRx.Inc()

	b.lightsMu.RLock()
	key, ok := b.topicKeys[segment]
	b.lightsMu.RUnlock()
	if !ok {
		b.commandErrors.Inc()
		return fmt.Errorf("%w: %s", ErrLightNotFound, segment)
	}

	cmd, err := ParseCommand(payload)
	if err != nil {
		b.commandErrors.Inc()
		b.logError("invalid light command", err)
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	action, details := audit.ActionTurnOn, cmd.TurnOnParams().Details()
	if cmd.State == StateOff {
		action, details = audit.ActionTurnOff, nil
		_, err = b.TurnOff(ctx, key)
	} else {
		_, err = b.TurnOn(ctx, key, cmd.TurnOnParams())
	}
	b.recordCommand(audit.Command{Source: audit.SourceMQTT, Action: action, Key: key, Details: details, Err: err})
	if err != nil {
		b.logError("light command failed", err)
		return err
	}
	b.logDebug("light command executed", "light", key, "state", cmd.State)
	return nil
}

// handleServiceCall runs the service named by the topic. The payload is ignored.
func (b *Bridge) handleServiceCall(topic string, _ []byte) error {
	name, ok := b.topics.ParseService(topic)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.CallService(ctx, name)
	b.recordCommand(audit.Command{
		Source:  audit.SourceMQTT,
		Action:  audit.ActionService,
		Details: map[string]any{"service": name},
		Err:     err,
	})
	if err != nil && !errors.Is(err, ErrFetchFailed) {
		b.logError("service call failed", err)
		return err
	}
	b.logInfo("service called", "service", name)
	return nil
}

func (b *Bridge) recordCommand(c audit.Command) {
	if b.audit != nil {
		b.audit.RecordCommand(b.ctx, c)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.conn.SetLogger(logger)
	b.health.SetLogger(logger)
}

func (b *Bridge) currentLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.currentLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.currentLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.currentLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
