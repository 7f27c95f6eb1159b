package dispatcher

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Signal names the kind of event.
type Signal string

// Signals exchanged between the sync loop, the light adapters and the
// outward surfaces (MQTT, websocket, telemetry).
const (
	// SignalUpdate asks an entity to re-read its state. An empty Key
	// addresses every entity.
	SignalUpdate Signal = "update"

	// SignalDelete announces that an entity is gone.
	SignalDelete Signal = "delete"

	// SignalDiscoveryNew announces newly created entities (Keys).
	SignalDiscoveryNew Signal = "discovery_new"

	// SignalState carries an entity's state after it changed.
	SignalState Signal = "state"

	// SignalAvailability carries the server's online flag.
	SignalAvailability Signal = "availability"
)

// Lossless reports whether events of the signal must reach every handler.
// Publishing a lossless signal waits for queue space instead of dropping,
// so handlers must never publish one themselves.
func (s Signal) Lossless() bool {
	switch s {
	case SignalDelete, SignalDiscoveryNew, SignalAvailability:
		return true
	}
	return false
}

// Default configuration.
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 256
)

// Event is one signal with its payload.
type Event struct {
	ID      string    `json:"id"`
	Signal  Signal    `json:"signal"`
	Key     string    `json:"key,omitempty"`
	Keys    []string  `json:"keys,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(signal Signal, key string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Signal:  signal,
		Key:     key,
		Payload: payload,
		Time:    time.Now().UTC(),
	}
}

// Handler is a function that handles events.
type Handler func(Event)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds dispatcher counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
	Panics    uint64
}

// work represents a unit of work for the worker pool.
type work struct {
	event   Event
	handler Handler
}

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher routes signals to subscribers through a bounded worker pool.
//
// Events for the same key always run on the same worker, so a delete is
// never overtaken by an earlier update of the same entity. Handlers for
// different keys run concurrently.
//
// All public methods are thread-safe.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Signal][]subscription
	nextID   uint64

	queues []chan work
	wg     sync.WaitGroup

	// sendMu is held for reading by publishers and for writing by Close,
	// so the queues are never closed under a pending send.
	sendMu sync.RWMutex
	closed bool

	// closing releases publishers waiting on a full queue once Close starts.
	closing   chan struct{}
	closeOnce sync.Once

	logger Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// New creates a dispatcher with default settings.
func New(logger Logger) *Dispatcher {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize, logger)
}

// NewWithConfig creates a dispatcher with a custom worker count and
// per-worker queue size.
func NewWithConfig(workerCount, queueSize int, logger Logger) *Dispatcher {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = noopLogger{}
	}

	d := &Dispatcher{
		handlers: make(map[Signal][]subscription),
		queues:   make([]chan work, workerCount),
		closing:  make(chan struct{}),
		logger:   logger,
	}
	for i := range d.queues {
		d.queues[i] = make(chan work, queueSize)
		d.wg.Add(1)
		go d.worker(i, d.queues[i])
	}

	logger.Debug("dispatcher worker pool started", "workers", workerCount, "queue_size", queueSize)
	return d
}

// worker processes events from its queue.
func (d *Dispatcher) worker(id int, queue <-chan work) {
	defer d.wg.Done()

	for w := range queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.panics.Inc()
					d.logger.Error("event handler panicked",
						"panic", r,
						"signal", string(w.event.Signal),
						"key", w.event.Key,
						"worker", id,
					)
				}
			}()
			w.handler(w.event)
			d.delivered.Inc()
		}()
	}
}

// Subscribe registers a handler for a signal.
//
// Returns:
//   - func(): Removes the handler; safe to call more than once
func (d *Dispatcher) Subscribe(signal Signal, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[signal] = append(d.handlers[signal], subscription{id: id, handler: handler})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.handlers[signal]
		for i, s := range subs {
			if s.id == id {
				d.handlers[signal] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event for every handler of its signal.
//
// When a worker queue is full a lossy signal (update, state) is dropped for
// that handler, while a lossless one (delete, discovery_new, availability)
// waits for space until the dispatcher closes. After Close every event is
// dropped.
func (d *Dispatcher) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	d.mu.RLock()
	subs := d.handlers[event.Signal]
	d.mu.RUnlock()

	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	if d.closed {
		d.dropped.Add(uint64(len(subs)))
		d.logger.Warn("dispatcher closed, dropping event", "signal", string(event.Signal))
		return
	}

	d.published.Inc()
	queue := d.queues[d.shard(event.Key)]
	lossless := event.Signal.Lossless()
	for _, s := range subs {
		w := work{event: event, handler: s.handler}
		select {
		case queue <- w:
			continue
		default:
		}

		if lossless {
			select {
			case queue <- w:
				continue
			case <-d.closing:
			}
		}
		d.dropped.Inc()
		d.logger.Warn("dispatcher queue full, dropping event",
			"signal", string(event.Signal),
			"key", event.Key,
		)
	}
}

// Send is shorthand for Publish(NewEvent(signal, key, payload)).
func (d *Dispatcher) Send(signal Signal, key string, payload any) {
	d.Publish(NewEvent(signal, key, payload))
}

// shard picks the worker for a key.
func (d *Dispatcher) shard(key string) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Panics:    d.panics.Load(),
	}
}

// Close stops accepting events, lets the workers drain their queues and
// waits for them until ctx expires. Safe to call multiple times.
func (d *Dispatcher) Close(ctx context.Context) {
	d.closeOnce.Do(func() { close(d.closing) })

	d.sendMu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Debug("dispatcher workers stopped gracefully")
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, some events may be lost")
	}
}
