package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
)

// recordTimeout bounds a single audit write.
const recordTimeout = 5 * time.Second

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// EventSource delivers lifecycle events to the recorder.
// *dispatcher.Dispatcher implements it.
type EventSource interface {
	Subscribe(signal dispatcher.Signal, handler dispatcher.Handler) func()
}

// Command describes one light command or service call.
type Command struct {
	Source  string
	Action  string
	Key     string
	Details map[string]any
	Err     error
}

// Recorder writes audit entries. Write failures are logged, never returned:
// auditing must not fail a light command.
type Recorder struct {
	repo   Repository
	logger Logger

	mu          sync.Mutex
	unsubscribe []func()
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// RecordCommand stores a command outcome.
func (r *Recorder) RecordCommand(ctx context.Context, c Command) {
	e := &Entry{
		Action:  c.Action,
		Key:     c.Key,
		Source:  c.Source,
		Details: c.Details,
	}
	if c.Err != nil {
		e.Error = c.Err.Error()
	}
	r.record(ctx, e)
}

// List returns stored entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Attach records entity and connection lifecycle events from events until
// Detach is called. Attaching twice is a no-op.
func (r *Recorder) Attach(events EventSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = []func(){
		events.Subscribe(dispatcher.SignalDiscoveryNew, r.handleDiscovery),
		events.Subscribe(dispatcher.SignalDelete, r.handleDelete),
		events.Subscribe(dispatcher.SignalAvailability, r.handleAvailability),
	}
}

// Detach stops recording lifecycle events.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	r.unsubscribe = nil
}

func (r *Recorder) handleDiscovery(ev dispatcher.Event) {
	for _, key := range ev.Keys {
		r.record(context.Background(), &Entry{Action: ActionEntityAdded, Key: key, Source: SourceSync, CreatedAt: ev.Time})
	}
}

func (r *Recorder) handleDelete(ev dispatcher.Event) {
	r.record(context.Background(), &Entry{Action: ActionEntityRemoved, Key: ev.Key, Source: SourceSync, CreatedAt: ev.Time})
}

func (r *Recorder) handleAvailability(ev dispatcher.Event) {
	action := ActionConnectionLost
	if online, _ := ev.Payload.(bool); online {
		action = ActionConnectionRestored
	}
	r.record(context.Background(), &Entry{Action: action, Source: SourceSync, CreatedAt: ev.Time})
}

func (r *Recorder) record(ctx context.Context, e *Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil && r.logger != nil {
		r.logger.Warn("failed to record audit entry", "action", e.Action, "key", e.Key, "error", err)
	}
}
