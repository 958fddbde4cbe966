package actuator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
)

// Publisher is the subset of *mqtt.Client the actuator needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Logger is the logging interface used by the actuator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config controls queueing and notification limits.
type Config struct {
	// QueueSize is the number of requests buffered ahead of the worker.
	QueueSize int

	// NotifyPerMinute is the sustained notification rate. Zero disables
	// the limit.
	NotifyPerMinute int

	// NotifyBurst is how many notifications may be sent back to back.
	NotifyBurst int
}

const defaultQueueSize = 256

// source identifies the rule engine as the origin of a request.
const source = "automation"

// DeviceCommand is published on graylogic/command/device/{id}.
type DeviceCommand struct {
	DeviceID  string    `json:"device_id"`
	On        bool      `json:"on"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// SceneCommand is published on graylogic/command/scene/{id}.
type SceneCommand struct {
	SceneID   string    `json:"scene_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is published on graylogic/notify.
type Notification struct {
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionEvent is published on graylogic/core/event/automation_executed
// for every execution log entry.
type ExecutionEvent struct {
	Source string                       `json:"source"`
	Entry  automation.ExecutionLogEntry `json:"entry"`
}

// eventExecuted is the core event type for execution log entries.
const eventExecuted = "automation_executed"

type request struct {
	topic   string
	payload any
}

// MQTTActuator implements automation.Actuator over MQTT.
//
// Requests are fire-and-forget: a nil error means the request was
// accepted for publishing, not that the device acted on it.
type MQTTActuator struct {
	pub     Publisher
	limiter *rate.Limiter // nil when notifications are unlimited
	logger  Logger
	now     func() time.Time

	mu      sync.RWMutex // guards stopped and the queue close
	stopped bool
	queue   chan request
	wg      sync.WaitGroup

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Stats counts requests since start.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// New creates an actuator publishing through pub. Call Start before use.
func New(pub Publisher, cfg Config) *MQTTActuator {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	a := &MQTTActuator{
		pub:    pub,
		logger: noopLogger{},
		now:    time.Now,
		queue:  make(chan request, size),
	}
	if cfg.NotifyPerMinute > 0 {
		burst := max(cfg.NotifyBurst, 1)
		a.limiter = rate.NewLimiter(rate.Limit(float64(cfg.NotifyPerMinute)/60), burst)
	}
	return a
}

// SetLogger sets the logger. It must be called before Start.
func (a *MQTTActuator) SetLogger(logger Logger) {
	a.logger = logger
}

// Start launches the publishing worker.
func (a *MQTTActuator) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop rejects new requests, publishes what is already queued and waits
// for the worker to exit.
func (a *MQTTActuator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}

// SetDevice requests a device be switched on or off.
func (a *MQTTActuator) SetDevice(ctx context.Context, deviceID string, on bool) error {
	return a.enqueue(ctx, mqtt.Topics{}.DeviceCommand(deviceID), DeviceCommand{
		DeviceID:  deviceID,
		On:        on,
		Source:    source,
		Timestamp: a.now().UTC(),
	})
}

// ActivateScene requests a scene activation.
func (a *MQTTActuator) ActivateScene(ctx context.Context, sceneID string) error {
	return a.enqueue(ctx, mqtt.Topics{}.SceneCommand(sceneID), SceneCommand{
		SceneID:   sceneID,
		Source:    source,
		Timestamp: a.now().UTC(),
	})
}

// Notify requests a user notification, subject to the rate limit.
func (a *MQTTActuator) Notify(ctx context.Context, message string) error {
	if a.limiter != nil && !a.limiter.AllowN(a.now(), 1) {
		a.dropped.Add(1)
		return ErrRateLimited
	}
	return a.enqueue(ctx, mqtt.Topics{}.Notify(), Notification{
		Message:   message,
		Source:    source,
		Timestamp: a.now().UTC(),
	})
}

// PublishExecution queues an execution event. It matches the signature
// expected by automation.Registry.OnExecution and never blocks; a full
// queue drops the event.
func (a *MQTTActuator) PublishExecution(entry automation.ExecutionLogEntry) {
	err := a.enqueue(context.Background(), mqtt.Topics{}.CoreEvent(eventExecuted), ExecutionEvent{
		Source: source,
		Entry:  entry,
	})
	if err != nil {
		a.logger.Warn("execution event not published", "automation_id", entry.AutomationID, "error", err)
	}
}

// Stats returns the request counters.
func (a *MQTTActuator) Stats() Stats {
	return Stats{
		Published: a.published.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.dropped.Load(),
		Queued:    len(a.queue),
	}
}

// NotifyBudget returns how many notifications could be sent right now.
func (a *MQTTActuator) NotifyBudget() int {
	if a.limiter == nil {
		return math.MaxInt
	}
	return int(a.limiter.TokensAt(a.now()))
}

func (a *MQTTActuator) enqueue(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return ErrStopped
	}

	select {
	case a.queue <- request{topic: topic, payload: payload}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *MQTTActuator) run() {
	defer a.wg.Done()

	for req := range a.queue {
		if err := a.pub.PublishJSON(req.topic, req.payload); err != nil {
			a.failed.Add(1)
			a.logger.Warn("publishing automation request failed", "topic", req.topic, "error", err)
			continue
		}
		a.published.Add(1)
		a.logger.Debug("automation request published", "topic", req.topic)
	}
}
