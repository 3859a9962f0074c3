package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
)

// ResponsesChannel is the notifier channel command responses are broadcast on.
const ResponsesChannel = "commands"

const (
	defaultWorkers          = 4
	defaultQueueSize        = 1024
	defaultHeartbeatTimeout = 5 * time.Second

	// Heartbeat breaker: trip after consecutive store failures, probe again
	// after breakerOpenTimeout.
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
	breakerInterval            = time.Minute
)

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives telemetry points. WritePoint must not block; failures are
// the sink's to report.
type Sink interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// HeartbeatStore records drone heartbeats.
type HeartbeatStore interface {
	TouchHeartbeat(ctx context.Context, identity string, at time.Time) error
}

// Notifier broadcasts command responses to connected clients.
type Notifier interface {
	Broadcast(channel string, payload any)
}

// Options configures a Router.
type Options struct {
	Namespace        string
	Workers          int
	QueueSize        int
	HeartbeatTimeout time.Duration
}

type message struct {
	topic   string
	payload []byte
}

// Router dispatches inbound broker messages. HandleMessage is the bridge
// callback: it only enqueues. Workers decode each message and route it to
// the timeseries sink and the heartbeat store.
type Router struct {
	topics     mqtt.Topics
	sink       Sink
	heartbeats HeartbeatStore
	notifier   Notifier
	breaker    *gobreaker.CircuitBreaker[struct{}]

	workers          int
	heartbeatTimeout time.Duration
	queue            chan message
	done             chan struct{}
	stopOnce         sync.Once
	startOnce        sync.Once
	wg               sync.WaitGroup

	logger  Logger
	metrics *routerMetrics
	now     func() time.Time
}

// NewRouter creates a Router. A nil sink disables timeseries writes.
func NewRouter(sink Sink, heartbeats HeartbeatStore, opts Options) *Router {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}

	r := &Router{
		topics:           mqtt.Topics{Namespace: opts.Namespace},
		sink:             sink,
		heartbeats:       heartbeats,
		workers:          opts.Workers,
		heartbeatTimeout: opts.HeartbeatTimeout,
		queue:            make(chan message, opts.QueueSize),
		done:             make(chan struct{}),
		logger:           noopLogger{},
		metrics:          newRouterMetrics(),
		now:              time.Now,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "heartbeat-store",
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: heartbeatSucceeded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("heartbeat breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return r
}

// heartbeatSucceeded keeps drone-level outcomes from tripping the breaker;
// only store failures count.
func heartbeatSucceeded(err error) bool {
	return err == nil ||
		errors.Is(err, device.ErrDroneNotFound) ||
		errors.Is(err, device.ErrStaleHeartbeat)
}

// SetLogger sets the logger.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets where command responses are broadcast. Optional.
func (r *Router) SetNotifier(n Notifier) {
	r.notifier = n
}

// Filters returns the subscription filters the router consumes.
func (r *Router) Filters() []string {
	return []string{r.topics.AllTelemetry(), r.topics.AllResponses()}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for range r.workers {
			r.wg.Add(1)
			go r.worker(ctx)
		}
	})
}

// Stop stops the workers and waits for in-flight messages. Queued messages
// not yet picked up are discarded.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// HandleMessage enqueues a message without blocking. It has the
// mqtt.MessageHandler signature.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.queue <- message{topic: topic, payload: payload}:
		return nil
	default:
		r.metrics.dropped(context.Background(), "queue_full")
		return fmt.Errorf("%w: dropping message on %s", ErrQueueFull, topic)
	}
}

func (r *Router) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case msg := <-r.queue:
			r.dispatch(ctx, msg)
		}
	}
}

// dispatch processes one message and contains every failure.
func (r *Router) dispatch(ctx context.Context, msg message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.dropped(ctx, "panic")
			r.logger.Error("telemetry routing panic recovered", "topic", msg.topic, "panic", rec)
		}
	}()

	if err := r.Process(ctx, msg.topic, msg.payload); err != nil {
		r.metrics.dropped(ctx, dropReason(err))
		r.logger.Warn("inbound message dropped", "topic", msg.topic, "error", err)
	}
}

// Process routes one message synchronously. Errors identify the stage that
// rejected the message; nothing is written for a rejected message.
func (r *Router) Process(ctx context.Context, topic string, payload []byte) error {
	droneID, kind, err := r.topics.Parse(topic)
	if err != nil {
		return err
	}

	switch kind {
	case mqtt.KindTelemetry:
		return r.processTelemetry(ctx, droneID, payload)
	case mqtt.KindResponses:
		return r.processResponse(ctx, droneID, payload)
	default:
		return fmt.Errorf("%w: unhandled kind %q", mqtt.ErrInvalidTopic, kind)
	}
}

func (r *Router) processTelemetry(ctx context.Context, topicID string, payload []byte) error {
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("%w: telemetry from %s: %w", ErrMalformedPayload, topicID, err)
	}
	received := r.now()
	rec.applyDefaults(topicID, received)

	r.writeSink(&rec)
	r.touchHeartbeat(ctx, topicID, received)

	r.metrics.routed(ctx, mqtt.KindTelemetry)
	return nil
}

func (r *Router) writeSink(rec *Record) {
	if r.sink == nil {
		return
	}
	fields := rec.Fields()
	if len(fields) == 0 {
		r.logger.Debug("telemetry without measurements, nothing to write", "drone_id", rec.DroneID)
		return
	}
	r.sink.WritePoint(Measurement, map[string]string{TagDroneID: rec.DroneID}, fields, rec.Timestamp.Time)
}

// touchHeartbeat updates the drone record through the breaker. An unknown
// drone is logged and skipped; the sink has already received the record.
func (r *Router) touchHeartbeat(ctx context.Context, identity string, at time.Time) {
	if r.heartbeats == nil {
		return
	}

	_, err := r.breaker.Execute(func() (struct{}, error) {
		hbCtx, cancel := context.WithTimeout(ctx, r.heartbeatTimeout)
		defer cancel()
		return struct{}{}, r.heartbeats.TouchHeartbeat(hbCtx, identity, at)
	})

	switch {
	case err == nil:
	case errors.Is(err, device.ErrDroneNotFound):
		r.metrics.heartbeatSkipped(ctx, "unknown_drone")
		r.logger.Warn("heartbeat for unknown drone skipped", "identity", identity)
	case errors.Is(err, device.ErrStaleHeartbeat):
		r.metrics.heartbeatSkipped(ctx, "stale")
		r.logger.Debug("stale heartbeat skipped", "identity", identity)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.metrics.heartbeatSkipped(ctx, "breaker_open")
		r.logger.Debug("heartbeat skipped, store breaker open", "identity", identity)
	default:
		r.metrics.heartbeatSkipped(ctx, "store_error")
		r.logger.Error("heartbeat update failed", "identity", identity, "error", err)
	}
}

func (r *Router) processResponse(ctx context.Context, topicID string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: response from %s: %w", ErrMalformedPayload, topicID, err)
	}
	if resp.Status != "" && !resp.Status.Valid() {
		return fmt.Errorf("%w: response from %s: unknown status %q", ErrMalformedPayload, topicID, resp.Status)
	}
	if resp.DroneID == "" {
		resp.DroneID = topicID
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = Timestamp{r.now().UTC()}
	}

	r.logger.Info("command response received",
		"drone_id", topicID,
		"command_id", resp.CommandID,
		"status", string(resp.Status),
	)
	if r.notifier != nil {
		r.notifier.Broadcast(ResponsesChannel, resp)
	}

	r.metrics.routed(ctx, mqtt.KindResponses)
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, mqtt.ErrInvalidTopic):
		return "invalid_topic"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	default:
		return "error"
	}
}
