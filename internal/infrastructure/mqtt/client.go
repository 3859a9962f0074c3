package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
)

// State is the bridge connection state.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
// Returned errors are logged; they never reach the connection layer.
type MessageHandler func(topic string, payload []byte) error

// subscription holds subscription details for replay on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

type eventKind int

const (
	eventConnectionLost eventKind = iota
)

// event is a transport callback posted to the manager loop.
type event struct {
	kind eventKind
	err  error
}

const eventQueueSize = 16

// Manager owns the single long-lived broker connection.
//
// Connection state lives behind one mutex and is only changed by the
// manager itself; paho callbacks are turned into events consumed by the
// manager's loop. Two paths can trigger a reconnect: the supervisor tick and
// a delayed retry after a lost connection. Both pass through one atomic
// flag, so at most one connection attempt is ever in flight.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	cfg       config.MQTTConfig
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu         sync.Mutex
	client     pahomqtt.Client
	state      State
	retryTimer *time.Timer
	closed     bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	reconnecting atomic.Bool

	backoffMu sync.Mutex
	backoff   *backoff.ExponentialBackOff

	checkInterval time.Duration
	events        chan event
	done          chan struct{}
	wg            sync.WaitGroup

	logger  Logger
	metrics *bridgeMetrics
}

// NewManager creates a manager for cfg. Nothing connects until Start.
func NewManager(cfg config.MQTTConfig) *Manager {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.GetLostDelay()
	b.MaxInterval = cfg.GetMaxDelay()
	b.MaxElapsedTime = 0
	b.Reset()

	return &Manager{
		cfg:           cfg,
		newClient:     pahomqtt.NewClient,
		subscriptions: make(map[string]subscription),
		backoff:       b,
		checkInterval: cfg.GetCheckInterval(),
		events:        make(chan event, eventQueueSize),
		done:          make(chan struct{}),
		logger:        noopLogger{},
		metrics:       newBridgeMetrics(),
	}
}

// SetLogger sets the logger for connection and handler events.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start creates the paho client, attempts the initial connection and starts
// the supervisor loop. A failed initial connection is logged and the bridge
// keeps running degraded; the supervisor retries on its next tick.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.client != nil {
		m.mu.Unlock()
		return nil
	}
	opts := buildClientOptions(m.cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		m.post(event{kind: eventConnectionLost, err: err})
	})
	m.client = m.newClient(opts)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.connect(StateConnecting); err != nil {
		m.logger.Warn("mqtt initial connection failed, continuing degraded",
			"broker", brokerURL(m.cfg),
			"error", err,
		)
	}

	m.wg.Add(1)
	go m.run()
	return nil
}

// run is the manager loop: supervisor ticks and transport events.
func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.supervise()
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

// supervise runs on every tick. A connection that paho reports closed but
// whose lost event never arrived is treated as lost here.
func (m *Manager) supervise() {
	m.mu.Lock()
	state, client := m.state, m.client
	if state == StateConnected && client != nil && !client.IsConnectionOpen() {
		m.state = StateDisconnected
		state = StateDisconnected
	}
	m.mu.Unlock()

	if state == StateConnected {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.tryReconnect("supervisor")
	}()
}

func (m *Manager) handleEvent(ev event) {
	switch ev.kind {
	case eventConnectionLost:
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()

		m.metrics.connectionLost(context.Background())
		delay := m.nextBackoff()
		m.logger.Warn("mqtt connection lost", "error", ev.err, "retry_in", delay)
		m.scheduleRetry(delay)
	}
}

// post hands a transport callback to the loop without blocking paho. If the
// queue is full the supervisor still notices the closed connection.
func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("mqtt event queue full, dropping event", "kind", ev.kind)
	}
}

// scheduleRetry arms the single delayed reconnect of the lost-connection
// path. A pending retry is not replaced. If that attempt fails, further
// retries belong to the supervisor tick.
func (m *Manager) scheduleRetry(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.retryTimer != nil {
		return
	}
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.mu.Unlock()

		m.tryReconnect("connection_lost")
	})
}

// tryReconnect performs one connection attempt unless another is running
// or the bridge is already connected. It reports whether it connected.
func (m *Manager) tryReconnect(trigger string) bool {
	if !m.reconnecting.CompareAndSwap(false, true) {
		m.logger.Debug("mqtt reconnect already in progress", "trigger", trigger)
		return false
	}
	defer m.reconnecting.Store(false)

	if m.State() == StateConnected || m.isClosed() {
		return false
	}

	m.metrics.reconnectAttempt(context.Background(), trigger)
	m.logger.Info("mqtt reconnecting", "trigger", trigger, "broker", brokerURL(m.cfg))

	if err := m.connect(StateReconnecting); err != nil {
		m.logger.Warn("mqtt reconnect failed", "trigger", trigger, "error", err)
		return false
	}
	m.logger.Info("mqtt reconnected", "trigger", trigger)
	return true
}

// connect performs one bounded connection attempt. The state moves to via
// while the attempt runs, then to Connected or Disconnected. Network I/O
// happens without holding mu.
func (m *Manager) connect(via State) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = via
	client := m.client
	m.mu.Unlock()

	if client == nil {
		m.setState(StateDisconnected)
		return ErrNotConnected
	}

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Disconnect(0)
		return ErrClosed
	}
	m.state = StateConnected
	m.mu.Unlock()

	m.backoffMu.Lock()
	m.backoff.Reset()
	m.backoffMu.Unlock()

	m.restoreSubscriptions(client)
	m.publishStatus(client, "online", "")

	m.logger.Info("mqtt connected", "broker", brokerURL(m.cfg), "client_id", m.cfg.Broker.ClientID)
	return nil
}

func (m *Manager) nextBackoff() time.Duration {
	m.backoffMu.Lock()
	defer m.backoffMu.Unlock()
	return m.backoff.NextBackOff()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the bridge is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// HealthCheck returns ErrNotConnected unless the bridge is connected.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// restoreSubscriptions replays every tracked subscription on a fresh
// connection. Failures are logged; the next reconnect replays again.
func (m *Manager) restoreSubscriptions(client pahomqtt.Client) {
	m.subMu.RLock()
	subs := make([]subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.subMu.RUnlock()

	for _, sub := range subs {
		if err := waitToken(client.Subscribe(sub.topic, sub.qos, m.wrapHandler(sub.handler)), ErrSubscribeFailed); err != nil {
			m.logger.Warn("mqtt subscription replay failed", "topic", sub.topic, "error", err)
		}
	}
}

// publishStatus publishes the retained bridge status without waiting long.
func (m *Manager) publishStatus(client pahomqtt.Client, status, reason string) {
	token := client.Publish(TopicBridgeStatus, 1, true, statusPayload(status, m.cfg.Broker.ClientID, reason))
	if err := waitToken(token, ErrPublishFailed); err != nil {
		m.logger.Warn("mqtt status publish failed", "status", status, "error", err)
	}
}

// Close stops the loop and any pending retry, publishes a graceful offline
// status if connected and disconnects.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	client, state := m.client, m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()

	if client != nil {
		if state == StateConnected {
			m.publishStatus(client, "offline", "graceful_shutdown")
		}
		client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (m *Manager) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("mqtt handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		m.metrics.received(context.Background())
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			m.logger.Warn("mqtt handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}

// waitToken waits for a paho token with the publish timeout and wraps
// failures in kind.
func waitToken(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
