// Package kafkasink mirrors bus events onto a Kafka topic so out-of-process
// listeners (analytics, support tooling) can follow a client session.
//
// Delivery is best effort. Bus handlers only enqueue; a single goroutine owns
// the writer. When the queue is full the event is dropped and logged, so a
// slow or unreachable broker never stalls the session core.
package kafkasink

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sakif/keno-client/internal/events"
	"github.com/sakif/keno-client/internal/model"
)

const queueSize = 256

// Writer is the subset of *kafka.Writer the forwarder uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for every event.
type Envelope struct {
	Type       string          `json:"type"`
	DeviceID   string          `json:"deviceId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Forwarder subscribes to a Bus and writes each event to Kafka.
type Forwarder struct {
	writer   Writer
	topic    string
	deviceID string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	closed  bool
	started bool
	queue   chan kafka.Message
	unsubs  []func()
	done    chan struct{}
}

// NewWriter builds a kafka-go writer for a comma-separated broker list.
func NewWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// New returns a Forwarder writing to topic. A nil writer yields a disabled
// forwarder whose methods are no-ops.
func New(w Writer, topic, deviceID string, logger *slog.Logger) *Forwarder {
	if w == nil {
		logger.Info("kafka event sink disabled")
	}
	return &Forwarder{
		writer:   w,
		topic:    topic,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan kafka.Message, queueSize),
		done:     make(chan struct{}),
	}
}

// Enabled reports whether events are actually forwarded.
func (f *Forwarder) Enabled() bool {
	return f.writer != nil
}

// Attach subscribes the forwarder to every topic on bus.
func (f *Forwarder) Attach(bus *events.Bus) {
	if !f.Enabled() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs,
		bus.LoginCompleted.Subscribe(func(u model.UserData) { f.enqueue("login_completed", loginPayload(u)) }),
		bus.RegisterCompleted.Subscribe(func(u model.UserData) { f.enqueue("register_completed", loginPayload(u)) }),
		bus.LogoutCompleted.Subscribe(func(events.Logout) { f.enqueue("logout_completed", struct{}{}) }),
		bus.BalanceChanged.Subscribe(func(e events.BalanceChanged) { f.enqueue("balance_changed", e) }),
		bus.BonusTimerChanged.Subscribe(func(e events.BonusTimerChanged) { f.enqueue("bonus_timer_changed", e) }),
		bus.ProviderInitCompleted.Subscribe(func(e events.ProviderInit) { f.enqueue("provider_init_completed", e) }),
	)
}

// Start launches the writer goroutine. It stops when ctx is done or Close is
// called, whichever comes first.
func (f *Forwarder) Start(ctx context.Context) {
	if !f.Enabled() {
		close(f.done)
		return
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	go f.run(ctx)
}

// Close detaches from the bus, flushes queued events and closes the writer.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, unsub := range f.unsubs {
		unsub()
	}
	f.unsubs = nil
	close(f.queue)
	started := f.started
	f.mu.Unlock()

	if !f.Enabled() {
		return nil
	}
	if started {
		<-f.done
	}
	return f.writer.Close()
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-f.queue:
			if !ok {
				return
			}
			if err := f.writer.WriteMessages(ctx, msg); err != nil {
				f.logger.Warn("forwarding event to kafka failed",
					slog.String("type", string(msg.Key)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *Forwarder) enqueue(eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.Warn("encoding event failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	value, err := json.Marshal(Envelope{
		Type:       eventType,
		DeviceID:   f.deviceID,
		OccurredAt: f.now().UTC(),
		Payload:    body,
	})
	if err != nil {
		f.logger.Warn("encoding event envelope failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- kafka.Message{Topic: f.topic, Key: []byte(eventType), Value: value}:
	default:
		f.logger.Warn("kafka event queue full, dropping event", slog.String("type", eventType))
	}
}

// loginPayload strips the profile down to identifiers. Names and email
// addresses stay on the device.
func loginPayload(u model.UserData) any {
	return struct {
		SessionID int `json:"sessionId"`
		UserID    int `json:"userId"`
		Balance   int `json:"balance"`
	}{u.Profile.SessionID, u.Profile.UserID, u.Balance.Balance}
}
