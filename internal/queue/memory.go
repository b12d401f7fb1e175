package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Defaults mirror the limits of the cloud broker the production
// deployment swaps in.
const (
	DefaultMaxDeliveryCount = 3
	DefaultMaxBatchBytes    = 256 << 10
)

var (
	// ErrUnknownDelivery is returned when settling a delivery that was
	// already settled or never issued by this transport.
	ErrUnknownDelivery = errors.New("queue: unknown or already settled delivery")
	// ErrMessageTooLarge is returned when a batched message cannot fit
	// any sub-batch. The whole batch operation fails before anything is
	// sent.
	ErrMessageTooLarge = errors.New("queue: message exceeds batch size limit")
)

// MemoryConfig tunes the in-memory transport.
type MemoryConfig struct {
	MaxDeliveryCount int
	MaxBatchBytes    int
}

// Memory is the development transport: an in-process lane table with
// at-least-once semantics. All methods are safe for concurrent callers;
// the durable broker replaces it behind the Transport interface without
// touching the pipeline.
type Memory struct {
	maxDelivery   int
	maxBatchBytes int

	mu    sync.Mutex
	lanes map[string]*memoryLane
}

type memoryLane struct {
	mu       sync.Mutex
	pending  []*Message
	inflight map[string]*Message
	notify   chan struct{}
}

type memoryToken struct {
	lane string
	id   string
}

// NewMemory constructs an in-memory transport applying defaults for
// unset limits.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxDeliveryCount <= 0 {
		cfg.MaxDeliveryCount = DefaultMaxDeliveryCount
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	return &Memory{
		maxDelivery:   cfg.MaxDeliveryCount,
		maxBatchBytes: cfg.MaxBatchBytes,
		lanes:         make(map[string]*memoryLane),
	}
}

func (m *Memory) lane(name string) *memoryLane {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[name]
	if !ok {
		l = &memoryLane{
			inflight: make(map[string]*Message),
			notify:   make(chan struct{}, 1),
		}
		m.lanes[name] = l
	}
	return l
}

// Publish appends a single message to the lane.
func (m *Memory) Publish(ctx context.Context, lane string, body []byte, props map[string]string) error {
	if lane == "" {
		return errors.New("queue: lane name required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.lane(lane)
	l.mu.Lock()
	l.pending = append(l.pending, newMessage(lane, body, props))
	l.mu.Unlock()
	l.wake()
	return nil
}

// PublishBatch splits the bodies into size-limited sub-batches and
// appends each sub-batch atomically. If any single body exceeds the
// batch size limit the whole operation fails before anything is sent.
func (m *Memory) PublishBatch(ctx context.Context, lane string, bodies [][]byte) error {
	if lane == "" {
		return errors.New("queue: lane name required")
	}
	for i, body := range bodies {
		if len(body) > m.maxBatchBytes {
			return fmt.Errorf("%w: message %d is %d bytes, limit %d", ErrMessageTooLarge, i, len(body), m.maxBatchBytes)
		}
	}

	l := m.lane(lane)
	var chunk []*Message
	chunkBytes := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		l.mu.Lock()
		l.pending = append(l.pending, chunk...)
		l.mu.Unlock()
		l.wake()
		chunk = nil
		chunkBytes = 0
	}

	for _, body := range bodies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunkBytes+len(body) > m.maxBatchBytes {
			flush()
		}
		chunk = append(chunk, newMessage(lane, body, nil))
		chunkBytes += len(body)
	}
	flush()
	return nil
}

// Consume blocks until a message is available on the lane or the context
// is cancelled. The returned delivery must be settled exactly once.
func (m *Memory) Consume(ctx context.Context, lane string) (*Delivery, error) {
	l := m.lane(lane)
	for {
		l.mu.Lock()
		if len(l.pending) > 0 {
			msg := l.pending[0]
			l.pending = l.pending[1:]
			msg.DeliveryCount++
			l.inflight[msg.ID] = msg
			remaining := len(l.pending)
			l.mu.Unlock()
			if remaining > 0 {
				l.wake()
			}
			copied := *msg
			copied.Body = append([]byte(nil), msg.Body...)
			if len(msg.Properties) > 0 {
				copied.Properties = make(map[string]string, len(msg.Properties))
				for k, v := range msg.Properties {
					copied.Properties[k] = v
				}
			}
			return &Delivery{Msg: copied, token: memoryToken{lane: lane, id: msg.ID}}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.notify:
		}
	}
}

// Ack removes the message from the lane permanently.
func (m *Memory) Ack(d *Delivery) error {
	l, id, err := m.resolve(d)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inflight[id]; !ok {
		return ErrUnknownDelivery
	}
	delete(l.inflight, id)
	d.token = nil
	return nil
}

// Abandon returns the message to the lane for redelivery. Once the
// delivery count reaches the configured maximum the message is routed to
// the dead-letter lane with ReasonMaxRetries instead.
func (m *Memory) Abandon(d *Delivery) error {
	l, id, err := m.resolve(d)
	if err != nil {
		return err
	}
	l.mu.Lock()
	msg, ok := l.inflight[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownDelivery
	}
	delete(l.inflight, id)
	d.token = nil

	if msg.DeliveryCount >= m.maxDelivery {
		l.mu.Unlock()
		m.routeDeadLetter(msg, ReasonMaxRetries)
		return nil
	}
	l.pending = append(l.pending, msg)
	l.mu.Unlock()
	l.wake()
	return nil
}

// DeadLetter moves the message to the terminal lane with the supplied
// reason, regardless of its delivery count.
func (m *Memory) DeadLetter(d *Delivery, reason string) error {
	l, id, err := m.resolve(d)
	if err != nil {
		return err
	}
	l.mu.Lock()
	msg, ok := l.inflight[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownDelivery
	}
	delete(l.inflight, id)
	l.mu.Unlock()
	d.token = nil
	m.routeDeadLetter(msg, reason)
	return nil
}

// Depth reports pending and in-flight counts for a lane.
func (m *Memory) Depth(lane string) (pending, inflight int) {
	l := m.lane(lane)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), len(l.inflight)
}

func (m *Memory) resolve(d *Delivery) (*memoryLane, string, error) {
	if d == nil {
		return nil, "", ErrUnknownDelivery
	}
	token, ok := d.token.(memoryToken)
	if !ok {
		return nil, "", ErrUnknownDelivery
	}
	return m.lane(token.lane), token.id, nil
}

func (m *Memory) routeDeadLetter(msg *Message, reason string) {
	target := DeadLetterLane(msg.Lane)
	if msg.Properties == nil {
		msg.Properties = make(map[string]string)
	}
	msg.Properties[PropDeadLetterReason] = reason
	msg.Lane = target

	logrus.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"lane":       target,
		"deliveries": msg.DeliveryCount,
		"reason":     reason,
	}).Warn("message dead-lettered")

	l := m.lane(target)
	l.mu.Lock()
	l.pending = append(l.pending, msg)
	l.mu.Unlock()
	l.wake()
}

func (l *memoryLane) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func newMessage(lane string, body []byte, props map[string]string) *Message {
	msg := &Message{
		ID:   uuid.NewString(),
		Lane: lane,
		Body: append([]byte(nil), body...),
	}
	if len(props) > 0 {
		msg.Properties = make(map[string]string, len(props))
		for k, v := range props {
			msg.Properties[k] = v
		}
	}
	return msg
}
