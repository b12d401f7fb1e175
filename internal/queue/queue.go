package queue

import (
	"context"
	"strings"
)

// Lane names used by the triage pipeline. Naming is a convention shared
// with the durable broker, not a protocol requirement.
const (
	LaneSanitized = "sanitized-tickets"
	LaneEnriched  = "enriched-tickets"
)

// Terminal reasons recorded when a message is dead-lettered.
const (
	ReasonMaxRetries      = "MaxRetriesExceeded"
	ReasonDeserialization = "DeserializationFailed"
)

// PropDeadLetterReason is the message property carrying the terminal reason.
const PropDeadLetterReason = "deadletter_reason"

const deadLetterSuffix = "-deadletter"

// DeadLetterLane returns the terminal lane paired with the supplied lane.
func DeadLetterLane(lane string) string {
	if strings.HasSuffix(lane, deadLetterSuffix) {
		return lane
	}
	return lane + deadLetterSuffix
}

// Message is the envelope moved through a lane. DeliveryCount increases
// monotonically with each redelivery.
type Message struct {
	ID            string
	Lane          string
	Body          []byte
	DeliveryCount int
	Properties    map[string]string
}

// Delivery pairs a consumed message with the transport-private token
// needed to settle it. A delivery must be settled exactly once via Ack,
// Abandon, or DeadLetter.
type Delivery struct {
	Msg   Message
	token any
}

// Transport is a durable at-least-once channel with named lanes. A
// message is only removed from its lane after an explicit Ack; Abandon
// (or a consumer crash) makes it eligible for redelivery until the
// delivery count passes the configured maximum, at which point the
// transport routes it to the dead-letter lane instead.
type Transport interface {
	Publish(ctx context.Context, lane string, body []byte, props map[string]string) error
	PublishBatch(ctx context.Context, lane string, bodies [][]byte) error
	Consume(ctx context.Context, lane string) (*Delivery, error)
	Ack(d *Delivery) error
	Abandon(d *Delivery) error
	DeadLetter(d *Delivery, reason string) error
}
