// Package outbox persists sync events next to the sync log and delivers them to Kafka.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"example.com/wearablesync/internal/domain"
)

// DefaultTopic receives every wearable sync event.
const DefaultTopic = "wearable_sync_events"

// Message is an outbox row.
type Message struct {
	EventID       int64
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

type catalogEntry struct {
	subject string
	schema  string
}

var catalog = map[string]catalogEntry{
	domain.EventSyncCompleted:         {subject: "wearable.sync_completed-value", schema: syncCompletedSchema},
	domain.EventConnectionDeactivated: {subject: "wearable.connection_deactivated-value", schema: connectionDeactivatedSchema},
}

// FromEvent builds the outbox row for event. Events for one user share a partition key
// so consumers see them in order.
func FromEvent(event domain.SyncEvent, topic string) (Message, error) {
	entry, ok := catalog[event.Type]
	if !ok {
		return Message{}, fmt.Errorf("outbox: unknown event type %q", event.Type)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: encode %s: %w", event.Type, err)
	}
	return Message{
		AggregateID:   event.UserID,
		EventType:     event.Type,
		Topic:         topic,
		SchemaSubject: entry.subject,
		PartitionKey:  event.UserID,
		Payload:       payload,
	}, nil
}

// encodeWireFormat prefixes payload with the magic byte and big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
