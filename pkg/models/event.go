package models

import "time"

// EventSchema is the Avro record every ingested event is serialized with.
const EventSchema = `{
  "type": "record",
  "name": "Event",
  "namespace": "com.example.events",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "type", "type": "string"},
    {"name": "timestamp", "type": "long"},
    {"name": "payload", "type": "string"}
  ]
}`

// Event is immutable once built; callers copy it by value.
type Event struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
}

// NewEvent stamps the event with now when the caller left the timestamp out.
// An explicit 0 is kept.
func NewEvent(id, eventType, payload string, timestampMs *int64, now time.Time) Event {
	ts := now.UnixMilli()
	if timestampMs != nil {
		ts = *timestampMs
	}
	return Event{
		ID:          id,
		Type:        eventType,
		Payload:     payload,
		TimestampMs: ts,
	}
}

// Native returns the goavro native form of the event.
func (e Event) Native() map[string]interface{} {
	return map[string]interface{}{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.TimestampMs,
		"payload":   e.Payload,
	}
}
