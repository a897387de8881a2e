package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for internal events published to NATS.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
