package domain

import (
	"encoding/json"
	"time"
)

// Message is a routed agent-to-agent message. To is empty for broadcasts.
type Message struct {
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// Broadcast reports whether the message has no specific recipient.
func (m Message) Broadcast() bool {
	return m.To == ""
}

// DeliveryReceipt is returned to the sender after a successful routing.
type DeliveryReceipt struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
