package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"expenser/internal/core"
)

// Event kinds published after successful server writes.
const (
	KindTransactionCreated = "transaction.created"
	KindTransactionDeleted = "transaction.deleted"
	KindWorkflowCreated    = "workflow.created"
)

// Message is the wire format for a domain event. Monetary fields ride along
// so downstream consumers (notifications, analytics) need no read-back.
type Message struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"userId"`
	EntityID  string    `json:"entityId"`
	Timestamp time.Time `json:"timestamp"`

	Amount        *decimal.Decimal     `json:"amount,omitempty"`
	Type          core.TransactionType `json:"type,omitempty"`
	PaymentMethod core.PaymentMethod   `json:"paymentMethod,omitempty"`
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
