package amqp

import (
	"encoding/json"
	"time"
)

// TransactionMessage carries one store transaction update to the
// entitlement worker. Verified reflects the platform's signature check and
// is never recomputed downstream.
type TransactionMessage struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Verified    bool      `json:"verified"`
	PurchasedAt time.Time `json:"purchased_at"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewTransactionMessage(id, productID string, verified bool, purchasedAt time.Time) *TransactionMessage {
	return &TransactionMessage{
		ID:          id,
		ProductID:   productID,
		Verified:    verified,
		PurchasedAt: purchasedAt,
		Timestamp:   time.Now(),
	}
}

func (m *TransactionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionMessageFromJSON(data []byte) (*TransactionMessage, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReminderAction is the verb of a reminder command.
type ReminderAction string

const (
	ReminderSchedule  ReminderAction = "schedule"
	ReminderCancel    ReminderAction = "cancel"
	ReminderCancelAll ReminderAction = "cancelAll"
)

// ReminderCommandMessage tells the notification delivery side what to do
// with one pending reminder. ID is the subscription id; FireAt, Title and
// Body are only set for schedule commands.
type ReminderCommandMessage struct {
	Action    ReminderAction `json:"action"`
	ID        string         `json:"id,omitempty"`
	FireAt    time.Time      `json:"fire_at,omitempty"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewReminderCommandMessage(action ReminderAction, id string, fireAt time.Time, title, body string) *ReminderCommandMessage {
	return &ReminderCommandMessage{
		Action:    action,
		ID:        id,
		FireAt:    fireAt,
		Title:     title,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func (m *ReminderCommandMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReminderCommandMessageFromJSON(data []byte) (*ReminderCommandMessage, error) {
	var msg ReminderCommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
