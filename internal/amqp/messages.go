package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action selects what a worker does with a reconcile request.
type Action string

const (
	// ActionSnapshot folds every uncounted month of the user.
	ActionSnapshot Action = "snapshot"
	// ActionResync re-aggregates the listed months and refolds.
	ActionResync Action = "resync"
	// ActionRebuild recomputes the whole history.
	ActionRebuild Action = "rebuild"
)

// ReconcileMessage asks a worker to bring a user's stored balances up to
// date. It carries only identifiers; the worker reads the ledger itself.
type ReconcileMessage struct {
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	Months    []string  `json:"months,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReconcileMessage(userID string, action Action, months ...string) *ReconcileMessage {
	return &ReconcileMessage{
		UserID:    userID,
		Action:    action,
		Months:    months,
		Timestamp: time.Now(),
	}
}

// Validate rejects messages a worker cannot act on.
func (m *ReconcileMessage) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("reconcile message without user")
	}
	switch m.Action {
	case ActionSnapshot, ActionRebuild:
	case ActionResync:
		if len(m.Months) == 0 {
			return fmt.Errorf("resync message for %s without months", m.UserID)
		}
	default:
		return fmt.Errorf("unknown reconcile action %q", m.Action)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *ReconcileMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileMessageFromJSON decodes and validates a message.
func ReconcileMessageFromJSON(data []byte) (*ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
