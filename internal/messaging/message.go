// Package messaging implements the typed envelope protocol and the
// in-process router agents use to talk to each other.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind types a message envelope.
type Kind string

const (
	KindTaskRequest           Kind = "task_request"
	KindTaskResponse          Kind = "task_response"
	KindCollaborationRequest  Kind = "collaboration_request"
	KindCollaborationResponse Kind = "collaboration_response"
	KindStatusUpdate          Kind = "status_update"
	KindError                 Kind = "error"
	KindHeartbeat             Kind = "heartbeat"
)

// Priority orders messages for receivers that care.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	// ErrInvalidMessage covers malformed envelopes.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrExpired is returned when a message's expiry has passed.
	ErrExpired = errors.New("message expired")
)

// Message is one typed envelope. CorrelationID links a response back to
// the request that caused it.
type Message struct {
	ID               string         `json:"id"`
	Sender           string         `json:"sender"`
	Receiver         string         `json:"receiver,omitempty"`
	Kind             Kind           `json:"kind"`
	Priority         Priority       `json:"priority"`
	Content          map[string]any `json:"content,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at,omitempty"`
	RequiresResponse bool           `json:"requires_response"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
}

// New builds a message with a fresh id. Requests that demand a response
// get the flag set automatically.
func New(sender, receiver string, kind Kind, content map[string]any) *Message {
	return &Message{
		ID:               uuid.NewString(),
		Sender:           sender,
		Receiver:         receiver,
		Kind:             kind,
		Priority:         PriorityNormal,
		Content:          content,
		CreatedAt:        time.Now(),
		RequiresResponse: kind == KindTaskRequest || kind == KindCollaborationRequest,
	}
}

// WithExpiry sets an absolute expiry and returns the message.
func (m *Message) WithExpiry(ttl time.Duration) *Message {
	m.ExpiresAt = m.CreatedAt.Add(ttl)
	return m
}

// Expired reports whether the message's lifetime has passed.
func (m *Message) Expired() bool {
	return !m.ExpiresAt.IsZero() && time.Now().After(m.ExpiresAt)
}

// Validate checks the envelope header before delivery.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMessage)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMessage)
	}
	if m.Expired() {
		return fmt.Errorf("%w: %s", ErrExpired, m.ID)
	}
	if (m.Kind == KindTaskRequest || m.Kind == KindCollaborationRequest) && !m.RequiresResponse {
		return fmt.Errorf("%w: %s must require a response", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// responseKind maps a request kind to its response kind.
func responseKind(k Kind) Kind {
	switch k {
	case KindTaskRequest:
		return KindTaskResponse
	case KindCollaborationRequest:
		return KindCollaborationResponse
	default:
		return k
	}
}

// CreateResponse builds the reply envelope: correlated to this message,
// addressed back to its sender, with the response kind and no further
// response required.
func (m *Message) CreateResponse(sender string, content map[string]any) *Message {
	return &Message{
		ID:            uuid.NewString(),
		Sender:        sender,
		Receiver:      m.Sender,
		Kind:          responseKind(m.Kind),
		Priority:      m.Priority,
		Content:       content,
		CreatedAt:     time.Now(),
		CorrelationID: m.ID,
	}
}
