package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination.
type Address struct {
	Role    string `json:"role"`
	Node    string `json:"node"`
	Station string `json:"station,omitempty"`
}

// Broadcast is the destination of transition notices.
var Broadcast = Address{Node: "*"}

func (a Address) IsBroadcast() bool { return a.Node == "*" }

// Targets reports whether a message sent to a should be handled by role.
func (a Address) Targets(role string) bool {
	return a.IsBroadcast() || a.Role == "" || a.Role == role
}

// Envelope wraps every message exchanged with intake consoles and subscribers.
type Envelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Src       Address         `json:"src"`
	Dst       Address         `json:"dst"`
	Timestamp time.Time       `json:"ts"`
	ExpiresAt time.Time       `json:"exp"`
	CorID     string          `json:"cor,omitempty"`
	Payload   json.RawMessage `json:"p"`
}

// RawHeader is the minimal decode for routing decisions before full payload decode.
type RawHeader struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Dst       Address   `json:"dst"`
	ExpiresAt time.Time `json:"exp"`
}

// NewEnvelope creates an outbound envelope with the default TTL for msgType.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.New().String(),
		Src:       src,
		Dst:       dst,
		Timestamp: now,
		ExpiresAt: now.Add(DefaultTTLFor(msgType)),
		Payload:   p,
	}, nil
}

// NewTransitionEnvelope wraps a committed transition for the transitions
// topic. The envelope ID is the transition ID when one is set, so a notice
// relayed twice keeps one identity.
func NewTransitionEnvelope(src Address, n TransitionNotice) (*Envelope, error) {
	env, err := NewEnvelope(TypeTransition, src, Broadcast, n)
	if err != nil {
		return nil, err
	}
	if n.TransitionID != "" {
		env.ID = n.TransitionID
	}
	return env, nil
}

// Key is the outbox partition key: every transition of one entity shares it.
func (n TransitionNotice) Key() string {
	return fmt.Sprintf("%s:%d", n.EntityKind, n.EntityID)
}

// NewReply creates a reply envelope correlated to the original message ID.
func NewReply(msgType string, src, dst Address, correlationID string, payload any) (*Envelope, error) {
	env, err := NewEnvelope(msgType, src, dst, payload)
	if err != nil {
		return nil, err
	}
	env.CorID = correlationID
	return env, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into target.
func (e *Envelope) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}
