package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the wire protocol version this server speaks. Envelopes
// carrying any other version are rejected before validation of the payload.
const Version = 1

// EventType identifies the shape of an envelope's data payload.
type EventType string

const (
	EventMessageCreated         EventType = "message.created"
	EventMessageEdited          EventType = "message.edited"
	EventMessageDeleted         EventType = "message.deleted"
	EventAttachmentPreviewReady EventType = "attachment.preview.ready"
	EventChatUpdated            EventType = "chat.updated"
	EventOfferProposed          EventType = "offer.proposed"
	EventOfferAccepted          EventType = "offer.accepted"
	EventShipmentCreated        EventType = "shipment.created"
	EventQRGenerated            EventType = "qr.generated"
	EventReceiptDelivered       EventType = "receipt.delivered"
	EventReceiptRead            EventType = "receipt.read"
	EventTypingStart            EventType = "typing.start"
	EventTypingStop             EventType = "typing.stop"
	EventPing                   EventType = "ping"
	EventPong                   EventType = "pong"
	EventError                  EventType = "error"
)

// orderedTypes are event types that must carry a monotonically increasing
// sequence number within their chat. The producer owns the sequence; the
// bus only transports it.
var orderedTypes = map[EventType]bool{
	EventMessageCreated: true,
	EventMessageEdited:  true,
	EventMessageDeleted: true,
}

// Ordered reports whether t requires a sequence number.
func (t EventType) Ordered() bool {
	return orderedTypes[t]
}

// Envelope is the unit of transport for every event flowing through the hub.
type Envelope struct {
	V    int             `json:"v"`
	ID   string          `json:"id"`
	TS   int64           `json:"ts"` // unix ms, stamped at publish time
	Type EventType       `json:"type"`
	Room string          `json:"room,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Option configures optional envelope fields at construction.
type Option func(*Envelope)

// WithRoom sets the target room.
func WithRoom(room string) Option {
	return func(e *Envelope) { e.Room = room }
}

// WithSeq sets the producer-owned sequence number.
func WithSeq(seq int64) Option {
	return func(e *Envelope) { e.Seq = seq }
}

// New builds an envelope of the given type, stamping a fresh id and the
// current server time. Producers never set id or ts themselves.
func New(t EventType, data any, opts ...Option) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		V:    Version,
		ID:   uuid.NewString(),
		TS:   time.Now().UnixMilli(),
		Type: t,
		Data: raw,
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// ErrorData is the payload of an "error" envelope. Clients receive a
// machine-readable code and a human-readable message, never raw internals.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes surfaced to clients.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// NewError builds an error envelope addressed to a single connection.
func NewError(code, message string) *Envelope {
	env, _ := New(EventError, ErrorData{Code: code, Message: message})
	return env
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
