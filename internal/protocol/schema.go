package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validation errors. Callers drop the envelope and log; none of these may
// cross a process boundary or crash a consuming loop.
var (
	ErrVersionMismatch = errors.New("protocol version mismatch")
	ErrUnknownType     = errors.New("unknown event type")
	ErrBadPayload      = errors.New("payload failed schema validation")
	ErrBadRoom         = errors.New("malformed room")
	ErrMissingSeq      = errors.New("ordered event type requires seq")
)

// validator checks the data payload of one event type.
type validator func(data json.RawMessage) error

// schemas maps event type -> payload validator. Populated once at init;
// adding an event type means adding one entry here, not touching dispatch.
var schemas = map[EventType]validator{}

func init() {
	schemas[EventMessageCreated] = objectWith("chatId", "message")
	schemas[EventMessageEdited] = objectWith("chatId", "messageId", "patch")
	schemas[EventMessageDeleted] = objectWith("chatId", "messageId")
	schemas[EventAttachmentPreviewReady] = objectWith("chatId", "messageId", "attachmentId", "previewUrl")
	schemas[EventChatUpdated] = objectWith("chatId")
	schemas[EventOfferProposed] = objectWith("chatId", "offerId", "byUserId")
	schemas[EventOfferAccepted] = objectWith("chatId", "offerId", "byUserId")
	schemas[EventShipmentCreated] = objectWith("chatId", "shipmentId")
	schemas[EventQRGenerated] = objectWith("chatId", "qrId")
	schemas[EventReceiptDelivered] = objectWith("chatId", "userId", "seq")
	schemas[EventReceiptRead] = objectWith("chatId", "userId", "seq")
	schemas[EventTypingStart] = objectWith("chatId", "userId")
	schemas[EventTypingStop] = objectWith("chatId", "userId")
	schemas[EventPing] = emptyPayload
	schemas[EventPong] = emptyPayload
	schemas[EventError] = objectWith("code", "message")
}

// objectWith returns a validator requiring a JSON object containing every
// listed field with a non-null value.
func objectWith(fields ...string) validator {
	return func(data json.RawMessage) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: not an object", ErrBadPayload)
		}
		for _, f := range fields {
			v, ok := obj[f]
			if !ok || string(v) == "null" {
				return fmt.Errorf("%w: missing field %q", ErrBadPayload, f)
			}
		}
		return nil
	}
}

// emptyPayload accepts an absent, null or empty-object payload only.
func emptyPayload(data json.RawMessage) error {
	switch string(data) {
	case "", "null", "{}":
		return nil
	}
	// Ping payloads carrying a client timestamp are tolerated.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: expected empty payload", ErrBadPayload)
	}
	return nil
}

// ValidateEnvelope checks an already-decoded envelope: structural first
// (version, type, room, seq), then the payload against the type's schema.
func ValidateEnvelope(e *Envelope) error {
	if e == nil {
		return ErrBadPayload
	}
	if e.V != Version {
		return fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, e.V, Version)
	}
	if e.ID == "" || e.TS == 0 {
		return fmt.Errorf("%w: missing id or ts", ErrBadPayload)
	}
	check, ok := schemas[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.Room != "" {
		if _, err := ParseRoom(e.Room); err != nil {
			return err
		}
	}
	if e.Type.Ordered() && e.Seq <= 0 {
		return ErrMissingSeq
	}
	return check(e.Data)
}

// Validate decodes raw wire bytes and runs full envelope validation.
// A failure means the message is dropped, never forwarded.
func Validate(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := ValidateEnvelope(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
