// Package hub wires the event bus, presence, receipts, access control and
// metrics together and exposes the publish helpers the domain-event
// source calls per business action.
package hub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/access"
	"github.com/chathub-io/chathub/internal/bus"
	"github.com/chathub-io/chathub/internal/config"
	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/presence"
	"github.com/chathub-io/chathub/internal/protocol"
	"github.com/chathub-io/chathub/internal/receipts"
)

// Hub is the event-distribution core shared by the connection server and
// the integration layer.
type Hub struct {
	bus      bus.Bus
	presence presence.Manager
	receipts receipts.Manager
	access   *access.Authorizer
	metrics  *metrics.Collector
	cfg      *config.Config
	logger   zerolog.Logger
}

// New assembles a hub from its constructed parts.
func New(cfg *config.Config, b bus.Bus, p presence.Manager, r receipts.Manager, a *access.Authorizer, m *metrics.Collector, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:      b,
		presence: p,
		receipts: r,
		access:   a,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Bus() bus.Bus { return h.bus }
func (h *Hub) Presence() presence.Manager { return h.presence }
func (h *Hub) Receipts() receipts.Manager { return h.receipts }
func (h *Hub) Access() *access.Authorizer { return h.access }
func (h *Hub) Metrics() *metrics.Collector { return h.metrics }
func (h *Hub) Config() *config.Config { return h.cfg }

// publish validates, publishes and counts one envelope. Transport errors
// propagate to the caller; they are never swallowed here.
func (h *Hub) publish(ctx context.Context, room string, env *protocol.Envelope) error {
	if err := h.bus.Publish(ctx, room, env); err != nil {
		h.metrics.IncrementEventsFailed()
		h.metrics.RecordError("publish")
		return fmt.Errorf("publish %s to %s: %w", env.Type, room, err)
	}
	h.metrics.IncrementEventsPublished()
	return nil
}

// Message is the payload carried by message lifecycle events.
type Message struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
	AuthorID  string `json:"authorId"`
	CreatedAt int64  `json:"createdAt"`
}

type messageCreatedData struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// MessageCreated publishes a message.created event to the chat room. The
// message's own seq orders it within the chat; the caller owns ordering.
func (h *Hub) MessageCreated(ctx context.Context, chatID string, msg Message) error {
	if !h.cfg.PublishMessages {
		return nil
	}
	env, err := protocol.New(protocol.EventMessageCreated,
		messageCreatedData{ChatID: chatID, Message: msg},
		protocol.WithRoom(protocol.ChatRoom(chatID)),
		protocol.WithSeq(msg.Seq))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type messageEditedData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Patch     any    `json:"patch"`
}

// MessageEdited publishes a message.edited event.
func (h *Hub) MessageEdited(ctx context.Context, chatID, messageID string, seq int64, patch any) error {
	if !h.cfg.PublishMessages {
		return nil
	}
	env, err := protocol.New(protocol.EventMessageEdited,
		messageEditedData{ChatID: chatID, MessageID: messageID, Patch: patch},
		protocol.WithRoom(protocol.ChatRoom(chatID)),
		protocol.WithSeq(seq))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type messageDeletedData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// MessageDeleted publishes a message.deleted event.
func (h *Hub) MessageDeleted(ctx context.Context, chatID, messageID string, seq int64) error {
	if !h.cfg.PublishMessages {
		return nil
	}
	env, err := protocol.New(protocol.EventMessageDeleted,
		messageDeletedData{ChatID: chatID, MessageID: messageID},
		protocol.WithRoom(protocol.ChatRoom(chatID)),
		protocol.WithSeq(seq))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type chatUpdatedData struct {
	ChatID  string `json:"chatId"`
	Changes any    `json:"changes,omitempty"`
}

// ChatUpdated publishes a chat.updated event.
func (h *Hub) ChatUpdated(ctx context.Context, chatID string, changes any) error {
	if !h.cfg.PublishMessages {
		return nil
	}
	env, err := protocol.New(protocol.EventChatUpdated,
		chatUpdatedData{ChatID: chatID, Changes: changes},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type offerData struct {
	ChatID   string `json:"chatId"`
	OfferID  string `json:"offerId"`
	ByUserID string `json:"byUserId"`
}

// OfferProposed publishes an offer.proposed event.
func (h *Hub) OfferProposed(ctx context.Context, chatID, offerID, byUserID string) error {
	if !h.cfg.PublishOffers {
		return nil
	}
	env, err := protocol.New(protocol.EventOfferProposed,
		offerData{ChatID: chatID, OfferID: offerID, ByUserID: byUserID},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

// OfferAccepted publishes an offer.accepted event.
func (h *Hub) OfferAccepted(ctx context.Context, chatID, offerID, byUserID string) error {
	if !h.cfg.PublishOffers {
		return nil
	}
	env, err := protocol.New(protocol.EventOfferAccepted,
		offerData{ChatID: chatID, OfferID: offerID, ByUserID: byUserID},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type shipmentData struct {
	ChatID     string `json:"chatId"`
	ShipmentID string `json:"shipmentId"`
}

// ShipmentCreated publishes a shipment.created event.
func (h *Hub) ShipmentCreated(ctx context.Context, chatID, shipmentID string) error {
	if !h.cfg.PublishShipments {
		return nil
	}
	env, err := protocol.New(protocol.EventShipmentCreated,
		shipmentData{ChatID: chatID, ShipmentID: shipmentID},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type qrData struct {
	ChatID string `json:"chatId"`
	QRID   string `json:"qrId"`
}

// QRGenerated publishes a qr.generated event.
func (h *Hub) QRGenerated(ctx context.Context, chatID, qrID string) error {
	if !h.cfg.PublishQR {
		return nil
	}
	env, err := protocol.New(protocol.EventQRGenerated,
		qrData{ChatID: chatID, QRID: qrID},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

type attachmentData struct {
	ChatID       string `json:"chatId"`
	MessageID    string `json:"messageId"`
	AttachmentID string `json:"attachmentId"`
	PreviewURL   string `json:"previewUrl"`
}

// AttachmentPreviewReady publishes an attachment.preview.ready event.
func (h *Hub) AttachmentPreviewReady(ctx context.Context, chatID, messageID, attachmentID, previewURL string) error {
	if !h.cfg.PublishAttachments {
		return nil
	}
	env, err := protocol.New(protocol.EventAttachmentPreviewReady,
		attachmentData{ChatID: chatID, MessageID: messageID, AttachmentID: attachmentID, PreviewURL: previewURL},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

// TypingData is the payload of typing.start / typing.stop events.
type TypingData struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// TypingChanged publishes a typing.start or typing.stop event so every
// connection subscribed to the chat observes the change.
func (h *Hub) TypingChanged(ctx context.Context, chatID, userID string, start bool) error {
	t := protocol.EventTypingStop
	if start {
		t = protocol.EventTypingStart
	}
	env, err := protocol.New(t, TypingData{ChatID: chatID, UserID: userID},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}

// ReceiptData is the payload of receipt.delivered / receipt.read events.
type ReceiptData struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Seq    int64  `json:"seq"`
}

// ReceiptRecorded publishes a receipt.delivered or receipt.read event.
func (h *Hub) ReceiptRecorded(ctx context.Context, chatID, userID string, seq int64, read bool) error {
	t := protocol.EventReceiptDelivered
	if read {
		t = protocol.EventReceiptRead
	}
	env, err := protocol.New(t, ReceiptData{ChatID: chatID, UserID: userID, Seq: seq},
		protocol.WithRoom(protocol.ChatRoom(chatID)))
	if err != nil {
		return err
	}
	return h.publish(ctx, protocol.ChatRoom(chatID), env)
}
