package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op identifies an inbound client command.
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpTyping      Op = "typing"
	OpAck         Op = "ack"
	OpPing        Op = "ping"
)

// Typing actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Ack kinds.
const (
	KindDelivered = "delivered"
	KindRead      = "read"
)

// ErrBadCommand is returned for commands failing shape validation.
var ErrBadCommand = errors.New("malformed command")

// Command is an inbound client request on a connection.
type Command struct {
	Op     Op       `json:"op"`
	Rooms  []string `json:"rooms,omitempty"`
	ChatID string   `json:"chatId,omitempty"`
	Action string   `json:"action,omitempty"`
	Seq    int64    `json:"seq,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	TS     int64    `json:"ts,omitempty"`
}

// ParseCommand decodes and shape-checks one client command.
func ParseCommand(raw []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Validate checks the command's shape for its op. Room strings inside
// subscribe batches are checked individually by the server so one bad
// room does not sink its siblings.
func (c *Command) Validate() error {
	switch c.Op {
	case OpSubscribe, OpUnsubscribe:
		if len(c.Rooms) == 0 {
			return fmt.Errorf("%w: %s requires rooms", ErrBadCommand, c.Op)
		}
	case OpTyping:
		if c.ChatID == "" {
			return fmt.Errorf("%w: typing requires chatId", ErrBadCommand)
		}
		if c.Action != ActionStart && c.Action != ActionStop {
			return fmt.Errorf("%w: typing action must be start or stop", ErrBadCommand)
		}
	case OpAck:
		if c.ChatID == "" {
			return fmt.Errorf("%w: ack requires chatId", ErrBadCommand)
		}
		if c.Seq <= 0 {
			return fmt.Errorf("%w: ack requires positive seq", ErrBadCommand)
		}
		if c.Kind != KindDelivered && c.Kind != KindRead {
			return fmt.Errorf("%w: ack kind must be delivered or read", ErrBadCommand)
		}
	case OpPing:
		// No required fields; ts is optional.
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadCommand, c.Op)
	}
	return nil
}
