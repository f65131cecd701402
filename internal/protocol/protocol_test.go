package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewStampsIdentityAndTime(t *testing.T) {
	env, err := New(EventChatUpdated, map[string]string{"chatId": "abc"},
		WithRoom("chat:abc"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if env.V != Version {
		t.Errorf("version = %d, want %d", env.V, Version)
	}
	if env.ID == "" {
		t.Error("id not stamped")
	}
	if env.TS == 0 {
		t.Error("ts not stamped")
	}
	if env.Room != "chat:abc" {
		t.Errorf("room = %q", env.Room)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := New(EventMessageCreated, map[string]any{
		"chatId": "abc",
		"message": map[string]any{
			"id": "m1", "seq": 5, "kind": "text", "payload": "hi",
			"authorId": "u1", "createdAt": 1700000000000,
		},
	}, WithRoom("chat:abc"), WithSeq(5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if got.ID != env.ID || got.TS != env.TS || got.Type != env.Type ||
		got.Room != env.Room || got.Seq != env.Seq {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, env)
	}
	if string(got.Data) != string(env.Data) {
		t.Errorf("data mismatch: got %s, want %s", got.Data, env.Data)
	}
}

func TestValidateRejections(t *testing.T) {
	valid := func() *Envelope {
		env, _ := New(EventTypingStart, map[string]string{"chatId": "c", "userId": "u"},
			WithRoom("chat:c"))
		return env
	}

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"version mismatch", func(e *Envelope) { e.V = 99 }},
		{"unknown type", func(e *Envelope) { e.Type = "message.exploded" }},
		{"missing id", func(e *Envelope) { e.ID = "" }},
		{"missing ts", func(e *Envelope) { e.TS = 0 }},
		{"bad room", func(e *Envelope) { e.Room = "lobby" }},
		{"missing payload field", func(e *Envelope) { e.Data = json.RawMessage(`{"chatId":"c"}`) }},
		{"payload not object", func(e *Envelope) { e.Data = json.RawMessage(`42`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(env)
			if err := ValidateEnvelope(env); err == nil {
				t.Error("expected rejection, got nil")
			}
		})
	}
}

func TestOrderedTypeRequiresSeq(t *testing.T) {
	env, _ := New(EventMessageDeleted, map[string]string{"chatId": "c", "messageId": "m"},
		WithRoom("chat:c"))
	if err := ValidateEnvelope(env); err == nil {
		t.Error("message.deleted without seq should be rejected")
	}
	env.Seq = 3
	if err := ValidateEnvelope(env); err != nil {
		t.Errorf("message.deleted with seq rejected: %v", err)
	}
}

func TestPingPongPayloads(t *testing.T) {
	for _, data := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`{"ts":123}`)} {
		env, _ := New(EventPing, nil)
		env.Data = data
		if err := ValidateEnvelope(env); err != nil {
			t.Errorf("ping with data %s rejected: %v", data, err)
		}
	}

	env, _ := New(EventPong, nil)
	env.Data = json.RawMessage(`"not an object"`)
	if err := ValidateEnvelope(env); err == nil {
		t.Error("pong with string payload should be rejected")
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	if _, err := Validate([]byte(`{"v":1,`)); err == nil {
		t.Error("truncated JSON should be rejected")
	}
}

func TestNewErrorShape(t *testing.T) {
	env := NewError(CodeForbidden, "nope")
	if err := ValidateEnvelope(env); err != nil {
		t.Fatalf("error envelope invalid: %v", err)
	}
	var data ErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if data.Code != CodeForbidden || data.Message != "nope" {
		t.Errorf("error data = %+v", data)
	}
}
