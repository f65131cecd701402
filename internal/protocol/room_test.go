package protocol

import "testing"

func TestParseRoom(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		kind RoomKind
		id   string
	}{
		{"chat:abc", true, RoomChat, "abc"},
		{"user:u-42", true, RoomUser, "u-42"},
		{"chat:ABC_def-123", true, RoomChat, "ABC_def-123"},
		{"chat:../../x", false, "", ""},
		{"chat:", false, "", ""},
		{"chat", false, "", ""},
		{"", false, "", ""},
		{"group:abc", false, "", ""},
		{"chat:a b", false, "", ""},
		{"chat:a/b", false, "", ""},
		{"user:" + string(make([]byte, 65)), false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			room, err := ParseRoom(tt.raw)
			if tt.ok {
				if err != nil {
					t.Fatalf("ParseRoom(%q) failed: %v", tt.raw, err)
				}
				if room.Kind != tt.kind || room.ID != tt.id {
					t.Errorf("got %+v, want kind=%s id=%s", room, tt.kind, tt.id)
				}
				if room.String() != tt.raw {
					t.Errorf("String() = %q, want %q", room.String(), tt.raw)
				}
			} else if err == nil {
				t.Errorf("ParseRoom(%q) should fail", tt.raw)
			}
		})
	}
}

func TestRoomBuilders(t *testing.T) {
	if got := ChatRoom("abc"); got != "chat:abc" {
		t.Errorf("ChatRoom = %q", got)
	}
	if got := UserRoom("u1"); got != "user:u1" {
		t.Errorf("UserRoom = %q", got)
	}
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"subscribe", `{"op":"subscribe","rooms":["chat:a"]}`, true},
		{"subscribe no rooms", `{"op":"subscribe"}`, false},
		{"unsubscribe", `{"op":"unsubscribe","rooms":["chat:a","user:u"]}`, true},
		{"typing start", `{"op":"typing","chatId":"a","action":"start"}`, true},
		{"typing bad action", `{"op":"typing","chatId":"a","action":"go"}`, false},
		{"typing no chat", `{"op":"typing","action":"start"}`, false},
		{"ack delivered", `{"op":"ack","chatId":"a","seq":10,"kind":"delivered"}`, true},
		{"ack read", `{"op":"ack","chatId":"a","seq":10,"kind":"read"}`, true},
		{"ack zero seq", `{"op":"ack","chatId":"a","seq":0,"kind":"read"}`, false},
		{"ack bad kind", `{"op":"ack","chatId":"a","seq":1,"kind":"seen"}`, false},
		{"ping", `{"op":"ping","ts":123}`, true},
		{"unknown op", `{"op":"shout"}`, false},
		{"not json", `nope`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand([]byte(tt.raw))
			if tt.ok && err != nil {
				t.Errorf("ParseCommand failed: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("ParseCommand should fail")
			}
		})
	}
}
