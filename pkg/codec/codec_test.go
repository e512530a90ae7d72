package codec

import (
	"testing"
	"time"

	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
)

func TestToUserProfileRequiresUsername(t *testing.T) {
	cases := []struct {
		name string
		data docstore.Record
	}{
		{"missing document", nil},
		{"missing username", docstore.Record{"uid": "u1", "displayName": "Alice"}},
		{"blank username", docstore.Record{"username": "  "}},
		{"non-string username", docstore.Record{"username": 42}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := ToUserProfile(docstore.Document{ID: "u1", Path: "users/u1", Data: tc.data})
			if ok {
				t.Fatalf("expected absent profile, got %+v", p)
			}
			if p != (domain.UserProfile{}) {
				t.Fatalf("absent profile must be zero, got %+v", p)
			}
		})
	}
}

func TestToUserProfileDefaults(t *testing.T) {
	p, ok := ToUserProfile(docstore.Document{ID: "u9", Data: docstore.Record{
		"username":  "Alice",
		"searchKey": "ignored",
	}})
	if !ok {
		t.Fatalf("expected profile")
	}
	want := domain.UserProfile{UID: "u9", Username: "Alice", DisplayName: "Alice"}
	if p != want {
		t.Fatalf("got %+v, want %+v", p, want)
	}
}

func TestToUserProfilePrefersStoredUID(t *testing.T) {
	p, ok := ToUserProfile(docstore.Document{ID: "doc", Data: docstore.Record{
		"uid": "u1", "username": "bob", "displayName": "Bobby", "photoUrl": "http://x", "pushToken": "tok",
	}})
	if !ok || p.UID != "u1" || p.DisplayName != "Bobby" || p.PhotoURL != "http://x" || p.PushToken != "tok" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestToRecipient(t *testing.T) {
	cases := []struct {
		name      string
		data      docstore.Record
		wantName  string
		wantToken string
	}{
		{"missing document", nil, "", ""},
		{"display name wins", docstore.Record{"username": "alice", "displayName": "Alice", "pushToken": "tok"}, "Alice", "tok"},
		{"username fallback", docstore.Record{"username": "alice", "displayName": " "}, "alice", ""},
		{"token without username", docstore.Record{"pushToken": " tok "}, "", "tok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name, token := ToRecipient(docstore.Document{ID: "u1", Path: "users/u1", Data: tc.data})
			if name != tc.wantName || token != tc.wantToken {
				t.Fatalf("got (%q, %q), want (%q, %q)", name, token, tc.wantName, tc.wantToken)
			}
		})
	}
}

func TestToChatMessageDefaults(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, ok := ToChatMessage(docstore.Document{ID: "m1", Data: docstore.Record{"body": "hi"}}, now)
	if !ok {
		t.Fatalf("expected message")
	}
	if m.ID != "m1" || m.Body != "hi" || m.Read || !m.SentAt.Equal(now) || m.SenderID != "" {
		t.Fatalf("unexpected defaults: %+v", m)
	}
}

func TestToChatMessageReadsTimestampForms(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 7, 8000000, time.UTC)
	forms := []any{
		want,
		want.Format(docstore.TimeLayout),
		want.Format(time.RFC3339Nano),
		float64(want.UnixMilli()),
	}
	for _, v := range forms {
		m, ok := ToChatMessage(docstore.Document{ID: "m", Data: docstore.Record{"sentAt": v}}, time.Time{})
		if !ok || !m.SentAt.Equal(want) {
			t.Fatalf("sentAt %#v decoded to %v", v, m.SentAt)
		}
	}
}

func TestProfilePayloadRecomputesSearchKey(t *testing.T) {
	payload := ProfilePayload(domain.UserProfile{UID: "u1", Username: "JoHn"})
	if payload[FieldSearchKey] != "john" {
		t.Fatalf("searchKey = %v", payload[FieldSearchKey])
	}
	if payload[FieldDisplayName] != "JoHn" {
		t.Fatalf("displayName should default to username, got %v", payload[FieldDisplayName])
	}
	if _, ok := payload[FieldPhotoURL]; ok {
		t.Fatalf("empty photoUrl must not be written")
	}
}

func TestMessagePayload(t *testing.T) {
	payload := MessagePayload("u1", "u2", "hello")
	if payload[FieldRead] != false || !docstore.IsServerTimestamp(payload[FieldSentAt]) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	payload := SummaryPayload([]string{"u1", "u2"}, "u1", "hello")
	s, ok := ToConversationSummary(docstore.Document{ID: "u1_u2", Data: payload})
	if !ok || s.ThreadID != "u1_u2" || s.LastMessageBody != "hello" || s.LastSenderID != "u1" {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.Participants) != 2 || s.Participants[0] != "u1" || s.Participants[1] != "u2" {
		t.Fatalf("unexpected participants: %v", s.Participants)
	}
}

func TestPaths(t *testing.T) {
	if got := MessagePath("u1_u2", "m1"); got != "chats/u1_u2/messages/m1" {
		t.Fatalf("message path = %q", got)
	}
	if got := UserPath("u1"); got != "users/u1" {
		t.Fatalf("user path = %q", got)
	}
}
