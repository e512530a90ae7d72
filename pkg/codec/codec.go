// Package codec converts loosely typed store records into domain entities and
// domain entities into write payloads. Untyped records never cross this
// boundary: decoding yields a typed value or reports absence.
package codec

import (
	"strings"
	"time"

	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
)

// Persisted field names.
const (
	FieldUID         = "uid"
	FieldUsername    = "username"
	FieldSearchKey   = "searchKey"
	FieldDisplayName = "displayName"
	FieldPhotoURL    = "photoUrl"
	FieldPushToken   = "pushToken"

	FieldSenderID   = "senderId"
	FieldReceiverID = "receiverId"
	FieldBody       = "body"
	FieldSentAt     = "sentAt"
	FieldRead       = "read"

	FieldLastMessageBody = "lastMessageBody"
	FieldLastSenderID    = "lastSenderId"
	FieldUpdatedAt       = "updatedAt"
	FieldParticipants    = "participants"
)

// Collections and paths.
const (
	UsersCollection    = "users"
	ChatsCollection    = "chats"
	MessagesCollection = "messages"
)

func UserPath(uid string) string {
	return docstore.Join(UsersCollection, uid)
}

func ThreadPath(id domain.ThreadID) string {
	return docstore.Join(ChatsCollection, id.String())
}

func MessagesPath(id domain.ThreadID) string {
	return docstore.Join(ChatsCollection, id.String(), MessagesCollection)
}

func MessagePath(id domain.ThreadID, messageID string) string {
	return docstore.Join(MessagesPath(id), messageID)
}

// ToUserProfile decodes a user record. ok is false when the record has no
// usable username, including when the document does not exist.
func ToUserProfile(doc docstore.Document) (profile domain.UserProfile, ok bool) {
	if !doc.Exists() {
		return domain.UserProfile{}, false
	}
	username, ok := stringField(doc.Data, FieldUsername)
	if !ok || strings.TrimSpace(username) == "" {
		return domain.UserProfile{}, false
	}
	uid, _ := stringField(doc.Data, FieldUID)
	if uid == "" {
		uid = doc.ID
	}
	displayName, _ := stringField(doc.Data, FieldDisplayName)
	if displayName == "" {
		displayName = username
	}
	photoURL, _ := stringField(doc.Data, FieldPhotoURL)
	pushToken, _ := stringField(doc.Data, FieldPushToken)
	return domain.UserProfile{
		UID:         uid,
		Username:    username,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		PushToken:   pushToken,
	}, true
}

// ToUserProfiles decodes a query result, dropping absent entries.
func ToUserProfiles(docs []docstore.Document) []domain.UserProfile {
	out := make([]domain.UserProfile, 0, len(docs))
	for _, doc := range docs {
		if p, ok := ToUserProfile(doc); ok {
			out = append(out, p)
		}
	}
	return out
}

// ToRecipient reads the notification fields of a user record. Unlike
// ToUserProfile it does not require a username.
func ToRecipient(doc docstore.Document) (name, pushToken string) {
	if !doc.Exists() {
		return "", ""
	}
	name, _ = stringField(doc.Data, FieldDisplayName)
	if strings.TrimSpace(name) == "" {
		name, _ = stringField(doc.Data, FieldUsername)
	}
	pushToken, _ = stringField(doc.Data, FieldPushToken)
	return strings.TrimSpace(name), strings.TrimSpace(pushToken)
}

// ToChatMessage decodes a message record. Missing fields default to empty
// strings and read=false; a missing or unreadable sentAt defaults to now,
// which is what a local write sees before the server timestamp arrives.
func ToChatMessage(doc docstore.Document, now time.Time) (domain.ChatMessage, bool) {
	if !doc.Exists() {
		return domain.ChatMessage{}, false
	}
	senderID, _ := stringField(doc.Data, FieldSenderID)
	receiverID, _ := stringField(doc.Data, FieldReceiverID)
	body, _ := stringField(doc.Data, FieldBody)
	read, _ := doc.Data[FieldRead].(bool)
	sentAt, ok := timeField(doc.Data, FieldSentAt)
	if !ok {
		sentAt = now
	}
	return domain.ChatMessage{
		ID:         doc.ID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		SentAt:     sentAt,
		Read:       read,
	}, true
}

func ToChatMessages(docs []docstore.Document, now time.Time) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(docs))
	for _, doc := range docs {
		if m, ok := ToChatMessage(doc, now); ok {
			out = append(out, m)
		}
	}
	return out
}

// ToConversationSummary decodes a thread summary record.
func ToConversationSummary(doc docstore.Document) (domain.ConversationSummary, bool) {
	if !doc.Exists() {
		return domain.ConversationSummary{}, false
	}
	body, _ := stringField(doc.Data, FieldLastMessageBody)
	sender, _ := stringField(doc.Data, FieldLastSenderID)
	updatedAt, _ := timeField(doc.Data, FieldUpdatedAt)
	return domain.ConversationSummary{
		ThreadID:        domain.ThreadID(doc.ID),
		LastMessageBody: body,
		LastSenderID:    sender,
		UpdatedAt:       updatedAt,
		Participants:    stringList(doc.Data[FieldParticipants]),
	}, true
}

// ProfilePayload is the merge payload for a profile upsert. searchKey is
// always recomputed from username. An empty photoUrl is omitted so an
// upsert never clears an uploaded photo.
func ProfilePayload(p domain.UserProfile) docstore.Record {
	displayName := p.DisplayName
	if strings.TrimSpace(displayName) == "" {
		displayName = p.Username
	}
	payload := docstore.Record{
		FieldUID:         p.UID,
		FieldUsername:    p.Username,
		FieldSearchKey:   domain.SearchKey(p.Username),
		FieldDisplayName: displayName,
	}
	if p.PhotoURL != "" {
		payload[FieldPhotoURL] = p.PhotoURL
	}
	return payload
}

func PushTokenPayload(token string) docstore.Record {
	return docstore.Record{FieldPushToken: token}
}

func PhotoPayload(url string) docstore.Record {
	return docstore.Record{FieldPhotoURL: url}
}

// MessagePayload builds a new message record. sentAt is assigned by the store.
func MessagePayload(senderID, receiverID, body string) docstore.Record {
	return docstore.Record{
		FieldSenderID:   senderID,
		FieldReceiverID: receiverID,
		FieldBody:       body,
		FieldSentAt:     docstore.ServerTimestamp,
		FieldRead:       false,
	}
}

// SummaryPayload builds the merge payload for a thread summary.
func SummaryPayload(participants []string, senderID, body string) docstore.Record {
	return docstore.Record{
		FieldLastMessageBody: body,
		FieldLastSenderID:    senderID,
		FieldUpdatedAt:       docstore.ServerTimestamp,
		FieldParticipants:    append([]string(nil), participants...),
	}
}

func stringField(data docstore.Record, field string) (string, bool) {
	s, ok := data[field].(string)
	return s, ok
}

func timeField(data docstore.Record, field string) (time.Time, bool) {
	switch v := data[field].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		for _, layout := range []string{docstore.TimeLayout, time.RFC3339Nano} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
	case int64:
		return time.UnixMilli(v).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Time{}, false
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
