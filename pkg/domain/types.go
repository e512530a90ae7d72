package domain

import (
	"strings"
	"time"
)

// Identity is the signed-in principal issued by the identity provider.
type Identity struct {
	UID       string `json:"uid"`
	Token     string `json:"token,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

type UserProfile struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	PushToken   string `json:"pushToken,omitempty"`
}

// SearchKey is the normalized username used for prefix range queries.
func (p UserProfile) SearchKey() string {
	return SearchKey(p.Username)
}

// SearchKey lower-cases a username or query for range matching.
func SearchKey(username string) string {
	return strings.ToLower(username)
}

type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
	Read       bool      `json:"read"`
}

type ConversationSummary struct {
	ThreadID        ThreadID  `json:"threadId"`
	LastMessageBody string    `json:"lastMessageBody"`
	LastSenderID    string    `json:"lastSenderId"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Participants    []string  `json:"participants"`
}
