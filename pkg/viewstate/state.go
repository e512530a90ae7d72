package viewstate

import "chattersync/pkg/domain"

type ProfileState struct {
	Loading bool                `json:"loading"`
	Profile *domain.UserProfile `json:"profile,omitempty"`
	Err     error               `json:"-"`
}

type SearchState struct {
	Query   string               `json:"query"`
	Results []domain.UserProfile `json:"results"`
}

type ChatState struct {
	PeerID   string               `json:"peerId,omitempty"`
	Messages []domain.ChatMessage `json:"messages"`
	Sending  bool                 `json:"sending"`
	Err      error                `json:"-"`
}

// Scope names a subscription slot.
type Scope int

const (
	ScopeOwnProfile Scope = iota
	ScopePeer
	ScopeChat
	ScopeSearch
)

func (s Scope) String() string {
	switch s {
	case ScopeOwnProfile:
		return "own_profile"
	case ScopePeer:
		return "peer"
	case ScopeChat:
		return "chat"
	case ScopeSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle position of a scope's subscription.
type Phase int

const (
	Idle Phase = iota
	Subscribing
	Active
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
