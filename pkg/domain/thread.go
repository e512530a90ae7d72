package domain

import (
	"fmt"
	"sort"
	"strings"
)

const threadSeparator = "_"

// ThreadID identifies the conversation between exactly two participants.
type ThreadID string

// NewThreadID derives the canonical thread key for an unordered pair of
// participant ids. Both sides compute the same key without coordination.
func NewThreadID(a, b string) (ThreadID, error) {
	pair, err := Participants(a, b)
	if err != nil {
		return "", err
	}
	return ThreadID(strings.Join(pair, threadSeparator)), nil
}

// Participants returns the pair sorted lexicographically.
func Participants(a, b string) ([]string, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("%w: participant id required", ErrInvalidParticipant)
	}
	if a == b {
		return nil, fmt.Errorf("%w: cannot open a thread with yourself", ErrInvalidParticipant)
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return pair, nil
}

func (t ThreadID) String() string { return string(t) }
