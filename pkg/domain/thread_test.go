package domain

import (
	"errors"
	"testing"
)

func TestNewThreadIDIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"zed", "alice"},
		{"B", "a"},
		{"user_1", "user_2"},
	}
	for _, p := range pairs {
		ab, err := NewThreadID(p[0], p[1])
		if err != nil {
			t.Fatalf("thread id %v: %v", p, err)
		}
		ba, err := NewThreadID(p[1], p[0])
		if err != nil {
			t.Fatalf("thread id reversed %v: %v", p, err)
		}
		if ab != ba {
			t.Fatalf("thread id not symmetric: %q vs %q", ab, ba)
		}
	}
}

func TestNewThreadIDSortsAndJoins(t *testing.T) {
	id, err := NewThreadID("u2", "u1")
	if err != nil {
		t.Fatalf("thread id: %v", err)
	}
	if id != "u1_u2" {
		t.Fatalf("thread id = %q, want %q", id, "u1_u2")
	}
}

func TestNewThreadIDRejectsInvalidParticipants(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{name: "self", a: "u1", b: "u1"},
		{name: "empty first", a: "", b: "u1"},
		{name: "empty second", a: "u1", b: ""},
		{name: "both empty", a: "", b: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewThreadID(tc.a, tc.b); !errors.Is(err, ErrInvalidParticipant) {
				t.Fatalf("expected ErrInvalidParticipant, got %v", err)
			}
		})
	}
}

func TestSearchKeyLowercases(t *testing.T) {
	p := UserProfile{Username: "JohnDoe"}
	if got := p.SearchKey(); got != "johndoe" {
		t.Fatalf("search key = %q, want %q", got, "johndoe")
	}
}
