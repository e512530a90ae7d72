// Package identity issues and restores the signed-in principal and exposes
// the push-token source consumed by the directory.
package identity

import (
	"context"
	"errors"
	"strings"

	"chattersync/pkg/domain"
)

// Provider reports the current identity and issues anonymous ones.
type Provider interface {
	CurrentIdentity() (domain.Identity, bool)
	SignInAnonymously(ctx context.Context) (domain.Identity, error)
}

// TokenSource returns the device push token.
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) CurrentToken(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", errors.New("push token unavailable")
	}
	return token, nil
}
