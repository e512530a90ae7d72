// Package directory manages user profiles: sign-in, profile and push-token
// writes, and live profile and username-prefix subscriptions.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"chattersync/internal/util"
	"chattersync/pkg/codec"
	"chattersync/pkg/docstore"
	"chattersync/pkg/domain"
	"chattersync/pkg/identity"
	"chattersync/pkg/storage"
)

// MaxSentinel sorts after every character a username can contain, so
// [prefix, prefix+MaxSentinel) covers every key starting with prefix.
const MaxSentinel = "\uffff"

var ErrPhotoStorageUnavailable = errors.New("photo storage not configured")

type Config struct {
	Store    docstore.Store
	Identity identity.Provider
	// Tokens and Photos are optional.
	Tokens identity.TokenSource
	Photos storage.ObjectStore
	Logger *slog.Logger
}

type Coordinator struct {
	store  docstore.Store
	auth   identity.Provider
	tokens identity.TokenSource
	photos storage.ObjectStore
	logger *slog.Logger
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("directory: store required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("directory: identity provider required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  cfg.Store,
		auth:   cfg.Identity,
		tokens: cfg.Tokens,
		photos: cfg.Photos,
		logger: logger,
	}, nil
}

// EnsureSignedIn returns the current identity, issuing an anonymous one when
// none exists.
func (c *Coordinator) EnsureSignedIn(ctx context.Context) (domain.Identity, error) {
	if id, ok := c.auth.CurrentIdentity(); ok {
		return id, nil
	}
	id, err := c.auth.SignInAnonymously(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthUnavailable) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, err)
	}
	return id, nil
}

// CurrentUserID reports the signed-in uid without issuing an identity.
func (c *Coordinator) CurrentUserID() (string, bool) {
	id, ok := c.auth.CurrentIdentity()
	if !ok || id.UID == "" {
		return "", false
	}
	return id.UID, true
}

func (c *Coordinator) requireUID() (string, error) {
	uid, ok := c.CurrentUserID()
	if !ok {
		return "", fmt.Errorf("%w: not signed in", domain.ErrAuthUnavailable)
	}
	return uid, nil
}

// UpsertProfile merge-writes the signed-in user's profile. Fields not in the
// payload, such as photoUrl and pushToken, keep their remote values.
func (c *Coordinator) UpsertProfile(ctx context.Context, username, displayName string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username required", domain.ErrInvalidProfile)
	}
	id, err := c.EnsureSignedIn(ctx)
	if err != nil {
		return err
	}
	payload := codec.ProfilePayload(domain.UserProfile{
		UID:         id.UID,
		Username:    username,
		DisplayName: strings.TrimSpace(displayName),
	})
	return c.store.Set(ctx, codec.UserPath(id.UID), payload, docstore.Merge)
}

func (c *Coordinator) SavePushToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: push token required", domain.ErrInvalidProfile)
	}
	uid, err := c.requireUID()
	if err != nil {
		return err
	}
	return c.store.Set(ctx, codec.UserPath(uid), codec.PushTokenPayload(token), docstore.Merge)
}

// RefreshPushToken saves the token source's current token. It is a no-op
// without a token source.
func (c *Coordinator) RefreshPushToken(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return fmt.Errorf("current push token: %w", err)
	}
	return c.SavePushToken(ctx, token)
}

// UploadPhoto stores an avatar and points the profile's photoUrl at it.
func (c *Coordinator) UploadPhoto(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if c.photos == nil {
		return "", ErrPhotoStorageUnavailable
	}
	uid, err := c.requireUID()
	if err != nil {
		return "", err
	}
	key := storage.AvatarKey(uid, util.NewID())
	if err := c.photos.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	url, err := c.photos.URL(ctx, key)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, codec.UserPath(uid), codec.PhotoPayload(url), docstore.Merge); err != nil {
		return "", err
	}
	return url, nil
}

// Profile reads one profile. ok is false when it is absent or undecodable.
func (c *Coordinator) Profile(ctx context.Context, uid string) (domain.UserProfile, bool, error) {
	if strings.TrimSpace(uid) == "" {
		return domain.UserProfile{}, false, nil
	}
	doc, err := c.store.Get(ctx, codec.UserPath(uid))
	if err != nil {
		return domain.UserProfile{}, false, err
	}
	p, ok := codec.ToUserProfile(doc)
	return p, ok, nil
}

// ObserveOwnProfile follows the signed-in user's profile. Without an
// identity it yields a single nil and closes.
func (c *Coordinator) ObserveOwnProfile(ctx context.Context) <-chan *domain.UserProfile {
	uid, ok := c.CurrentUserID()
	if !ok {
		return single[*domain.UserProfile](nil)
	}
	return c.observeProfile(ctx, uid)
}

// ObservePeerProfile follows another user's profile.
func (c *Coordinator) ObservePeerProfile(ctx context.Context, peerID string) <-chan *domain.UserProfile {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return single[*domain.UserProfile](nil)
	}
	return c.observeProfile(ctx, peerID)
}

// observeProfile publishes nil for a missing, undecodable or failed read and
// keeps following the document.
func (c *Coordinator) observeProfile(ctx context.Context, uid string) <-chan *domain.UserProfile {
	out := make(chan *domain.UserProfile)
	events := docstore.StreamDocument(ctx, c.store, codec.UserPath(uid))
	go func() {
		defer close(out)
		for ev := range events {
			var profile *domain.UserProfile
			if ev.Err != nil {
				c.logger.Warn("profile subscription error", "uid", uid, "err", ev.Err)
			} else if p, ok := codec.ToUserProfile(ev.Doc); ok {
				profile = &p
			}
			select {
			case out <- profile:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SearchByUsernamePrefix follows profiles whose search key starts with the
// lower-cased query, ordered by search key. Failures publish an empty list.
func (c *Coordinator) SearchByUsernamePrefix(ctx context.Context, query string) <-chan []domain.UserProfile {
	key := domain.SearchKey(query)
	q := docstore.Query{
		Collection: codec.UsersCollection,
		OrderBy:    codec.FieldSearchKey,
		StartAt:    key,
		EndBefore:  key + MaxSentinel,
	}
	out := make(chan []domain.UserProfile)
	events := docstore.StreamQuery(ctx, c.store, q)
	go func() {
		defer close(out)
		for ev := range events {
			results := []domain.UserProfile{}
			if ev.Err != nil {
				c.logger.Warn("search subscription error", "query", key, "err", ev.Err)
			} else {
				results = codec.ToUserProfiles(ev.Docs)
			}
			select {
			case out <- results:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func single[T any](v T) <-chan T {
	out := make(chan T, 1)
	out <- v
	close(out)
	return out
}
