package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chattersync/pkg/domain"
)

const (
	DefaultIssuer   = "chattersync"
	DefaultAudience = "chattersync"
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
)

// LocalOptions configures anonymous identity issuance.
type LocalOptions struct {
	Secret   string
	Issuer   string
	Audience string
	// TTL bounds token lifetime. Zero issues tokens without expiry.
	TTL    time.Duration
	Leeway time.Duration
	// CredentialsPath caches the issued token between runs when set.
	CredentialsPath string
	Logger          *slog.Logger
}

// LocalProvider issues HS256 anonymous identities whose uid is a random UUID.
type LocalProvider struct {
	secret          []byte
	issuer          string
	audience        string
	ttl             time.Duration
	leeway          time.Duration
	credentialsPath string
	logger          *slog.Logger

	mu      sync.Mutex
	current *domain.Identity
}

type anonymousClaims struct {
	Anonymous bool `json:"anon"`
	jwt.RegisteredClaims
}

type credentialsFile struct {
	Token string `json:"token"`
}

// NewLocalProvider builds a provider and restores a cached identity when the
// credentials file holds a valid token.
func NewLocalProvider(opts LocalOptions) (*LocalProvider, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("identity secret is required")
	}
	p := &LocalProvider{
		secret:          []byte(secret),
		issuer:          strings.TrimSpace(opts.Issuer),
		audience:        strings.TrimSpace(opts.Audience),
		ttl:             opts.TTL,
		leeway:          opts.Leeway,
		credentialsPath: strings.TrimSpace(opts.CredentialsPath),
		logger:          opts.Logger,
	}
	if p.issuer == "" {
		p.issuer = DefaultIssuer
	}
	if p.audience == "" {
		p.audience = DefaultAudience
	}
	if p.leeway <= 0 {
		p.leeway = DefaultLeeway
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.restore()
	return p, nil
}

func (p *LocalProvider) restore() {
	if p.credentialsPath == "" {
		return
	}
	raw, err := os.ReadFile(p.credentialsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("read cached credentials failed", "path", p.credentialsPath, "err", err)
		}
		return
	}
	var creds credentialsFile
	if err := json.Unmarshal(raw, &creds); err != nil {
		p.logger.Warn("cached credentials unreadable", "path", p.credentialsPath, "err", err)
		return
	}
	id, err := p.Verify(creds.Token)
	if err != nil {
		p.logger.Warn("cached credentials rejected", "path", p.credentialsPath, "err", err)
		return
	}
	p.current = &id
}

func (p *LocalProvider) CurrentIdentity() (domain.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return domain.Identity{}, false
	}
	return *p.current, true
}

// SignInAnonymously returns the current identity or issues a new one.
func (p *LocalProvider) SignInAnonymously(ctx context.Context) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return *p.current, nil
	}
	uid := uuid.NewString()
	token, err := p.sign(uid)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, err)
	}
	id := domain.Identity{UID: uid, Token: token, Anonymous: true}
	if err := p.persist(token); err != nil {
		p.logger.Warn("cache credentials failed", "path", p.credentialsPath, "err", err)
	}
	p.current = &id
	return id, nil
}

func (p *LocalProvider) sign(uid string) (string, error) {
	now := time.Now().UTC()
	claims := anonymousClaims{
		Anonymous: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   uid,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
	}
	if p.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(p.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Verify validates a token issued by this provider and returns its identity.
func (p *LocalProvider) Verify(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, errors.New("token required")
	}
	claims := anonymousClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(p.audience),
		jwt.WithIssuer(p.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(p.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return domain.Identity{}, err
	}
	if claims.ID == "" {
		return domain.Identity{}, errors.New("jti required")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Identity{}, errors.New("subject required")
	}
	return domain.Identity{UID: claims.Subject, Token: token, Anonymous: claims.Anonymous}, nil
}

func (p *LocalProvider) persist(token string) error {
	if p.credentialsPath == "" {
		return nil
	}
	raw, err := json.Marshal(credentialsFile{Token: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.credentialsPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.credentialsPath, raw, 0o600)
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
