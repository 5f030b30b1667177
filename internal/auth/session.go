package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultMaxAge      = 8 * time.Hour
	DefaultRotateAfter = 15 * time.Minute

	clockSkew  = 5 * time.Second
	nonceBytes = 16
)

var b64 = base64.RawURLEncoding.Strict()

// Session is the verified view of a session token.
type Session struct {
	ActorID  string
	IssuedAt time.Time
	// SessionID is a SHA-256 of the raw token, safe to log and correlate.
	SessionID string
}

type tokenPayload struct {
	ActorID  string `json:"actorId"`
	IssuedAt int64  `json:"issuedAt"`
	Nonce    string `json:"nonce"`
}

// Codec mints and verifies stateless session tokens of the form
// base64url(json payload) "." base64url(HMAC-SHA256(secret, payload)).
// Nothing is stored server side; rotating the secret invalidates every
// outstanding token.
type Codec struct {
	secret      []byte
	maxAge      time.Duration
	rotateAfter time.Duration
	now         func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxAge sets the absolute token lifetime. Non-positive values are ignored.
func WithMaxAge(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithRotateAfter sets the age past which ShouldRotate reports true.
func WithRotateAfter(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.rotateAfter = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a Codec signing with the trimmed secret. An empty secret
// yields a Codec whose Configured reports false.
func NewCodec(secret string, opts ...CodecOption) *Codec {
	c := &Codec{
		secret:      []byte(strings.TrimSpace(secret)),
		maxAge:      DefaultMaxAge,
		rotateAfter: DefaultRotateAfter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAge is the absolute lifetime of a single token.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Configured reports whether a signing secret is present.
func (c *Codec) Configured() bool { return c != nil && len(c.secret) > 0 }

// Mint issues a fresh token for actorID with a new nonce and issue time.
func (c *Codec) Mint(actorID string) (string, error) {
	if !c.Configured() {
		return "", ErrMissingSecret
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	raw, err := json.Marshal(tokenPayload{
		ActorID:  actorID,
		IssuedAt: c.now().UnixMilli(),
		Nonce:    hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	payload := b64.EncodeToString(raw)
	sig, err := jwt.SigningMethodHS256.Sign(payload, c.secret)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return payload + "." + b64.EncodeToString(sig), nil
}

// Parse verifies token and returns the session it carries. Every failure
// collapses to ErrInvalidToken.
func (c *Codec) Parse(token string) (Session, error) {
	if !c.Configured() {
		return Session{}, ErrInvalidToken
	}
	payload, sigPart, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sigPart == "" || strings.Contains(sigPart, ".") {
		return Session{}, ErrInvalidToken
	}
	sig, err := b64.DecodeString(sigPart)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	// HMAC verification compares with hmac.Equal.
	if err := jwt.SigningMethodHS256.Verify(payload, sig, c.secret); err != nil {
		return Session{}, ErrInvalidToken
	}

	raw, err := b64.DecodeString(payload)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	var p tokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Session{}, ErrInvalidToken
	}
	if strings.TrimSpace(p.ActorID) == "" || p.IssuedAt <= 0 {
		return Session{}, ErrInvalidToken
	}

	issued := time.UnixMilli(p.IssuedAt)
	now := c.now()
	if now.Sub(issued) >= c.maxAge {
		return Session{}, ErrInvalidToken
	}
	if issued.After(now.Add(clockSkew)) {
		return Session{}, ErrInvalidToken
	}

	sum := sha256.Sum256([]byte(token))
	return Session{
		ActorID:   p.ActorID,
		IssuedAt:  issued,
		SessionID: hex.EncodeToString(sum[:]),
	}, nil
}

// ShouldRotate reports whether the session is old enough to be reissued.
func (c *Codec) ShouldRotate(s Session) bool {
	return c.now().Sub(s.IssuedAt) >= c.rotateAfter
}
