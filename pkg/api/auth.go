package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

const (
	tokenLifetime     = time.Hour
	tokenSafetyMargin = time.Minute
)

// TokenProvider derives short-lived bearer tokens from the shared secret and
// refreshes them transparently before expiry. Safe for concurrent use; a
// single flight serves all workers that hit an expired token at once.
type TokenProvider struct {
	secret   []byte
	lifetime time.Duration
	margin   time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	token   string
	expires time.Time

	group singleflight.Group
}

func NewTokenProvider(secretKey string) *TokenProvider {
	return &TokenProvider{
		secret:   []byte(secretKey),
		lifetime: tokenLifetime,
		margin:   tokenSafetyMargin,
		now:      time.Now,
	}
}

func (p *TokenProvider) Token() (string, error) {
	p.mu.RLock()
	token, expires := p.token, p.expires
	p.mu.RUnlock()

	if token != "" && p.now().Add(p.margin).Before(expires) {
		return token, nil
	}

	refreshed, err, _ := p.group.Do("refresh", func() (interface{}, error) {
		p.mu.RLock()
		token, expires := p.token, p.expires
		p.mu.RUnlock()

		// Another caller in the same flight may have refreshed already.
		if token != "" && p.now().Add(p.margin).Before(expires) {
			return token, nil
		}

		return p.refresh()
	})
	if err != nil {
		return "", err
	}

	return refreshed.(string), nil
}

// Invalidate discards the cached token so the next call mints a fresh one.
// Used when the downstream API rejects a token that still looks valid.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expires = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) refresh() (string, error) {
	expires := p.now().Add(p.lifetime)

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(p.secret)
	if err != nil {
		return "", errs.Auth(errors.Wrap(err, "signing bearer token"))
	}

	p.mu.Lock()
	p.token = token
	p.expires = expires
	p.mu.Unlock()

	return token, nil
}
