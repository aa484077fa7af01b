package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"P2PDesk/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// ErrCredential marks a failed credential refresh: the push channel must not
// connect, but polling continues.
var ErrCredential = errors.New("credential refresh failed")

// SessionClient is the slice of the backend the cache needs.
type SessionClient interface {
	Session(ctx context.Context) (models.Identity, string, error)
	MintToken(ctx context.Context) (string, error)
}

// Cache holds the viewer identity and access credential. The identity is
// read-mostly with a TTL; concurrent readers that find it stale collapse
// into a single refresh via singleflight, so ambiguity on several orders at
// once costs one session fetch, not one per order.
type Cache struct {
	client SessionClient
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	identity  models.Identity
	fetchedAt time.Time
	token     string
	tokenExp  time.Time

	group singleflight.Group
}

func NewCache(client SessionClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl, now: time.Now}
}

// Current returns the cached identity, fetching it when missing or past its
// TTL. It never hands out a stale record without a TTL check.
func (c *Cache) Current(ctx context.Context) (models.Identity, error) {
	c.mu.RLock()
	id, fetchedAt := c.identity, c.fetchedAt
	c.mu.RUnlock()

	if !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl {
		return id, nil
	}
	return c.Refresh(ctx)
}

// Refresh forces a session fetch regardless of TTL. Concurrent calls share
// one in-flight request.
func (c *Cache) Refresh(ctx context.Context) (models.Identity, error) {
	v, err, _ := c.group.Do("session", func() (any, error) {
		id, token, err := c.client.Session(ctx)
		if err != nil {
			return models.Identity{}, err
		}
		c.mu.Lock()
		c.identity = id
		c.fetchedAt = c.now()
		if token != "" {
			c.token = token
			c.tokenExp = c.tokenExpiry(token)
		}
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	return v.(models.Identity), nil
}

// Token returns a currently-valid access token, minting a new one from the
// refresh token when the cached one is missing or about to expire. A mint
// failure is reported as ErrCredential.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, exp := c.token, c.tokenExp
	c.mu.RUnlock()

	if token != "" && c.now().Add(30*time.Second).Before(exp) {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		minted, err := c.client.MintToken(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCredential, err)
		}
		c.mu.Lock()
		c.token = minted
		c.tokenExp = c.tokenExpiry(minted)
		c.mu.Unlock()
		return minted, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// tokenExpiry reads the exp claim without verifying the signature; the desk
// only needs the deadline, verification is the server's job. Tokens that do
// not parse get the identity TTL as a conservative lifetime.
func (c *Cache) tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return c.now().Add(c.ttl)
}
