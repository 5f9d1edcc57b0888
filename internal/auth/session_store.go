package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/blogsrv/pkg"
)

const (
	DefaultTTL       = 24 * 7 * time.Hour
	sessionKeyPrefix = "blogsrv-session||"
	tokensSetKey     = "blogsrv-sessions"
	tokenLength      = 35
)

// SessionStore keeps session token -> user id mappings in redis. Session keys expire after
// the inactivity window, which is extended every time the token is resolved.
type SessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	// ability to inject random string generator func for tokens (for unit and dev testing)
	RandStringFunc func(s int) (string, error)
}

func NewSessionStore(ttl time.Duration, redisClient *redis.Client) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionStore{
		ttl:            ttl,
		redisClient:    redisClient,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	token, err := s.RandStringFunc(tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	sessionKey := sessionKeyPrefix + token
	if err := s.redisClient.Set(ctx, sessionKey, userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("set session: %w", err)
	}

	// add token to the set of sessions
	if err := s.redisClient.SAdd(ctx, tokensSetKey, token).Err(); err != nil {
		return "", fmt.Errorf("add session token: %w", err)
	}

	return token, nil
}

// UserID returns the user owning the session, or "" for unknown and expired tokens.
func (s *SessionStore) UserID(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}

	sessionKey := sessionKeyPrefix + token
	userID, err := s.redisClient.Get(ctx, sessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get session: %w", err)
	}

	if err := s.redisClient.Expire(ctx, sessionKey, s.ttl).Err(); err != nil {
		log.Warnf("session store, refresh session ttl: %s", err)
	}

	return userID, nil
}

// Delete removes the session. Returns false if there was no such session.
func (s *SessionStore) Delete(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	deleted, err := s.redisClient.Del(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	// remove token from the set of sessions
	if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
		return false, fmt.Errorf("remove session token: %w", err)
	}

	return deleted > 0, nil
}

// ScanAndClean will run through all tracked tokens and drop the ones whose session key
// has already expired. Returns the number of removed tokens.
func (s *SessionStore) ScanAndClean(ctx context.Context) int {
	sessionTokens, err := s.redisClient.SMembers(ctx, tokensSetKey).Result()
	if err != nil {
		log.Errorf("!!! session store, scan and clean, get sessions: %s", err)
		return 0
	}

	if len(sessionTokens) == 0 {
		log.Debugln("=> session store, scan and clean abort, no sessions")
		return 0
	}

	log.Debugf("=> session store, scan and clean [%d sessions] start ...", len(sessionTokens))
	var toRemove []string
	for _, token := range sessionTokens {
		exists, err := s.redisClient.Exists(ctx, sessionKeyPrefix+token).Result()
		if err != nil {
			log.Errorf("=> session store, scan and clean token: %s", err)
			continue
		}
		if exists == 0 {
			toRemove = append(toRemove, token)
		}
	}

	removed := 0
	for _, token := range toRemove {
		if err := s.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
			log.Errorf("=> session store, clean token: %s", err)
			continue
		}
		removed++
	}

	log.Debugf("=> session store, scan and clean done, removed %d expired tokens", removed)
	return removed
}
