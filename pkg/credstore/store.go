// Package credstore persists per-user login credentials in Redis. Each user
// holds at most MaxPerUser credentials, unique by username. The orchestration
// core only reads from it; the UI layer owns writes.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dsts/loginbot/pkg/types"
)

// MaxPerUser caps how many credentials one user may store.
const MaxPerUser = 4

var (
	// ErrNotFound indicates no matching credential exists.
	ErrNotFound = errors.New("credential not found")
	// ErrDuplicate indicates the username is already stored for this user.
	ErrDuplicate = errors.New("credential already exists")
	// ErrLimitReached indicates the per-user cap was hit.
	ErrLimitReached = errors.New("credential limit reached")
)

// Config configures the Redis connection.
type Config struct {
	// URL is a redis:// connection URL.
	URL string
	// PoolSize bounds the connection pool; zero uses the client default.
	PoolSize int
}

// Store is a Redis-backed credential store.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func credentialsKey(userID types.UserID) string {
	return "creds:" + string(userID)
}

func (s *Store) load(ctx context.Context, userID types.UserID) ([]types.Credential, error) {
	data, err := s.client.Get(ctx, credentialsKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	var creds []types.Credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) save(ctx context.Context, userID types.UserID, creds []types.Credential) error {
	if len(creds) == 0 {
		return s.client.Del(ctx, credentialsKey(userID)).Err()
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	return s.client.Set(ctx, credentialsKey(userID), data, 0).Err()
}

// Save stores a new credential for the user. Duplicate usernames and the
// per-user cap are both rejected.
func (s *Store) Save(ctx context.Context, userID types.UserID, username, password string) error {
	creds, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	for _, cred := range creds {
		if cred.Username == username {
			return ErrDuplicate
		}
	}
	if len(creds) >= MaxPerUser {
		return ErrLimitReached
	}

	creds = append(creds, types.Credential{Username: username, Password: password})
	return s.save(ctx, userID, creds)
}

// Usernames lists the usernames stored for the user.
func (s *Store) Usernames(ctx context.Context, userID types.UserID) ([]string, error) {
	creds, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(creds))
	for _, cred := range creds {
		usernames = append(usernames, cred.Username)
	}
	return usernames, nil
}

// Get returns the credential with the given username, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID types.UserID, username string) (types.Credential, error) {
	creds, err := s.load(ctx, userID)
	if err != nil {
		return types.Credential{}, err
	}

	for _, cred := range creds {
		if cred.Username == username {
			return cred, nil
		}
	}
	return types.Credential{}, ErrNotFound
}

// Remove deletes one credential by username.
func (s *Store) Remove(ctx context.Context, userID types.UserID, username string) error {
	creds, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	kept := creds[:0]
	found := false
	for _, cred := range creds {
		if cred.Username == username {
			found = true
			continue
		}
		kept = append(kept, cred)
	}
	if !found {
		return ErrNotFound
	}
	return s.save(ctx, userID, kept)
}

// RemoveAll deletes every credential for the user.
func (s *Store) RemoveAll(ctx context.Context, userID types.UserID) error {
	return s.client.Del(ctx, credentialsKey(userID)).Err()
}
