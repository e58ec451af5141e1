// Package redis keeps bearer tokens in a Redis hash so they can be managed
// outside the mission database.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nstogner/padawan/pkg/store"
)

// DefaultKey is the hash holding domain -> token entries.
const DefaultKey = "padawan:tokens"

// Config configures the connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Tokens implements store.TokenStore on a Redis hash.
type Tokens struct {
	client *redis.Client
	key    string
}

var _ store.TokenStore = (*Tokens)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Tokens, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	return &Tokens{client: client, key: key}, nil
}

// Token implements store.TokenStore.
func (t *Tokens) Token(ctx context.Context, domain string) (string, error) {
	token, err := t.client.HGet(ctx, t.key, domain).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("token for %s: %w", domain, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading token for %s: %w", domain, err)
	}
	return token, nil
}

// PutToken implements store.TokenStore.
func (t *Tokens) PutToken(ctx context.Context, domain, token string) error {
	if err := t.client.HSet(ctx, t.key, domain, token).Err(); err != nil {
		return fmt.Errorf("writing token for %s: %w", domain, err)
	}
	return nil
}

// Close closes the client.
func (t *Tokens) Close() error {
	return t.client.Close()
}
