package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/store/redis"
)

func TestIntegrationTokens(t *testing.T) {
	if os.Getenv("PADAWAN_INTEGRATION") != "1" {
		t.Skip("Skipping: PADAWAN_INTEGRATION not set")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	tokens, err := redis.New(ctx, redis.Config{Addr: host + ":" + port.Port(), Key: "test:tokens"})
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	defer tokens.Close()

	if _, err := tokens.Token(ctx, "api.github.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tokens.PutToken(ctx, "api.github.com", "ghs_123"); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	got, err := tokens.Token(ctx, "api.github.com")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "ghs_123" {
		t.Errorf("Token = %q", got)
	}

	// Cached lookups see replacements made through the cache.
	cached := store.NewCachedTokens(tokens, 16, 0)
	if err := cached.PutToken(ctx, "api.github.com", "ghs_456"); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	if got, _ := cached.Token(ctx, "api.github.com"); got != "ghs_456" {
		t.Errorf("cached Token = %q", got)
	}
}
