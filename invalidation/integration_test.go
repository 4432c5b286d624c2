//go:build integration
// +build integration

package invalidation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port()), func() { container.Terminate(ctx) }
}

// TestRedisBus_FanOut checks that a publish on one replica reaches a subscriber on another.
func TestRedisBus_FanOut(t *testing.T) {
	url, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubClient, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer pubClient.Close()
	subClient, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer subClient.Close()

	rec := &recorder{}
	if err := NewRedisBus(subClient, "test").Subscribe(ctx, rec); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	pub := NewRedisBus(pubClient, "test")
	if err := pub.Publish(ctx, 12); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if err := pub.PublishAll(ctx); err != nil {
		t.Fatalf("PublishAll() failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		done := len(rec.scopes) == 1 && rec.all == 1
		rec.mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.scopes) != 1 || rec.scopes[0] != 12 || rec.all != 1 {
		t.Errorf("received scopes = %v, all = %d", rec.scopes, rec.all)
	}
}
