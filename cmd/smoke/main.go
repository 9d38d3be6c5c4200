package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"spendly.app/internal/client"
	"spendly.app/internal/ids"
)

func main() {
	log.SetFlags(0)
	baseURL := os.Getenv("SPENDLY_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	grpcAddr := os.Getenv("SPENDLY_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = "localhost:9090"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc at %s: %v", grpcAddr, err)
	}
	defer conn.Close()
	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health: %s", health.GetStatus())
	}

	var terminated bool
	c, err := client.New(baseURL, client.WithSessionTerminated(func(error) { terminated = true }))
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	email := fmt.Sprintf("smoke-%s@example.com", ids.New())
	sess, err := c.Register(ctx, email, "smoke-secret", "Smoke")
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	if _, err := c.Login(ctx, email, "smoke-secret"); err != nil {
		log.Fatalf("login: %v", err)
	}
	if _, err := c.Login(ctx, email, "wrong-password"); err == nil {
		log.Fatal("login with wrong password succeeded")
	} else {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || !apiErr.IsInvalidCredentials() {
			log.Fatalf("wrong password: unexpected error %v", err)
		}
	}

	me, err := c.Me(ctx)
	if err != nil {
		log.Fatalf("me: %v", err)
	}
	if me.ID != sess.User.ID {
		log.Fatalf("me returned %s, expected %s", me.ID, sess.User.ID)
	}

	if err := c.Logout(ctx, true); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if _, err := c.Me(ctx); !errors.Is(err, client.ErrSessionTerminated) {
		log.Fatalf("me after logout: expected terminated session, got %v", err)
	}
	if !terminated {
		log.Fatal("session terminated callback did not run")
	}

	fmt.Printf("session smoke test passed: user=%s\n", me.ID)
}
