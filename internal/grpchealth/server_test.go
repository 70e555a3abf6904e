package grpchealth

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthReflectsWorkerState(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := NewServer(zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	assertStatus(t, ctx, client, healthpb.HealthCheckResponse_NOT_SERVING)

	srv.SetServing(true)
	assertStatus(t, ctx, client, healthpb.HealthCheckResponse_SERVING)

	srv.SetServing(false)
	assertStatus(t, ctx, client, healthpb.HealthCheckResponse_NOT_SERVING)

	srv.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func assertStatus(t *testing.T, ctx context.Context, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: WorkerService})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != want {
		t.Fatalf("expected %v, got %v", want, resp.GetStatus())
	}
}
