package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facemask/internal/auth"
	"github.com/example/facemask/internal/handlers"
	"github.com/example/facemask/internal/usecase"
)

// blockingService holds metrics summary requests until released.
type blockingService struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingService) SubmitJob(ctx context.Context, ownerID string, req usecase.SubmitRequest) (*usecase.JobStatus, bool, error) {
	return nil, false, usecase.ErrInvalidLandmarks
}

func (s *blockingService) GetJob(ctx context.Context, ownerID, jobID string) (*usecase.JobStatus, error) {
	return nil, usecase.ErrJobNotFound
}

func (s *blockingService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	select {
	case <-s.started:
	default:
		close(s.started)
	}
	<-s.release
	return &usecase.MetricsSummary{TotalJobs: 1}, nil
}

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-svc.release:
		default:
			close(svc.release)
		}
	}()

	router := gin.New()
	handlers.RegisterRoutes(router, svc, auth.AnonymousMiddleware(), handlers.Options{
		APIVersion: "1.0.0",
		APIPrefix:  "/api/v1/frontal",
	})

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Get("http://" + addr + "/api/v1/frontal/metrics/summary")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(svc.release)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"total_jobs":1`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
