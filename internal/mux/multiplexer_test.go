package mux

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"scrapekit/internal/config"
	"scrapekit/internal/grpc/interceptors"
	"scrapekit/internal/grpc/server"
)

func TestMultiplexer_ServesBothProtocols(t *testing.T) {
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	grpcServer := server.NewServer(interceptors.NewMetricsCollector())
	m := NewMultiplexer(config.ServerConfig{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}, httpHandler, grpcServer)
	require.NoError(t, m.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + m.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	conn, err := grpc.NewClient(m.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.GetStatus())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, m.Stop(stopCtx))
}
