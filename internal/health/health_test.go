package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestStateMapping(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	var _ camera.Observer = s

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Status(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(Service))

	tests := []struct {
		to   camera.State
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{camera.Activating, healthpb.HealthCheckResponse_NOT_SERVING},
		{camera.Standby, healthpb.HealthCheckResponse_SERVING},
		{camera.Sampling, healthpb.HealthCheckResponse_SERVING},
		{camera.Error, healthpb.HealthCheckResponse_NOT_SERVING},
		{camera.Deactivating, healthpb.HealthCheckResponse_NOT_SERVING},
		{camera.Inactive, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	from := camera.Inactive
	for _, tc := range tests {
		s.StateChanged(from, tc.to)
		assert.Equal(t, tc.want, s.Status(Service), "state %s", tc.to)
		from = tc.to
	}
}

func TestServeOverGRPC(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Error(t, s.Start())

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	s.StateChanged(camera.Activating, camera.Standby)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}

func TestStopMarksNotServing(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start())
	s.StateChanged(camera.Activating, camera.Standby)
	s.Stop()
	s.Stop()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(Service))
}
