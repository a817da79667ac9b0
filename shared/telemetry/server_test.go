package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	QueueJobsAdded.WithLabelValues("track-generation").Inc()

	tests := []struct {
		name     string
		path     string
		ready    ReadyFunc
		wantCode int
		contains string
	}{
		{name: "metrics", path: "/metrics", wantCode: http.StatusOK, contains: "trackgen_queue_jobs_added_total"},
		{name: "healthz", path: "/healthz", wantCode: http.StatusOK},
		{name: "readyz ok", path: "/readyz", ready: func(context.Context) error { return nil }, wantCode: http.StatusOK},
		{
			name:     "readyz failing",
			path:     "/readyz",
			ready:    func(context.Context) error { return errors.New("redis down") },
			wantCode: http.StatusServiceUnavailable,
			contains: "redis down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewMetricsHandler(tt.ready).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "", 1)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}
