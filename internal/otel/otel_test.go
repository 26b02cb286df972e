package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureHTTPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		signal   string
		endpoint string
		want     string
	}{
		{"traces", "collector:4318", "http://collector:4318/v1/traces"},
		{"traces", "http://collector:4318/", "http://collector:4318/v1/traces"},
		{"metrics", "https://collector:4318/v1/metrics", "https://collector:4318/v1/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, ensureHTTPEndpoint(tt.signal, tt.endpoint))
		})
	}
}

func TestSetupOTelSDK_NoExporters(t *testing.T) {
	shutdown, err := SetupOTelSDK(context.Background(), &OpenTelemetryConfig{ServiceName: "taskd"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupOTelSDK_Stdout(t *testing.T) {
	exporter := &ExporterConfig{Protocol: ProtocolStdout}
	shutdown, err := SetupOTelSDK(context.Background(), &OpenTelemetryConfig{
		ServiceName: "taskd",
		Traces:      exporter,
		Metrics:     exporter,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
