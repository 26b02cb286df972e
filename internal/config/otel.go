package config

import (
	"github.com/hookdeck/taskd/internal/otel"
)

// OpenTelemetryConfig enables export of traces and metrics when a service
// name is set together with an OTLP endpoint or the stdout protocol.
type OpenTelemetryConfig struct {
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Protocol    string `yaml:"protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL" validate:"omitempty,oneof=grpc http stdout"`
	Metrics     bool   `yaml:"metrics" env:"OTEL_METRICS_ENABLED"`
}

func (c *OpenTelemetryConfig) ToOTELConfig() *otel.OpenTelemetryConfig {
	if c == nil || c.ServiceName == "" {
		return nil
	}
	if c.Endpoint == "" && c.Protocol != otel.ProtocolStdout {
		return nil
	}

	exporter := &otel.ExporterConfig{
		Endpoint: c.Endpoint,
		Protocol: c.Protocol,
	}
	config := &otel.OpenTelemetryConfig{
		ServiceName: c.ServiceName,
		Traces:      exporter,
	}
	if c.Metrics {
		config.Metrics = exporter
	}
	return config
}
