package observability

import (
	"testing"

	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPSLEDGER_SERVICE_NAME", "OTEL_SERVICE_NAME", "OPSLEDGER_ENV", "DEPLOYMENT_ENV", "SERVICE_VERSION",
		"OPSLEDGER_LOG_LEVEL", "LOG_LEVEL", "OPSLEDGER_LOG_FORMAT", "LOG_FORMAT",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_SAMPLING_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfig(config.Config{Environment: "production", AppVersion: "1.4.0"})
	assert.Equal(t, "opsledger", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, 0.25, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	dev := LoadConfig(config.Config{Environment: "development", OTLPEndpoint: "collector:4317"})
	assert.True(t, dev.OtelEnabled)
	assert.Equal(t, 1.0, dev.OtelSamplingRatio)
	assert.True(t, dev.Debug())
}

func TestLoadConfigPrefersOpsledgerVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OPSLEDGER_LOG_LEVEL", "debug")
	t.Setenv("OTEL_SERVICE_NAME", "generic")
	t.Setenv("OPSLEDGER_SERVICE_NAME", "opsledger-scheduler")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")

	cfg := LoadConfig(config.Config{AppName: "opsledger", Environment: "production"})
	assert.Equal(t, "opsledger-scheduler", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigSanitizesValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "carrier-pigeon")

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)

	t.Setenv("OTEL_SAMPLING_RATIO", "-0.5")
	assert.Equal(t, 0.0, LoadConfig(config.Config{}).OtelSamplingRatio)
}
