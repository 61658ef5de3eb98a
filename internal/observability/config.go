// Package observability assembles logging, tracing and metrics for the
// opsledger processes from one environment-derived Config.
package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/opsledger/internal/config"
	"go.uber.org/zap/zapcore"
)

const defaultServiceName = "opsledger"

type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig layers OPSLEDGER_* variables over the generic OTEL_* and
// LOG_* ones, then over the process config.
func LoadConfig(cfg config.Config) Config {
	serviceName := firstEnv(strings.TrimSpace(cfg.AppName), "OPSLEDGER_SERVICE_NAME", "OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	environment := firstEnv(cfg.Environment, "OPSLEDGER_ENV", "DEPLOYMENT_ENV")

	otlpProtocol := strings.ToLower(firstEnv("grpc", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL"))
	switch otlpProtocol {
	case "grpc", "grpc/protobuf", "http", "http/protobuf":
	default:
		otlpProtocol = "grpc"
	}

	// development runs keep every trace; deployed ledgers sample
	defaultRatio := 0.25
	if isDevEnv(environment) {
		defaultRatio = 1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(environment),
		Version:              strings.TrimSpace(firstEnv(cfg.AppVersion, "SERVICE_VERSION")),
		LogLevel:             logLevel(firstEnv("info", "OPSLEDGER_LOG_LEVEL", "LOG_LEVEL")),
		LogFormat:            logFormat(firstEnv("json", "OPSLEDGER_LOG_FORMAT", "LOG_FORMAT")),
		OtelEnabled:          getenvBool("OTEL_ENABLED", cfg.OTLPEndpoint != ""),
		OtelExporterEndpoint: strings.TrimSpace(firstEnv(cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: otlpProtocol,
		OtelSamplingRatio:    clampRatio(getenvFloat("OTEL_SAMPLING_RATIO", defaultRatio)),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	return isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// logLevel falls back to info for anything zap cannot parse.
func logLevel(value string) string {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return zapcore.InfoLevel.String()
	}
	return level.String()
}

func logFormat(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), "console") {
		return "console"
	}
	return "json"
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// firstEnv returns the first non-empty variable among keys, else def.
func firstEnv(def string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
