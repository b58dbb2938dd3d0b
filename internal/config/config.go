// Package config loads the kernel's flat configuration from the
// environment, following the getEnvDefault idiom used throughout the
// orchestrator's sibling services.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting the kernel reads at
// startup, each with its documented default.
type Config struct {
	MaxConcurrentAgents          int
	DefaultTokenLimit            uint64
	DefaultCostLimit             float64
	DefaultTimeLimitSeconds      uint64
	DefaultApiCallLimit          uint64
	EnableModelRouting           bool
	CircuitBreakerThreshold      int
	CircuitBreakerRecoverySecs   int
	RetryDelayMs                 int
	BroadcasterBuffer            int
	BroadcasterIdleTimeoutSecs   int
	EconomyThreshold             float64
	StandardThreshold            float64
	MaxEscalations               int

	// Ambient stack settings: not part of the scheduling/routing/contract
	// tuning above, but required to run the process.
	ServiceName    string
	LogFormat      string // "json" or "text"
	LogLevel       string
	OTLPEndpoint   string
	BoltPath       string
	NATSUrl        string
	HTTPAddr       string
	SnapshotCron   string
}

// FromEnv builds a Config from the process environment, falling back to
// documented defaults for anything unset.
func FromEnv() Config {
	return Config{
		MaxConcurrentAgents:        envInt("MAX_CONCURRENT_AGENTS", 100),
		DefaultTokenLimit:          envUint64("DEFAULT_TOKEN_LIMIT", 20000),
		DefaultCostLimit:           envFloat("DEFAULT_COST_LIMIT", 0.25),
		DefaultTimeLimitSeconds:    envUint64("DEFAULT_TIME_LIMIT_SECONDS", 300),
		DefaultApiCallLimit:        envUint64("DEFAULT_API_CALL_LIMIT", 100),
		EnableModelRouting:         envBool("ENABLE_MODEL_ROUTING", true),
		CircuitBreakerThreshold:    envInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerRecoverySecs: envInt("CIRCUIT_BREAKER_RECOVERY_SECONDS", 30),
		RetryDelayMs:               envInt("RETRY_DELAY_MS", 1000),
		BroadcasterBuffer:          envInt("BROADCASTER_BUFFER", 1024),
		BroadcasterIdleTimeoutSecs: envInt("BROADCASTER_IDLE_TIMEOUT_SECONDS", 90),
		EconomyThreshold:           envFloat("ECONOMY_THRESHOLD", 0.85),
		StandardThreshold:          envFloat("STANDARD_THRESHOLD", 0.70),
		MaxEscalations:             envInt("MAX_ESCALATIONS", 2),

		ServiceName:  envStr("SERVICE_NAME", "agentkernel"),
		LogFormat:    envStr("LOG_FORMAT", "json"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		BoltPath:     envStr("EVENTLOG_BOLT_PATH", ""),
		NATSUrl:      envStr("NATS_URL", ""),
		HTTPAddr:     envStr("HTTP_ADDR", ":8080"),
		SnapshotCron: envStr("SNAPSHOT_CRON", "@every 1m"),
	}
}

// TimeLimit returns DefaultTimeLimitSeconds as a time.Duration.
func (c Config) TimeLimit() time.Duration {
	return time.Duration(c.DefaultTimeLimitSeconds) * time.Second
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
