// =============================================================================
// 📦 agent-server 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Agent:     DefaultAgentConfig(),
		Trace:     DefaultTraceConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultCORSOrigins 本地前端开发常用来源
var DefaultCORSOrigins = []string{
	"http://localhost:3001",
	"http://127.0.0.1:3001",
	"http://localhost:8000",
	"http://127.0.0.1:8000",
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8000,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       10 * time.Minute,
		IdleTimeout:        2 * time.Minute,
		ShutdownTimeout:    15 * time.Second,
		MaxBodyBytes:       10 << 20,
		Workers:            0,
		CORSAllowedOrigins: append([]string(nil), DefaultCORSOrigins...),
		RateLimitRPS:       0,
		RateLimitBurst:     200,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:    "agent-server",
		Type:    "",
		Version: "0.0.1",
	}
}

// DefaultTraceConfig 返回默认追踪配置
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		Store:         TraceStoreMemory,
		Capacity:      1000,
		TTL:           24 * time.Hour,
		Retention:     0,
		PruneInterval: time.Hour,
		SaveTimeout:   5 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agent_server",
		Name:            "agent_server",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "agent-server",
		SampleRate:   1.0,
	}
}
