// Package config provides the configuration schema and loader for the
// aelira gateway.
package config

import (
	"fmt"
	"runtime"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, loaded from a TOML file using
// [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Cluster ClusterConfig `toml:"cluster"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`

	// RoutePlanner selects an IP rotation strategy. Empty class disables
	// the planner and the status endpoint answers 204.
	RoutePlanner RoutePlannerConfig `toml:"routeplanner"`
}

// ServerConfig holds the REST/WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address. Defaults to 0.0.0.0.
	Host string `toml:"host"`

	// Port is the listen port. Defaults to 2333.
	Port uint16 `toml:"port"`

	// Password guards every /v4 route when non-empty. Clients present it
	// verbatim in the Authorization header.
	Password string `toml:"password"`
}

// Addr returns the host:port the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ClusterConfig sizes the scheduler.
type ClusterConfig struct {
	// Workers caps GOMAXPROCS. Zero means available parallelism.
	Workers int `toml:"workers"`
}

// EffectiveWorkers resolves the worker count, treating zero as the number
// of available CPUs.
func (c ClusterConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level controls verbosity. Defaults to info.
	Level LogLevel `toml:"level"`
}

// MetricsConfig controls the Prometheus surface.
type MetricsConfig struct {
	// Enabled exposes /metrics when true.
	Enabled bool `toml:"enabled"`
}

// RoutePlannerConfig selects the route planner implementation.
type RoutePlannerConfig struct {
	Class string `toml:"class"`
}
