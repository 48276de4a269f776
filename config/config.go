// Package config holds the functional-option structs for each wkrpc
// component plus a loader for the process-wide bolt.* environment keys.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// ProcessConfig mirrors the "Process configuration" table: values read
// from the environment (or another viper-backed sink) at startup.
type ProcessConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatMaxMiss  int
	BufferLowWatermark  int64
	BufferHighWatermark int64
	BufferPooled        bool
	CRCCheck            bool
}

// LoadProcessConfig reads bolt.* keys from the environment, falling back
// to the given defaults for anything unset.
func LoadProcessConfig(defaults ProcessConfig) ProcessConfig {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("bolt.tcp.heartbeat.interval", defaults.HeartbeatInterval.Milliseconds())
	v.SetDefault("bolt.tcp.heartbeat.max_miss", defaults.HeartbeatMaxMiss)
	v.SetDefault("bolt.netty.buffer.low_watermark", defaults.BufferLowWatermark)
	v.SetDefault("bolt.netty.buffer.high_watermark", defaults.BufferHighWatermark)
	v.SetDefault("bolt.netty.buffer.pooled", defaults.BufferPooled)
	v.SetDefault("bolt.crc.check", defaults.CRCCheck)

	return ProcessConfig{
		HeartbeatInterval:   time.Duration(v.GetInt64("bolt.tcp.heartbeat.interval")) * time.Millisecond,
		HeartbeatMaxMiss:    v.GetInt("bolt.tcp.heartbeat.max_miss"),
		BufferLowWatermark:  v.GetInt64("bolt.netty.buffer.low_watermark"),
		BufferHighWatermark: v.GetInt64("bolt.netty.buffer.high_watermark"),
		BufferPooled:        v.GetBool("bolt.netty.buffer.pooled"),
		CRCCheck:            v.GetBool("bolt.crc.check"),
	}
}

// DefaultClientConfig matches spec.md's client-side heartbeat defaults
// (15s interval, 3 max miss) and a 512KB/1MB write watermark pair.
func DefaultClientConfig() ProcessConfig {
	return ProcessConfig{
		HeartbeatInterval:   15 * time.Second,
		HeartbeatMaxMiss:    3,
		BufferLowWatermark:  512 * 1024,
		BufferHighWatermark: 1024 * 1024,
		BufferPooled:        false,
		CRCCheck:            false,
	}
}

// DefaultServerConfig matches spec.md's server-side heartbeat default of
// a 90s idle-read close.
func DefaultServerConfig() ProcessConfig {
	c := DefaultClientConfig()
	c.HeartbeatInterval = 90 * time.Second
	return c
}
