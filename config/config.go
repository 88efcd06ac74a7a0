// Package config loads the process-wide service configuration: IPC socket
// location, audio transport paths, per-profile offload switches, and the
// HFP VoIP number list. The file is read once at startup and the resulting
// value is broadcast to every profile service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Audio configures the transport channel paths the media engine connects
// to, and the sink/source pacing parameters.
type Audio struct {
	SinkCtrlPath   string `yaml:"sink_ctrl_path"`
	SinkDataPath   string `yaml:"sink_data_path"`
	SourceCtrlPath string `yaml:"source_ctrl_path"`
	SourceDataPath string `yaml:"source_data_path"`

	// SinkTickMS is the media timer period driving sink packet writes.
	SinkTickMS int `yaml:"sink_tick_ms"`
	// SourceTickMS is the pull period on the source direction; SourceTick
	// falls back to 10 ms when it is zero or negative.
	SourceTickMS int `yaml:"source_tick_ms"`
}

// Offload selects which profiles delegate their media path to the
// controller via vendor-specific commands.
type Offload struct {
	A2DP bool `yaml:"a2dp"`
	HFP  bool `yaml:"hfp"`
	LEA  bool `yaml:"lea"`
}

// HFP carries the hands-free tunables that are deployment policy rather
// than protocol.
type HFP struct {
	// VoIPNumbers lists phone numbers known to belong to VoIP services;
	// an exact match on a current call rejects SCO.
	VoIPNumbers []string `yaml:"voip_numbers"`
	InbandRing  bool     `yaml:"inband_ring"`
}

// Config is the whole process configuration.
type Config struct {
	SocketPath string  `yaml:"socket_path"`
	LogLevel   string  `yaml:"log_level"`
	Audio      Audio   `yaml:"audio"`
	Offload    Offload `yaml:"offload"`
	HFP        HFP     `yaml:"hfp"`

	MaxConnections int `yaml:"max_connections"`
	MaxCallbacks   int `yaml:"max_callbacks"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		SocketPath: "/tmp/btserviced.sock",
		LogLevel:   "info",
		Audio: Audio{
			SinkCtrlPath:   "/tmp/bt_audio_sink_ctrl",
			SinkDataPath:   "/tmp/bt_audio_sink_data",
			SourceCtrlPath: "/tmp/bt_audio_source_ctrl",
			SourceDataPath: "/tmp/bt_audio_source_data",
			SinkTickMS:     10,
			SourceTickMS:   10,
		},
		Offload:        Offload{A2DP: true, HFP: true, LEA: true},
		MaxConnections: 8,
		MaxCallbacks:   16,
	}
}

// Load reads path, overlaying it on Default. A missing file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SinkTick returns the sink media timer period as a duration.
func (a Audio) SinkTick() time.Duration {
	if a.SinkTickMS <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(a.SinkTickMS) * time.Millisecond
}

// SourceTick returns the source pull period as a duration.
func (a Audio) SourceTick() time.Duration {
	if a.SourceTickMS <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(a.SourceTickMS) * time.Millisecond
}
