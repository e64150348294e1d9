// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the multi-port YAML configuration used by
// `sertag run`.
package config

type Config struct {
	Sertag SertagConfig `yaml:"sertag"`
}

type SertagConfig struct {
	Ports []PortConfig `yaml:"ports"`

	// Output format for every port: text, hex or cbor
	Format string `yaml:"format"`
	// File to write records to, stdout when empty
	Output string `yaml:"output"`

	StatusIntervalSec int `yaml:"status_interval_s"`
}

// ---- PORT ----

type PortConfig struct {
	Name string `yaml:"name"`

	// Exactly one source
	Device string         `yaml:"device"`
	URL    string         `yaml:"url"`
	Auth   *WebSocketAuth `yaml:"auth"`
	Line   LineConfig     `yaml:"line"`
	Record RecordConfig   `yaml:"record"`
	Prompt *PromptConfig  `yaml:"prompt"`

	LatencyMs    int `yaml:"latency_ms"`
	LatencyChars int `yaml:"latency_chars"` // receive FIFO delay estimate, in characters
	ClockResMs   int `yaml:"clock_res_ms"`
}

type WebSocketAuth struct {
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"` // environment variable holding the password
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ---- LINE ----

type LineConfig struct {
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"` // none, even, odd
	StopBits int    `yaml:"stop_bits"`
}

// ---- RECORD FRAMING ----

type RecordConfig struct {
	// YAML double-quoted escapes apply: "\r\n", "\x02"
	Separator string `yaml:"separator"`
	Anchor    string `yaml:"anchor"` // eom, bom
	Length    int    `yaml:"length"`
	AddNull   bool   `yaml:"add_null"`
}

// ---- PROMPT ----

type PromptConfig struct {
	Text   string `yaml:"text"`
	RateMs int    `yaml:"rate_ms"`
}
