// Package config holds the server's immutable, dependency-injected
// configuration, replacing the process-wide globals the original C
// server kept (spec §9, Design Note 1: "global mutable state →
// dependency-injected context"). A ServerConfig is built once at startup
// from CLI flags (see cmd/) and threaded explicitly through every
// component that needs it.
package config

import "time"

// ServerConfig is the full CLI surface from spec §6.1, plus the derived
// fields (virtual-host default directory, timeouts) components consume
// directly instead of re-deriving from flags.
type ServerConfig struct {
	// Listener
	ListenPortLow  int
	ListenPortHigh int
	TLSPort        int
	TLSCertFile    string
	TLSKeyFile     string
	LoopbackOnly   bool

	// Filesystem roots
	DocumentRoot      string
	VirtualHostDefault string

	// Operational
	LogFile       string
	AbuseBlockDir string // accepted for CLI compatibility only; see internal/abuse
	MaxAgeSeconds  int
	CPUSecondLimit int
	MaxChild       int
	TimeoutsOn     bool
	DropToUser     string
	ChrootOn       bool
	StartPage      string
	PidFile        string

	// Timeouts (spec §4.4)
	FirstRequestHeaderTimeout time.Duration
	NextRequestHeaderTimeout  time.Duration
	PostBodyBaseTimeout       time.Duration
	PostBodyPerKiBTimeout     time.Duration
	DecodeTimeout             time.Duration
	StaticSendBaseTimeout     time.Duration
	StaticSendPerByteTimeout  time.Duration

	// Connection reuse (spec §4.4)
	MaxRequestsPerConnection int
}

// Default returns a ServerConfig populated with the constants spec §4.4
// and §4.6 name explicitly.
func Default() *ServerConfig {
	return &ServerConfig{
		ListenPortLow:             8000,
		ListenPortHigh:            8100,
		DocumentRoot:              ".",
		VirtualHostDefault:        "default.website",
		MaxAgeSeconds:             3600,
		MaxChild:                  1000,
		TimeoutsOn:                true,
		PidFile:                   "wpphttpd.pid",
		FirstRequestHeaderTimeout: 10 * time.Second,
		NextRequestHeaderTimeout:  5 * time.Second,
		PostBodyBaseTimeout:       15 * time.Second,
		PostBodyPerKiBTimeout:     500 * time.Millisecond, // "1s per 2KB"
		DecodeTimeout:             30 * time.Second,
		StaticSendBaseTimeout:     30 * time.Second,
		StaticSendPerByteTimeout:  time.Second / 2000,
		MaxRequestsPerConnection:  101,
	}
}

// PostBodyTimeout implements the "15s + 1s per 2KB" rule from spec §4.4.
func (c *ServerConfig) PostBodyTimeout(contentLength int64) time.Duration {
	kib := contentLength / 2048
	return c.PostBodyBaseTimeout + time.Duration(kib)*time.Second
}

// StaticSendTimeout implements the "30 + size/2000 s" rule from spec §4.4.
func (c *ServerConfig) StaticSendTimeout(size int64) time.Duration {
	return c.StaticSendBaseTimeout + time.Duration(size)*time.Second/2000
}
