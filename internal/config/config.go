// Package config loads wsshrelay's environment-driven settings, following
// the teacher's envconfig-based Settings/Load pattern.
package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds the ambient knobs SPEC_FULL.md's supplemented features
// need beyond the bare `<bin> <bind-port> [external-redirect]` invocation of
// spec.md §6: idle-session reaping and /proxy rate limiting.
type Settings struct {
	// IdleSessionTimeout bounds how long a Session may sit with no frontend
	// ever having attached before the registry's reaper closes it.
	IdleSessionTimeout time.Duration `envconfig:"IDLE_SESSION_TIMEOUT" default:"30m"`

	// BackendDialTimeout bounds relay.Create's dial to the backend SSH host.
	BackendDialTimeout time.Duration `envconfig:"BACKEND_DIAL_TIMEOUT" default:"10s"`

	// ProxyRateLimit caps /proxy requests per remote peer per minute.
	// <= 0 disables the sliding-window check (the consecutive-dial-failure
	// block still applies).
	ProxyRateLimit int `envconfig:"PROXY_RATE_LIMIT" default:"20"`

	// ExternalRedirect is the fallback for /cookie's host substitution
	// (spec.md §4.5) when no positional argv override is given at startup.
	ExternalRedirect string `envconfig:"EXTERNAL_REDIRECT" default:""`
}

// Cfg is the process-wide loaded configuration, populated by Load.
var Cfg Settings

// Load populates Cfg from the WSSHRELAY_-prefixed environment, exiting the
// process on a malformed value (mirroring the teacher's envconfig.Process
// failure handling).
func Load() {
	if err := envconfig.Process("WSSHRELAY", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
