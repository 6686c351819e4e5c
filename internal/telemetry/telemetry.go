// Package telemetry implements an opt-in, settings-gated anonymous
// command-usage counter: the subcommand name only, never file paths or
// prompt text (§2.2's domain-stack wiring for posthog-go/machineid).
package telemetry

import (
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
)

// PostHogAPIKey and PostHogEndpoint are set at build time for production.
var (
	PostHogAPIKey   = "phc_development_key"
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// Client records pi-trace subcommand usage.
type Client interface {
	TrackCommand(name string)
	Close()
}

// NoOpClient is used whenever telemetry is disabled or unavailable.
type NoOpClient struct{}

func (NoOpClient) TrackCommand(string) {}
func (NoOpClient) Close()              {}

type silentLogger struct{}

func (silentLogger) Logf(_ string, _ ...interface{})   {}
func (silentLogger) Debugf(_ string, _ ...interface{}) {}
func (silentLogger) Warnf(_ string, _ ...interface{})  {}
func (silentLogger) Errorf(_ string, _ ...interface{}) {}

// PostHogClient is the real telemetry client.
type PostHogClient struct {
	client    posthog.Client
	machineID string
	mu        sync.RWMutex
}

// NewClient returns a Client based on the settings opt-in flag. A nil or
// false telemetryEnabled, or PI_TRACE_TELEMETRY_OPTOUT set, yields a no-op.
//
//nolint:ireturn // factory returns NoOpClient or PostHogClient based on settings
func NewClient(version string, telemetryEnabled *bool) Client {
	if os.Getenv("PI_TRACE_TELEMETRY_OPTOUT") != "" {
		return NoOpClient{}
	}
	if telemetryEnabled == nil || !*telemetryEnabled {
		return NoOpClient{}
	}

	id, err := machineid.ProtectedID("pi-trace")
	if err != nil {
		return NoOpClient{}
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 100 * time.Millisecond,
		}).DialContext,
		TLSHandshakeTimeout:   100 * time.Millisecond,
		ResponseHeaderTimeout: 100 * time.Millisecond,
	}

	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    100 * time.Millisecond,
		BatchUploadTimeout: 200 * time.Millisecond,
		Transport:          transport,
		Logger:             silentLogger{},
		DisableGeoIP:       posthog.Ptr(true),
		DefaultEventProperties: posthog.NewProperties().
			Set("cli_version", version).
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	})
	if err != nil {
		return NoOpClient{}
	}

	return &PostHogClient{client: client, machineID: id}
}

// TrackCommand records a subcommand invocation by name only.
func (p *PostHogClient) TrackCommand(name string) {
	p.mu.RLock()
	id := p.machineID
	c := p.client
	p.mu.RUnlock()

	if c == nil {
		return
	}

	//nolint:errcheck // best-effort telemetry, failures should not affect CLI
	_ = c.Enqueue(posthog.Capture{
		DistinctId: id,
		Event:      "cli_command_executed",
		Properties: posthog.NewProperties().Set("command", name),
	})
}

// Close flushes pending events.
func (p *PostHogClient) Close() {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()

	if c != nil {
		_ = c.Close()
	}
}
