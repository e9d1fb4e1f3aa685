package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ralphctl/coordinator/pkg/logging"
)

const gatewaySubsystem = "Driver"

const defaultOpTimeout = 30 * time.Second

// GatewayConfig configures per-operation timeouts and per-provider rate
// limiting for the Gateway. Zero values fall back to sane defaults.
type GatewayConfig struct {
	DefaultTimeout time.Duration
	Timeouts       Timeouts
	// RatePerSecond bounds how many Create, Destroy, Run, Stream and
	// RunCode calls per second the Gateway will issue against a single
	// provider; 0 disables limiting. Status, file-system and
	// GetProcessURLs calls are not rate limited.
	RatePerSecond float64
	RateBurst     int
}

// Gateway dispatches Driver Gateway operations to the Driver registered for
// a request's provider tag, applying a uniform timeout and optional
// per-provider rate limit regardless of which concrete Driver handles the
// call.
type Gateway struct {
	mu       sync.RWMutex
	drivers  map[string]Driver
	limiters map[string]*rate.Limiter
	cfg      GatewayConfig
}

// NewGateway creates an empty Gateway. Drivers are registered with Register.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultOpTimeout
	}
	return &Gateway{
		drivers:  make(map[string]Driver),
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Register binds a Driver implementation to a provider tag (e.g. "docker",
// "modal", "e2b"). Registering the same tag twice replaces the prior driver.
func (g *Gateway) Register(provider string, d Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[provider] = d
	if g.cfg.RatePerSecond > 0 {
		burst := g.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiters[provider] = rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), burst)
	}
	logging.Info(gatewaySubsystem, "registered driver for provider %s", provider)
}

// Providers returns the set of provider tags with a registered driver.
func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.drivers))
	for p := range g.drivers {
		out = append(out, p)
	}
	return out
}

func (g *Gateway) driverFor(provider string) (Driver, *rate.Limiter, error) {
	g.mu.RLock()
	d, ok := g.drivers[provider]
	lim := g.limiters[provider]
	g.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no driver registered for provider %q", provider)
	}
	return d, lim, nil
}

func (g *Gateway) withTimeout(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	d := g.cfg.Timeouts.For(op, g.cfg.DefaultTimeout)
	return context.WithTimeout(ctx, d)
}

func (g *Gateway) throttle(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Create provisions a sandbox via the driver registered for spec.Provider.
func (g *Gateway) Create(ctx context.Context, spec CreateSpec) (Sandbox, error) {
	d, lim, err := g.driverFor(spec.Provider)
	if err != nil {
		return Sandbox{}, err
	}
	if err := g.throttle(ctx, lim); err != nil {
		return Sandbox{}, err
	}
	ctx, cancel := g.withTimeout(ctx, "create")
	defer cancel()
	return d.Create(ctx, spec)
}

// Destroy tears down a sandbox via the given provider's driver.
func (g *Gateway) Destroy(ctx context.Context, provider, sandboxID string) error {
	d, lim, err := g.driverFor(provider)
	if err != nil {
		return err
	}
	if err := g.throttle(ctx, lim); err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx, "destroy")
	defer cancel()
	return d.Destroy(ctx, sandboxID)
}

// Status reports the current state of a sandbox.
func (g *Gateway) Status(ctx context.Context, provider, sandboxID string) (Sandbox, error) {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return Sandbox{}, err
	}
	ctx, cancel := g.withTimeout(ctx, "status")
	defer cancel()
	return d.Status(ctx, sandboxID)
}

// Run executes a one-shot command inside a sandbox.
func (g *Gateway) Run(ctx context.Context, provider, sandboxID string, cmd []string) (RunResult, error) {
	d, lim, err := g.driverFor(provider)
	if err != nil {
		return RunResult{}, err
	}
	if err := g.throttle(ctx, lim); err != nil {
		return RunResult{}, err
	}
	ctx, cancel := g.withTimeout(ctx, "run")
	defer cancel()
	return d.Run(ctx, sandboxID, cmd)
}

// Stream executes a long-lived command inside a sandbox, returning a reader
// of its output. Stream operations are not subject to the op timeout
// (callers control their own lifetime via ctx cancellation) since the
// whole point is a long-running read.
func (g *Gateway) Stream(ctx context.Context, provider, sandboxID string, cmd []string) (io.ReadCloser, error) {
	d, lim, err := g.driverFor(provider)
	if err != nil {
		return nil, err
	}
	if err := g.throttle(ctx, lim); err != nil {
		return nil, err
	}
	return d.Stream(ctx, sandboxID, cmd)
}

// ReadFile reads a file from the sandbox filesystem.
func (g *Gateway) ReadFile(ctx context.Context, provider, sandboxID, path string) ([]byte, error) {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := g.withTimeout(ctx, "readFile")
	defer cancel()
	return d.ReadFile(ctx, sandboxID, path)
}

// WriteFile writes a file to the sandbox filesystem.
func (g *Gateway) WriteFile(ctx context.Context, provider, sandboxID, path string, data []byte) error {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx, "writeFile")
	defer cancel()
	return d.WriteFile(ctx, sandboxID, path, data)
}

// ListDir lists a sandbox directory's entries.
func (g *Gateway) ListDir(ctx context.Context, provider, sandboxID, path string) ([]FileInfo, error) {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := g.withTimeout(ctx, "listDir")
	defer cancel()
	return d.ListDir(ctx, sandboxID, path)
}

// Mkdir creates a directory in the sandbox filesystem.
func (g *Gateway) Mkdir(ctx context.Context, provider, sandboxID, path string) error {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx, "mkdir")
	defer cancel()
	return d.Mkdir(ctx, sandboxID, path)
}

// Rm removes a file or directory from the sandbox filesystem.
func (g *Gateway) Rm(ctx context.Context, provider, sandboxID, path string) error {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx, "rm")
	defer cancel()
	return d.Rm(ctx, sandboxID, path)
}

// GetProcessURLs resolves reachable URLs for a sandbox's exposed ports.
func (g *Gateway) GetProcessURLs(ctx context.Context, provider, sandboxID string) ([]ProcessURL, error) {
	d, _, err := g.driverFor(provider)
	if err != nil {
		return nil, err
	}
	if !supports(d.Capabilities(), CapGetProcessURLs) {
		return nil, &CapabilityUnsupported{Provider: provider, Capability: CapGetProcessURLs}
	}
	ctx, cancel := g.withTimeout(ctx, "getProcessUrls")
	defer cancel()
	return d.GetProcessURLs(ctx, sandboxID)
}

// RunCode executes an inline code snippet inside a sandbox.
func (g *Gateway) RunCode(ctx context.Context, provider, sandboxID, language, code string) (RunResult, error) {
	d, lim, err := g.driverFor(provider)
	if err != nil {
		return RunResult{}, err
	}
	if !supports(d.Capabilities(), CapRunCode) {
		return RunResult{}, &CapabilityUnsupported{Provider: provider, Capability: CapRunCode}
	}
	if err := g.throttle(ctx, lim); err != nil {
		return RunResult{}, err
	}
	ctx, cancel := g.withTimeout(ctx, "runCode")
	defer cancel()
	return d.RunCode(ctx, sandboxID, language, code)
}
