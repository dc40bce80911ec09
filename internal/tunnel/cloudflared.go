// Package tunnel exposes the daemon's HTTP surface on a public URL without
// any inbound port-forwarding or DNS setup, for the "remote agent" story in
// spec §6.3 (an agent running on a different machine than the daemon).
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"
)

// Status reports whether a tunnel is currently exposing the daemon, and at
// what public URL.
type Status struct {
	Active       bool
	PublicURL    string
	ProviderName string
	StartedAt    time.Time
	Error        string
}

// Provider starts and stops a tunnel exposing a local port to the public
// internet, and reports its current status. cloudflared is the only
// implementation today; the interface leaves room for another provider
// (e.g. ngrok) without touching callers.
type Provider interface {
	Name() string
	IsAvailable() bool
	Start(ctx context.Context, localPort int) (Status, error)
	Stop() error
	Status() Status
}

var cloudflaredURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

const (
	urlParseTimeout = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// CloudflaredProvider shells out to the `cloudflared` binary to open a quick
// tunnel (trycloudflare.com) — no Cloudflare account or config required,
// just the binary on PATH. The public URL is parsed out of the subprocess's
// stderr, which is the only place cloudflared prints it.
type CloudflaredProvider struct {
	binaryPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	waitDone  chan struct{}
	publicURL string
	startedAt time.Time
	lastErr   string
	exited    bool
}

// NewCloudflaredProvider returns a provider using binaryPath, or "cloudflared"
// resolved via PATH if binaryPath is empty.
func NewCloudflaredProvider(binaryPath string) *CloudflaredProvider {
	return &CloudflaredProvider{binaryPath: binaryPath}
}

func (p *CloudflaredProvider) Name() string { return "cloudflared" }

func (p *CloudflaredProvider) binary() string {
	if p.binaryPath != "" {
		return p.binaryPath
	}
	return "cloudflared"
}

// IsAvailable reports whether the cloudflared binary can be found.
func (p *CloudflaredProvider) IsAvailable() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

// Start launches `cloudflared tunnel --url http://127.0.0.1:<localPort>` and
// blocks until the public URL is parsed from its stderr, the process exits,
// urlParseTimeout elapses, or ctx is canceled. Calling Start while a tunnel
// is already active returns its current status without starting a second
// process.
func (p *CloudflaredProvider) Start(ctx context.Context, localPort int) (Status, error) {
	p.mu.Lock()
	if p.cmd != nil && !p.exited {
		defer p.mu.Unlock()
		return p.statusLocked(), nil
	}
	p.mu.Unlock()

	if !p.IsAvailable() {
		err := errors.New("cloudflared binary not found in PATH")
		return Status{ProviderName: p.Name(), Error: err.Error()}, err
	}

	cmd := exec.CommandContext(ctx, p.binary(), "tunnel", "--url", fmt.Sprintf("http://127.0.0.1:%d", localPort)) //nolint:gosec // G204: binary path is operator-configured, not request input
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Status{}, fmt.Errorf("attach cloudflared stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("start cloudflared: %w", err)
	}

	waitDone := make(chan struct{})
	go func() {
		waitErr := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		if waitErr != nil {
			p.lastErr = fmt.Sprintf("cloudflared exited: %v", waitErr)
		}
		p.mu.Unlock()
		close(waitDone)
	}()

	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = waitDone
	p.exited = false
	p.lastErr = ""
	p.mu.Unlock()

	urlCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if m := cloudflaredURLPattern.FindString(scanner.Text()); m != "" {
				select {
				case urlCh <- m:
				default:
				}
			}
		}
	}()

	select {
	case url := <-urlCh:
		p.mu.Lock()
		p.publicURL = url
		p.startedAt = time.Now()
		p.lastErr = ""
		status := p.statusLocked()
		p.mu.Unlock()
		slog.Info("cloudflared tunnel established", "public_url", url)
		return status, nil
	case <-waitDone:
		err := fmt.Errorf("cloudflared exited before reporting a public URL")
		return Status{ProviderName: p.Name(), Error: err.Error()}, err
	case <-time.After(urlParseTimeout):
		_ = p.Stop()
		err := fmt.Errorf("timed out waiting %s for cloudflared to report a public URL", urlParseTimeout)
		return Status{ProviderName: p.Name(), Error: err.Error()}, err
	case <-ctx.Done():
		_ = p.Stop()
		return Status{ProviderName: p.Name(), Error: ctx.Err().Error()}, ctx.Err()
	}
}

// Stop terminates the cloudflared subprocess, if running: SIGTERM first,
// SIGKILL if it hasn't exited within shutdownTimeout.
func (p *CloudflaredProvider) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	waitDone := p.waitDone
	p.cmd = nil
	p.publicURL = ""
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-waitDone:
		return nil
	case <-time.After(shutdownTimeout):
		_ = cmd.Process.Kill()
		<-waitDone
		return nil
	}
}

// Status returns the tunnel's current state without side effects.
func (p *CloudflaredProvider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *CloudflaredProvider) statusLocked() Status {
	return Status{
		Active:       p.cmd != nil && !p.exited,
		PublicURL:    p.publicURL,
		ProviderName: p.Name(),
		StartedAt:    p.startedAt,
		Error:        p.lastErr,
	}
}
