package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Source identifies one hardware component of the fingerprint. The numeric
// order is the order of the components in the fingerprint string.
type Source int

const (
	SourceCPU Source = iota
	SourceMotherboard
	SourceDisk
	SourceMAC
	SourceHost

	sourceCount
)

// Sentinels substituted for a component that could not be read.
const (
	UnknownCPU  = "UNKNOWN_CPU"
	UnknownMB   = "UNKNOWN_MB"
	UnknownDisk = "UNKNOWN_DISK"
	UnknownMAC  = "UNKNOWN_MAC"
	UnknownHost = "UNKNOWN_HOST"
)

// Separator joins the components of a fingerprint string.
const Separator = "|"

// DefaultProbeTimeout bounds a single probe attempt.
const DefaultProbeTimeout = 5 * time.Second

// ErrInsufficientHardwareInfo is returned when CPU, motherboard and disk all
// degraded to their sentinels.
var ErrInsufficientHardwareInfo = errors.New("insufficient hardware information")

var sourceNames = [sourceCount]string{"cpu", "motherboard", "disk", "mac", "host"}

var sentinels = [sourceCount]string{UnknownCPU, UnknownMB, UnknownDisk, UnknownMAC, UnknownHost}

func (s Source) String() string {
	if s < 0 || s >= sourceCount {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

// MarshalText renders the source by name in logs and JSON.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sentinel returns the placeholder used when s cannot be read.
func (s Source) Sentinel() string {
	if s < 0 || s >= sourceCount {
		return ""
	}
	return sentinels[s]
}

// Sources lists every component in fingerprint order.
func Sources() []Source {
	return []Source{SourceCPU, SourceMotherboard, SourceDisk, SourceMAC, SourceHost}
}

// HardwareFingerprint is the machine identity a license is bound to.
type HardwareFingerprint struct {
	Components [sourceCount]string `json:"components"`

	// Sources describes how each component was obtained. It is diagnostic
	// only and never part of String or Digest.
	Sources []SourceReport `json:"sources,omitempty"`
}

// SourceReport records the probe chain of one component.
type SourceReport struct {
	Source   string         `json:"source"`
	Value    string         `json:"value"`
	Strategy string         `json:"strategy,omitempty"`
	Degraded bool           `json:"degraded"`
	Attempts []ProbeAttempt `json:"attempts,omitempty"`
}

// ProbeAttempt is one strategy tried for a component.
type ProbeAttempt struct {
	Strategy string        `json:"strategy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// String returns CPU|MB|DISK|MAC|HOST. This is the value exchanged with the
// issuer and the payload that is signed.
func (f *HardwareFingerprint) String() string {
	return strings.Join(f.Components[:], Separator)
}

// Digest is SHA-256 over String().
func (f *HardwareFingerprint) Digest() [sha256.Size]byte {
	return sha256.Sum256([]byte(f.String()))
}

// DigestHex returns the hex encoded digest.
func (f *HardwareFingerprint) DigestHex() string {
	sum := f.Digest()
	return hex.EncodeToString(sum[:])
}

// Component returns the value of source s.
func (f *HardwareFingerprint) Component(s Source) string {
	if s < 0 || s >= sourceCount {
		return ""
	}
	return f.Components[s]
}

// Degraded reports the components that hold their sentinel.
func (f *HardwareFingerprint) Degraded() []Source {
	var out []Source
	for _, s := range Sources() {
		if f.Components[s] == s.Sentinel() {
			out = append(out, s)
		}
	}
	return out
}

// Diff returns the components whose values differ between f and other.
func (f *HardwareFingerprint) Diff(other *HardwareFingerprint) []Source {
	if other == nil {
		return Sources()
	}
	var out []Source
	for _, s := range Sources() {
		if f.Components[s] != other.Components[s] {
			out = append(out, s)
		}
	}
	return out
}

// ParseFingerprint splits a fingerprint string into its five components.
func ParseFingerprint(s string) (*HardwareFingerprint, error) {
	parts := strings.Split(strings.TrimSpace(s), Separator)
	if len(parts) != int(sourceCount) {
		return nil, fmt.Errorf("fingerprint has %d components, want %d", len(parts), sourceCount)
	}

	fp := &HardwareFingerprint{}
	copy(fp.Components[:], parts)
	return fp, nil
}

// Collector gathers the hardware fingerprint of the current machine.
type Collector struct {
	platform Platform
	mac      []Probe
	host     []Probe
	timeout  time.Duration
	logger   *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithPlatform replaces the platform probes, normally chosen from runtime.GOOS.
func WithPlatform(p Platform) CollectorOption {
	return func(c *Collector) { c.platform = p }
}

// WithProbeTimeout sets the bound on a single probe attempt.
func WithProbeTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCollectorLogger sets the logger used for probe diagnostics.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNetworkProbes replaces the MAC address and host name strategies.
func WithNetworkProbes(mac, host []Probe) CollectorOption {
	return func(c *Collector) {
		c.mac = mac
		c.host = host
	}
}

// NewCollector creates a collector for the running operating system.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		timeout: DefaultProbeTimeout,
		logger:  slog.Default(),
		mac:     []Probe{macProbe(systemInterfaces)},
		host:    []Probe{hostnameProbe(systemHostname)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.platform == nil {
		c.platform = PlatformFor(runtime.GOOS, ExecRunner{})
	}
	c.logger = c.logger.With(slog.String("component", "fingerprint"))
	return c
}

// Platform returns the name of the probe set in use.
func (c *Collector) Platform() string {
	return c.platform.Name()
}

func (c *Collector) probes(s Source) []Probe {
	switch s {
	case SourceMAC:
		return c.mac
	case SourceHost:
		return c.host
	default:
		return c.platform.Probes(s)
	}
}

// Collect probes all five sources concurrently. Each source tries its
// strategies in order and degrades to its sentinel when all of them fail.
// Only the loss of all three primary sources is an error.
func (c *Collector) Collect(ctx context.Context) (*HardwareFingerprint, error) {
	start := time.Now()
	fp := &HardwareFingerprint{Sources: make([]SourceReport, sourceCount)}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range Sources() {
		g.Go(func() error {
			report := c.runChain(gctx, s, c.probes(s))
			fp.Components[s] = report.Value
			fp.Sources[s] = report
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fingerprint collection aborted: %w", err)
	}

	if fp.Components[SourceCPU] == UnknownCPU &&
		fp.Components[SourceMotherboard] == UnknownMB &&
		fp.Components[SourceDisk] == UnknownDisk {
		c.logger.WarnContext(ctx, "no primary hardware source could be read",
			slog.String("platform", c.platform.Name()))
		return nil, fmt.Errorf("%w: cpu, motherboard and disk probes all failed on %s",
			ErrInsufficientHardwareInfo, c.platform.Name())
	}

	c.logger.DebugContext(ctx, "hardware fingerprint collected",
		slog.String("platform", c.platform.Name()),
		slog.String("digest", fp.DigestHex()),
		slog.Any("degraded", fp.Degraded()),
		slog.Duration("duration", time.Since(start)))

	return fp, nil
}

func (c *Collector) runChain(ctx context.Context, s Source, probes []Probe) SourceReport {
	report := SourceReport{Source: s.String(), Value: s.Sentinel(), Degraded: true}

	for _, p := range probes {
		started := time.Now()
		value, err := runProbe(ctx, p, c.timeout)
		attempt := ProbeAttempt{Strategy: p.Name, Duration: time.Since(started)}

		if err != nil {
			attempt.Error = err.Error()
			report.Attempts = append(report.Attempts, attempt)
			c.logger.DebugContext(ctx, "probe failed",
				slog.String("source", s.String()),
				slog.String("strategy", p.Name),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		report.Attempts = append(report.Attempts, attempt)
		report.Value = value
		report.Strategy = p.Name
		report.Degraded = false
		return report
	}

	return report
}
