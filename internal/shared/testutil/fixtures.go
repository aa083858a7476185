package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// Fingerprints of the reference machine before and after its disk is
// replaced.
const (
	Fingerprint            = "CPU123|MB456|DISK789|aa:bb:cc:dd:ee:ff|host1"
	ChangedDiskFingerprint = "CPU123|MB456|DISK999|aa:bb:cc:dd:ee:ff|host1"
)

var sharedPair = sync.OnceValues(func() (*security.KeyPair, error) {
	return security.GenerateKeyPair(security.DefaultKeyBits)
})

// KeyPair returns a signing key generated once per test binary. RSA key
// generation is slow enough to matter when every test asks for one.
func KeyPair(t testing.TB) *security.KeyPair {
	t.Helper()
	pair, err := sharedPair()
	if err != nil {
		t.Fatalf("failed to generate test key pair: %v", err)
	}
	return pair
}

// Collector is a fingerprint source whose answer tests can change.
type Collector struct {
	mu    sync.Mutex
	fp    string
	err   error
	calls int
}

// NewCollector reports fp until told otherwise.
func NewCollector(fp string) *Collector {
	return &Collector{fp: fp}
}

// Collect parses the configured fingerprint. A cancelled context wins over
// any configured result.
func (c *Collector) Collect(ctx context.Context) (*security.HardwareFingerprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	return security.ParseFingerprint(c.fp)
}

// Platform names the double in diagnostics.
func (c *Collector) Platform() string { return "static" }

// Set swaps the reported fingerprint, as if hardware had changed.
func (c *Collector) Set(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fp = fp
}

// Fail makes every following Collect return err. Fail(nil) restores it.
func (c *Collector) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls counts Collect invocations.
func (c *Collector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
