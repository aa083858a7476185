package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sistem64-software/SAKA-QMS/internal/app"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
	"github.com/sistem64-software/SAKA-QMS/internal/shared/testutil"
)

const (
	activatedHWID = testutil.Fingerprint
	swappedHWID   = testutil.ChangedDiskFingerprint
)

// licenseFile points the server configuration at a fresh license path.
func licenseFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "license.dat")
	t.Setenv("SAKA_LICENSE_FILE", path)
	return path
}

func execute(t *testing.T, ctx context.Context, c *testutil.Collector, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(app.WithCollector(c), app.WithPublicKey(testutil.KeyPair(t).Public))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestFingerprintUnlicensed(t *testing.T) {
	path := licenseFile(t)

	out, err := execute(t, context.Background(), testutil.NewCollector(activatedHWID), "fingerprint")
	require.NoError(t, err)

	assert.Contains(t, out, "Platform:      static")
	assert.Contains(t, out, "Fingerprint:   "+activatedHWID)
	assert.Contains(t, out, "License file:  "+path+" (absent)")
	assert.Contains(t, out, "Licensed:      no ("+license.MessageNotLicensed+")")
}

func TestFingerprintAfterHardwareChange(t *testing.T) {
	path := licenseFile(t)

	issuer, err := license.NewIssuer(testutil.KeyPair(t).Private)
	require.NoError(t, err)
	key, err := issuer.Issue(activatedHWID)
	require.NoError(t, err)
	require.NoError(t, license.NewFileStore(path).Save(license.Record{Key: key, Fingerprint: activatedHWID}))

	out, err := execute(t, context.Background(), testutil.NewCollector(activatedHWID), "fingerprint")
	require.NoError(t, err)
	assert.Contains(t, out, "(present)")
	assert.Contains(t, out, "Licensed:      yes")

	out, err = execute(t, context.Background(), testutil.NewCollector(swappedHWID), "fingerprint", "--json")
	require.NoError(t, err)

	var diag license.Diagnostics
	require.NoError(t, json.Unmarshal([]byte(out), &diag))
	assert.Equal(t, swappedHWID, diag.Fingerprint)
	assert.Equal(t, activatedHWID, diag.SnapshotFingerprint)
	assert.Equal(t, []string{"disk"}, diag.ChangedComponents)
	assert.True(t, diag.RecordExists)
	assert.False(t, diag.Licensed)
	assert.Equal(t, license.ReasonMismatch, diag.Reason)
}

func TestFingerprintCollectionFailure(t *testing.T) {
	licenseFile(t)

	collector := testutil.NewCollector("")
	collector.Fail(security.ErrInsufficientHardwareInfo)

	out, err := execute(t, context.Background(), collector, "fingerprint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), security.ErrInsufficientHardwareInfo.Error())
	assert.Contains(t, out, "Fingerprint:   unavailable")
}

func TestServeStopsOnCancel(t *testing.T) {
	licenseFile(t)
	t.Setenv("SAKA_SERVER_PORT", strconv.Itoa(freePort(t)))
	t.Setenv("SAKA_METRICS_ENABLED", "false")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, testutil.NewCollector(activatedHWID), "serve")
	assert.NoError(t, err)
}

func TestServeRejectsBadConfig(t *testing.T) {
	licenseFile(t)
	t.Setenv("SAKA_SERVER_PORT", "70000")

	_, err := execute(t, context.Background(), testutil.NewCollector(activatedHWID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, context.Background(), testutil.NewCollector(activatedHWID), "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "bogus"`)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
