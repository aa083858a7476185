package http

import (
	"context"

	"github.com/sistem64-software/SAKA-QMS/internal/license"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// LicenseService is implemented by *license.Manager.
type LicenseService interface {
	Status(ctx context.Context) (*license.Status, error)
	Fingerprint(ctx context.Context) (*security.HardwareFingerprint, error)
	Activate(ctx context.Context, licenseKey string) (license.Result, error)
	Verify(ctx context.Context, licenseKey string) (license.Result, *security.HardwareFingerprint, error)
	Diagnostics(ctx context.Context) (*license.Diagnostics, error)
}

var _ LicenseService = (*license.Manager)(nil)
