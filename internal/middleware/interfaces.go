package middleware

import (
	"context"

	"github.com/sistem64-software/SAKA-QMS/internal/license"
)

// LicenseChecker is the part of license.Manager the gate needs. It allows
// the gate to be tested without hardware probes.
type LicenseChecker interface {
	Status(ctx context.Context) (*license.Status, error)
}
