package config

import "time"

const AppName = "SAKA QMS"

// AppVersion is replaced at link time by build.go
// (-X github.com/sistem64-software/SAKA-QMS/internal/config.AppVersion=...).
var AppVersion = "1.0.0"

const (
	// LicenseDirName is created under the per-user base directory so that
	// reinstalling the application does not drop the activation.
	LicenseDirName  = ".saka_qms"
	LicenseFileName = "license.dat"

	DefaultProbeTimeout = 5 * time.Second
	DefaultLogFile      = "logs/app.log"

	// Issuer-side key files written by the key generator.
	PrivateKeyFileName = "private_key.pem"
	PublicKeyFileName  = "public_key.pem"
)

// DefaultProtectedPrefixes are the document-management routes that require
// an activated license.
var DefaultProtectedPrefixes = []string{
	"/api/upload",
	"/api/files",
	"/api/companies",
}

// DefaultAllowedOrigins are the development servers of the browser
// frontend.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
	"http://localhost:3000",
}

// DefaultExemptPrefixes always pass the license gate.
var DefaultExemptPrefixes = []string{
	"/api/license",
	"/api/health",
	"/health",
	"/metrics",
}
