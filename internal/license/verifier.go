package license

import (
	"crypto/rsa"
	"encoding/base64"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Result is the outcome of verifying a license key.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verifier checks license keys with the vendor's public key.
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier creates a verifier for pub.
func NewVerifier(pub *rsa.PublicKey) *Verifier {
	return &Verifier{pub: pub}
}

// Verify checks that licenseKey is a signature over fingerprint. It never
// returns an error: every failure is a Result with a reason. Signature
// problems of any kind (wrong key, truncation, tampering, another machine)
// share one reason.
func (v *Verifier) Verify(licenseKey, fingerprint string) Result {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return Result{Reason: ReasonEmpty}
	}

	sig, err := base64.StdEncoding.DecodeString(licenseKey)
	if err != nil || len(sig) == 0 {
		return Result{Reason: ReasonMalformed}
	}

	if v.pub == nil {
		return Result{Reason: ReasonMismatch}
	}

	if err := jwt.SigningMethodRS256.Verify(fingerprint, sig, v.pub); err != nil {
		return Result{Reason: ReasonMismatch}
	}
	return Result{Valid: true}
}

// MaskKey shortens a license key for logs.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "****"
}
