package license

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs machine fingerprints. It runs on the vendor's side only.
type Issuer struct {
	key *rsa.PrivateKey
}

// NewIssuer wraps the vendor's private key.
func NewIssuer(key *rsa.PrivateKey) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("issuer requires a private key")
	}
	return &Issuer{key: key}, nil
}

// Issue signs the fingerprint string with RSASSA-PKCS1-v1_5 over SHA-256
// and returns the base64 license key. Surrounding whitespace is ignored.
func (i *Issuer) Issue(fingerprint string) (string, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return "", errors.New("fingerprint is empty")
	}

	sig, err := jwt.SigningMethodRS256.Sign(fingerprint, i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign fingerprint: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the key that verifies this issuer's licenses.
func (i *Issuer) PublicKey() *rsa.PublicKey {
	return &i.key.PublicKey
}

// SelfCheck verifies a freshly issued key against pub, normally the key
// embedded in the shipped application. A failure means the issuer's private
// key does not belong to that public key.
func SelfCheck(fingerprint, licenseKey string, pub *rsa.PublicKey) error {
	res := NewVerifier(pub).Verify(licenseKey, strings.TrimSpace(fingerprint))
	if !res.Valid {
		return fmt.Errorf("self-check failed: %s (is the embedded public key from this key pair?)", res.Reason)
	}
	return nil
}
