package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultKeyBits is the default and minimum RSA modulus size.
	DefaultKeyBits = 2048

	PrivateKeyFile = "private_key.pem"
	PublicKeyFile  = "public_key.pem"
)

// ErrKeyMaterial wraps every failure to obtain a usable RSA key.
var ErrKeyMaterial = errors.New("key material error")

// KeyPair is the issuer's signing key and its public half.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA key pair from crypto/rand.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < DefaultKeyBits {
		return nil, fmt.Errorf("%w: key size %d is below the minimum of %d bits", ErrKeyMaterial, bits, DefaultKeyBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// PrivatePEM encodes the private key as unencrypted PKCS#8.
func (k *KeyPair) PrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicPEM encodes the public key as PKIX SubjectPublicKeyInfo.
func (k *KeyPair) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncryptedPrivatePEM encodes the private key as a passphrase protected
// PKCS#1 PEM (AES-256-CBC), the format openssl rsa -aes256 writes.
func (k *KeyPair) EncryptedPrivatePEM(passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyMaterial)
	}
	//nolint:staticcheck // openssl compatible format
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(k.Private), passphrase, x509.PEMCipherAES256)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// WriteKeyPair writes private_key.pem (0600) and public_key.pem (0644) to
// dir. A non-empty passphrase encrypts the private key.
func WriteKeyPair(dir string, pair *KeyPair, passphrase []byte) (privPath, pubPath string, err error) {
	var privPEM []byte
	if len(passphrase) > 0 {
		privPEM, err = pair.EncryptedPrivatePEM(passphrase)
	} else {
		privPEM, err = pair.PrivatePEM()
	}
	if err != nil {
		return "", "", err
	}

	pubPEM, err := pair.PublicPEM()
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create key directory %s: %w", dir, err)
	}

	privPath = filepath.Join(dir, PrivateKeyFile)
	pubPath = filepath.Join(dir, PublicKeyFile)

	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// ParsePublicKeyPEM accepts PKIX, PKCS#1 and certificate PEM blocks.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %v", ErrKeyMaterial, err)
	}
	return pub, nil
}

// PassphrasePrompt obtains the passphrase of an encrypted private key.
type PassphrasePrompt func() ([]byte, error)

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key. prompt is
// only called when the PEM is passphrase protected.
func ParsePrivateKeyPEM(data []byte, prompt PassphrasePrompt) (*rsa.PrivateKey, error) {
	key, err := ssh.ParseRawPrivateKey(data)

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if prompt == nil {
			return nil, fmt.Errorf("%w: private key is encrypted and no passphrase was given", ErrKeyMaterial)
		}
		passphrase, perr := prompt()
		if perr != nil {
			return nil, fmt.Errorf("%w: failed to read passphrase: %v", ErrKeyMaterial, perr)
		}
		key, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
		clear(passphrase)
	}

	if err != nil {
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: wrong passphrase", ErrKeyMaterial)
		}
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrKeyMaterial, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, want RSA", ErrKeyMaterial, key)
	}
	if rsaKey.N.BitLen() < DefaultKeyBits {
		return nil, fmt.Errorf("%w: private key is %d bits, want at least %d", ErrKeyMaterial, rsaKey.N.BitLen(), DefaultKeyBits)
	}
	return rsaKey, nil
}

// KeySource locates the issuer's private key.
type KeySource struct {
	// PEM holds the key itself. Literal \n sequences are accepted so the
	// key fits on one line of an env file.
	PEM string `envconfig:"PRIVATE_KEY"`
	// Path is used when PEM is empty.
	Path string `envconfig:"PRIVATE_KEY_PATH"`
}

// KeySourceFromEnv reads PRIVATE_KEY and PRIVATE_KEY_PATH.
func KeySourceFromEnv() (KeySource, error) {
	var src KeySource
	if err := envconfig.Process("", &src); err != nil {
		return KeySource{}, fmt.Errorf("failed to read key source from env: %w", err)
	}
	return src, nil
}

// Describe names where the key comes from without revealing it.
func (s KeySource) Describe() string {
	switch {
	case s.PEM != "":
		return "PRIVATE_KEY environment variable"
	case s.Path != "":
		return s.Path
	default:
		return "./" + PrivateKeyFile
	}
}

// ResolvePrivateKey loads the key from, in order: the in-memory PEM, the
// configured path, ./private_key.pem.
func ResolvePrivateKey(src KeySource, prompt PassphrasePrompt) (*rsa.PrivateKey, error) {
	if src.PEM != "" {
		data := []byte(strings.ReplaceAll(src.PEM, `\n`, "\n"))
		key, err := ParsePrivateKeyPEM(data, prompt)
		if err != nil {
			return nil, fmt.Errorf("PRIVATE_KEY: %w", err)
		}
		return key, nil
	}

	path := src.Path
	if path == "" {
		path = PrivateKeyFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read private key %s: %v", ErrKeyMaterial, path, err)
	}

	key, err := ParsePrivateKeyPEM(data, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}
