package license

import (
	"errors"
	"fmt"
)

var (
	// ErrLicenseNotFound means no license record has been stored yet.
	ErrLicenseNotFound = errors.New("license not found")

	// ErrInvalidLicense is returned by Activate for a key the verifier rejects.
	ErrInvalidLicense = errors.New("invalid license key")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("license storage error")
)

// Verification failure reasons, shown to the user.
const (
	ReasonEmpty     = "license key is empty"
	ReasonMalformed = "malformed key"
	ReasonMismatch  = "license key does not match this machine"
)

// StorageError is a failure to read or write the license record. It is an
// operational error, never a verdict on the key.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("license storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// InvalidLicenseError carries the verifier's reason.
type InvalidLicenseError struct {
	Reason string
}

func (e *InvalidLicenseError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidLicense, e.Reason)
}

func (e *InvalidLicenseError) Is(target error) bool { return target == ErrInvalidLicense }
