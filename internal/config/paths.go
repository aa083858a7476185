package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultLicenseFile returns the per-user license location:
// %APPDATA%\.saka_qms\license.dat on Windows, ~/.saka_qms/license.dat elsewhere.
// The directory is outside the application folder on purpose; it is not
// created here.
func DefaultLicenseFile() (string, error) {
	base, err := licenseBaseDir(runtime.GOOS, os.Getenv, os.UserHomeDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, LicenseDirName, LicenseFileName), nil
}

func licenseBaseDir(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	if goos == "windows" {
		if appData := getenv("APPDATA"); appData != "" {
			return appData, nil
		}
	}

	dir, err := home()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if dir == "" {
		return "", fmt.Errorf("home directory is empty")
	}
	return dir, nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
