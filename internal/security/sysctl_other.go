//go:build !darwin

package security

import (
	"errors"
	"runtime"
)

func sysctlString(string) (string, error) {
	return "", errors.New("sysctl is not available on " + runtime.GOOS)
}
