//go:build darwin

package security

import "golang.org/x/sys/unix"

func sysctlString(name string) (string, error) {
	return unix.Sysctl(name)
}
