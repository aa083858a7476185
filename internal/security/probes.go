package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	errEmptyOutput = errors.New("empty output")
	errPlaceholder = errors.New("placeholder value")
	errNoMatch     = errors.New("field not found in output")
)

// Probe is one strategy for reading a hardware component.
type Probe struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// CommandRunner executes an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, firstLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// FileReader reads a whole file. os.ReadFile in production.
type FileReader func(path string) ([]byte, error)

// parser extracts the component value from raw probe output.
type parser func(output string) (string, error)

// runProbe runs p bounded by timeout. A probe that ignores its context is
// abandoned when the timeout fires.
func runProbe(ctx context.Context, p Probe, timeout time.Duration) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := p.Run(pctx)
		done <- result{v, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-pctx.Done():
		return "", fmt.Errorf("probe timed out: %w", pctx.Err())
	}

	if res.err != nil {
		return "", res.err
	}

	value := strings.TrimSpace(res.value)
	if value == "" {
		return "", errEmptyOutput
	}
	if isPlaceholder(value) {
		return "", fmt.Errorf("%w: %q", errPlaceholder, value)
	}
	return value, nil
}

func commandProbe(runner CommandRunner, parse parser, name string, args ...string) Probe {
	return Probe{
		Name: strings.Join(append([]string{name}, args...), " "),
		Run: func(ctx context.Context) (string, error) {
			out, err := runner.Run(ctx, name, args...)
			if err != nil {
				return "", err
			}
			return parse(string(out))
		},
	}
}

func fileProbe(read FileReader, path string, parse parser) Probe {
	return Probe{
		Name: "read " + path,
		Run: func(ctx context.Context) (string, error) {
			data, err := read(path)
			if err != nil {
				return "", err
			}
			return parse(string(data))
		},
	}
}

// placeholders are vendor defaults that identify nothing.
var placeholders = map[string]struct{}{
	"to be filled by o.e.m.":   {},
	"default string":           {},
	"not specified":            {},
	"not applicable":           {},
	"not available":            {},
	"none":                     {},
	"n/a":                      {},
	"system serial number":     {},
	"base board serial number": {},
	"chassis serial number":    {},
	"serialnumber":             {},
	"processorid":              {},
	"0123456789":               {},
	"123456789":                {},
}

func isPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if _, ok := placeholders[strings.ToLower(v)]; ok {
		return true
	}
	return isAllZero(v)
}

// isAllZero matches 0, 00000000, 00:00:00:00:00:00 and the like.
func isAllZero(v string) bool {
	zero := false
	for _, r := range v {
		switch r {
		case '0':
			zero = true
		case '-', ':', '_', '.', ' ':
		default:
			return false
		}
	}
	return zero
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// parseFirstLine returns the first non-empty, non-comment line.
func parseFirstLine(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", errEmptyOutput
}

// parseTable skips the column header of wmic style output and returns the
// first value row.
func parseTable(header string) parser {
	return func(output string) (string, error) {
		for _, line := range strings.Split(output, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.EqualFold(line, header) {
				continue
			}
			return line, nil
		}
		return "", errEmptyOutput
	}
}

// parseField finds "key<sep>value" and returns value. A key followed by a
// parenthesised qualifier, as in "Serial Number (system): X", also matches.
func parseField(key, sep string) parser {
	return func(output string) (string, error) {
		for _, line := range strings.Split(output, "\n") {
			left, right, ok := strings.Cut(line, sep)
			if !ok {
				continue
			}
			left = strings.Trim(strings.TrimSpace(left), `"`)
			if !strings.EqualFold(left, key) && !strings.HasPrefix(strings.ToLower(left), strings.ToLower(key)+" (") {
				continue
			}
			value := strings.Trim(strings.TrimSpace(right), `"`)
			if value == "" || isPlaceholder(value) {
				continue
			}
			return value, nil
		}
		return "", fmt.Errorf("%w: %s", errNoMatch, key)
	}
}

// Interfaces lists network interfaces. net.Interfaces in production.
type Interfaces func() ([]net.Interface, error)

func systemInterfaces() ([]net.Interface, error) { return net.Interfaces() }

func systemHostname() (string, error) { return os.Hostname() }

// macProbe picks the first up, non-loopback interface with a hardware
// address, then any interface with one.
func macProbe(list Interfaces) Probe {
	return Probe{
		Name: "network interfaces",
		Run: func(ctx context.Context) (string, error) {
			ifaces, err := list()
			if err != nil {
				return "", fmt.Errorf("failed to get network interfaces: %w", err)
			}

			usable := func(iface net.Interface) bool {
				return len(iface.HardwareAddr) > 0 && !isAllZero(iface.HardwareAddr.String())
			}

			for _, iface := range ifaces {
				if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
					continue
				}
				if usable(iface) {
					return strings.ToLower(iface.HardwareAddr.String()), nil
				}
			}
			for _, iface := range ifaces {
				if usable(iface) {
					return strings.ToLower(iface.HardwareAddr.String()), nil
				}
			}
			return "", errors.New("no valid MAC address found")
		},
	}
}

func hostnameProbe(hostname func() (string, error)) Probe {
	return Probe{
		Name: "hostname",
		Run: func(ctx context.Context) (string, error) {
			name, err := hostname()
			if err != nil {
				return "", fmt.Errorf("failed to get hostname: %w", err)
			}
			// Case is kept: the name is part of the signed payload as reported.
			return strings.TrimSpace(name), nil
		},
	}
}

// NetworkProbes builds the MAC and host name strategies from explicit
// sources, for use with WithNetworkProbes.
func NetworkProbes(list Interfaces, hostname func() (string, error)) (mac, host []Probe) {
	return []Probe{macProbe(list)}, []Probe{hostnameProbe(hostname)}
}

// StaticProbe always returns value. Useful for fixed test platforms.
func StaticProbe(name, value string) Probe {
	return Probe{Name: name, Run: func(context.Context) (string, error) { return value, nil }}
}
