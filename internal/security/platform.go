package security

import (
	"context"
	"os"
)

// Platform supplies the ordered probe strategies for the primary hardware
// sources (CPU, motherboard, disk) of one operating system.
type Platform interface {
	Name() string
	Probes(s Source) []Probe
}

// PlatformFor selects the probe set for goos. Files are read with os.ReadFile.
func PlatformFor(goos string, runner CommandRunner) Platform {
	return platformFor(goos, runner, os.ReadFile, sysctlString)
}

func platformFor(goos string, runner CommandRunner, read FileReader, sysctl func(string) (string, error)) Platform {
	switch goos {
	case "windows":
		return windowsPlatform{runner: runner}
	case "linux":
		return linuxPlatform{runner: runner, read: read}
	case "darwin":
		return darwinPlatform{runner: runner, sysctl: sysctl}
	default:
		return unknownPlatform{goos: goos}
	}
}

type windowsPlatform struct {
	runner CommandRunner
}

func (windowsPlatform) Name() string { return "windows" }

// Probes tries the wmic alias, the explicit WMI class and PowerShell, in
// that order; wmic is missing on recent Windows builds.
func (p windowsPlatform) Probes(s Source) []Probe {
	var alias, class, property string
	first := ""
	switch s {
	case SourceCPU:
		alias, class, property = "cpu", "Win32_Processor", "ProcessorId"
	case SourceMotherboard:
		alias, class, property = "baseboard", "Win32_BaseBoard", "SerialNumber"
	case SourceDisk:
		alias, class, property = "diskdrive", "Win32_DiskDrive", "SerialNumber"
		first = "Select-Object -First 1 -ExpandProperty "
	default:
		return nil
	}
	if first == "" {
		first = "Select-Object -ExpandProperty "
	}

	return []Probe{
		commandProbe(p.runner, parseTable(property), "wmic", alias, "get", property),
		commandProbe(p.runner, parseTable(property), "wmic", "path", class, "get", property),
		commandProbe(p.runner, parseFirstLine, "powershell", "-NoProfile", "-Command",
			"Get-WmiObject "+class+" | "+first+property),
	}
}

type linuxPlatform struct {
	runner CommandRunner
	read   FileReader
}

func (linuxPlatform) Name() string { return "linux" }

// Probes prefers sysfs and procfs, which need no external tools; the dmi
// serial files are often root-only, so dmidecode and udev come next.
func (p linuxPlatform) Probes(s Source) []Probe {
	switch s {
	case SourceCPU:
		return []Probe{
			fileProbe(p.read, "/proc/cpuinfo", parseField("Serial", ":")),
			commandProbe(p.runner, parseField("ID", ":"), "dmidecode", "-t", "processor"),
		}
	case SourceMotherboard:
		return []Probe{
			fileProbe(p.read, "/sys/class/dmi/id/board_serial", parseFirstLine),
			commandProbe(p.runner, parseFirstLine, "dmidecode", "-s", "baseboard-serial-number"),
			fileProbe(p.read, "/sys/class/dmi/id/product_serial", parseFirstLine),
		}
	case SourceDisk:
		return []Probe{
			commandProbe(p.runner, parseField("ID_SERIAL", "="), "udevadm", "info", "--query=property", "--name=/dev/sda"),
			commandProbe(p.runner, parseFirstLine, "lsblk", "-d", "-n", "-o", "SERIAL"),
			fileProbe(p.read, "/sys/block/sda/device/serial", parseFirstLine),
		}
	default:
		return nil
	}
}

type darwinPlatform struct {
	runner CommandRunner
	sysctl func(name string) (string, error)
}

func (darwinPlatform) Name() string { return "darwin" }

func (p darwinPlatform) Probes(s Source) []Probe {
	switch s {
	case SourceCPU:
		return []Probe{
			{
				Name: "sysctl machdep.cpu.brand_string",
				Run: func(context.Context) (string, error) {
					return p.sysctl("machdep.cpu.brand_string")
				},
			},
			commandProbe(p.runner, parseFirstLine, "sysctl", "-n", "machdep.cpu.brand_string"),
		}
	case SourceMotherboard:
		return []Probe{
			commandProbe(p.runner, parseField("Serial Number", ":"), "system_profiler", "SPHardwareDataType"),
			commandProbe(p.runner, parseField("IOPlatformSerialNumber", "="), "ioreg", "-rd1", "-c", "IOPlatformExpertDevice"),
		}
	case SourceDisk:
		serial := parseField("Serial Number", ":")
		return []Probe{
			commandProbe(p.runner, serial, "system_profiler", "SPNVMeDataType"),
			commandProbe(p.runner, serial, "system_profiler", "SPSerialATADataType"),
			commandProbe(p.runner, serial, "system_profiler", "SPStorageDataType"),
		}
	default:
		return nil
	}
}

// unknownPlatform has no strategies; every primary source degrades.
type unknownPlatform struct {
	goos string
}

func (p unknownPlatform) Name() string { return p.goos }

func (unknownPlatform) Probes(Source) []Probe { return nil }
