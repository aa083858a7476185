//go:build ignore

// build.go - SAKA QMS Build System
// Usage: go run build.go [-target=TARGET] [-version=X.Y.Z] [-v]
// Targets: all, web-licensed, issuer, keygen, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const module = "github.com/sistem64-software/SAKA-QMS"

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	Version string
	GOOS    string
	GOARCH  string
}

var (
	distDir = "dist"

	// Server binary shipped to customers; the other two stay with the vendor.
	customerExecutables = []string{"web-licensed"}
	vendorExecutables   = []string{"issuer", "keygen"}

	// Release platforms for the server.
	releasePlatforms = [][2]string{
		{"windows", "amd64"},
		{"linux", "amd64"},
		{"darwin", "arm64"},
	}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	version := flag.String("version", "1.0.0", "Version stamped into the binaries")
	flag.Parse()

	if os.Getenv("NO_COLOR") != "" {
		colorReset, colorRed, colorGreen, colorBlue, colorCyan = "", "", "", "", ""
	}

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{
		Verbose: *verbose,
		Version: *version,
		GOOS:    runtime.GOOS,
		GOARCH:  runtime.GOARCH,
	}

	var err error
	switch *target {
	case "all":
		err = buildAll(ctx)
	case "web-licensed", "issuer", "keygen":
		err = buildExecutable(*target, ctx)
	case "test":
		err = runTests(ctx.Verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	case "release":
		err = buildRelease(ctx)
	default:
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "         SAKA QMS - Build System           " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

// Build all components for the host platform
func buildAll(ctx *BuildContext) error {
	printInfo("Building all components...")
	for _, name := range append(append([]string{}, customerExecutables...), vendorExecutables...) {
		if err := buildExecutable(name, ctx); err != nil {
			return err
		}
	}
	return nil
}

func buildExecutable(name string, ctx *BuildContext) error {
	printInfo(fmt.Sprintf("Building %s (%s/%s)...", name, ctx.GOOS, ctx.GOARCH))

	exeName := name
	if ctx.GOOS == "windows" {
		exeName += ".exe"
	}
	outputPath := filepath.Join(distDir, ctx.GOOS+"-"+ctx.GOARCH, exeName)

	ldflags := fmt.Sprintf("-s -w -X %s/internal/config.AppVersion=%s", module, ctx.Version)
	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", outputPath, "./cmd/" + name}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
	}

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to build %s: %w", name, err)
	}

	if info, err := os.Stat(outputPath); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", outputPath, float64(info.Size())/1024/1024))
	}
	return nil
}

func runTests(verbose bool) error {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go tests failed: %w", err)
	}
	return nil
}

// buildRelease cross-compiles the server for every release platform.
func buildRelease(ctx *BuildContext) error {
	printInfo("Building release version...")
	if err := os.RemoveAll(distDir); err != nil {
		return err
	}

	for _, p := range releasePlatforms {
		rc := *ctx
		rc.GOOS, rc.GOARCH = p[0], p[1]
		for _, name := range customerExecutables {
			if err := buildExecutable(name, &rc); err != nil {
				return err
			}
		}
	}

	content := fmt.Sprintf("SAKA QMS v%s\nBuilt: %s\n", ctx.Version, time.Now().Format("2006-01-02 15:04:05"))
	return os.WriteFile(filepath.Join(distDir, "VERSION.txt"), []byte(content), 0o644)
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-version=X.Y.Z] [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all           Build the server, issuer and keygen for this platform (default)")
	fmt.Println("  web-licensed  Build the license-protected server")
	fmt.Println("  issuer        Build the vendor's license issuer")
	fmt.Println("  keygen        Build the vendor's key pair generator")
	fmt.Println("  test          Run all Go tests with the race detector")
	fmt.Println("  clean         Remove the dist directory")
	fmt.Println("  release       Cross-compile the server for windows, linux and darwin")
}
