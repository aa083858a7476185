// Command issuer signs a customer's hardware fingerprint and prints the
// license key to send back to them.
//
//	issuer [FINGERPRINT]
//
// The private key is taken from PRIVATE_KEY, PRIVATE_KEY_PATH, --key or
// ./private_key.pem. Only the license key is written to stdout.
package main

import (
	"bufio"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sistem64-software/SAKA-QMS/internal/license"
	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

type issuerOptions struct {
	keyPath       string
	publicKeyPath string
	verify        bool
}

// console is what the command needs from the operator's terminal.
type console struct {
	// interactive enables the self-check question when --verify is absent.
	interactive bool
	passphrase  security.PassphrasePrompt
}

func main() {
	c := console{
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		passphrase:  readTerminalPassphrase,
	}
	if err := newRootCommand(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, security.ErrKeyMaterial) {
			fmt.Fprintln(os.Stderr, keyGuidance)
		}
		os.Exit(1)
	}
}

const keyGuidance = `The private key can be supplied by:
  1. PRIVATE_KEY holding the PEM itself
  2. PRIVATE_KEY_PATH pointing at the PEM file
  3. --key pointing at the PEM file
  4. ./private_key.pem
Never commit the private key or embed it in the application.`

func newRootCommand(c console) *cobra.Command {
	opts := issuerOptions{}

	cmd := &cobra.Command{
		Use:           "issuer [FINGERPRINT]",
		Short:         "Issue a SAKA QMS license key for a hardware fingerprint",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			stderr := cmd.ErrOrStderr()

			fingerprint := ""
			if len(args) == 1 {
				fingerprint = args[0]
			} else {
				line, err := ask(in, stderr, "Hardware fingerprint: ")
				if err != nil {
					return fmt.Errorf("failed to read fingerprint: %w", err)
				}
				fingerprint = line
			}
			fingerprint = strings.TrimSpace(fingerprint)
			if fingerprint == "" {
				return errors.New("fingerprint must not be empty")
			}

			verify := opts.verify
			if !cmd.Flags().Changed("verify") && c.interactive {
				answer, err := ask(in, stderr, "Verify the key against the public key? [y/N]: ")
				if err != nil {
					return fmt.Errorf("failed to read answer: %w", err)
				}
				verify = isYes(answer)
			}

			return runIssuer(cmd.OutOrStdout(), stderr, fingerprint, opts, verify, c.passphrase)
		},
	}

	cmd.Flags().StringVar(&opts.keyPath, "key", "", "private key PEM file (overrides PRIVATE_KEY and PRIVATE_KEY_PATH)")
	cmd.Flags().StringVar(&opts.publicKeyPath, "public-key", "", "public key PEM for the self-check (default: the key embedded in the application)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "verify the issued key (asked interactively when omitted)")

	return cmd
}

func runIssuer(stdout, stderr io.Writer, fingerprint string, opts issuerOptions, verify bool, prompt security.PassphrasePrompt) error {
	src, err := keySource(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Loading private key from %s\n", src.Describe())
	key, err := security.ResolvePrivateKey(src, prompt)
	if err != nil {
		return err
	}

	issuer, err := license.NewIssuer(key)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Signing fingerprint %s\n", truncate(fingerprint, 16))
	licenseKey, err := issuer.Issue(fingerprint)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(stdout, licenseKey); err != nil {
		return err
	}

	if !verify {
		return nil
	}

	pub, err := selfCheckKey(opts.publicKeyPath)
	if err != nil {
		return err
	}
	if err := license.SelfCheck(fingerprint, licenseKey, pub); err != nil {
		return err
	}
	fmt.Fprintln(stderr, "Self-check passed: the key is valid for this fingerprint.")
	return nil
}

func keySource(opts issuerOptions) (security.KeySource, error) {
	if opts.keyPath != "" {
		return security.KeySource{Path: opts.keyPath}, nil
	}
	return security.KeySourceFromEnv()
}

func selfCheckKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return license.DefaultPublicKey()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read public key %s: %v", security.ErrKeyMaterial, path, err)
	}
	return security.ParsePublicKeyPEM(data)
}

func ask(in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes", "e", "evet":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func readTerminalPassphrase() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Private key passphrase: ")
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(fd)
}
