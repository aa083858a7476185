// Command keygen creates the RSA key pair used to issue SAKA QMS licenses.
//
// The private key stays with the vendor. The printed public key is pasted
// into internal/license/public_key.go before building the server.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sistem64-software/SAKA-QMS/internal/security"
)

// passphraseReader asks for a passphrase without echo.
type passphraseReader func(prompt string) ([]byte, error)

type keygenOptions struct {
	out     string
	bits    int
	encrypt bool
}

func main() {
	if err := newRootCommand(readTerminalPassphrase).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(readPassphrase passphraseReader) *cobra.Command {
	opts := keygenOptions{}

	cmd := &cobra.Command{
		Use:           "keygen",
		Short:         "Generate the license signing key pair",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, readPassphrase)
		},
	}

	cmd.Flags().StringVar(&opts.out, "out", ".", "directory for private_key.pem and public_key.pem")
	cmd.Flags().IntVar(&opts.bits, "bits", security.DefaultKeyBits, "RSA modulus size")
	cmd.Flags().BoolVar(&opts.encrypt, "encrypt", false, "protect the private key with a passphrase")

	return cmd
}

func runKeygen(stdout, stderr io.Writer, opts keygenOptions, readPassphrase passphraseReader) error {
	var passphrase []byte
	if opts.encrypt {
		p, err := confirmPassphrase(readPassphrase)
		if err != nil {
			return err
		}
		passphrase = p
		defer clear(passphrase)
	}

	fmt.Fprintf(stderr, "Generating %d-bit RSA key pair...\n", opts.bits)
	pair, err := security.GenerateKeyPair(opts.bits)
	if err != nil {
		return err
	}

	privPath, pubPath, err := security.WriteKeyPair(opts.out, pair, passphrase)
	if err != nil {
		return err
	}

	pubPEM, err := pair.PublicPEM()
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Private key: %s (keep it secret, never commit it)\n", privPath)
	fmt.Fprintf(stderr, "Public key:  %s\n", pubPath)
	fmt.Fprintln(stderr, "Paste the following into internal/license/public_key.go:")
	fmt.Fprintln(stderr)
	_, err = stdout.Write(pubPEM)
	return err
}

func confirmPassphrase(read passphraseReader) ([]byte, error) {
	if read == nil {
		return nil, errors.New("no passphrase prompt available")
	}
	first, err := read("Passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}
	second, err := read("Repeat passphrase: ")
	if err != nil {
		clear(first)
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	defer clear(second)
	if !bytes.Equal(first, second) {
		clear(first)
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

func readTerminalPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(fd)
}
