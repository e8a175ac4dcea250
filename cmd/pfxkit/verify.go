package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/pfxkit"
	"github.com/sensiblebit/pfxkit/internal"
)

var (
	verifyChain       bool
	verifyExpiry      string
	verifyTrustStore  string
	verifyRoots       string
	verifyStrict      bool
	verifyFormat      string
	verifyBase64      bool
	verifyConcurrency int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>...",
	Short: "Verify key match, expiry and chain of PKCS#12 files",
	Long:  "Extract each container and check that the key matches a certificate, that the leaf is valid and not about to expire, and optionally that it chains to a trusted root.",
	Example: `  pfxkit verify server.p12 --chain
  pfxkit verify certs/*.p12 --expiry 14d --format json
  pfxkit verify server.p12 --chain --trust-store custom --roots corp-root.pem
  pfxkit verify certs/*.p12 --format cbom > inventory.cdx.json`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: containerCompletion,
	RunE:              runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyChain, "chain", false, "Verify the certificate chain of trust")
	verifyCmd.Flags().StringVarP(&verifyExpiry, "expiry", "e", "30d", "Warn if the leaf expires within duration (e.g., 30d, 720h; 0 disables)")
	verifyCmd.Flags().StringVar(&verifyTrustStore, "trust-store", pfxkit.TrustStoreMozilla, "Trust store for chain validation: mozilla, system, custom")
	verifyCmd.Flags().StringVar(&verifyRoots, "roots", "", "PEM file with root certificates for --trust-store custom")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "Fail when the private key matches no certificate")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: "+strings.Join(internal.VerifyFormats, ", "))
	verifyCmd.Flags().BoolVar(&verifyBase64, "base64", false, "Inputs are base64 encoded")
	verifyCmd.Flags().IntVar(&verifyConcurrency, "concurrency", runtime.NumCPU(), "Containers verified in parallel")

	registerCompletions(verifyCmd, map[string]completionFunc{
		"trust-store": oneOf(pfxkit.TrustStoreMozilla, pfxkit.TrustStoreSystem, pfxkit.TrustStoreCustom),
		"format":      oneOf(internal.VerifyFormats...),
		"roots":       pemCompletion,
	})
}

// parseDuration extends time.ParseDuration to support a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		trimmed := strings.TrimSuffix(s, "d")
		days, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		if days < 0 {
			return 0, fmt.Errorf("invalid day duration %q: negative", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// loadRoots reads every CERTIFICATE block from a PEM file.
func loadRoots(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roots: %w", err)
	}
	var roots []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing root in %s: %w", path, err)
		}
		roots = append(roots, cert)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return roots, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	expiry, err := parseDuration(verifyExpiry)
	if err != nil {
		return fmt.Errorf("invalid --expiry value: %w", err)
	}
	passwords, err := passwords()
	if err != nil {
		return fmt.Errorf("loading passwords: %w", err)
	}

	opts := internal.VerifyOptions{
		Passwords:     passwords,
		Base64:        verifyBase64,
		CheckChain:    verifyChain,
		TrustStore:    verifyTrustStore,
		ExpiryWarning: expiry,
		Strict:        verifyStrict,
	}
	if verifyRoots != "" {
		if opts.CustomRoots, err = loadRoots(verifyRoots); err != nil {
			return err
		}
	}

	results := internal.VerifyBatch(cmd.Context(), args, opts, verifyConcurrency)
	if len(results) == 1 && results[0].Err != nil {
		return results[0].Err
	}
	output, err := internal.FormatBatch(results, verifyFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w for %d of %d containers", internal.ErrVerificationFailed, failed, len(results))
	}
	return nil
}
