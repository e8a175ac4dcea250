package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/pfxkit/internal"
)

func TestParseDuration(t *testing.T) {
	// WHY: --expiry accepts day suffixes that time.ParseDuration rejects;
	// both forms must work and malformed day counts must fail.
	t.Parallel()
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"720h", 720 * time.Hour, false},
		{"0", 0, false},
		{"xd", 0, true},
		{"-1d", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// writeSelfSignedPFX writes a PFX holding a self-signed RSA certificate and
// returns its path and the PEM of the certificate.
func writeSelfSignedPFX(t *testing.T, dir, password string) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "cli.example.com"},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(90 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	data, err := gopkcs12.Modern.Encode(key, cert, nil, password)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cli.p12")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// resetFlags restores every flag in the command tree to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns stdout. The command
// tree and its flag variables are package globals, so callers must not run
// in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_ExtractInspectVerify(t *testing.T) {
	// WHY: The commands wire flags into the internal services; a flag that
	// is parsed but never passed on (passwords, format, out) only shows up
	// end to end.
	dir := t.TempDir()
	pfxPath, certPEM := writeSelfSignedPFX(t, dir, "hunter2")
	outDir := filepath.Join(dir, "out")

	if _, err := execute(t, "extract", pfxPath, "-p", "wrong,hunter2", "--format", "pem", "--out", outDir, "--prefix", "site"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "site.cert.pem"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != certPEM {
		t.Error("extracted certificate differs from the original")
	}

	out, err := execute(t, "inspect", pfxPath, "-p", "hunter2", "--format", "text")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "[leaf]") || !strings.Contains(out, "pkcs8ShroudedKeyBag") {
		t.Errorf("inspect output:\n%s", out)
	}

	rootsPath := filepath.Join(dir, "roots.pem")
	if err := os.WriteFile(rootsPath, []byte(certPEM), 0644); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "verify", pfxPath, "-p", "hunter2", "--chain", "--trust-store", "custom", "--roots", rootsPath, "--format", "text", "--expiry", "30d")
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Verification OK") {
		t.Errorf("verify output:\n%s", out)
	}

	// Expiry within the window only warns.
	out, err = execute(t, "verify", pfxPath, "-p", "hunter2", "--chain=false", "--expiry", "365d", "--format", "text")
	if err != nil {
		t.Fatalf("verify with warning: %v", err)
	}
	if !strings.Contains(out, "Warning: certificate expires in") {
		t.Errorf("missing expiry warning:\n%s", out)
	}

	_, err = execute(t, "verify", pfxPath, filepath.Join(dir, "missing.p12"), "-p", "hunter2", "--expiry", "0")
	if !errors.Is(err, internal.ErrVerificationFailed) {
		t.Errorf("batch with a missing file: err = %v", err)
	}
}
