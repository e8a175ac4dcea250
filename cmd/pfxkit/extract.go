package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/pfxkit"
	"github.com/sensiblebit/pfxkit/internal"
)

var (
	extractBase64         bool
	extractFormat         string
	extractOut            string
	extractPrefix         string
	extractExportPassword string
	extractStrict         bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract the private key and certificates from a PKCS#12 file",
	Long: `Extract the private key, leaf certificate and CA chain from a PKCS#12 (PFX)
container and write them as PEM, JSON, a Kubernetes TLS secret, or another
container format. Use "-" to read from stdin.`,
	Example: `  pfxkit extract server.p12 -p changeit
  pfxkit extract server.p12 --format k8s --out ./secrets
  base64 server.p12 | pfxkit extract - --base64 --format json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: containerCompletion,
	RunE:              runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractBase64, "base64", false, "Input is base64 encoded")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "pem", "Output format: "+strings.Join(internal.ExportFormats, ", "))
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Output directory (default: stdout)")
	extractCmd.Flags().StringVar(&extractPrefix, "prefix", "", "Output file name prefix (default: leaf common name)")
	extractCmd.Flags().StringVar(&extractExportPassword, "export-password", "", "Password for p12 and jks output (default: "+internal.DefaultExportPassword+")")
	extractCmd.Flags().BoolVar(&extractStrict, "strict", false, "Fail when the private key matches no certificate")

	registerCompletions(extractCmd, map[string]completionFunc{
		"format": oneOf(internal.ExportFormats...),
		"out":    directoryCompletion,
	})
}

func runExtract(cmd *cobra.Command, args []string) error {
	passwords, err := passwords()
	if err != nil {
		return fmt.Errorf("loading passwords: %w", err)
	}
	data, err := internal.ReadInput(args[0], extractBase64)
	if err != nil {
		return err
	}

	policy := pfxkit.FallbackToFirstCertificate
	if extractStrict {
		policy = pfxkit.RequireKeyMatch
	}
	m, _, err := pfxkit.Extractor{Policy: policy}.ParseWithPasswords(data, passwords)
	if err != nil {
		return err
	}
	if !m.LeafMatched {
		slog.Warn("private key matches no certificate; using the first certificate", "subject", m.Leaf.Subject.String())
	}

	files, err := internal.BuildExport(internal.ExportInput{
		Material: m,
		Format:   extractFormat,
		Password: extractExportPassword,
		OutDir:   extractOut,
		Prefix:   extractPrefix,
	})
	if err != nil {
		return err
	}
	if err := internal.WriteExport(files, extractFormat, extractOut, cmd.OutOrStdout()); err != nil {
		return err
	}
	if extractOut != "" {
		slog.Info("exported", "format", extractFormat, "files", len(files), "dir", extractOut)
	}
	return nil
}
