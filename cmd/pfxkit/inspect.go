package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/pfxkit/internal"
)

var (
	inspectFormat string
	inspectBase64 bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Display the bags and certificates in a PKCS#12 file",
	Long:  "List every safe bag in a PKCS#12 container with its attributes and encryption, and show certificate details (similar to openssl pkcs12 -info).",
	Example: `  pfxkit inspect server.p12
  pfxkit inspect server.p12 --format json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: containerCompletion,
	RunE:              runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format: text or json")
	inspectCmd.Flags().BoolVar(&inspectBase64, "base64", false, "Input is base64 encoded")

	registerCompletions(inspectCmd, map[string]completionFunc{"format": oneOf("text", "json")})
}

func runInspect(cmd *cobra.Command, args []string) error {
	passwords, err := passwords()
	if err != nil {
		return fmt.Errorf("loading passwords: %w", err)
	}
	data, err := internal.ReadInput(args[0], inspectBase64)
	if err != nil {
		return err
	}

	result, err := internal.InspectContainer(data, passwords)
	if err != nil {
		return err
	}

	output, err := internal.FormatInspectResult(result, inspectFormat)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}
