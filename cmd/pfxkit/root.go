package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/pfxkit/internal"
)

// logLevelEnvVar sets the log level when --log-level is not given.
const logLevelEnvVar = "PFXKIT_LOG_LEVEL"

var (
	logLevel     string
	passwordList string
	passwordFile string
	envFile      string
)

var rootCmd = &cobra.Command{
	Use:   "pfxkit",
	Short: "PKCS#12 extraction tool",
	Long:  "Extract, inspect, verify and re-package private keys and certificates from PKCS#12 (PFX) containers.",
	// Errors are printed once by main.
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := internal.LoadEnvFile(envFile); err != nil {
			return err
		}
		level := logLevel
		if env, ok := os.LookupEnv(logLevelEnvVar); ok && !cmd.Flags().Changed("log-level") {
			level = env
		}
		internal.SetupLogger(level, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&passwordList, "passwords", "p", "", "Comma-separated container passwords to try")
	rootCmd.PersistentFlags().StringVar(&passwordFile, "password-file", "", "File containing passwords, one per line")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load (default: .env if present)")

	registerCompletions(rootCmd, map[string]completionFunc{
		"log-level":     oneOf("debug", "info", "warn", "error"),
		"password-file": anyFileCompletion,
		"env-file":      anyFileCompletion,
	})

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
}

// passwords returns the candidate container passwords from the persistent
// flags and the environment.
func passwords() ([]string, error) {
	var list []string
	if passwordList != "" {
		list = strings.Split(passwordList, ",")
	}
	return internal.ProcessPasswords(internal.PasswordInput{List: list, File: passwordFile})
}
