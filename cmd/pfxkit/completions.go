package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type completionFunc = func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)

// registerCompletions attaches shell completion to the named flags of cmd.
// A missing flag is a programming error and panics.
func registerCompletions(cmd *cobra.Command, funcs map[string]completionFunc) {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := cmd.RegisterFlagCompletionFunc(name, funcs[name]); err != nil {
			panic(fmt.Sprintf("%s --%s: %v", cmd.Name(), name, err))
		}
	}
}

// oneOf completes a fixed set of values and never falls back to files.
func oneOf(values ...string) completionFunc {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

// withExtensions completes files carrying one of the given extensions.
func withExtensions(exts ...string) completionFunc {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return exts, cobra.ShellCompDirectiveFilterFileExt
	}
}

var (
	containerCompletion = withExtensions("p12", "pfx")
	pemCompletion       = withExtensions("pem", "crt", "cer")
)

func directoryCompletion(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveFilterDirs
}

func anyFileCompletion(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveDefault
}
