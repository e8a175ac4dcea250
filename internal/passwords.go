package internal

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// PasswordEnvVar names the environment variable read for a container
// password when PasswordInput.EnvVar is empty.
const PasswordEnvVar = "PFXKIT_PASSWORD"

// DefaultEnvFile is loaded when no --env-file is given, if it exists.
const DefaultEnvFile = ".env"

// LoadPasswordsFromFile loads passwords from a file, one password per line
func LoadPasswordsFromFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var passwords []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimRight(scanner.Text(), "\r"); strings.TrimSpace(pwd) != "" {
			passwords = append(passwords, pwd)
		}
	}
	return passwords, scanner.Err()
}

// PasswordInput lists the password sources for ProcessPasswords.
type PasswordInput struct {
	List   []string
	File   string
	EnvVar string
}

// ProcessPasswords merges the explicit list, the password file and the
// environment variable in that order, drops duplicates and appends the empty
// password so unprotected containers always open.
func ProcessPasswords(in PasswordInput) ([]string, error) {
	passwords := append([]string(nil), in.List...)

	if in.File != "" {
		filePasswords, err := LoadPasswordsFromFile(in.File)
		if err != nil {
			return nil, fmt.Errorf("loading passwords from file: %w", err)
		}
		passwords = append(passwords, filePasswords...)
	}

	envVar := in.EnvVar
	if envVar == "" {
		envVar = PasswordEnvVar
	}
	if pwd, ok := os.LookupEnv(envVar); ok && pwd != "" {
		passwords = append(passwords, pwd)
	}

	seen := make(map[string]bool)
	var uniquePasswords []string
	for _, pwd := range passwords {
		if pwd == "" || seen[pwd] {
			continue
		}
		seen[pwd] = true
		uniquePasswords = append(uniquePasswords, pwd)
	}
	return append(uniquePasswords, ""), nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. An empty path loads
// DefaultEnvFile when it exists; an explicit path that does not exist is an
// error. A leading ~ expands to the home directory.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = DefaultEnvFile
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("expanding %s: %w", path, err)
		}
		path = strings.Replace(path, "~", home, 1)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
