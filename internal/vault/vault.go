// Package vault stores the warehouse credentials in the OS keychain, with
// fallback to environment variables, so the config file never has to carry
// a plain-text password.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "carrier"

// knownAccounts is the list of accounts checked by List().
var knownAccounts = []string{"warehouse"}

// Vault provides secure credential storage using the OS keychain.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a secret for the given account in the OS keychain.
func (v *Vault) Set(account, secret string) error {
	return keyring.Set(serviceName, account, secret)
}

// Get retrieves the secret for the given account. It first checks the
// OS keychain, then falls back to the environment variable
// CARRIER_SECRET_{UPPER(account)}.
func (v *Vault) Get(account string) (string, error) {
	secret, err := keyring.Get(serviceName, account)
	if err == nil && secret != "" {
		return secret, nil
	}

	// Fallback to environment variable.
	envKey := "CARRIER_SECRET_" + strings.ToUpper(account)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no secret found for %q: not in keychain and %s not set", account, envKey)
}

// Delete removes the secret for the given account from the OS keychain.
func (v *Vault) Delete(account string) error {
	return keyring.Delete(serviceName, account)
}

// List returns the names of known accounts that currently have secrets
// stored, in the keychain or the environment.
func (v *Vault) List() ([]string, error) {
	var accounts []string

	for _, account := range knownAccounts {
		secret, err := keyring.Get(serviceName, account)
		if err == nil && secret != "" {
			accounts = append(accounts, account)
			continue
		}

		envKey := "CARRIER_SECRET_" + strings.ToUpper(account)
		if val := os.Getenv(envKey); val != "" {
			accounts = append(accounts, account)
		}
	}

	return accounts, nil
}
