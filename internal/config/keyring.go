package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for OS keyring entries
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
const KeyringService = "remote-vms"

// credentialKey identifies a connection's password entry in the keyring.
func (cc *ConnectionConfig) credentialKey() string {
	return cc.Username + "@" + cc.Hostname
}

// ResolvePassword returns the connection password, trying in order: the
// literal config value, the configured environment variable, and the OS
// keyring when enabled.
func (cc *ConnectionConfig) ResolvePassword() (string, error) {
	if cc.Password != "" {
		return cc.Password, nil
	}

	if cc.PasswordEnv != "" {
		if v := os.Getenv(cc.PasswordEnv); v != "" {
			return v, nil
		}
		slog.Debug("password env var empty", slog.String("var", cc.PasswordEnv))
	}

	if cc.UseKeyring {
		secret, err := keyring.Get(KeyringService, cc.credentialKey())
		if err != nil {
			return "", fmt.Errorf("keyring lookup for %s: %w", cc.credentialKey(), err)
		}
		return secret, nil
	}

	return "", nil
}

// StorePassword saves the connection password in the OS keyring.
func (cc *ConnectionConfig) StorePassword(password string) error {
	if err := keyring.Set(KeyringService, cc.credentialKey(), password); err != nil {
		return fmt.Errorf("keyring store for %s: %w", cc.credentialKey(), err)
	}
	slog.Debug("stored credential in keyring", slog.String("entry", cc.credentialKey()))
	return nil
}

// KeyPassphrase returns the private key passphrase from its configured
// environment variable, or empty.
func (cc *ConnectionConfig) KeyPassphrase() string {
	if cc.KeyPassphraseEnv == "" {
		return ""
	}
	return os.Getenv(cc.KeyPassphraseEnv)
}
