package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

// writeTestKey generates an unencrypted ed25519 private key file.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

// TestBuildAuthMethods_Password covers password plus keyboard-interactive.
func TestBuildAuthMethods_Password(t *testing.T) {
	methods, err := BuildAuthMethods(AuthConfig{Password: "secret"})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error = %v", err)
	}
	// Password and keyboard-interactive, for servers that only offer the latter.
	if len(methods) != 2 {
		t.Errorf("expected 2 methods, got %d", len(methods))
	}
}

// TestBuildAuthMethods_ExplicitKey covers a key file on disk.
func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	keyPath := writeTestKey(t)

	methods, err := BuildAuthMethods(AuthConfig{KeyPath: keyPath})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("expected 1 method, got %d", len(methods))
	}
}

// TestBuildAuthMethods_MissingKeyFile verifies an explicit but unreadable
// key is an error rather than a silent skip.
func TestBuildAuthMethods_MissingKeyFile(t *testing.T) {
	_, err := BuildAuthMethods(AuthConfig{KeyPath: filepath.Join(t.TempDir(), "nope")})
	if err == nil {
		t.Fatal("expected error for missing key file")
	}
}

// TestBuildAuthMethods_GarbageKeyFile verifies parse failures surface.
func TestBuildAuthMethods_GarbageKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := BuildAuthMethods(AuthConfig{KeyPath: path}); err == nil {
		t.Fatal("expected error for unparseable key")
	}
}

// TestBuildAuthMethods_KeyAndPassword combines both credential kinds.
func TestBuildAuthMethods_KeyAndPassword(t *testing.T) {
	keyPath := writeTestKey(t)

	methods, err := BuildAuthMethods(AuthConfig{KeyPath: keyPath, Password: "secret"})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error = %v", err)
	}
	if len(methods) != 3 {
		t.Errorf("expected key + password + keyboard-interactive, got %d", len(methods))
	}
}

// TestHostKeyPolicy_AcceptUnknown returns the permissive callback.
func TestHostKeyPolicy_AcceptUnknown(t *testing.T) {
	cb, err := HostKeyPolicy(true, "")
	if err != nil {
		t.Fatalf("HostKeyPolicy() error = %v", err)
	}
	if cb == nil {
		t.Fatal("expected a callback")
	}
}

// TestHostKeyPolicy_MissingKnownHosts verifies strict mode fails without a
// known_hosts file.
func TestHostKeyPolicy_MissingKnownHosts(t *testing.T) {
	_, err := HostKeyPolicy(false, filepath.Join(t.TempDir(), "known_hosts"))
	if err == nil {
		t.Fatal("expected error for missing known_hosts")
	}
}

// TestHostKeyPolicy_ValidKnownHosts parses an empty known_hosts file.
func TestHostKeyPolicy_ValidKnownHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cb, err := HostKeyPolicy(false, path)
	if err != nil {
		t.Fatalf("HostKeyPolicy() error = %v", err)
	}
	if cb == nil {
		t.Fatal("expected a callback")
	}
}

// TestExpandPath covers home expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/.ssh/id_rsa"); got != filepath.Join(home, ".ssh", "id_rsa") {
		t.Errorf("expandPath() = %q", got)
	}
	if got := expandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("absolute paths must pass through, got %q", got)
	}
	if got := expandPath("relative/path"); got != "relative/path" {
		t.Errorf("relative paths must pass through, got %q", got)
	}
}
