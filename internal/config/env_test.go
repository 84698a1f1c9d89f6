package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

// clearEnv unsets keys for the test and restores their previous values.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadEnvParsesWalletFile(t *testing.T) {
	clearEnv(t, "HL_WALLET_ADDRESS", "HL_PRIVATE_KEY", "SOLANA_PRIVATE_KEY_BASE58", "HL_VAULT_ADDRESS")
	path := writeEnvFile(t, `# wallets
HL_WALLET_ADDRESS=0xabc
HL_PRIVATE_KEY="0xdeadbeef"
SOLANA_PRIVATE_KEY_BASE58='4Nd1m'
HL_VAULT_ADDRESS=
`)
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	want := map[string]string{
		"HL_WALLET_ADDRESS":         "0xabc",
		"HL_PRIVATE_KEY":            "0xdeadbeef",
		"SOLANA_PRIVATE_KEY_BASE58": "4Nd1m",
		"HL_VAULT_ADDRESS":          "",
	}
	for key, expected := range want {
		if got := os.Getenv(key); got != expected {
			t.Fatalf("%s expected %q, got %q", key, expected, got)
		}
	}
}

func TestLoadEnvKeepsProcessEnvironment(t *testing.T) {
	t.Setenv("HL_WALLET_ADDRESS", "0xfromshell")
	path := writeEnvFile(t, "HL_WALLET_ADDRESS=0xfromfile\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HL_WALLET_ADDRESS"); got != "0xfromshell" {
		t.Fatalf("expected shell value to win, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}
