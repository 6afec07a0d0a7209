package apikey

import (
	"strings"
	"testing"
)

func TestGenerateFormat(t *testing.T) {
	secret, prefix, hash, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Fatalf("expected %s prefix, got %s", SecretPrefix, secret)
	}
	if len(prefix) != DisplayPrefixLen {
		t.Fatalf("expected prefix length %d, got %d", DisplayPrefixLen, len(prefix))
	}
	if !strings.HasPrefix(secret, prefix) {
		t.Fatalf("prefix %s is not a slice of the secret", prefix)
	}
	if hash == "" || hash == secret {
		t.Fatalf("unexpected hash %q", hash)
	}
	if Hash(secret) != hash {
		t.Fatalf("hash is not deterministic")
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		secret, _, _, err := Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[secret] {
			t.Fatalf("duplicate secret generated")
		}
		seen[secret] = true
	}
}

func TestValidate(t *testing.T) {
	secret, _, _, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	cases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", secret, false},
		{"empty", "", true},
		{"wrong prefix", "pk_live_abcdefghijklmnopqrstuvwxyz0123456789ABCDEF", true},
		{"too short", SecretPrefix + "short", true},
		{"bad encoding", SecretPrefix + strings.Repeat("!", 43), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.key)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q", tc.key)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	secret, _, hash, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !Match(secret, hash) {
		t.Fatalf("expected secret to match its own hash")
	}
	if Match(secret+"x", hash) {
		t.Fatalf("expected tampered secret to mismatch")
	}
}
