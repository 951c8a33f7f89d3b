package auth

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestHashKey_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key %q should start with %q", key, KeyPrefix)
	}

	hash, err := HashKey(key)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Errorf("hash should be an argon2id PHC string, got %q", hash)
	}

	ok, err := VerifyKey(key, hash)
	if err != nil {
		t.Fatalf("VerifyKey() error = %v", err)
	}
	if !ok {
		t.Error("VerifyKey() should accept the hashed key")
	}

	ok, err = VerifyKey(key+"x", hash)
	if err != nil {
		t.Fatalf("VerifyKey() error = %v", err)
	}
	if ok {
		t.Error("VerifyKey() should reject a different key")
	}
}

func TestHashKey_UniqueSalts(t *testing.T) {
	hash1, err := HashKey("same-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	hash2, err := HashKey("same-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if hash1 == hash2 {
		t.Error("two hashes of the same key should have different salts")
	}
}

func TestVerifyKey_MalformedHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"too few fields", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"wrong version", "$argon2id$v=16$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad parameters", "$argon2id$v=19$m=x,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA"},
		{"empty hash", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyKey("key", tt.hash); !errors.Is(err, ErrHashFormat) {
				t.Errorf("VerifyKey() error = %v, want ErrHashFormat", err)
			}
		})
	}
}

func TestKeyRing(t *testing.T) {
	panelHash, err := HashKey("glt_panel")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	scriptHash, err := HashKey("glt_script")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	ring, err := NewKeyRing([]NamedKey{
		{Name: "panel", Hash: panelHash},
		{Name: "script", Hash: scriptHash},
	})
	if err != nil {
		t.Fatalf("NewKeyRing() error = %v", err)
	}
	if ring.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ring.Len())
	}

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"glt_script", "script", false},
		{"glt_panel", "panel", false},
		{"glt_panel", "panel", false}, // remembered
		{"glt_other", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		name, err := ring.Verify(tt.key)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Verify(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrKeyInvalid) {
			t.Errorf("Verify(%q) error = %v, want ErrKeyInvalid", tt.key, err)
		}
		if name != tt.want {
			t.Errorf("Verify(%q) = %q, want %q", tt.key, name, tt.want)
		}
	}
}

func TestKeyRing_ConcurrentVerify(t *testing.T) {
	hash, err := HashKey("glt_panel")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	ring, err := NewKeyRing([]NamedKey{{Name: "panel", Hash: hash}})
	if err != nil {
		t.Fatalf("NewKeyRing() error = %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if name, err := ring.Verify("glt_panel"); err != nil || name != "panel" {
				t.Errorf("Verify() = %q, %v", name, err)
			}
		}()
	}
	wg.Wait()
}

func TestNewKeyRing_Rejects(t *testing.T) {
	tests := []struct {
		name string
		keys []NamedKey
	}{
		{"missing name", []NamedKey{{Hash: "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"}}},
		{"bad hash", []NamedKey{{Name: "panel", Hash: "plaintext"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeyRing(tt.keys); !errors.Is(err, ErrHashFormat) {
				t.Errorf("NewKeyRing() error = %v, want ErrHashFormat", err)
			}
		})
	}
}
