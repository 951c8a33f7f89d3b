package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// KeyPrefix marks generated API keys so they are recognisable in logs and
// secret scanners.
const KeyPrefix = "glt_"

// keyBytes is the random entropy in a generated key (256 bits).
const keyBytes = 32

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// HashKey hashes an API key using Argon2id and returns it in PHC string
// format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyKey reports whether key matches an Argon2id PHC hash.
func VerifyKey(key, encodedHash string) (bool, error) {
	salt, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(key), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("%w: expected 6 fields", ErrHashFormat)
	}
	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("%w: unsupported algorithm %q", ErrHashFormat, parts[1])
	}

	var version int
	if _, scanErr := fmt.Sscanf(parts[2], "v=%d", &version); scanErr != nil {
		return nil, nil, params, fmt.Errorf("%w: version: %w", ErrHashFormat, scanErr)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("%w: unsupported version %d", ErrHashFormat, version)
	}

	if _, scanErr := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); scanErr != nil {
		return nil, nil, params, fmt.Errorf("%w: parameters: %w", ErrHashFormat, scanErr)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("%w: salt: %w", ErrHashFormat, err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("%w: hash: %w", ErrHashFormat, err)
	}
	if len(hash) == 0 {
		return nil, nil, params, fmt.Errorf("%w: empty hash", ErrHashFormat)
	}

	return salt, hash, params, nil
}

// NamedKey is one configured API key: a label and the key's PHC hash.
type NamedKey struct {
	Name string
	Hash string
}

// KeyRing verifies presented API keys against a fixed set of hashes.
//
// Thread Safety: All methods are safe for concurrent use.
type KeyRing struct {
	keys []NamedKey

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string // digest of presented key -> name
}

// NewKeyRing validates every hash and returns a ring over them.
func NewKeyRing(keys []NamedKey) (*KeyRing, error) {
	for _, k := range keys {
		if k.Name == "" {
			return nil, fmt.Errorf("%w: api key name is required", ErrHashFormat)
		}
		if _, _, _, err := decodePHC(k.Hash); err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
	}
	return &KeyRing{
		keys:     append([]NamedKey(nil), keys...),
		verified: make(map[[sha256.Size]byte]string),
	}, nil
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int {
	return len(r.keys)
}

// Verify returns the name of the key matching presented, or ErrKeyInvalid.
// Only successful verifications are remembered.
func (r *KeyRing) Verify(presented string) (string, error) {
	if presented == "" {
		return "", ErrKeyInvalid
	}

	digest := sha256.Sum256([]byte(presented))
	r.mu.RLock()
	name, ok := r.verified[digest]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, k := range r.keys {
		match, err := VerifyKey(presented, k.Hash)
		if err != nil || !match {
			continue
		}
		r.mu.Lock()
		r.verified[digest] = k.Name
		r.mu.Unlock()
		return k.Name, nil
	}
	return "", ErrKeyInvalid
}
