package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const scryptID = "scrypt"

// HasherConfig carries scrypt cost parameters. The zero value is unusable;
// call DefaultHasherConfig or load from configuration.
type HasherConfig struct {
	CPUCost     int // N, must be a power of two > 1
	BlockSize   int // r
	Parallelism int // p
	KeyLength   int
	SaltLength  int
}

// DefaultHasherConfig matches the parameters the service ships with.
func DefaultHasherConfig() HasherConfig {
	return HasherConfig{
		CPUCost:     16384,
		BlockSize:   8,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  64,
	}
}

// Hasher derives and verifies password hashes using scrypt. Encoded hashes
// are self-describing, so cost parameters can change without invalidating
// stored credentials.
type Hasher struct {
	config HasherConfig
}

// NewHasher validates cfg and constructs a Hasher.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.CPUCost < 2 || cfg.CPUCost&(cfg.CPUCost-1) != 0 {
		return nil, fmt.Errorf("%w: cpu cost must be a power of two > 1", ErrInvalidInput)
	}
	if cfg.BlockSize < 1 {
		return nil, fmt.Errorf("%w: block size must be >= 1", ErrInvalidInput)
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidInput)
	}
	if cfg.KeyLength < 16 {
		return nil, fmt.Errorf("%w: key length must be >= 16", ErrInvalidInput)
	}
	if cfg.SaltLength < 16 {
		return nil, fmt.Errorf("%w: salt length must be >= 16", ErrInvalidInput)
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a key from password with a fresh random salt and returns the
// encoded form "$scrypt$ln=14,r=8,p=1$<salt>$<key>". Two calls on the same
// password yield different outputs.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), salt, h.config.CPUCost, h.config.BlockSize, h.config.Parallelism, h.config.KeyLength)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return fmt.Sprintf(
		"$%s$ln=%d,r=%d,p=%d$%s$%s",
		scryptID,
		bits.TrailingZeros(uint(h.config.CPUCost)),
		h.config.BlockSize,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key using the parameters embedded in encodedHash and
// compares in constant time. A malformed hash fails closed with
// ErrInvalidHash rather than panicking.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parseEncodedHash(encodedHash)
	if err != nil {
		return false, err
	}
	computed, err := scrypt.Key([]byte(password), parsed.salt, parsed.n, parsed.r, parsed.p, len(parsed.key))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

type parsedHash struct {
	n, r, p int
	salt    []byte
	key     []byte
}

func parseEncodedHash(encoded string) (*parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, ErrInvalidHash
	}
	if parts[1] != scryptID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	var p parsedHash
	for _, pair := range strings.Split(parts[2], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrInvalidHash
		}
		v, err := strconv.Atoi(kv[1])
		if err != nil || v < 1 {
			return nil, ErrInvalidHash
		}
		switch kv[0] {
		case "ln":
			if v > 30 {
				return nil, ErrInvalidHash
			}
			p.n = 1 << v
		case "r":
			p.r = v
		case "p":
			p.p = v
		default:
			return nil, ErrInvalidHash
		}
	}
	if p.n == 0 || p.r == 0 || p.p == 0 {
		return nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) < 16 {
		return nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) < 16 {
		return nil, ErrInvalidHash
	}
	p.salt = salt
	p.key = key
	return &p, nil
}
