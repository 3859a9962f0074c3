package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// UsernamePrefix prefixes every drone broker username.
	UsernamePrefix = "drone_"

	// MinSecretLength is the shortest secret the issuer will produce.
	MinSecretLength = 12

	secretCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams follow the OWASP Argon2id recommendation.
var DefaultParams = Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Credentials is the output of Issue.
type Credentials struct {
	Username   string
	Secret     string
	SecretHash string
}

// Issuer generates broker credentials.
type Issuer struct {
	secretLength int
	params       Params
}

// NewIssuer creates an issuer producing secrets of secretLength characters
// (raised to MinSecretLength when shorter) hashed with DefaultParams.
func NewIssuer(secretLength int) *Issuer {
	return NewIssuerWithParams(secretLength, DefaultParams)
}

// NewIssuerWithParams creates an issuer with explicit hashing parameters.
func NewIssuerWithParams(secretLength int, params Params) *Issuer {
	if secretLength < MinSecretLength {
		secretLength = MinSecretLength
	}
	return &Issuer{secretLength: secretLength, params: params}
}

// Issue derives the username for deviceID and generates a fresh secret
// together with its hash. Repeated calls for one device return the same
// username and a different secret every time.
func (i *Issuer) Issue(deviceID string) (Credentials, error) {
	username, err := Username(deviceID)
	if err != nil {
		return Credentials{}, err
	}

	secret, err := i.generateSecret()
	if err != nil {
		return Credentials{}, err
	}

	hash, err := i.Hash(secret)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{Username: username, Secret: secret, SecretHash: hash}, nil
}

// Username derives the broker username from a device ID: the prefix plus the
// ID with dashes removed, lowercased. Distinct UUIDs give distinct usernames.
func Username(deviceID string) (string, error) {
	compact := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(deviceID), "-", ""))
	if compact == "" {
		return "", ErrInvalidDeviceID
	}
	for _, r := range compact {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, deviceID)
		}
	}
	return UsernamePrefix + compact, nil
}

func (i *Issuer) generateSecret() (string, error) {
	limit := big.NewInt(int64(len(secretCharset)))
	out := make([]byte, i.secretLength)
	for n := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating secret: %w", err)
		}
		out[n] = secretCharset[idx.Int64()]
	}
	return string(out), nil
}

// Hash returns the Argon2id PHC string for secret:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func (i *Issuer) Hash(secret string) (string, error) {
	salt := make([]byte, i.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, i.params.Time, i.params.Memory, i.params.Threads, i.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		i.params.Memory, i.params.Time, i.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches the PHC-encoded hash. The cost
// parameters are read from the hash, so hashes from older settings verify.
func Verify(secret, encodedHash string) (bool, error) {
	salt, key, params, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Threads, uint32(len(key))) //nolint:gosec // G115: key length always fits uint32

	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodePHC(encoded string) (salt, key []byte, params Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, ErrInvalidHash
	}
	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow
		return nil, nil, params, fmt.Errorf("%w: parsing version: %w", ErrInvalidHash, err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil { //nolint:govet // shadow
		return nil, nil, params, fmt.Errorf("%w: parsing parameters: %w", ErrInvalidHash, err)
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, params, fmt.Errorf("%w: decoding salt: %w", ErrInvalidHash, err)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, params, fmt.Errorf("%w: decoding key: %w", ErrInvalidHash, err)
	}
	return salt, key, params, nil
}
