// secret.go -- Argon2id digests of the provisioning secret stored on auth identities.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Every identity stores a digest of the same operator-chosen secret, so the
// cost is sized for one hash per provisioning call (OWASP minimum for argon2id).
const (
	secretMemoryKiB = 19 * 1024
	secretPasses    = 2
	secretLanes     = 1
	secretSaltLen   = 16
	secretKeyLen    = 32
)

var errMalformedDigest = errors.New("malformed identity secret digest")

var b64 = base64.RawStdEncoding

// hashIdentitySecret returns the PHC string stored as AuthIdentity.PasswordHash:
// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>
func hashIdentitySecret(secret string) (string, error) {
	salt := make([]byte, secretSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, secretPasses, secretMemoryKiB, secretLanes, secretKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, secretMemoryKiB, secretPasses, secretLanes,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// verifyIdentitySecret reports whether secret matches a stored digest.
// Cost parameters come from the digest, so rows written with older settings still verify.
func verifyIdentitySecret(secret, digest string) (bool, error) {
	d, err := parseSecretDigest(digest)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(secret), d.salt, d.passes, d.memoryKiB, d.lanes, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

type secretDigest struct {
	memoryKiB uint32
	passes    uint32
	lanes     uint8
	salt      []byte
	key       []byte
}

func parseSecretDigest(digest string) (*secretDigest, error) {
	rest, ok := strings.CutPrefix(digest, "$argon2id$")
	if !ok {
		return nil, fmt.Errorf("%w: not argon2id", errMalformedDigest)
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", errMalformedDigest, len(fields))
	}
	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: version %q", errMalformedDigest, fields[0])
	}

	d := &secretDigest{}
	seen := 0
	for _, kv := range strings.Split(fields[1], ",") {
		name, val, _ := strings.Cut(kv, "=")
		switch name {
		case "m":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("%w: memory %q", errMalformedDigest, val)
			}
			d.memoryKiB = uint32(n)
		case "t":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("%w: passes %q", errMalformedDigest, val)
			}
			d.passes = uint32(n)
		case "p":
			n, err := strconv.ParseUint(val, 10, 8)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("%w: lanes %q", errMalformedDigest, val)
			}
			d.lanes = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", errMalformedDigest, name)
		}
		seen++
	}
	if seen != 3 {
		return nil, fmt.Errorf("%w: parameters %q", errMalformedDigest, fields[1])
	}

	var err error
	if d.salt, err = b64.DecodeString(fields[2]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", errMalformedDigest, err)
	}
	if d.key, err = b64.DecodeString(fields[3]); err != nil || len(d.key) == 0 {
		return nil, fmt.Errorf("%w: key", errMalformedDigest)
	}
	return d, nil
}
