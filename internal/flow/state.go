package flow

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// errMalformedToken is returned by ParseCorrelationToken for any token it cannot split.
var errMalformedToken = errors.New("malformed correlation token")

// NewCorrelationToken returns "<user id>.<256 random bits, base64url>".
// The user id prefix lets the callback find the record; the random part is the secret.
func NewCorrelationToken(userID uuid.UUID) (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating correlation token with rand: %w", err)
	}
	return userID.String() + "." + base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ParseCorrelationToken extracts the user id embedded by NewCorrelationToken.
func ParseCorrelationToken(token string) (uuid.UUID, error) {
	idPart, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" {
		return uuid.Nil, errMalformedToken
	}
	id, err := uuid.FromString(idPart)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errMalformedToken
	}
	return id, nil
}

// tokensEqual compares correlation tokens in constant time.
func tokensEqual(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
