// provision.go -- POST /account/provision.
//
// Links a password identity to an existing user record so the web sign-in can
// find it. Every provisioned identity starts with the same shared password;
// callers must present it. Disabled (404) unless PROVISION_SHARED_SECRET is set.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	netmail "net/mail"
	"strings"

	"github.com/franklink/linkd/internal/store"
)

const maxProvisionBody = 4 << 10

// provisionIdentity holds the two forms of a provisioning identity:
// lookup matches users.email or users.phone, login is the auth identity's email.
type provisionIdentity struct {
	lookup string
	login  string
}

// normalizeIdentity turns raw input into lookup and login forms.
// Emails are lowercased. Phone numbers are looked up in E.164 form and log in
// as <e164 digits>@<phoneDomain>. Returns an error message or empty string.
func normalizeIdentity(raw, phoneDomain string) (provisionIdentity, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return provisionIdentity{}, "No identity provided"
	}

	if strings.Contains(raw, "@") {
		email := strings.ToLower(raw)
		if msg := validateEmail(email); msg != "" {
			return provisionIdentity{}, msg
		}
		return provisionIdentity{lookup: email, login: email}, ""
	}

	e164, msg := normalizePhone(raw)
	if msg != "" {
		return provisionIdentity{}, msg
	}
	return provisionIdentity{lookup: e164, login: e164[1:] + "@" + phoneDomain}, ""
}

// normalizePhone returns the E.164 form of a formatted phone number.
// Ten digits are a US number without country code; eleven or more already carry one.
func normalizePhone(raw string) (string, string) {
	var digits strings.Builder
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
			digits.WriteRune(c)
		case c == '+' || c == ' ' || c == '-' || c == '(' || c == ')' || c == '.':
		default:
			return "", "Invalid identity"
		}
	}
	d := digits.String()
	switch {
	case len(d) == 10:
		return "+1" + d, ""
	case len(d) > 15:
		return "", "Invalid phone number"
	case len(d) >= 11:
		return "+" + d, ""
	}
	return "", "Invalid phone number"
}

// validateEmail checks length and format; returns an error message or empty string.
func validateEmail(email string) string {
	switch {
	case len(email) < 5:
		return "Email too short!"
	case len(email) > 254:
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// clientAddr is the rate limit key for the caller. RealIP has already
// rewritten RemoteAddr when a proxy header is present.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// allow applies one provisioning rate limit. Writes the response and returns
// false when the request must stop. Fails closed: this endpoint guards a password.
func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request, key string, policy store.RateLimit) bool {
	err := h.RL.Allow(r.Context(), key, policy)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrRateLimitExceeded):
		logWarn(r, "provision rate limited", "key", key)
		TooManyRequests(w)
	default:
		InternalServerError(w, r, err)
	}
	return false
}

// Provision handles POST /account/provision.
// Idempotent: repeating a successful call reports provisioned=true again.
func (h *AuthHandler) Provision(w http.ResponseWriter, r *http.Request) {
	if h.ProvisionSecret == "" {
		NotFound(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProvisionBody)
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logWarn(r, "failed to decode provision body", "error", err)
		BadRequest(w, "error decoding request body")
		return
	}

	id, msg := normalizeIdentity(req.Identity, h.PhoneEmailDomain)
	if msg != "" {
		BadRequest(w, msg)
		return
	}
	if req.Password == "" {
		BadRequest(w, "No password provided")
		return
	}

	// The address limit caps guesses spread across many identities.
	if !h.allow(w, r, "provision_ip:"+clientAddr(r), h.ProvisionIPLimit) ||
		!h.allow(w, r, "provision:"+id.login, h.ProvisionLimit) {
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.ProvisionSecret)) != 1 {
		logWarn(r, "provision rejected: wrong password")
		Forbidden(w)
		return
	}

	user, err := h.PS.GetUserByIdentity(r.Context(), id.lookup)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	existing, err := h.PS.GetAuthIdentity(r.Context(), user.ID)
	switch {
	case err == nil:
		ok, verr := verifyIdentitySecret(req.Password, existing.PasswordHash)
		if verr != nil {
			InternalServerError(w, r, verr)
			return
		}
		logInfo(r, "provision: identity already linked", "user_id", user.ID, "password_matches", ok)
		writeJSON(w, http.StatusOK, provisionResponse{Provisioned: ok})
		return
	case !errors.Is(err, store.ErrNotFound):
		InternalServerError(w, r, err)
		return
	}

	hash, err := hashIdentitySecret(req.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	created, err := h.PS.CreateAuthIdentity(r.Context(), store.AuthIdentity{
		UserID:       user.ID,
		Identity:     id.login,
		PasswordHash: hash,
	})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if created {
		logInfo(r, "provision: identity created", "user_id", user.ID)
	} else {
		// Lost a race, or the login name belongs to another user.
		logWarn(r, "provision: identity not created", "user_id", user.ID)
	}
	writeJSON(w, http.StatusOK, provisionResponse{Provisioned: created})
}

type provisionResponse struct {
	Provisioned bool `json:"provisioned"`
}
