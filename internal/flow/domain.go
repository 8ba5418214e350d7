package flow

import (
	netmail "net/mail"
	"strings"
)

// DomainAllowed reports whether email's domain is on the allowlist.
// An entry starting with "." is a suffix (".edu" allows "b.edu" and "cs.b.edu");
// any other entry allows that exact domain and its subdomains.
// An empty allowlist allows every domain.
func DomainAllowed(email string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
			continue
		case strings.HasPrefix(entry, "."):
			if strings.HasSuffix(domain, entry) {
				return true
			}
		case domain == entry, strings.HasSuffix(domain, "."+entry):
			return true
		}
	}
	return false
}

// usableEmail reports whether s parses as a bare address.
func usableEmail(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := netmail.ParseAddress(s)
	return err == nil && addr.Address == s
}
