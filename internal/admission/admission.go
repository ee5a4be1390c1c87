// Package admission decides whether this server accepts mail for a given
// recipient domain.
package admission

import (
	"fmt"
	"strings"
)

// AllowList is an immutable set of recipient domains. Membership checks are
// case-insensitive and exact, no wildcards. It is built once at startup and
// is safe for concurrent use without locking.
type AllowList struct {
	domains map[string]struct{}
}

// NewAllowList builds an AllowList from the configured domains.
func NewAllowList(domains []string) *AllowList {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	return &AllowList{domains: set}
}

// Admit reports whether mail for the given domain is accepted.
func (a *AllowList) Admit(domain string) bool {
	_, ok := a.domains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

// AdmitAddress reports whether mail for the given address is accepted.
func (a *AllowList) AdmitAddress(address string) bool {
	_, domain, err := SplitAddress(address)
	if err != nil {
		return false
	}
	return a.Admit(domain)
}

// SplitAddress splits an email address into its local part and domain at the
// last "@".
func SplitAddress(address string) (string, string, error) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("invalid email address %q", address)
	}
	return address[:at], address[at+1:], nil
}
