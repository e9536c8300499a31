package email

import (
	"strings"
	"unicode"
)

// IsValid reports whether candidate has the shape local@domain.tld.
//
// The check is deliberately permissive: no whitespace, exactly one '@', a
// non-empty local part and a domain containing a dot with non-empty labels on
// both sides of the last one. Deliverability and domain policy are left to the
// backend.
func IsValid(candidate string) bool {
	if candidate == "" || strings.IndexFunc(candidate, unicode.IsSpace) >= 0 {
		return false
	}
	at := strings.IndexByte(candidate, '@')
	if at <= 0 || strings.Count(candidate, "@") != 1 {
		return false
	}
	domain := candidate[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	return true
}

// Normalize trims surrounding whitespace and lower-cases the domain part.
// The local part is kept as typed since it is case-sensitive in principle.
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return address
	}
	return address[:at+1] + strings.ToLower(address[at+1:])
}

// Domain returns the part after the '@', or "" when there is none.
func Domain(address string) string {
	if at := strings.LastIndexByte(address, '@'); at >= 0 {
		return address[at+1:]
	}
	return ""
}

// TopLevelDomain returns the last label of the domain, lower-cased.
func TopLevelDomain(address string) string {
	domain := Domain(address)
	if dot := strings.LastIndexByte(domain, '.'); dot >= 0 {
		return strings.ToLower(domain[dot+1:])
	}
	return ""
}

// Mask hides most of the local part so addresses can be logged.
func Mask(address string) string {
	at := strings.IndexByte(address, '@')
	if at <= 0 {
		return "***"
	}
	runes := []rune(address[:at])
	return string(runes[0]) + "***" + address[at:]
}
