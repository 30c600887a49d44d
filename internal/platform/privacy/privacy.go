// Package privacy masks personal data before it reaches logs.
package privacy

import (
	"fmt"
	"net"
	"strings"
)

// AnonymizeAddr masks a client address to its network. IPv4 keeps the /24,
// IPv6 keeps the /48. A port, if present, is dropped.
//
// Returns "invalid" for unparseable input and "unknown" for an empty string.
func AnonymizeAddr(addr string) string {
	if addr == "" || addr == "unknown" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	parsed := net.ParseIP(addr)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

// MaskEmail keeps the first character of the local part and the domain,
// e.g. "jane@example.com" becomes "j***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last two digits.
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
