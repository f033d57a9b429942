package util

import (
	"html"
	"net"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags obvious injection attempts in user-supplied text
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// ClientIP extracts the originating client IP from proxy headers, falling
// back to the transport address. Ports are stripped.
func ClientIP(xForwardedFor, xRealIP, remoteAddr string) string {
	ip := remoteAddr
	if xForwardedFor != "" {
		ip = strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
	} else if xRealIP != "" {
		ip = xRealIP
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

// MaskIP hides the tail of an address for user-facing responses
func MaskIP(ip string) string {
	if len(ip) > 7 {
		return ip[:7] + "***"
	}
	return "***"
}

// IsPrivateIP reports whether the address is private, loopback, or link-local.
// Unparseable addresses count as private so they never reach reputation APIs.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast()
}
