package api

import (
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxNameLen is the maximum length for name fields (tenant names, trunk names, etc.).
const maxNameLen = 200

// maxHostLen is the maximum length for hostnames/IP addresses.
const maxHostLen = 253

// maxPasswordLen is the maximum length for passwords and secrets.
const maxPasswordLen = 256

// maxURILen is the maximum length for SIP URI fields.
const maxURILen = 2048

// maxPatternLen is the maximum length for dialed-number patterns.
const maxPatternLen = 1024

// uuidRe validates the canonical textual UUID form.
var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen characters.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateUUID checks the canonical lowercase UUID form.
func validateUUID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !uuidRe.MatchString(strings.ToLower(value)) {
		return field + " is not a valid uuid"
	}
	return ""
}

// validateHost checks a hostname or IP address field.
func validateHost(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxHostLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateIP checks that a string parses as an IP address.
func validateIP(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if net.ParseIP(value) == nil {
		return field + " is not a valid ip address"
	}
	return ""
}

// validateOptionalIP checks an IP address field that may be empty.
func validateOptionalIP(field, value string) string {
	if value == "" {
		return ""
	}
	return validateIP(field, value)
}

// validatePort checks a TCP/UDP port number, with 0 meaning "use default".
func validatePort(field string, value int) string {
	if value < 0 || value > 65535 {
		return field + " must be between 0 and 65535"
	}
	return ""
}
