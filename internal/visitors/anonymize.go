package visitors

import (
	"net"
	"strings"

	"visitor-tracker/internal/models"
)

// sensitiveFragments are substrings that mark a custom parameter key as
// holding credential material. Matching is case-insensitive.
var sensitiveFragments = []string{"password", "token", "auth", "key"}

// AnonymizeIP masks the host portion of an address. IPv4 addresses have
// the last octet zeroed; IPv6 addresses have the final 64 bits zeroed.
// Unparseable input is dropped entirely.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}

	masked := parsed.Mask(net.CIDRMask(64, 128))
	return masked.String()
}

// ScrubCustomParams returns a copy of params with credential-looking keys
// removed.
func ScrubCustomParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return params
	}

	scrubbed := make(map[string]string, len(params))
	for key, value := range params {
		if isSensitiveKey(key) {
			continue
		}
		scrubbed[key] = value
	}
	return scrubbed
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// anonymizeMetadata applies the GDPR masking rules in place.
func anonymizeMetadata(metadata *models.VisitorMetadata) {
	metadata.IPAddress = AnonymizeIP(metadata.IPAddress)
	metadata.CustomParams = ScrubCustomParams(metadata.CustomParams)
}
