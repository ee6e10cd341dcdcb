// Package utils provides utility functions shared across the visitor
// pipeline: ID generation and retry logic.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateActivityID generates a unique activity ID scoped to a visitor.
//
// Creates an ID in the format "act-visitorID-timestamp" where timestamp is
// the current time in nanoseconds since Unix epoch. Activities arrive in
// bursts from a single session so the nanosecond component keeps them
// unique and naturally ordered.
func GenerateActivityID(visitorID string) string {
	return fmt.Sprintf("act-%s-%d", visitorID, time.Now().UnixNano())
}

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// Creates a random ID of the specified length using crypto/rand. The
// resulting string will contain hexadecimal characters (0-9, a-f). For odd
// lengths, the result will be 1 character shorter due to hex encoding.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateUUID generates a cryptographically secure UUID v4.
//
// Creates a random UUID conforming to RFC 4122 version 4. Used for visitor
// IDs, which must be unguessable since they key rate-limit buckets and
// cache entries.
func GenerateUUID() (string, error) {
	uuid := make([]byte, 16)
	if _, err := rand.Read(uuid); err != nil {
		return "", err
	}

	// Set version (4) and variant bits
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x",
		uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:16]), nil
}
