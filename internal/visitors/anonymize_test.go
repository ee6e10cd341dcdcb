package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4 last octet zeroed", "203.0.113.77", "203.0.113.0"},
		{"ipv4 already masked", "203.0.113.0", "203.0.113.0"},
		{"ipv6 host bits zeroed", "2001:db8:85a3::8a2e:370:7334", "2001:db8:85a3::"},
		{"garbage dropped", "not-an-ip", ""},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.in))
		})
	}
}

func TestScrubCustomParams(t *testing.T) {
	params := map[string]string{
		"authToken":     "secret",
		"api_key":       "secret",
		"PASSWORD_hint": "secret",
		"refreshToken":  "secret",
		"name":          "Bob",
		"utm_source":    "newsletter",
	}

	scrubbed := ScrubCustomParams(params)

	assert.Equal(t, "Bob", scrubbed["name"])
	assert.Equal(t, "newsletter", scrubbed["utm_source"])
	assert.NotContains(t, scrubbed, "authToken")
	assert.NotContains(t, scrubbed, "api_key")
	assert.NotContains(t, scrubbed, "PASSWORD_hint")
	assert.NotContains(t, scrubbed, "refreshToken")

	// Source map is untouched.
	assert.Len(t, params, 6)
}

func TestScrubCustomParams_Empty(t *testing.T) {
	assert.Nil(t, ScrubCustomParams(nil))
	assert.Empty(t, ScrubCustomParams(map[string]string{}))
}
