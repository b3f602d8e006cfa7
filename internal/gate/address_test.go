package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"203.0.113.42", "203.0.113.42"},
		{"203.0.113.42:8080", "203.0.113.42"},
		{"203.0.113.42/32", "203.0.113.42"},
		{"::ffff:203.0.113.42", "203.0.113.42"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"fe80::1%eth0", "fe80::1"},
		{" 198.51.100.1 ", "198.51.100.1"},
		{"not-an-ip", "not-an-ip"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeAddr(tt.input), "input=%q", tt.input)
	}
}
