package common

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		value    uint64
		expected string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{10000, "10000 B"},
		{10001, "10 kB"},
		{1234567, "1234 kB"},
		{98765432, "98 MB"},
		{7000000000000, "7000 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.value); got != tt.expected {
			t.Errorf("FormatBytes(%d): expected %q, got %q", tt.value, tt.expected, got)
		}
	}
}
