package config

import "testing"

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"  localhost  ", true},
		{"app.localhost", true},
		{"localhost.", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"[::1]", true},
		{"images.example.com", false},
		{"localhost.example.com", false},
		{"127.0.0.2", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			if got := IsLocalhost(tt.hostname); got != tt.want {
				t.Errorf("IsLocalhost(%q) = %v, want %v", tt.hostname, got, tt.want)
			}
		})
	}
}

func TestAllowsOnlyLocalhost(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		want    bool
	}{
		{"empty", nil, false},
		{"localhost only", []string{"localhost", "*.localhost"}, true},
		{"mixed", []string{"localhost", "images.example.com"}, false},
		{"public only", []string{"*.cdn.example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{AllowedDomains: tt.domains}
			if got := c.AllowsOnlyLocalhost(); got != tt.want {
				t.Errorf("AllowsOnlyLocalhost() = %v, want %v", got, tt.want)
			}
		})
	}
}
