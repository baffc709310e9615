package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.8.8.8", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"224.0.0.1", true},
		{"::1", true},
		{"::", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:10.0.0.1", true},
		{"::ffff:127.0.0.1", true},

		{"93.184.216.34", false},
		{"172.32.0.1", false},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivateIP(net.ParseIP(tt.ip)))
		})
	}
	assert.True(t, IsPrivateIP(nil))
}

func TestLiteralIPs(t *testing.T) {
	ips, ok := literalIPs("localhost")
	assert.True(t, ok)
	assert.True(t, allLoopback(ips))

	ips, ok = literalIPs("app.localhost.")
	assert.True(t, ok)
	assert.True(t, allLoopback(ips))

	ips, ok = literalIPs("[fe80::1%eth0]")
	assert.True(t, ok)
	assert.True(t, IsPrivateIP(ips[0]))

	_, ok = literalIPs("images.example.com")
	assert.False(t, ok)
}

func TestCheckAddresses(t *testing.T) {
	public := net.ParseIP("93.184.216.34")
	loopback := net.ParseIP("127.0.0.1")
	private := net.ParseIP("10.0.0.5")

	assert.NoError(t, checkAddresses("h", []net.IP{public}, false))
	assert.Error(t, checkAddresses("h", []net.IP{public, private}, false), "any private address rejects the set")
	assert.Error(t, checkAddresses("h", []net.IP{loopback}, false))
	assert.NoError(t, checkAddresses("h", []net.IP{loopback}, true))
	assert.Error(t, checkAddresses("h", []net.IP{loopback, private}, true), "loopback allowance does not cover RFC 1918")
}
