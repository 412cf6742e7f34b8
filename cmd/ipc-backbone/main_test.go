package main

import (
	"net"
	"testing"
)

func TestPortOf(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want uint16
	}{
		{&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50020}, 50020},
		{&net.TCPAddr{IP: net.IPv6loopback, Port: 50021}, 50021},
		{&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, 0},
	}
	for _, tt := range tests {
		if got := portOf(tt.addr); got != tt.want {
			t.Errorf("portOf(%v) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}
