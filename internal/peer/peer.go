// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package peer classifies remote addresses for admission control.
package peer

import (
	"net"
	"net/netip"
)

// UnixNetworkID is the network id shared by all unix domain peers.
const UnixNetworkID = "unix"

// Unix reports whether addr belongs to a unix domain socket.
func Unix(addr net.Addr) bool {
	if addr == nil {
		return false
	}
	switch addr.Network() {
	case "unix", "unixgram", "unixpacket":
		return true
	}
	return false
}

// NetworkID returns the admission grouping key for a remote address:
// UnixNetworkID for unix domain sockets, the IPv4 address, or the /56
// prefix of an IPv6 address.
func NetworkID(addr net.Addr) string {
	if Unix(addr) {
		return UnixNetworkID
	}

	ip, ok := ipOf(addr)
	if !ok {
		return addr.String()
	}
	ip = ip.Unmap()
	if ip.Is4() {
		return ip.String()
	}

	prefix, err := ip.Prefix(56)
	if err != nil {
		return ip.String()
	}
	return prefix.String()
}

// Loopback reports whether addr is a loopback peer: IPv4 127.0.0.0/8,
// IPv6 ::1, or the IPv4-mapped ::ffff:127.0.0.0/104 range.
func Loopback(addr net.Addr) bool {
	ip, ok := ipOf(addr)
	if !ok {
		return false
	}
	return ip.Unmap().IsLoopback()
}

func ipOf(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return netip.AddrFromSlice(a.IP)
	case *net.IPAddr:
		return netip.AddrFromSlice(a.IP)
	case nil:
		return netip.Addr{}, false
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}
